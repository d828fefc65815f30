package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pulseworks/pulse/pkg/dao"
	"github.com/pulseworks/pulse/pkg/engine"
	"github.com/pulseworks/pulse/pkg/notify"

	_ "github.com/lib/pq" // Postgres driver
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		// Default to server
		return startServer()
	}

	switch args[1] {
	case "server", "serve":
		return startServer()
	case "trigger":
		return runTriggerCmd(args[2:], stdout, stderr)
	case "resolve":
		return runResolveCmd(args[2:], stdout, stderr)
	case "sweep":
		return runSweepCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return startServer()
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "pulsed - on-chain automation daemon")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  pulsed <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  serve     Run the automation daemon (default)")
	fmt.Fprintln(w, "  trigger   Execute one entity immediately (--id)")
	fmt.Fprintln(w, "  resolve   Resolve one proposal (--id)")
	fmt.Fprintln(w, "  sweep     Resolve all proposals past their deadline")
	fmt.Fprintln(w, "  health    Check store connectivity")
	fmt.Fprintln(w, "  help      Show this help")
	fmt.Fprintln(w, "")
}

// runTriggerCmd executes a single entity outside the daemon. It shares the
// daemon's store and ledger, so the at-most-one-execution guarantee only
// holds against other one-shot invocations, not a running daemon.
func runTriggerCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("trigger", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		entityID   string
		jsonOutput bool
	)
	cmd.StringVar(&entityID, "id", "", "Entity ID to execute (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if entityID == "" {
		fmt.Fprintln(stderr, "Error: --id is required")
		cmd.Usage()
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening store: %v\n", err)
		return 1
	}
	defer closeStore()

	lc, err := openLedger(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error connecting to ledger: %v\n", err)
		return 1
	}

	coord := engine.NewCoordinator(st, lc, notify.NewLogNotifier(nil), nil)
	result, err := coord.TriggerNow(ctx, entityID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else if result.Success {
		fmt.Fprintf(stdout, "Executed %s: %s\n", entityID, result.Receipt.Reference)
	} else {
		fmt.Fprintf(stdout, "Execution failed for %s: %s\n", entityID, result.Err)
	}
	return 0
}

func runResolveCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("resolve", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		proposalID string
		jsonOutput bool
	)
	cmd.StringVar(&proposalID, "id", "", "Proposal ID to resolve (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if proposalID == "" {
		fmt.Fprintln(stderr, "Error: --id is required")
		cmd.Usage()
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening store: %v\n", err)
		return 1
	}
	defer closeStore()

	resolver := dao.NewResolver(st, notify.NewLogNotifier(nil))
	outcome, err := resolver.Resolve(ctx, proposalID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(outcome, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else if outcome.Resolved {
		fmt.Fprintf(stdout, "Proposal %s resolved: %s\n", proposalID, outcome.Status)
	} else {
		fmt.Fprintf(stdout, "Proposal %s still open\n", proposalID)
	}
	return 0
}

func runSweepCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sweep", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var jsonOutput bool
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening store: %v\n", err)
		return 1
	}
	defer closeStore()

	resolver := dao.NewResolver(st, notify.NewLogNotifier(nil))
	result := resolver.Sweep(ctx, time.Now().UTC())

	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		fmt.Fprintf(stdout, "Swept %d proposals: %d resolved, %d errors\n",
			result.Checked, result.Resolved, result.Errors)
	}
	return 0
}

func runHealthCmd(stdout, stderr io.Writer) int {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, closeStore, err := openStore(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "UNHEALTHY: %v\n", err)
		return 1
	}
	defer closeStore()

	fmt.Fprintln(stdout, "OK")
	return 0
}
