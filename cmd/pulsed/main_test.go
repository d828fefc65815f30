package main

import (
	"bytes"
	"strings"
	"testing"
)

func withMockServer(t *testing.T) *int {
	t.Helper()
	orig := startServer
	t.Cleanup(func() { startServer = orig })
	calls := 0
	startServer = func() int {
		calls++
		return 0
	}
	return &calls
}

func TestRunDefaultsToServer(t *testing.T) {
	calls := withMockServer(t)
	var out, errOut bytes.Buffer

	if code := Run([]string{"pulsed"}, &out, &errOut); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if code := Run([]string{"pulsed", "serve"}, &out, &errOut); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if code := Run([]string{"pulsed", "--some-flag"}, &out, &errOut); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if *calls != 3 {
		t.Fatalf("server started %d times, want 3", *calls)
	}
}

func TestRunHelp(t *testing.T) {
	withMockServer(t)
	var out, errOut bytes.Buffer

	if code := Run([]string{"pulsed", "help"}, &out, &errOut); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	for _, cmd := range []string{"serve", "trigger", "resolve", "sweep", "health"} {
		if !strings.Contains(out.String(), cmd) {
			t.Errorf("usage is missing the %s command", cmd)
		}
	}
}

func TestRunUnknownCommand(t *testing.T) {
	calls := withMockServer(t)
	var out, errOut bytes.Buffer

	if code := Run([]string{"pulsed", "bogus"}, &out, &errOut); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if !strings.Contains(errOut.String(), "Unknown command") {
		t.Errorf("stderr missing unknown-command message: %q", errOut.String())
	}
	if *calls != 0 {
		t.Errorf("server should not start on unknown command")
	}
}
