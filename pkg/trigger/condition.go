package trigger

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"

	celtypes "github.com/google/cel-go/common/types"
)

// Oracles supplies side data to condition expressions. The engine calls
// these but does not implement them; the daemon injects ledger-backed
// implementations, tests inject fixtures.
type Oracles struct {
	// Balance returns the current balance of an account.
	Balance func(account string) (float64, error)
	// Price returns the current price of an asset symbol.
	Price func(symbol string) (float64, error)
}

// ConditionEvaluator compiles and evaluates boolean trigger conditions.
//
// Expressions are CEL with the bindings:
//
//	entity     map with id, owner, status and the counters
//	now        unix seconds at evaluation time
//	balanceOf  (string) -> double, via the balance oracle
//	priceOf    (string) -> double, via the price oracle
//
// Programs are compiled once and cached per expression.
type ConditionEvaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
	clock Clock
}

// NewConditionEvaluator builds the CEL environment over the given oracles.
func NewConditionEvaluator(oracles Oracles, clock Clock) (*ConditionEvaluator, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	env, err := cel.NewEnv(
		cel.Variable("entity", cel.DynType),
		cel.Variable("now", cel.IntType),
		cel.Function("balanceOf",
			cel.Overload("balanceOf_string", []*cel.Type{cel.StringType}, cel.DoubleType,
				cel.UnaryBinding(oracleBinding("balanceOf", oracles.Balance)))),
		cel.Function("priceOf",
			cel.Overload("priceOf_string", []*cel.Type{cel.StringType}, cel.DoubleType,
				cel.UnaryBinding(oracleBinding("priceOf", oracles.Price)))),
	)
	if err != nil {
		return nil, fmt.Errorf("condition env: %w", err)
	}
	return &ConditionEvaluator{
		env:   env,
		cache: make(map[string]cel.Program),
		clock: clock,
	}, nil
}

func oracleBinding(name string, fn func(string) (float64, error)) func(ref.Val) ref.Val {
	return func(arg ref.Val) ref.Val {
		s, ok := arg.Value().(string)
		if !ok {
			return celtypes.NewErr("%s: expected string argument", name)
		}
		if fn == nil {
			return celtypes.NewErr("%s: no oracle configured", name)
		}
		v, err := fn(s)
		if err != nil {
			return celtypes.NewErr("%s(%q): %v", name, s, err)
		}
		return celtypes.Double(v)
	}
}

// Compile type-checks expr and caches the program. Register calls this so a
// malformed condition fails fast instead of erroring on every poll.
func (e *ConditionEvaluator) Compile(expr string) error {
	_, err := e.program(expr)
	return err
}

func (e *ConditionEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.cache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	ast, iss := e.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile condition %q: %w", expr, iss.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("condition %q: must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program condition %q: %w", expr, err)
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return prg, nil
}

// Evaluate runs expr against the entity bindings at the current clock time.
func (e *ConditionEvaluator) Evaluate(expr string, entity map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{
		"entity": entity,
		"now":    e.clock.Now().Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition %q: non-boolean result %v", expr, out.Value())
	}
	return b, nil
}

// entityBindings flattens the automatable core for CEL activation.
func entityBindings(id, owner, status string, execCount, successCount, failureCount int, createdAt time.Time) map[string]any {
	return map[string]any{
		"id":              id,
		"owner":           owner,
		"status":          status,
		"execution_count": execCount,
		"success_count":   successCount,
		"failure_count":   failureCount,
		"created_at":      createdAt.Unix(),
	}
}
