package trigger

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func fixtureOracles(balances map[string]float64, prices map[string]float64) Oracles {
	return Oracles{
		Balance: func(account string) (float64, error) {
			if v, ok := balances[account]; ok {
				return v, nil
			}
			return 0, fmt.Errorf("unknown account %s", account)
		},
		Price: func(symbol string) (float64, error) {
			if v, ok := prices[symbol]; ok {
				return v, nil
			}
			return 0, fmt.Errorf("unknown symbol %s", symbol)
		},
	}
}

func TestConditionEvaluate(t *testing.T) {
	clock := newFixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	ev, err := NewConditionEvaluator(
		fixtureOracles(map[string]float64{"alice": 42.5}, map[string]float64{"ETH": 3000}), clock)
	if err != nil {
		t.Fatal(err)
	}

	entity := entityBindings("w1", "alice", "ACTIVE", 3, 2, 1, clock.Now().Add(-time.Hour))

	cases := []struct {
		expr string
		want bool
	}{
		{`balanceOf(entity.owner) > 40.0`, true},
		{`balanceOf(entity.owner) > 50.0`, false},
		{`priceOf("ETH") < 2500.0`, false},
		{`priceOf("ETH") >= 3000.0 && entity.failure_count < 3`, true},
		{`entity.execution_count == 3`, true},
		{`now > entity.created_at`, true},
	}
	for _, tc := range cases {
		got, err := ev.Evaluate(tc.expr, entity)
		if err != nil {
			t.Fatalf("%s: %v", tc.expr, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %v", tc.expr, tc.want)
		}
	}
}

func TestConditionCompileRejectsNonBool(t *testing.T) {
	ev, err := NewConditionEvaluator(Oracles{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = ev.Compile(`balanceOf("alice")`)
	if err == nil || !strings.Contains(err.Error(), "bool") {
		t.Fatalf("expected bool type error, got %v", err)
	}
}

func TestConditionCompileRejectsSyntaxError(t *testing.T) {
	ev, err := NewConditionEvaluator(Oracles{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := ev.Compile(`balanceOf( >`); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestConditionOracleError(t *testing.T) {
	ev, err := NewConditionEvaluator(fixtureOracles(nil, nil), nil)
	if err != nil {
		t.Fatal(err)
	}
	entity := entityBindings("w1", "ghost", "ACTIVE", 0, 0, 0, time.Now())
	if _, err := ev.Evaluate(`balanceOf(entity.owner) > 1.0`, entity); err == nil {
		t.Fatal("expected oracle error to surface")
	}
}

func TestConditionProgramCache(t *testing.T) {
	ev, err := NewConditionEvaluator(fixtureOracles(map[string]float64{"a": 1}, nil), nil)
	if err != nil {
		t.Fatal(err)
	}
	const expr = `balanceOf("a") == 1.0`
	if err := ev.Compile(expr); err != nil {
		t.Fatal(err)
	}
	ev.mu.RLock()
	_, cached := ev.cache[expr]
	ev.mu.RUnlock()
	if !cached {
		t.Fatal("compiled program should be cached")
	}
}
