package types

import (
	"testing"
	"time"
)

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusCancelled, StatusExpired}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("expected %s terminal", s)
		}
	}
	if StatusActive.Terminal() || StatusPaused.Terminal() {
		t.Fatal("active and paused are not terminal")
	}
}

func TestStatusValid(t *testing.T) {
	if !StatusActive.Valid() {
		t.Fatal("ACTIVE should be valid")
	}
	if Status("RUNNING").Valid() {
		t.Fatal("RUNNING is not a status")
	}
}

func TestAutomatableDue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	a := Automatable{Status: StatusActive, NextDueAt: &due}
	if !a.Due(now) {
		t.Fatal("past due time should be due")
	}

	future := now.Add(time.Minute)
	a.NextDueAt = &future
	if a.Due(now) {
		t.Fatal("future due time should not be due")
	}

	a.NextDueAt = nil
	if a.Due(now) {
		t.Fatal("nil due time should not be due")
	}

	a.NextDueAt = &due
	a.Status = StatusPaused
	if a.Due(now) {
		t.Fatal("paused entity should not be due")
	}
}

func TestWorkflowValidate(t *testing.T) {
	w := &Workflow{
		Automatable: Automatable{ID: "w1", Owner: "alice", Status: StatusActive,
			Trigger: TriggerSpec{Kind: TriggerScheduled, Frequency: FreqDaily, TimeOfDay: "09:00"}},
		Action: ActionTransfer,
		Params: map[string]any{"recipient": "0xabc", "amount": 1.0},
	}
	if err := w.Validate(); err != nil {
		t.Fatalf("valid workflow rejected: %v", err)
	}

	w.Action = ActionType("DELETE_CHAIN")
	if err := w.Validate(); err == nil {
		t.Fatal("unknown action should fail validation")
	}
}

func TestSubscriptionValidate(t *testing.T) {
	s := &Subscription{
		Automatable: Automatable{ID: "s1", Owner: "alice", Status: StatusActive,
			Trigger: TriggerSpec{Kind: TriggerScheduled, Frequency: FreqCustom}},
		Recipient:       "0xdef",
		AmountDue:       5,
		IntervalSeconds: 3600,
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("valid subscription rejected: %v", err)
	}

	s.IntervalSeconds = 59
	if err := s.Validate(); err == nil {
		t.Fatal("sub-minimum interval should fail validation")
	}

	s.IntervalSeconds = 3600
	s.AmountDue = 0
	if err := s.Validate(); err == nil {
		t.Fatal("zero amount should fail validation")
	}
}

func TestSubscriptionRecordPayment(t *testing.T) {
	s := &Subscription{MaxPayments: 3}
	if s.RecordPayment() || s.RecordPayment() {
		t.Fatal("should not complete before max payments")
	}
	if !s.RecordPayment() {
		t.Fatal("third payment should complete the subscription")
	}
	if s.TotalPayments != 3 {
		t.Fatalf("expected 3 payments, got %d", s.TotalPayments)
	}
}

func TestSubscriptionRecordPaymentUnbounded(t *testing.T) {
	s := &Subscription{MaxPayments: 0}
	for i := 0; i < 100; i++ {
		if s.RecordPayment() {
			t.Fatal("unbounded subscription should never complete")
		}
	}
}

func TestSubscriptionBaseInterval(t *testing.T) {
	s := &Subscription{IntervalSeconds: 7200}
	if s.BaseInterval() != 2*time.Hour {
		t.Fatalf("expected 2h, got %s", s.BaseInterval())
	}
}
