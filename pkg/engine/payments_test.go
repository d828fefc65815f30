package engine

import (
	"context"
	"testing"
	"time"

	"github.com/pulseworks/pulse/pkg/ledger"
	"github.com/pulseworks/pulse/pkg/store"
	"github.com/pulseworks/pulse/pkg/types"
)

func dueSubscription(id string, due time.Time) *types.Subscription {
	return &types.Subscription{
		Automatable: types.Automatable{
			ID: id, Owner: "bob", Status: types.StatusActive,
			Trigger:   types.TriggerSpec{Kind: types.TriggerScheduled, Frequency: types.FreqCustom},
			NextDueAt: &due,
		},
		Recipient:       "0xdef",
		AmountDue:       1,
		IntervalSeconds: 86400,
	}
}

func TestProcessDuePayments(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	clock := newFixedClock()
	now := clock.Now()

	c := NewCoordinator(st, &scriptedLedger{}, &recordingNotifier{}, nil, WithClock(clock))
	p := NewPaymentScheduler(c)

	for _, id := range []string{"s1", "s2", "s3"} {
		if err := st.PutEntity(ctx, dueSubscription(id, now.Add(-time.Minute))); err != nil {
			t.Fatal(err)
		}
	}
	// Not yet due
	if err := st.PutEntity(ctx, dueSubscription("s4", now.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}
	// Due workflow: batch processing is payments only
	w := activeWorkflow("w1")
	past := now.Add(-time.Minute)
	w.NextDueAt = &past
	if err := st.PutEntity(ctx, w); err != nil {
		t.Fatal(err)
	}

	br, err := p.ProcessDuePayments(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if br.Processed != 3 || br.Succeeded != 3 || br.Failed != 0 || br.Skipped != 0 {
		t.Fatalf("unexpected batch result %+v", br)
	}

	// The workflow stayed untouched
	got, _ := st.GetEntity(ctx, "w1")
	if got.Auto().ExecutionCount != 0 {
		t.Fatal("batch processing must not execute workflows")
	}

	// Each paid subscription moved forward
	for _, id := range []string{"s1", "s2", "s3"} {
		got, _ := st.GetEntity(ctx, id)
		sub := got.(*types.Subscription)
		if sub.TotalPayments != 1 {
			t.Fatalf("%s: expected 1 payment, got %d", id, sub.TotalPayments)
		}
		if sub.NextDueAt == nil || !sub.NextDueAt.After(now) {
			t.Fatalf("%s: next payment not scheduled", id)
		}
	}
}

func TestProcessDuePaymentsIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	clock := newFixedClock()
	now := clock.Now()

	// First submission fails, the rest succeed. Order across goroutines is
	// not deterministic; only the aggregate counts are asserted.
	lc := &scriptedLedger{script: []func() (*ledger.Receipt, error){submitError()}}
	c := NewCoordinator(st, lc, &recordingNotifier{}, nil, WithClock(clock))
	p := NewPaymentScheduler(c)

	for _, id := range []string{"s1", "s2", "s3"} {
		if err := st.PutEntity(ctx, dueSubscription(id, now.Add(-time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	br, err := p.ProcessDuePayments(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if br.Processed != 3 || br.Succeeded != 2 || br.Failed != 1 {
		t.Fatalf("one failure must not abort the batch: %+v", br)
	}
}

func TestProcessDuePaymentsSkipsLocked(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	clock := newFixedClock()
	now := clock.Now()

	c := NewCoordinator(st, &scriptedLedger{}, &recordingNotifier{}, nil, WithClock(clock))
	p := NewPaymentScheduler(c)

	if err := st.PutEntity(ctx, dueSubscription("s1", now.Add(-time.Minute))); err != nil {
		t.Fatal(err)
	}

	// Simulate an in-flight execution holding the lock
	if !c.locks.tryAcquire("s1") {
		t.Fatal("setup: lock unavailable")
	}
	defer c.locks.release("s1")

	br, err := p.ProcessDuePayments(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if br.Skipped != 1 || br.Processed != 0 {
		t.Fatalf("locked subscription must be skipped, got %+v", br)
	}
}

func TestProcessDuePaymentsEmpty(t *testing.T) {
	st := store.NewMemoryStore()
	c := NewCoordinator(st, &scriptedLedger{}, &recordingNotifier{}, nil)
	p := NewPaymentScheduler(c)

	br, err := p.ProcessDuePayments(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if br != (BatchResult{}) {
		t.Fatalf("expected empty result, got %+v", br)
	}
}
