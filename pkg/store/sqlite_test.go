package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pulseworks/pulse/pkg/types"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteEntityRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	w := testWorkflow("w1")
	if err := s.PutEntity(ctx, w); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetEntity(ctx, "w1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind() != types.KindWorkflow {
		t.Fatalf("expected workflow, got %s", got.Kind())
	}
	wf, ok := got.(*types.Workflow)
	if !ok {
		t.Fatalf("expected *Workflow, got %T", got)
	}
	if wf.Action != types.ActionTransfer {
		t.Fatalf("action lost: %s", wf.Action)
	}
	if got.Auto().NextDueAt == nil || !got.Auto().NextDueAt.Equal(*w.NextDueAt) {
		t.Fatalf("due time lost: %v", got.Auto().NextDueAt)
	}
}

func TestSQLiteSubscriptionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	due := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sub := &types.Subscription{
		Automatable: types.Automatable{
			ID:        "s1",
			Owner:     "bob",
			Status:    types.StatusActive,
			Trigger:   types.TriggerSpec{Kind: types.TriggerScheduled, Frequency: types.FreqCustom},
			NextDueAt: &due,
		},
		Recipient:       "0xdef",
		AmountDue:       2.5,
		IntervalSeconds: 86400,
		MaxPayments:     12,
	}
	if err := s.PutEntity(ctx, sub); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetEntity(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	back, ok := got.(*types.Subscription)
	if !ok {
		t.Fatalf("expected *Subscription, got %T", got)
	}
	if back.Recipient != "0xdef" || back.AmountDue != 2.5 || back.MaxPayments != 12 {
		t.Fatalf("subscription fields lost: %+v", back)
	}
}

func TestSQLiteUpdateConflict(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	if err := s.PutEntity(ctx, testWorkflow("w1")); err != nil {
		t.Fatal(err)
	}

	a, _ := s.GetEntity(ctx, "w1")
	b, _ := s.GetEntity(ctx, "w1")

	a.Auto().SuccessCount = 1
	if err := s.UpdateEntity(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateEntity(ctx, b); !errors.Is(err, types.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSQLiteUpdateMissing(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	err := s.UpdateEntity(ctx, testWorkflow("ghost"))
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteFindDue(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := s.PutEntity(ctx, testWorkflow("due")); err != nil {
		t.Fatal(err)
	}
	future := testWorkflow("future")
	later := now.Add(time.Hour)
	future.NextDueAt = &later
	if err := s.PutEntity(ctx, future); err != nil {
		t.Fatal(err)
	}

	found, err := s.FindDue(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].Auto().ID != "due" {
		t.Fatalf("expected only the due entity, got %d", len(found))
	}
}

func TestSQLiteAppendVote(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	if err := s.PutProposal(ctx, testProposal("p1")); err != nil {
		t.Fatal(err)
	}

	p, err := s.AppendVote(ctx, "p1", types.Vote{Voter: "alice", Choice: types.VoteYes, Weight: 10, CastAt: time.Now().UTC()})
	if err != nil {
		t.Fatal(err)
	}
	if p.Tally.Yes != 10 {
		t.Fatalf("tally not updated: %+v", p.Tally)
	}
	if p.Version != 2 {
		t.Fatalf("append should bump version, got %d", p.Version)
	}

	_, err = s.AppendVote(ctx, "p1", types.Vote{Voter: "alice", Choice: types.VoteNo, Weight: 10})
	if !errors.Is(err, types.ErrAlreadyVoted) {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}

	_, err = s.AppendVote(ctx, "ghost", types.Vote{Voter: "bob", Choice: types.VoteYes, Weight: 1})
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteDAORoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	d := &types.DAO{
		ID:                "dao1",
		Name:              "builders",
		Members:           []types.DAOMember{{Address: "alice", VotingPower: 60, Role: "admin"}},
		QuorumFraction:    0.4,
		ThresholdFraction: 0.6,
		VotingPeriod:      72 * time.Hour,
	}
	if err := s.PutDAO(ctx, d); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDAO(ctx, "dao1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "builders" || len(got.Members) != 1 || got.VotingPeriod != 72*time.Hour {
		t.Fatalf("dao fields lost: %+v", got)
	}

	got.Settings = map[string]any{"fee": 0.01}
	if err := s.UpdateDAO(ctx, got); err != nil {
		t.Fatal(err)
	}

	stale := &types.DAO{ID: "dao1", Version: 1}
	if err := s.UpdateDAO(ctx, stale); !errors.Is(err, types.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}
