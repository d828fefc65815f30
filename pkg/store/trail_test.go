package store

import (
	"errors"
	"testing"
	"time"
)

func TestTrailAppend(t *testing.T) {
	tr := NewTrail()

	entry, err := tr.Append(TrailExecutionSuccess, "wf-1", map[string]any{"reference": "0xabc"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if entry.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", entry.Sequence)
	}
	if entry.PreviousHash != "genesis" {
		t.Errorf("first entry should link to genesis, got %s", entry.PreviousHash)
	}
	if tr.Head() != entry.EntryHash {
		t.Errorf("head = %s, want %s", tr.Head(), entry.EntryHash)
	}
	if tr.Len() != 1 {
		t.Errorf("len = %d, want 1", tr.Len())
	}
}

func TestTrailChaining(t *testing.T) {
	tr := NewTrail()

	e1, _ := tr.Append(TrailEntityCreated, "wf-1", nil)
	e2, _ := tr.Append(TrailExecutionSuccess, "wf-1", nil)
	e3, _ := tr.Append(TrailExecutionFailure, "wf-2", nil)

	if e2.PreviousHash != e1.EntryHash {
		t.Error("second entry should link to the first")
	}
	if e3.PreviousHash != e2.EntryHash {
		t.Error("third entry should link to the second")
	}
	if e1.Sequence != 1 || e2.Sequence != 2 || e3.Sequence != 3 {
		t.Error("sequence numbers out of order")
	}
}

func TestTrailVerify(t *testing.T) {
	tr := NewTrail()
	if err := tr.Verify(); err != nil {
		t.Fatalf("empty trail should verify: %v", err)
	}

	_, _ = tr.Append(TrailEntityCreated, "wf-1", nil)
	_, _ = tr.Append(TrailExecutionSuccess, "wf-1", map[string]any{"reference": "0xabc"})
	if err := tr.Verify(); err != nil {
		t.Fatalf("intact trail should verify: %v", err)
	}

	// Tamper with history.
	tr.entries[0].EntityID = "wf-evil"
	err := tr.Verify()
	if !errors.Is(err, ErrTrailBroken) {
		t.Fatalf("tampered trail verified, err = %v", err)
	}
}

func TestTrailQuery(t *testing.T) {
	tr := NewTrail()
	_, _ = tr.Append(TrailEntityCreated, "wf-1", nil)
	_, _ = tr.Append(TrailExecutionSuccess, "wf-1", nil)
	_, _ = tr.Append(TrailExecutionSuccess, "wf-2", nil)
	_, _ = tr.Append(TrailExecutionFailure, "wf-2", nil)

	if got := tr.Query(TrailFilter{EntityID: "wf-2"}); len(got) != 2 {
		t.Errorf("entity filter returned %d entries, want 2", len(got))
	}
	if got := tr.Query(TrailFilter{Kind: TrailExecutionSuccess}); len(got) != 2 {
		t.Errorf("kind filter returned %d entries, want 2", len(got))
	}
	if got := tr.Query(TrailFilter{Limit: 1}); len(got) != 1 {
		t.Errorf("limit returned %d entries, want 1", len(got))
	}

	future := time.Now().UTC().Add(time.Hour)
	if got := tr.Query(TrailFilter{Since: &future}); len(got) != 0 {
		t.Errorf("future since returned %d entries, want 0", len(got))
	}
}
