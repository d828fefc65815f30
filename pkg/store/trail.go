package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTrailBroken reports a hash chain that no longer verifies.
	ErrTrailBroken = errors.New("execution trail chain is broken")
)

// TrailKind categorizes execution trail events.
type TrailKind string

const (
	TrailEntityCreated    TrailKind = "entity_created"
	TrailExecutionSuccess TrailKind = "execution_success"
	TrailExecutionFailure TrailKind = "execution_failure"
	TrailEntityExpired    TrailKind = "entity_expired"
	TrailProposalResolved TrailKind = "proposal_resolved"
)

// TrailEntry is one immutable event in the execution trail. Each entry hashes
// its predecessor, so any rewrite of history breaks verification.
type TrailEntry struct {
	ID           string          `json:"id"`
	Sequence     uint64          `json:"sequence"`
	Timestamp    time.Time       `json:"timestamp"`
	Kind         TrailKind       `json:"kind"`
	EntityID     string          `json:"entity_id"`
	Detail       json.RawMessage `json:"detail,omitempty"`
	DetailHash   string          `json:"detail_hash"`
	PreviousHash string          `json:"previous_hash"`
	EntryHash    string          `json:"entry_hash"`
}

// Trail is an append-only, hash-chained record of what the engine did and
// when. It exists for operators: the entity documents in the main store hold
// current state, the trail holds tamper-evident history.
type Trail struct {
	mu       sync.RWMutex
	entries  []*TrailEntry
	sequence uint64
	head     string
}

// NewTrail creates an empty execution trail.
func NewTrail() *Trail {
	return &Trail{head: "genesis"}
}

// Append records one event. detail may be nil.
func (t *Trail) Append(kind TrailKind, entityID string, detail any) (*TrailEntry, error) {
	detailBytes, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("encode trail detail: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.sequence++
	entry := &TrailEntry{
		ID:           uuid.NewString(),
		Sequence:     t.sequence,
		Timestamp:    time.Now().UTC(),
		Kind:         kind,
		EntityID:     entityID,
		Detail:       detailBytes,
		DetailHash:   trailHash(detailBytes),
		PreviousHash: t.head,
	}
	entry.EntryHash = entryHash(entry)
	t.head = entry.EntryHash
	t.entries = append(t.entries, entry)
	return entry, nil
}

func trailHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// entryHash covers everything except the entry's own hash and id, including
// the predecessor's hash for chaining.
func entryHash(e *TrailEntry) string {
	hashable := struct {
		Sequence     uint64    `json:"sequence"`
		Timestamp    time.Time `json:"timestamp"`
		Kind         TrailKind `json:"kind"`
		EntityID     string    `json:"entity_id"`
		DetailHash   string    `json:"detail_hash"`
		PreviousHash string    `json:"previous_hash"`
	}{e.Sequence, e.Timestamp, e.Kind, e.EntityID, e.DetailHash, e.PreviousHash}
	data, _ := json.Marshal(hashable)
	return trailHash(data)
}

// Head returns the hash of the most recent entry, or "genesis" when empty.
func (t *Trail) Head() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.head
}

// Len returns the number of recorded events.
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// TrailFilter narrows a Query. Zero values match everything.
type TrailFilter struct {
	Kind     TrailKind
	EntityID string
	Since    *time.Time
	Limit    int
}

func (f TrailFilter) matches(e *TrailEntry) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	return true
}

// Query returns entries matching the filter, oldest first.
func (t *Trail) Query(f TrailFilter) []*TrailEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*TrailEntry
	for _, e := range t.entries {
		if f.matches(e) {
			out = append(out, e)
			if f.Limit > 0 && len(out) >= f.Limit {
				break
			}
		}
	}
	return out
}

// Verify walks the chain from genesis and recomputes every hash.
func (t *Trail) Verify() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	prev := "genesis"
	for i, e := range t.entries {
		if e.PreviousHash != prev {
			return fmt.Errorf("%w: entry %d links to %s, want %s", ErrTrailBroken, i, e.PreviousHash, prev)
		}
		if got := entryHash(e); got != e.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrTrailBroken, i)
		}
		prev = e.EntryHash
	}
	return nil
}
