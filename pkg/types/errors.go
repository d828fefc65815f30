package types

import "errors"

// Error taxonomy. Only ErrLedger is retryable; everything else is surfaced
// to the caller and never retried automatically.
var (
	// ErrNotFound: the entity or proposal does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotActive: the entity status precondition is violated.
	ErrNotActive = errors.New("entity not active")
	// ErrAlreadyRunning: the per-entity execution lock is held; the caller
	// may retry later, the engine will not.
	ErrAlreadyRunning = errors.New("execution already running")
	// ErrAlreadyVoted: the voter already appears on the proposal.
	ErrAlreadyVoted = errors.New("already voted")
	// ErrVotingClosed: the proposal is not open for votes.
	ErrVotingClosed = errors.New("voting closed")
	// ErrLedger: the ledger submission failed; retried per the entity
	// retry policy with exponential backoff.
	ErrLedger = errors.New("ledger error")
	// ErrConflict: optimistic store update raced; re-read and retry.
	ErrConflict = errors.New("store conflict")
)

// Retryable reports whether the engine's retry policy applies to err.
func Retryable(err error) bool {
	return errors.Is(err, ErrLedger)
}
