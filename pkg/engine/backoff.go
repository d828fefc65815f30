package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// BackoffPolicy bounds the retry delay computation.
type BackoffPolicy struct {
	// Base is the first retry delay; the entity's natural cadence.
	Base time.Duration
	// Cap limits the exponential growth.
	Cap time.Duration
	// MaxJitter bounds the deterministic jitter added to each delay.
	MaxJitter time.Duration
}

// DefaultBackoffCap keeps a failing entity from drifting more than a day out.
const DefaultBackoffCap = 24 * time.Hour

// ComputeBackoff returns the delay before retry number attempt (1-based):
// base * 2^(attempt-1), capped, plus deterministic jitter derived from the
// entity id. Deterministic jitter keeps retries of distinct entities spread
// out while making a given entity's schedule reproducible.
func ComputeBackoff(entityID string, attempt int, policy BackoffPolicy) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := policy.Base
	if base <= 0 {
		base = time.Minute
	}
	cap := policy.Cap
	if cap <= 0 {
		cap = DefaultBackoffCap
	}

	// 2^(attempt-1) with overflow guard.
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	delay := base * time.Duration(1<<shift)
	if delay > cap || delay < 0 {
		delay = cap
	}

	return delay + deterministicJitter(entityID, attempt, policy.MaxJitter)
}

// deterministicJitter is a PRF over (entity, attempt): stable for replay,
// uncorrelated across entities.
func deterministicJitter(entityID string, attempt int, maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%d", entityID, attempt)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])
	return time.Duration(basis % uint64(maxJitter))
}
