package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ownerBurst bounds how many notifications one owner can receive in a burst
// before the per-owner limiter starts dropping.
const ownerBurst = 10

// Multi fans a notification out to every configured channel concurrently.
// Channel errors are logged and swallowed; a chatty entity cannot flood an
// owner thanks to a per-owner token bucket.
type Multi struct {
	channels []Notifier
	logger   *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perOwner rate.Limit
}

// NewMulti builds a fan-out over channels. perMinute caps notifications per
// owner; zero disables limiting.
func NewMulti(logger *slog.Logger, perMinute int, channels ...Notifier) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	var limit rate.Limit = rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60.0)
	}
	return &Multi{
		channels: channels,
		logger:   logger.With("component", "notify"),
		limiters: make(map[string]*rate.Limiter),
		perOwner: limit,
	}
}

// Notify implements Notifier. It waits for no channel: each delivery runs in
// its own goroutine with a bounded timeout.
func (m *Multi) Notify(ctx context.Context, ownerID string, kind Kind, payload map[string]any) error {
	if !m.allow(ownerID) {
		m.logger.Warn("notification dropped by rate limit", "owner", ownerID, "kind", string(kind))
		return nil
	}
	for _, ch := range m.channels {
		go func(ch Notifier) {
			// Detach from the caller's context so an execution finishing
			// does not cancel in-flight deliveries.
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := ch.Notify(dctx, ownerID, kind, payload); err != nil {
				m.logger.Warn("notification delivery failed",
					"owner", ownerID, "kind", string(kind), "error", err)
			}
		}(ch)
	}
	return nil
}

func (m *Multi) allow(ownerID string) bool {
	if m.perOwner == rate.Inf {
		return true
	}
	m.mu.Lock()
	lim, ok := m.limiters[ownerID]
	if !ok {
		lim = rate.NewLimiter(m.perOwner, ownerBurst)
		m.limiters[ownerID] = lim
	}
	m.mu.Unlock()
	return lim.Allow()
}
