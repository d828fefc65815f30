// Package notify delivers best-effort messages to entity owners. Delivery is
// fire-and-forget: the engine never blocks on a channel and never sees a
// delivery failure.
package notify

import (
	"context"
	"log/slog"
)

// Kind classifies a notification for channel-side routing.
type Kind string

const (
	KindExecutionSuccess  Kind = "EXECUTION_SUCCESS"
	KindExecutionRetry    Kind = "EXECUTION_RETRY"
	KindExecutionFailed   Kind = "EXECUTION_FAILED" // terminal
	KindSubscriptionDone  Kind = "SUBSCRIPTION_COMPLETED"
	KindEntityExpired     Kind = "ENTITY_EXPIRED"
	KindProposalResolved  Kind = "PROPOSAL_RESOLVED"
	KindProposalExecuted  Kind = "PROPOSAL_EXECUTED"
	KindProposalFailed    Kind = "PROPOSAL_FAILED"
	KindProposalCancelled Kind = "PROPOSAL_CANCELLED"
)

// Notifier is one delivery channel.
type Notifier interface {
	// Notify delivers payload to ownerID. The return value exists for
	// channel implementations; the engine ignores it.
	Notify(ctx context.Context, ownerID string, kind Kind, payload map[string]any) error
}

// LogNotifier writes notifications to the structured log. It is the default
// channel and the fallback when no other channel is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed channel.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, ownerID string, kind Kind, payload map[string]any) error {
	n.logger.Info("notification", "owner", ownerID, "kind", string(kind), "payload", payload)
	return nil
}
