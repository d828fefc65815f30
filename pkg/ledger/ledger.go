// Package ledger submits entity actions to the blockchain and reports
// terminal status. All retry policy lives in the engine; a client performs
// exactly one submission attempt per call.
package ledger

import (
	"context"

	"github.com/pulseworks/pulse/pkg/types"
)

// Receipt is the terminal outcome of one submission.
type Receipt struct {
	// Success is true when the transaction sealed successfully.
	Success bool `json:"success"`
	// ResourceUsed is opaque usage metadata (gas for Ethereum).
	ResourceUsed uint64 `json:"resource_used"`
	// Reference identifies the submission on chain (transaction hash).
	Reference string `json:"reference"`
}

// Client submits one action and waits for its terminal status.
type Client interface {
	Submit(ctx context.Context, action types.ActionType, params map[string]any) (*Receipt, error)
}
