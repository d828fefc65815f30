// Package types defines the domain model shared by the automation engine:
// automatable entities (workflows, subscriptions), trigger specifications,
// DAO proposals with weighted votes, and the error taxonomy.
package types

import (
	"fmt"
	"time"
)

// EntityKind discriminates the two automatable entity kinds.
type EntityKind string

const (
	KindWorkflow     EntityKind = "WORKFLOW"
	KindSubscription EntityKind = "SUBSCRIPTION"
)

// Status is the lifecycle state of an automatable entity.
// Only Active entities may become due.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further executions
// without explicit administrative re-activation.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// ActionType enumerates the ledger operations a workflow can perform.
type ActionType string

const (
	ActionTransfer     ActionType = "TRANSFER"
	ActionStake        ActionType = "STAKE"
	ActionUnstake      ActionType = "UNSTAKE"
	ActionClaimRewards ActionType = "CLAIM_REWARDS"
	ActionSwap         ActionType = "SWAP"
	ActionCustom       ActionType = "CUSTOM"
)

// Valid reports whether a is a known action.
func (a ActionType) Valid() bool {
	switch a {
	case ActionTransfer, ActionStake, ActionUnstake, ActionClaimRewards, ActionSwap, ActionCustom:
		return true
	}
	return false
}

// Automatable carries the fields shared by every schedulable entity.
//
// Invariants:
//   - NextDueAt is non-nil if and only if Status == StatusActive.
//   - CurrentRetry never exceeds MaxRetries while the entity stays Active;
//     the transition that would exceed it forces Status = StatusFailed.
//   - Counters are monotonic.
type Automatable struct {
	ID     string `json:"id"`
	Owner  string `json:"owner"`
	Status Status `json:"status"`

	Trigger   TriggerSpec `json:"trigger"`
	NextDueAt *time.Time  `json:"next_due_at,omitempty"`

	ExecutionCount int `json:"execution_count"`
	SuccessCount   int `json:"success_count"`
	FailureCount   int `json:"failure_count"`

	MaxRetries   int `json:"max_retries"`
	CurrentRetry int `json:"current_retry"`

	// Version supports optimistic store updates; incremented on every write.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Auto returns the embedded automatable core.
func (a *Automatable) Auto() *Automatable { return a }

// Due reports whether the entity should fire at the given instant.
func (a *Automatable) Due(now time.Time) bool {
	return a.Status == StatusActive && a.NextDueAt != nil && !a.NextDueAt.After(now)
}

// Entity is an automatable record as seen by the registry, the coordinator
// and the store. Concrete kinds are Workflow and Subscription.
type Entity interface {
	Auto() *Automatable
	Kind() EntityKind
	// BaseInterval is the entity's natural cadence, used as the
	// exponential-backoff base when an execution fails.
	BaseInterval() time.Duration
	// LedgerAction returns the operation and parameters submitted to the
	// ledger client when the entity executes.
	LedgerAction() (ActionType, map[string]any)
}

// Workflow is a user-defined automated ledger action.
type Workflow struct {
	Automatable

	Action    ActionType     `json:"action"`
	Frequency Frequency      `json:"frequency"`
	Params    map[string]any `json:"params,omitempty"`
}

// Kind implements Entity.
func (w *Workflow) Kind() EntityKind { return KindWorkflow }

// BaseInterval implements Entity. Condition-based workflows back off from
// their poll interval; everything else from the frequency period.
func (w *Workflow) BaseInterval() time.Duration {
	if w.Trigger.Kind == TriggerConditionBased {
		return w.Trigger.EffectivePollInterval()
	}
	return w.Frequency.Period()
}

// LedgerAction implements Entity.
func (w *Workflow) LedgerAction() (ActionType, map[string]any) {
	return w.Action, w.Params
}

// Subscription is a fixed-interval recurring payment.
type Subscription struct {
	Automatable

	Recipient       string  `json:"recipient"`
	AmountDue       float64 `json:"amount_due"`
	IntervalSeconds int64   `json:"interval_seconds"` // >= 3600
	MaxPayments     int     `json:"max_payments"`     // 0 = unlimited
	TotalPayments   int     `json:"total_payments"`
}

// MinSubscriptionInterval is the floor for subscription cadence.
const MinSubscriptionInterval = time.Hour

// Kind implements Entity.
func (s *Subscription) Kind() EntityKind { return KindSubscription }

// BaseInterval implements Entity.
func (s *Subscription) BaseInterval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// LedgerAction implements Entity.
func (s *Subscription) LedgerAction() (ActionType, map[string]any) {
	return ActionTransfer, map[string]any{
		"recipient": s.Recipient,
		"amount":    s.AmountDue,
	}
}

// RecordPayment counts one successful payment and reports whether the
// payment cap is now reached. Called strictly after a success, never after
// a failure.
func (s *Subscription) RecordPayment() bool {
	s.TotalPayments++
	return s.MaxPayments > 0 && s.TotalPayments >= s.MaxPayments
}

// Validate checks subscription-specific constraints.
func (s *Subscription) Validate() error {
	if time.Duration(s.IntervalSeconds)*time.Second < MinSubscriptionInterval {
		return fmt.Errorf("interval %ds below minimum %s", s.IntervalSeconds, MinSubscriptionInterval)
	}
	if s.Recipient == "" {
		return fmt.Errorf("subscription %s: recipient required", s.ID)
	}
	if s.AmountDue <= 0 {
		return fmt.Errorf("subscription %s: amount must be positive, got %v", s.ID, s.AmountDue)
	}
	if s.MaxPayments < 0 {
		return fmt.Errorf("max_payments must be >= 0, got %d", s.MaxPayments)
	}
	return s.Trigger.Validate()
}

// Validate checks workflow-specific constraints.
func (w *Workflow) Validate() error {
	if !w.Action.Valid() {
		return fmt.Errorf("workflow %s: invalid action %q", w.ID, w.Action)
	}
	if w.Trigger.Kind == TriggerScheduled && !w.Frequency.Valid() {
		return fmt.Errorf("workflow %s: invalid frequency %q", w.ID, w.Frequency)
	}
	return w.Trigger.Validate()
}
