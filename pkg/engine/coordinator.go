// Package engine coordinates entity execution: it guards each entity with an
// at-most-one-concurrent-execution lock, submits the entity's action to the
// ledger, applies the resulting state transition, and re-arms the trigger.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pulseworks/pulse/pkg/ledger"
	"github.com/pulseworks/pulse/pkg/notify"
	"github.com/pulseworks/pulse/pkg/observability"
	"github.com/pulseworks/pulse/pkg/store"
	"github.com/pulseworks/pulse/pkg/trigger"
	"github.com/pulseworks/pulse/pkg/types"
)

// ExecutionResult reports one completed execution attempt.
type ExecutionResult struct {
	EntityID  string           `json:"entity_id"`
	Kind      types.EntityKind `json:"kind"`
	Success   bool             `json:"success"`
	Status    types.Status     `json:"status"`
	Attempt   int              `json:"attempt"`
	NextDueAt *time.Time       `json:"next_due_at,omitempty"`
	Receipt   *ledger.Receipt  `json:"receipt,omitempty"`
	Err       string           `json:"error,omitempty"`
}

// Rearmer is the slice of the trigger registry the coordinator drives.
type Rearmer interface {
	Register(e types.Entity) error
	Unregister(id string)
}

// Coordinator executes due entities. All collaborators are passed in at
// construction; there is no module-level state.
type Coordinator struct {
	store    store.Store
	ledger   ledger.Client
	notifier notify.Notifier
	rearmer  Rearmer
	clock    trigger.Clock
	obs      *observability.Provider
	trail    *store.Trail
	logger   *slog.Logger

	locks *entityLocks

	backoffCap    time.Duration
	backoffJitter time.Duration
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the wall clock, for tests.
func WithClock(c trigger.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithObservability attaches metrics and tracing.
func WithObservability(p *observability.Provider) Option {
	return func(co *Coordinator) { co.obs = p }
}

// WithTrail records every execution outcome on a tamper-evident trail.
func WithTrail(t *store.Trail) Option {
	return func(co *Coordinator) { co.trail = t }
}

// WithBackoff overrides the retry backoff cap and jitter bound.
func WithBackoff(cap, jitter time.Duration) Option {
	return func(co *Coordinator) {
		co.backoffCap = cap
		co.backoffJitter = jitter
	}
}

// NewCoordinator wires the coordinator to its collaborators. rearmer may be
// nil when no registry is running (batch-only processing).
func NewCoordinator(st store.Store, lc ledger.Client, n notify.Notifier, rearmer Rearmer, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:         st,
		ledger:        lc,
		notifier:      n,
		rearmer:       rearmer,
		clock:         trigger.SystemClock{},
		logger:        slog.Default().With("component", "engine"),
		locks:         newEntityLocks(),
		backoffCap:    DefaultBackoffCap,
		backoffJitter: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnDue adapts Execute to the registry's fire callback.
func (c *Coordinator) OnDue(ctx context.Context, entityID string) {
	if _, err := c.Execute(ctx, entityID); err != nil {
		c.logger.Warn("due execution failed", "entity", entityID, "error", err)
	}
}

// TriggerNow is the manual/administrative execution path. It routes through
// Execute and is therefore subject to the same concurrency guarantee.
func (c *Coordinator) TriggerNow(ctx context.Context, entityID string) (*ExecutionResult, error) {
	return c.Execute(ctx, entityID)
}

// Execute runs one execution cycle for the entity.
//
// Preconditions: the entity exists and is Active. A concurrent execution of
// the same id fails fast with types.ErrAlreadyRunning instead of queuing.
// Counters are only mutated after the ledger outcome is known.
func (c *Coordinator) Execute(ctx context.Context, entityID string) (*ExecutionResult, error) {
	// 1. Per-entity lock, scoped: released on every exit path.
	if !c.locks.tryAcquire(entityID) {
		return nil, fmt.Errorf("entity %s: %w", entityID, types.ErrAlreadyRunning)
	}
	defer c.locks.release(entityID)

	e, err := c.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	a := e.Auto()
	if a.Status != types.StatusActive {
		return nil, fmt.Errorf("entity %s status %s: %w", entityID, a.Status, types.ErrNotActive)
	}

	// 2. Ledger submission.
	action, params := e.LedgerAction()
	ctx, span := c.obs.StartSpan(ctx, "ledger.submit",
		attribute.String("entity.id", entityID),
		attribute.String("action", string(action)),
	)
	started := c.clock.Now()
	receipt, lerr := c.submit(ctx, action, params)
	elapsed := c.clock.Now().Sub(started)
	span.End()

	c.obs.RecordExecution(ctx, string(e.Kind()), lerr == nil && receipt.Success, elapsed)

	// 3/4. State transition.
	if lerr == nil && receipt.Success {
		return c.applySuccess(ctx, e, receipt)
	}
	if lerr == nil {
		lerr = fmt.Errorf("%w: transaction %s reverted", types.ErrLedger, receipt.Reference)
	}
	return c.applyFailure(ctx, e, receipt, lerr)
}

// submit invokes the ledger client, converting a panic into a ledger error
// so the lock is released and counters stay consistent.
func (c *Coordinator) submit(ctx context.Context, action types.ActionType, params map[string]any) (receipt *ledger.Receipt, err error) {
	defer func() {
		if r := recover(); r != nil {
			receipt = nil
			err = fmt.Errorf("%w: panic during submission: %v", types.ErrLedger, r)
		}
	}()
	receipt, err = c.ledger.Submit(ctx, action, params)
	if err != nil && !errors.Is(err, types.ErrLedger) {
		err = fmt.Errorf("%w: %v", types.ErrLedger, err)
	}
	if err == nil && receipt == nil {
		err = fmt.Errorf("%w: client returned no receipt", types.ErrLedger)
	}
	return receipt, err
}

func (c *Coordinator) applySuccess(ctx context.Context, e types.Entity, receipt *ledger.Receipt) (*ExecutionResult, error) {
	a := e.Auto()
	now := c.clock.Now()

	a.ExecutionCount++
	a.SuccessCount++
	a.CurrentRetry = 0
	a.UpdatedAt = now

	completed := false
	if sub, ok := e.(*types.Subscription); ok {
		completed = sub.RecordPayment()
	}

	notifyKind := notify.KindExecutionSuccess
	if completed {
		a.Status = types.StatusCompleted
		a.NextDueAt = nil
		notifyKind = notify.KindSubscriptionDone
	} else {
		next, terminal := c.nextDue(e, now)
		if terminal {
			a.Status = types.StatusCompleted
			a.NextDueAt = nil
		} else {
			a.NextDueAt = next
		}
	}

	if err := c.store.UpdateEntity(ctx, e); err != nil {
		return nil, fmt.Errorf("entity %s: apply success: %w", a.ID, err)
	}

	c.notify(ctx, a.Owner, notifyKind, map[string]any{
		"entity_id": a.ID,
		"reference": receipt.Reference,
		"gas_used":  receipt.ResourceUsed,
	})
	c.record(store.TrailExecutionSuccess, a.ID, map[string]any{
		"reference": receipt.Reference,
		"status":    string(a.Status),
	})
	c.rearm(e)

	c.logger.Info("execution succeeded",
		"entity", a.ID, "reference", receipt.Reference, "status", string(a.Status))
	return &ExecutionResult{
		EntityID:  a.ID,
		Kind:      e.Kind(),
		Success:   true,
		Status:    a.Status,
		Attempt:   a.ExecutionCount,
		NextDueAt: a.NextDueAt,
		Receipt:   receipt,
	}, nil
}

func (c *Coordinator) applyFailure(ctx context.Context, e types.Entity, receipt *ledger.Receipt, lerr error) (*ExecutionResult, error) {
	a := e.Auto()
	now := c.clock.Now()

	a.ExecutionCount++
	a.FailureCount++
	a.CurrentRetry++
	a.UpdatedAt = now

	terminal := a.CurrentRetry > a.MaxRetries
	if terminal {
		// Fatal for this entity: requires explicit re-activation.
		a.Status = types.StatusFailed
		a.NextDueAt = nil
	} else if a.Trigger.Kind != types.TriggerEventBased {
		delay := ComputeBackoff(a.ID, a.CurrentRetry, BackoffPolicy{
			Base:      e.BaseInterval(),
			Cap:       c.backoffCap,
			MaxJitter: c.backoffJitter,
		})
		next := now.Add(delay)
		a.NextDueAt = &next
	}

	if err := c.store.UpdateEntity(ctx, e); err != nil {
		return nil, fmt.Errorf("entity %s: apply failure: %w", a.ID, err)
	}

	payload := map[string]any{
		"entity_id": a.ID,
		"error":     lerr.Error(),
		"attempt":   a.CurrentRetry,
	}
	c.record(store.TrailExecutionFailure, a.ID, map[string]any{
		"error":    lerr.Error(),
		"attempt":  a.CurrentRetry,
		"terminal": terminal,
	})
	if terminal {
		if c.rearmer != nil {
			c.rearmer.Unregister(a.ID)
		}
		c.notify(ctx, a.Owner, notify.KindExecutionFailed, payload)
		c.logger.Error("execution failed terminally",
			"entity", a.ID, "retries", a.CurrentRetry, "error", lerr)
	} else {
		c.obs.RecordRetry(ctx, string(e.Kind()))
		c.notify(ctx, a.Owner, notify.KindExecutionRetry, payload)
		c.rearm(e)
		c.logger.Warn("execution failed, retry scheduled",
			"entity", a.ID, "attempt", a.CurrentRetry, "next_due", a.NextDueAt, "error", lerr)
	}

	return &ExecutionResult{
		EntityID:  a.ID,
		Kind:      e.Kind(),
		Success:   false,
		Status:    a.Status,
		Attempt:   a.CurrentRetry,
		NextDueAt: a.NextDueAt,
		Receipt:   receipt,
		Err:       lerr.Error(),
	}, nil
}

// nextDue computes the post-success due time relative to now, never to the
// missed due time. terminal means the trigger can never fire again.
func (c *Coordinator) nextDue(e types.Entity, now time.Time) (*time.Time, bool) {
	// Subscriptions run on their own fixed interval regardless of the
	// nominal cadence of the trigger that armed them.
	if sub, ok := e.(*types.Subscription); ok {
		n := now.Add(sub.BaseInterval())
		return &n, false
	}
	a := e.Auto()
	switch a.Trigger.Kind {
	case types.TriggerScheduled:
		if a.Trigger.Frequency == types.FreqOnce {
			return nil, true
		}
		next, err := trigger.NextOccurrence(a.Trigger.Frequency, a.Trigger.TimeOfDay, now)
		if err != nil {
			// Spec validated at registration; treat as one-shot.
			return nil, true
		}
		return &next, false
	case types.TriggerTimeWindow:
		return nil, true
	case types.TriggerEventBased:
		// Armed via listener; no due time.
		return nil, false
	case types.TriggerConditionBased:
		n := now.Add(a.Trigger.EffectivePollInterval())
		return &n, false
	default:
		return nil, true
	}
}

// rearm re-registers the entity if it is still Active. Reads the current
// status, so a cancellation racing an in-flight execution wins: the entity
// will not be re-armed.
func (c *Coordinator) rearm(e types.Entity) {
	if c.rearmer == nil || e.Auto().Status != types.StatusActive {
		return
	}
	if err := c.rearmer.Register(e); err != nil {
		c.logger.Error("re-arm failed", "entity", e.Auto().ID, "error", err)
	}
}

// record appends to the execution trail when one is attached.
func (c *Coordinator) record(kind store.TrailKind, entityID string, detail map[string]any) {
	if c.trail == nil {
		return
	}
	if _, err := c.trail.Append(kind, entityID, detail); err != nil {
		c.logger.Warn("trail append failed", "entity", entityID, "error", err)
	}
}

// notify is fire-and-forget; delivery failures are the notifier's to log.
func (c *Coordinator) notify(ctx context.Context, owner string, kind notify.Kind, payload map[string]any) {
	if c.notifier == nil {
		return
	}
	_ = c.notifier.Notify(ctx, owner, kind, payload)
}

// ExpireEntity marks a time-window entity whose window closed unfired.
// Wired to the registry's expiry callback.
func (c *Coordinator) ExpireEntity(ctx context.Context, entityID string) {
	e, err := c.store.GetEntity(ctx, entityID)
	if err != nil {
		c.logger.Warn("expire: entity not found", "entity", entityID)
		return
	}
	a := e.Auto()
	if a.Status != types.StatusActive {
		return
	}
	a.Status = types.StatusExpired
	a.NextDueAt = nil
	a.UpdatedAt = c.clock.Now()
	if err := c.store.UpdateEntity(ctx, e); err != nil {
		c.logger.Error("expire: update failed", "entity", entityID, "error", err)
		return
	}
	c.record(store.TrailEntityExpired, entityID, nil)
	c.notify(ctx, a.Owner, notify.KindEntityExpired, map[string]any{"entity_id": entityID})
	c.logger.Info("entity expired", "entity", entityID)
}
