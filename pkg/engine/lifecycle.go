package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pulseworks/pulse/pkg/store"
	"github.com/pulseworks/pulse/pkg/trigger"
	"github.com/pulseworks/pulse/pkg/types"
)

// CreateWorkflow validates, persists and arms a new workflow.
func (c *Coordinator) CreateWorkflow(ctx context.Context, w *types.Workflow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	return c.create(ctx, w)
}

// CreateSubscription validates, persists and arms a new subscription.
func (c *Coordinator) CreateSubscription(ctx context.Context, s *types.Subscription) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return c.create(ctx, s)
}

func (c *Coordinator) create(ctx context.Context, e types.Entity) error {
	a := e.Auto()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Owner == "" {
		return fmt.Errorf("entity %s: owner required", a.ID)
	}
	now := c.clock.Now()
	a.Status = types.StatusActive
	a.CreatedAt = now
	a.UpdatedAt = now
	a.NextDueAt = c.initialDue(a, now)

	if err := c.store.PutEntity(ctx, e); err != nil {
		return err
	}
	c.record(store.TrailEntityCreated, a.ID, map[string]any{"kind": string(e.Kind())})
	c.rearm(e)
	c.logger.Info("entity created",
		"entity", a.ID, "kind", string(e.Kind()), "trigger", string(a.Trigger.Kind))
	return nil
}

// initialDue computes the first due time when the entity is armed.
// Event-based entities have none: they are armed via listener.
func (c *Coordinator) initialDue(a *types.Automatable, now time.Time) *time.Time {
	switch a.Trigger.Kind {
	case types.TriggerScheduled:
		next, err := trigger.NextOccurrence(a.Trigger.Frequency, a.Trigger.TimeOfDay, now)
		if err != nil {
			return nil
		}
		return &next
	case types.TriggerTimeWindow:
		start := *a.Trigger.WindowStart
		if start.Before(now) {
			start = now
		}
		return &start
	case types.TriggerConditionBased:
		n := now.Add(a.Trigger.EffectivePollInterval())
		return &n
	default:
		return nil
	}
}

// Pause suspends an Active entity: the trigger is disarmed and the due time
// cleared until Resume.
func (c *Coordinator) Pause(ctx context.Context, entityID string) error {
	e, err := c.store.GetEntity(ctx, entityID)
	if err != nil {
		return err
	}
	a := e.Auto()
	if a.Status != types.StatusActive {
		return fmt.Errorf("entity %s status %s: %w", entityID, a.Status, types.ErrNotActive)
	}
	a.Status = types.StatusPaused
	a.NextDueAt = nil
	a.UpdatedAt = c.clock.Now()
	if err := c.store.UpdateEntity(ctx, e); err != nil {
		return err
	}
	if c.rearmer != nil {
		c.rearmer.Unregister(entityID)
	}
	c.logger.Info("entity paused", "entity", entityID)
	return nil
}

// Resume re-activates a Paused or Failed entity. Resuming a Failed entity is
// the explicit administrative re-activation: the retry counter resets.
func (c *Coordinator) Resume(ctx context.Context, entityID string) error {
	e, err := c.store.GetEntity(ctx, entityID)
	if err != nil {
		return err
	}
	a := e.Auto()
	if a.Status != types.StatusPaused && a.Status != types.StatusFailed {
		return fmt.Errorf("entity %s status %s cannot resume: %w", entityID, a.Status, types.ErrNotActive)
	}
	now := c.clock.Now()
	a.Status = types.StatusActive
	a.CurrentRetry = 0
	a.NextDueAt = c.initialDue(a, now)
	a.UpdatedAt = now
	if err := c.store.UpdateEntity(ctx, e); err != nil {
		return err
	}
	c.rearm(e)
	c.logger.Info("entity resumed", "entity", entityID)
	return nil
}

// Cancel terminates the entity. Terminal and irreversible.
func (c *Coordinator) Cancel(ctx context.Context, entityID string) error {
	e, err := c.store.GetEntity(ctx, entityID)
	if err != nil {
		return err
	}
	a := e.Auto()
	if a.Status.Terminal() {
		return fmt.Errorf("entity %s status %s: %w", entityID, a.Status, types.ErrNotActive)
	}
	a.Status = types.StatusCancelled
	a.NextDueAt = nil
	a.UpdatedAt = c.clock.Now()
	if err := c.store.UpdateEntity(ctx, e); err != nil {
		return err
	}
	if c.rearmer != nil {
		c.rearmer.Unregister(entityID)
	}
	c.logger.Info("entity cancelled", "entity", entityID)
	return nil
}
