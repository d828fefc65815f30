// Package trigger owns the set of armed triggers: one per active workflow or
// subscription. It maps each trigger kind to a concrete wait strategy (timer,
// window, event subscription, condition poll) and guarantees that an entity
// id is armed at most once; re-registering replaces, never duplicates.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/pulseworks/pulse/pkg/types"
)

// FireFunc is the callback surface the execution side subscribes to.
type FireFunc func(ctx context.Context, entityID string)

// TriggerInfo describes one armed trigger, for List and diagnostics.
type TriggerInfo struct {
	EntityID  string            `json:"entity_id"`
	Kind      types.TriggerKind `json:"kind"`
	NextFire  *time.Time        `json:"next_fire,omitempty"`
	EventType string            `json:"event_type,omitempty"`
}

// armedTrigger is the registry's record of one live trigger. Identity is the
// pointer: a stale goroutine firing after its id was re-registered compares
// pointers and backs off.
type armedTrigger struct {
	id        string
	kind      types.TriggerKind
	eventType string
	nextFire  *time.Time
	cancel    context.CancelFunc
}

// Registry holds the armed triggers and their wait strategies.
type Registry struct {
	conditions *ConditionEvaluator
	clock      Clock
	logger     *slog.Logger

	onDue    FireFunc
	onExpire FireFunc

	mu     sync.Mutex
	armed  map[string]*armedTrigger
	events map[string]map[string]*armedTrigger
	closed bool

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewRegistry creates an empty registry. conditions may be nil when no
// condition-based triggers are used.
func NewRegistry(conditions *ConditionEvaluator, clock Clock, logger *slog.Logger) *Registry {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		conditions: conditions,
		clock:      clock,
		logger:     logger.With("component", "trigger"),
		armed:      make(map[string]*armedTrigger),
		events:     make(map[string]map[string]*armedTrigger),
		baseCtx:    ctx,
		stop:       cancel,
	}
}

// OnDue subscribes the execution callback. Must be set before Register.
func (r *Registry) OnDue(fn FireFunc) { r.onDue = fn }

// OnExpire subscribes the callback invoked when a time-window trigger's end
// passes unfired.
func (r *Registry) OnExpire(fn FireFunc) { r.onExpire = fn }

// Register arms the entity's trigger, replacing any previous trigger for the
// same id. Only Active entities are armed.
func (r *Registry) Register(e types.Entity) error {
	a := e.Auto()
	if a.Status != types.StatusActive {
		return fmt.Errorf("register %s: %w", a.ID, types.ErrNotActive)
	}
	if err := a.Trigger.Validate(); err != nil {
		return fmt.Errorf("register %s: %w", a.ID, err)
	}
	if a.Trigger.Kind == types.TriggerConditionBased {
		if r.conditions == nil {
			return fmt.Errorf("register %s: no condition evaluator configured", a.ID)
		}
		if err := r.conditions.Compile(a.Trigger.Condition); err != nil {
			return fmt.Errorf("register %s: %w", a.ID, err)
		}
	}

	if a.Trigger.Kind == types.TriggerTimeWindow && !a.Trigger.WindowEnd.After(r.clock.Now()) {
		// Window already over; never arms.
		r.Unregister(a.ID)
		r.logger.Info("time-window trigger expired unfired", "entity", a.ID)
		if r.onExpire != nil {
			r.onExpire(r.baseCtx, a.ID)
		}
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("register %s: registry closed", a.ID)
	}
	// Replace semantics: the previous trigger for this id is fully
	// disarmed before the new one exists.
	r.unregisterLocked(a.ID)

	ctx, cancel := context.WithCancel(r.baseCtx)
	armed := &armedTrigger{id: a.ID, kind: a.Trigger.Kind, cancel: cancel}

	now := r.clock.Now()
	switch a.Trigger.Kind {
	case types.TriggerScheduled:
		fireAt, err := r.scheduledFireAt(a, now)
		if err != nil {
			cancel()
			return fmt.Errorf("register %s: %w", a.ID, err)
		}
		armed.nextFire = &fireAt
		r.wg.Add(1)
		go r.timerLoop(ctx, armed, fireAt)

	case types.TriggerTimeWindow:
		start, end := *a.Trigger.WindowStart, *a.Trigger.WindowEnd
		fireAt := start
		if fireAt.Before(now) {
			fireAt = now
		}
		armed.nextFire = &fireAt
		r.wg.Add(1)
		go r.windowLoop(ctx, armed, fireAt, end)

	case types.TriggerEventBased:
		armed.eventType = a.Trigger.EventType
		subs, ok := r.events[armed.eventType]
		if !ok {
			subs = make(map[string]*armedTrigger)
			r.events[armed.eventType] = subs
		}
		subs[a.ID] = armed

	case types.TriggerConditionBased:
		interval := a.Trigger.EffectivePollInterval()
		initial := interval
		// A future due time (retry backoff) delays the polling restart.
		if a.NextDueAt != nil && a.NextDueAt.After(now) {
			initial = a.NextDueAt.Sub(now)
		}
		first := now.Add(initial)
		armed.nextFire = &first
		snapshot := entityBindings(a.ID, a.Owner, string(a.Status),
			a.ExecutionCount, a.SuccessCount, a.FailureCount, a.CreatedAt)
		r.wg.Add(1)
		go r.conditionLoop(ctx, armed, a.Trigger.Condition, initial, interval, snapshot)
	}

	r.armed[a.ID] = armed
	r.logger.Debug("trigger armed", "entity", a.ID, "kind", string(a.Trigger.Kind))
	return nil
}

// scheduledFireAt prefers a future stored due time (retry backoff), falling
// back to the next cadence occurrence. Past due times are skipped.
func (r *Registry) scheduledFireAt(a *types.Automatable, now time.Time) (time.Time, error) {
	if a.NextDueAt != nil && a.NextDueAt.After(now) {
		return *a.NextDueAt, nil
	}
	return NextOccurrence(a.Trigger.Frequency, a.Trigger.TimeOfDay, now)
}

// Unregister disarms the entity's trigger. Unknown ids are a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(id)
}

func (r *Registry) unregisterLocked(id string) {
	a, ok := r.armed[id]
	if !ok {
		return
	}
	a.cancel()
	delete(r.armed, id)
	if a.eventType != "" {
		if subs, ok := r.events[a.eventType]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(r.events, a.eventType)
			}
		}
	}
	r.logger.Debug("trigger disarmed", "entity", id)
}

// List snapshots the armed triggers, sorted by entity id. Each id appears at
// most once.
func (r *Registry) List() []TriggerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := lo.MapToSlice(r.armed, func(_ string, a *armedTrigger) TriggerInfo {
		return TriggerInfo{
			EntityID:  a.id,
			Kind:      a.kind,
			NextFire:  a.nextFire,
			EventType: a.eventType,
		}
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].EntityID < infos[j].EntityID })
	return infos
}

// FireEvent pushes an external event in. Every trigger subscribed to
// eventType fires once (and is disarmed until the execution path re-arms
// it). Returns the number of triggers fired.
func (r *Registry) FireEvent(eventType string) int {
	r.mu.Lock()
	subs := r.events[eventType]
	fired := make([]*armedTrigger, 0, len(subs))
	for _, a := range subs {
		fired = append(fired, a)
	}
	r.mu.Unlock()

	for _, a := range fired {
		r.wg.Add(1)
		go func(a *armedTrigger) {
			defer r.wg.Done()
			r.fire(a)
		}(a)
	}
	return len(fired)
}

// Rebuild re-arms every Active entity from the store. Called on process
// start; individual failures are logged and skipped.
func (r *Registry) Rebuild(ctx context.Context, st EntityLister) (int, error) {
	entities, err := st.FindActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("rebuild: %w", err)
	}
	armed := 0
	for _, e := range entities {
		if err := r.Register(e); err != nil {
			r.logger.Warn("rebuild: skipping entity", "entity", e.Auto().ID, "error", err)
			continue
		}
		armed++
	}
	r.logger.Info("trigger registry rebuilt", "armed", armed, "total", len(entities))
	return armed, nil
}

// EntityLister is the slice of the store the registry needs for Rebuild.
type EntityLister interface {
	FindActive(ctx context.Context) ([]types.Entity, error)
}

// Close disarms everything and waits for in-flight trigger goroutines.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	for id := range r.armed {
		r.unregisterLocked(id)
	}
	r.mu.Unlock()
	r.stop()
	r.wg.Wait()
}

// timerLoop waits for the scheduled fire time.
func (r *Registry) timerLoop(ctx context.Context, a *armedTrigger, fireAt time.Time) {
	defer r.wg.Done()
	t := time.NewTimer(fireAt.Sub(r.clock.Now()))
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
		r.fire(a)
	}
}

// windowLoop fires once at the window start and expires the trigger if the
// end passes first.
func (r *Registry) windowLoop(ctx context.Context, a *armedTrigger, fireAt, end time.Time) {
	defer r.wg.Done()
	now := r.clock.Now()
	start := time.NewTimer(fireAt.Sub(now))
	defer start.Stop()
	expiry := time.NewTimer(end.Sub(now))
	defer expiry.Stop()

	select {
	case <-ctx.Done():
	case <-start.C:
		r.fire(a)
	case <-expiry.C:
		r.expire(a)
	}
}

// conditionLoop polls the condition at a fixed cadence until it holds.
// Evaluation errors are logged and polling continues; only a true result
// fires.
func (r *Registry) conditionLoop(ctx context.Context, a *armedTrigger, expr string, initial, interval time.Duration, bindings map[string]any) {
	defer r.wg.Done()
	first := time.NewTimer(initial)
	defer first.Stop()
	select {
	case <-ctx.Done():
		return
	case <-first.C:
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		ok, err := r.conditions.Evaluate(expr, bindings)
		if err != nil {
			r.logger.Warn("condition evaluation failed", "entity", a.id, "error", err)
		} else if ok {
			r.fire(a)
			return
		}
		next := r.clock.Now().Add(interval)
		r.mu.Lock()
		a.nextFire = &next
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// fire disarms a (if it is still the current trigger for its id) and invokes
// the due callback. The callback runs on the registry's base context so an
// unregister racing the fire cannot cancel an execution already in flight.
func (r *Registry) fire(a *armedTrigger) {
	r.mu.Lock()
	if cur, ok := r.armed[a.id]; !ok || cur != a {
		// Superseded by a re-register; stale fire is dropped.
		r.mu.Unlock()
		return
	}
	r.unregisterLocked(a.id)
	onDue := r.onDue
	r.mu.Unlock()

	if onDue != nil {
		onDue(r.baseCtx, a.id)
	}
}

func (r *Registry) expire(a *armedTrigger) {
	r.mu.Lock()
	if cur, ok := r.armed[a.id]; ok && cur == a {
		r.unregisterLocked(a.id)
	}
	onExpire := r.onExpire
	r.mu.Unlock()

	r.logger.Info("time-window trigger expired unfired", "entity", a.id)
	if onExpire != nil {
		onExpire(r.baseCtx, a.id)
	}
}
