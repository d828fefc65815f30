// Package dao implements the proposal resolution state machine: weighted
// vote aggregation, quorum/threshold evaluation, and typed execution effects
// dispatched when a proposal passes.
package dao

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulseworks/pulse/pkg/notify"
	"github.com/pulseworks/pulse/pkg/observability"
	"github.com/pulseworks/pulse/pkg/store"
	"github.com/pulseworks/pulse/pkg/trigger"
	"github.com/pulseworks/pulse/pkg/types"
)

// conflictRetries bounds how often a resolution re-reads after losing an
// optimistic update race.
const conflictRetries = 3

// Outcome reports the result of a resolution check.
type Outcome struct {
	ProposalID   string               `json:"proposal_id"`
	Status       types.ProposalStatus `json:"status"`
	Resolved     bool                 `json:"resolved"` // false: still Active
	QuorumMet    bool                 `json:"quorum_met"`
	ThresholdMet bool                 `json:"threshold_met"`
}

// SweepResult aggregates one expiry sweep.
type SweepResult struct {
	Checked  int `json:"checked"`
	Resolved int `json:"resolved"`
	Errors   int `json:"errors"`
}

// EffectFunc applies the side effect of a passed proposal. Handlers must be
// idempotent with respect to the proposal id; they run exactly once per
// proposal unless the process dies mid-execution.
type EffectFunc func(ctx context.Context, st store.Store, p *types.Proposal) error

// Resolver owns proposal state transitions. Constructed explicitly with its
// collaborators; no module-level state.
type Resolver struct {
	store    store.Store
	notifier notify.Notifier
	clock    trigger.Clock
	obs      *observability.Provider
	trail    *store.Trail
	logger   *slog.Logger
	effects  map[types.ProposalType]EffectFunc
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithClock overrides the wall clock, for tests.
func WithClock(c trigger.Clock) Option {
	return func(r *Resolver) { r.clock = c }
}

// WithObservability attaches metrics.
func WithObservability(p *observability.Provider) Option {
	return func(r *Resolver) { r.obs = p }
}

// WithTrail records every terminal transition on a tamper-evident trail.
func WithTrail(t *store.Trail) Option {
	return func(r *Resolver) { r.trail = t }
}

// NewResolver wires a resolver with the default effect handlers installed.
func NewResolver(st store.Store, n notify.Notifier, opts ...Option) *Resolver {
	r := &Resolver{
		store:    st,
		notifier: n,
		clock:    trigger.SystemClock{},
		logger:   slog.Default().With("component", "dao"),
		effects:  defaultEffects(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterEffect installs or replaces the handler for a proposal type.
func (r *Resolver) RegisterEffect(t types.ProposalType, fn EffectFunc) {
	r.effects[t] = fn
}

// CreateProposal opens a proposal, snapshotting the DAO's quorum, threshold
// and voting period so later settings changes cannot affect it.
func (r *Resolver) CreateProposal(ctx context.Context, p *types.Proposal) error {
	d, err := r.store.GetDAO(ctx, p.DAOID)
	if err != nil {
		return err
	}
	if _, ok := d.MemberPower(p.Proposer); !ok {
		return fmt.Errorf("proposer %s is not a member of dao %s: %w", p.Proposer, p.DAOID, types.ErrNotFound)
	}
	now := r.clock.Now()
	p.Status = types.ProposalActive
	p.QuorumFraction = d.QuorumFraction
	p.ThresholdFraction = d.ThresholdFraction
	p.CreatedAt = now
	if p.EndTime.IsZero() {
		p.EndTime = now.Add(d.VotingPeriod)
	}
	return r.store.PutProposal(ctx, p)
}

// CastVote appends one weighted ballot.
//
// Fails with types.ErrAlreadyVoted when the voter already appears, and with
// types.ErrVotingClosed when the proposal left Active or its end time
// passed. A successful vote immediately runs the resolution check, so a
// ballot that completes quorum resolves the proposal early.
func (r *Resolver) CastVote(ctx context.Context, proposalID, voter string, choice types.VoteChoice) error {
	if !choice.Valid() {
		return fmt.Errorf("invalid vote choice %q", choice)
	}
	p, err := r.store.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	now := r.clock.Now()
	if p.Status != types.ProposalActive || now.After(p.EndTime) {
		return fmt.Errorf("proposal %s: %w", proposalID, types.ErrVotingClosed)
	}

	d, err := r.store.GetDAO(ctx, p.DAOID)
	if err != nil {
		return err
	}
	weight, ok := d.MemberPower(voter)
	if !ok {
		return fmt.Errorf("voter %s is not a member of dao %s: %w", voter, p.DAOID, types.ErrNotFound)
	}

	updated, err := r.store.AppendVote(ctx, proposalID, types.Vote{
		Voter:  voter,
		Choice: choice,
		Weight: weight,
		CastAt: now,
	})
	if err != nil {
		return err
	}
	r.obs.RecordVote(ctx, string(choice))
	r.logger.Info("vote cast",
		"proposal", proposalID, "voter", voter, "choice", string(choice), "weight", weight)

	// Early resolution when quorum is already reached.
	if _, err := r.resolve(ctx, updated, d); err != nil {
		r.logger.Warn("post-vote resolution failed", "proposal", proposalID, "error", err)
	}
	return nil
}

// Resolve runs the resolution check. Idempotent: once the proposal has left
// Active, the call is a no-op reporting the settled status. Safe to call
// speculatively.
func (r *Resolver) Resolve(ctx context.Context, proposalID string) (Outcome, error) {
	p, err := r.store.GetProposal(ctx, proposalID)
	if err != nil {
		return Outcome{}, err
	}
	if p.Status != types.ProposalActive {
		return Outcome{ProposalID: p.ID, Status: p.Status, Resolved: true}, nil
	}
	d, err := r.store.GetDAO(ctx, p.DAOID)
	if err != nil {
		return Outcome{}, err
	}
	return r.resolve(ctx, p, d)
}

// resolve evaluates quorum and threshold and, when resolution triggers,
// drives the proposal to its terminal state. Double resolution is prevented
// by the status check plus the store's optimistic versioning: a concurrent
// resolver loses the update and re-reads a non-Active status.
func (r *Resolver) resolve(ctx context.Context, p *types.Proposal, d *types.DAO) (Outcome, error) {
	now := r.clock.Now()
	totalPower := d.TotalVotingPower()

	// Inclusive boundaries on both fractions.
	quorumMet := p.Tally.Total >= totalPower*p.QuorumFraction
	thresholdMet := p.Tally.Yes >= p.Tally.Total*p.ThresholdFraction

	out := Outcome{
		ProposalID:   p.ID,
		Status:       p.Status,
		QuorumMet:    quorumMet,
		ThresholdMet: thresholdMet,
	}
	if !now.After(p.EndTime) && !quorumMet {
		return out, nil // still Active
	}

	passed := quorumMet && thresholdMet
	next := types.ProposalRejected
	if passed {
		next = types.ProposalPassed
	}
	p, err := r.transition(ctx, p, types.ProposalActive, next)
	if err != nil {
		if errors.Is(err, errSuperseded) {
			// Someone else resolved first; report their outcome.
			out.Status = p.Status
			out.Resolved = true
			return out, nil
		}
		return out, err
	}
	out.Resolved = true
	out.Status = p.Status
	r.obs.RecordResolution(ctx, string(p.Status))
	r.logger.Info("proposal resolved",
		"proposal", p.ID, "status", string(p.Status),
		"yes", p.Tally.Yes, "total", p.Tally.Total, "power", totalPower)

	r.notifyDAO(ctx, d, notify.KindProposalResolved, map[string]any{
		"proposal_id": p.ID,
		"status":      string(p.Status),
	})

	if !passed {
		r.record(p)
		return out, nil
	}

	// Execute exactly once. A handler error moves the proposal to Failed;
	// proposals are never retried automatically.
	execErr := r.runEffect(ctx, p)
	final := types.ProposalExecuted
	kind := notify.KindProposalExecuted
	payload := map[string]any{"proposal_id": p.ID}
	if execErr != nil {
		final = types.ProposalFailed
		kind = notify.KindProposalFailed
		payload["error"] = execErr.Error()
		r.logger.Error("proposal execution failed", "proposal", p.ID, "error", execErr)
	}
	p, err = r.transition(ctx, p, types.ProposalPassed, final)
	if err != nil && !errors.Is(err, errSuperseded) {
		return out, err
	}
	out.Status = p.Status
	r.obs.RecordResolution(ctx, string(p.Status))
	r.record(p)
	r.notifyDAO(ctx, d, kind, payload)
	return out, nil
}

// record appends to the execution trail when one is attached.
func (r *Resolver) record(p *types.Proposal) {
	if r.trail == nil {
		return
	}
	if _, err := r.trail.Append(store.TrailProposalResolved, p.ID, map[string]any{
		"status": string(p.Status),
		"yes":    p.Tally.Yes,
		"total":  p.Tally.Total,
	}); err != nil {
		r.logger.Warn("trail append failed", "proposal", p.ID, "error", err)
	}
}

// errSuperseded signals that another resolver moved the proposal first.
var errSuperseded = errors.New("proposal transition superseded")

// transition moves the proposal from want to next, retrying optimistic
// conflicts. If a re-read shows the proposal already left want, the caller's
// transition was superseded.
func (r *Resolver) transition(ctx context.Context, p *types.Proposal, want, next types.ProposalStatus) (*types.Proposal, error) {
	for attempt := 0; ; attempt++ {
		if p.Status != want {
			return p, errSuperseded
		}
		p.Status = next
		err := r.store.UpdateProposal(ctx, p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, types.ErrConflict) || attempt >= conflictRetries {
			return p, err
		}
		p.Status = want // rolled back; re-read
		fresh, gerr := r.store.GetProposal(ctx, p.ID)
		if gerr != nil {
			return p, gerr
		}
		p = fresh
	}
}

func (r *Resolver) runEffect(ctx context.Context, p *types.Proposal) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("effect handler panicked: %v", rec)
		}
	}()
	fn, ok := r.effects[p.Type]
	if !ok {
		fn = r.effects[types.ProposalGeneric]
	}
	if fn == nil {
		return nil
	}
	return fn(ctx, r.store, p)
}

// Cancel moves an Active proposal to Cancelled. Only the proposer or a DAO
// admin may cancel.
func (r *Resolver) Cancel(ctx context.Context, proposalID, by string) error {
	p, err := r.store.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if p.Status != types.ProposalActive {
		return fmt.Errorf("proposal %s status %s: %w", proposalID, p.Status, types.ErrVotingClosed)
	}
	d, err := r.store.GetDAO(ctx, p.DAOID)
	if err != nil {
		return err
	}
	if by != p.Proposer && !d.IsAdmin(by) {
		return fmt.Errorf("proposal %s: %s not authorized to cancel", proposalID, by)
	}
	if _, err := r.transition(ctx, p, types.ProposalActive, types.ProposalCancelled); err != nil {
		if errors.Is(err, errSuperseded) {
			return fmt.Errorf("proposal %s status %s: %w", proposalID, p.Status, types.ErrVotingClosed)
		}
		return err
	}
	r.logger.Info("proposal cancelled", "proposal", proposalID, "by", by)
	r.notifyDAO(ctx, d, notify.KindProposalCancelled, map[string]any{
		"proposal_id": proposalID,
		"by":          by,
	})
	return nil
}

// Sweep resolves every Active proposal whose end time has passed. Run
// periodically so a proposal that never reaches quorum cannot stay Active
// forever.
func (r *Resolver) Sweep(ctx context.Context, now time.Time) SweepResult {
	var res SweepResult
	open, err := r.store.FindActiveProposals(ctx)
	if err != nil {
		r.logger.Error("sweep: listing proposals failed", "error", err)
		res.Errors++
		return res
	}
	for _, p := range open {
		if !now.After(p.EndTime) {
			continue
		}
		res.Checked++
		out, err := r.Resolve(ctx, p.ID)
		if err != nil {
			res.Errors++
			r.logger.Warn("sweep: resolution failed", "proposal", p.ID, "error", err)
			continue
		}
		if out.Resolved {
			res.Resolved++
		}
	}
	if res.Checked > 0 {
		r.logger.Info("proposal sweep complete",
			"checked", res.Checked, "resolved", res.Resolved, "errors", res.Errors)
	}
	return res
}

// notifyDAO fans the notification out to every member, best effort.
func (r *Resolver) notifyDAO(ctx context.Context, d *types.DAO, kind notify.Kind, payload map[string]any) {
	if r.notifier == nil {
		return
	}
	for _, m := range d.Members {
		_ = r.notifier.Notify(ctx, m.Address, kind, payload)
	}
}
