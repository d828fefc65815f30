// Package store persists automatable entities, proposals and DAOs.
//
// All implementations share the same semantics: whole-document writes with
// optimistic versioning (a stale Version yields types.ErrConflict), and an
// atomic vote append that keeps the proposal tally in sync and enforces the
// one-vote-per-voter invariant.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pulseworks/pulse/pkg/types"
)

// Store is the persistence contract consumed by the engine and the resolver.
type Store interface {
	// GetEntity returns the entity or types.ErrNotFound.
	GetEntity(ctx context.Context, id string) (types.Entity, error)
	// PutEntity inserts a new entity (Version starts at 1).
	PutEntity(ctx context.Context, e types.Entity) error
	// UpdateEntity writes e if its Version matches the stored one, then
	// increments it. A mismatch returns types.ErrConflict.
	UpdateEntity(ctx context.Context, e types.Entity) error
	// FindDue returns Active entities with next_due_at <= now.
	FindDue(ctx context.Context, now time.Time) ([]types.Entity, error)
	// FindActive returns every Active entity, for registry rebuild.
	FindActive(ctx context.Context) ([]types.Entity, error)

	GetProposal(ctx context.Context, id string) (*types.Proposal, error)
	PutProposal(ctx context.Context, p *types.Proposal) error
	UpdateProposal(ctx context.Context, p *types.Proposal) error
	// AppendVote atomically appends v and folds it into the tally.
	// Returns types.ErrAlreadyVoted if the voter is already present.
	AppendVote(ctx context.Context, proposalID string, v types.Vote) (*types.Proposal, error)
	// FindActiveProposals returns proposals still in the Active state.
	FindActiveProposals(ctx context.Context) ([]*types.Proposal, error)

	GetDAO(ctx context.Context, id string) (*types.DAO, error)
	PutDAO(ctx context.Context, d *types.DAO) error
	UpdateDAO(ctx context.Context, d *types.DAO) error
}

// encodeEntity serializes an entity to its JSON document form.
func encodeEntity(e types.Entity) ([]byte, error) {
	doc, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode entity %s: %w", e.Auto().ID, err)
	}
	return doc, nil
}

// decodeEntity deserializes a JSON document into the concrete kind.
func decodeEntity(kind types.EntityKind, doc []byte) (types.Entity, error) {
	switch kind {
	case types.KindWorkflow:
		var w types.Workflow
		if err := json.Unmarshal(doc, &w); err != nil {
			return nil, fmt.Errorf("decode workflow: %w", err)
		}
		return &w, nil
	case types.KindSubscription:
		var s types.Subscription
		if err := json.Unmarshal(doc, &s); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		return &s, nil
	default:
		return nil, fmt.Errorf("decode entity: unknown kind %q", kind)
	}
}

// cloneEntity deep-copies an entity through its document form.
func cloneEntity(e types.Entity) (types.Entity, error) {
	doc, err := encodeEntity(e)
	if err != nil {
		return nil, err
	}
	return decodeEntity(e.Kind(), doc)
}

func cloneProposal(p *types.Proposal) *types.Proposal {
	cp := *p
	cp.Votes = append([]types.Vote(nil), p.Votes...)
	if p.Params != nil {
		cp.Params = make(map[string]any, len(p.Params))
		for k, v := range p.Params {
			cp.Params[k] = v
		}
	}
	return &cp
}

func cloneDAO(d *types.DAO) *types.DAO {
	cd := *d
	cd.Members = append([]types.DAOMember(nil), d.Members...)
	if d.Settings != nil {
		cd.Settings = make(map[string]any, len(d.Settings))
		for k, v := range d.Settings {
			cd.Settings[k] = v
		}
	}
	return &cd
}
