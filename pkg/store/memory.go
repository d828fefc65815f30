package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pulseworks/pulse/pkg/types"
)

// MemoryStore is a map-backed Store for tests and single-node development.
type MemoryStore struct {
	mu        sync.RWMutex
	entities  map[string]types.Entity
	proposals map[string]*types.Proposal
	daos      map[string]*types.DAO
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:  make(map[string]types.Entity),
		proposals: make(map[string]*types.Proposal),
		daos:      make(map[string]*types.DAO),
	}
}

func (m *MemoryStore) GetEntity(_ context.Context, id string) (types.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", id, types.ErrNotFound)
	}
	return cloneEntity(e)
}

func (m *MemoryStore) PutEntity(_ context.Context, e types.Entity) error {
	cp, err := cloneEntity(e)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cp.Auto().Version == 0 {
		cp.Auto().Version = 1
	}
	m.entities[cp.Auto().ID] = cp
	e.Auto().Version = cp.Auto().Version
	return nil
}

func (m *MemoryStore) UpdateEntity(_ context.Context, e types.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.entities[e.Auto().ID]
	if !ok {
		return fmt.Errorf("entity %s: %w", e.Auto().ID, types.ErrNotFound)
	}
	if cur.Auto().Version != e.Auto().Version {
		return fmt.Errorf("entity %s version %d: %w", e.Auto().ID, e.Auto().Version, types.ErrConflict)
	}
	cp, err := cloneEntity(e)
	if err != nil {
		return err
	}
	cp.Auto().Version++
	m.entities[cp.Auto().ID] = cp
	e.Auto().Version = cp.Auto().Version
	return nil
}

func (m *MemoryStore) FindDue(_ context.Context, now time.Time) ([]types.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var due []types.Entity
	for _, e := range m.entities {
		if e.Auto().Due(now) {
			cp, err := cloneEntity(e)
			if err != nil {
				return nil, err
			}
			due = append(due, cp)
		}
	}
	return due, nil
}

func (m *MemoryStore) FindActive(_ context.Context) ([]types.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var active []types.Entity
	for _, e := range m.entities {
		if e.Auto().Status == types.StatusActive {
			cp, err := cloneEntity(e)
			if err != nil {
				return nil, err
			}
			active = append(active, cp)
		}
	}
	return active, nil
}

func (m *MemoryStore) GetProposal(_ context.Context, id string) (*types.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proposals[id]
	if !ok {
		return nil, fmt.Errorf("proposal %s: %w", id, types.ErrNotFound)
	}
	return cloneProposal(p), nil
}

func (m *MemoryStore) PutProposal(_ context.Context, p *types.Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneProposal(p)
	if cp.Version == 0 {
		cp.Version = 1
	}
	m.proposals[cp.ID] = cp
	p.Version = cp.Version
	return nil
}

func (m *MemoryStore) UpdateProposal(_ context.Context, p *types.Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.proposals[p.ID]
	if !ok {
		return fmt.Errorf("proposal %s: %w", p.ID, types.ErrNotFound)
	}
	if cur.Version != p.Version {
		return fmt.Errorf("proposal %s version %d: %w", p.ID, p.Version, types.ErrConflict)
	}
	cp := cloneProposal(p)
	cp.Version++
	m.proposals[cp.ID] = cp
	p.Version = cp.Version
	return nil
}

func (m *MemoryStore) AppendVote(_ context.Context, proposalID string, v types.Vote) (*types.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[proposalID]
	if !ok {
		return nil, fmt.Errorf("proposal %s: %w", proposalID, types.ErrNotFound)
	}
	if p.HasVoted(v.Voter) {
		return nil, fmt.Errorf("proposal %s voter %s: %w", proposalID, v.Voter, types.ErrAlreadyVoted)
	}
	p.Votes = append(p.Votes, v)
	p.Tally.Add(v.Choice, v.Weight)
	p.Version++
	return cloneProposal(p), nil
}

func (m *MemoryStore) FindActiveProposals(_ context.Context) ([]*types.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var open []*types.Proposal
	for _, p := range m.proposals {
		if p.Status == types.ProposalActive {
			open = append(open, cloneProposal(p))
		}
	}
	return open, nil
}

func (m *MemoryStore) GetDAO(_ context.Context, id string) (*types.DAO, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.daos[id]
	if !ok {
		return nil, fmt.Errorf("dao %s: %w", id, types.ErrNotFound)
	}
	return cloneDAO(d), nil
}

func (m *MemoryStore) PutDAO(_ context.Context, d *types.DAO) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cd := cloneDAO(d)
	if cd.Version == 0 {
		cd.Version = 1
	}
	m.daos[cd.ID] = cd
	d.Version = cd.Version
	return nil
}

func (m *MemoryStore) UpdateDAO(_ context.Context, d *types.DAO) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.daos[d.ID]
	if !ok {
		return fmt.Errorf("dao %s: %w", d.ID, types.ErrNotFound)
	}
	if cur.Version != d.Version {
		return fmt.Errorf("dao %s version %d: %w", d.ID, d.Version, types.ErrConflict)
	}
	cd := cloneDAO(d)
	cd.Version++
	m.daos[cd.ID] = cd
	d.Version = cd.Version
	return nil
}

var _ Store = (*MemoryStore)(nil)
