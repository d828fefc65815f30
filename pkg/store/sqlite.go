package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pulseworks/pulse/pkg/types"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the default single-node persistence backend.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and runs migrations.
// Use ":memory:" for an ephemeral store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent batch processing.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an existing handle (used by tests).
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the underlying handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS entities (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		owner       TEXT NOT NULL,
		status      TEXT NOT NULL,
		next_due_at DATETIME,
		version     INTEGER NOT NULL DEFAULT 1,
		doc         JSON NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entities_due ON entities (status, next_due_at);

	CREATE TABLE IF NOT EXISTS proposals (
		id       TEXT PRIMARY KEY,
		dao_id   TEXT NOT NULL,
		status   TEXT NOT NULL,
		end_time DATETIME NOT NULL,
		version  INTEGER NOT NULL DEFAULT 1,
		doc      JSON NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals (status, end_time);

	CREATE TABLE IF NOT EXISTS daos (
		id      TEXT PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 1,
		doc     JSON NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (types.Entity, error) {
	var kind string
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT kind, doc FROM entities WHERE id = ?`, id).Scan(&kind, &doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entity %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %s: %w", id, err)
	}
	return decodeEntity(types.EntityKind(kind), doc)
}

func (s *SQLiteStore) PutEntity(ctx context.Context, e types.Entity) error {
	a := e.Auto()
	if a.Version == 0 {
		a.Version = 1
	}
	doc, err := encodeEntity(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (id, kind, owner, status, next_due_at, version, doc)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(e.Kind()), a.Owner, string(a.Status), dueAtString(a.NextDueAt), a.Version, doc)
	if err != nil {
		return fmt.Errorf("insert entity %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateEntity(ctx context.Context, e types.Entity) error {
	a := e.Auto()
	prev := a.Version
	a.Version = prev + 1
	doc, err := encodeEntity(e)
	if err != nil {
		a.Version = prev
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET status = ?, next_due_at = ?, version = ?, doc = ?
		 WHERE id = ? AND version = ?`,
		string(a.Status), dueAtString(a.NextDueAt), a.Version, doc, a.ID, prev)
	if err != nil {
		a.Version = prev
		return fmt.Errorf("update entity %s: %w", a.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		a.Version = prev
		if !s.entityExists(ctx, a.ID) {
			return fmt.Errorf("entity %s: %w", a.ID, types.ErrNotFound)
		}
		return fmt.Errorf("entity %s version %d: %w", a.ID, prev, types.ErrConflict)
	}
	return nil
}

func (s *SQLiteStore) entityExists(ctx context.Context, id string) bool {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM entities WHERE id = ?`, id).Scan(&one)
	return err == nil
}

func (s *SQLiteStore) FindDue(ctx context.Context, now time.Time) ([]types.Entity, error) {
	return s.queryEntities(ctx,
		`SELECT kind, doc FROM entities
		 WHERE status = ? AND next_due_at IS NOT NULL AND next_due_at <= ?`,
		string(types.StatusActive), now.UTC().Format(time.RFC3339Nano))
}

func (s *SQLiteStore) FindActive(ctx context.Context) ([]types.Entity, error) {
	return s.queryEntities(ctx,
		`SELECT kind, doc FROM entities WHERE status = ?`, string(types.StatusActive))
}

func (s *SQLiteStore) queryEntities(ctx context.Context, query string, args ...any) ([]types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Entity
	for rows.Next() {
		var kind string
		var doc []byte
		if err := rows.Scan(&kind, &doc); err != nil {
			return nil, err
		}
		e, err := decodeEntity(types.EntityKind(kind), doc)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetProposal(ctx context.Context, id string) (*types.Proposal, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM proposals WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("proposal %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal %s: %w", id, err)
	}
	var p types.Proposal
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("decode proposal %s: %w", id, err)
	}
	return &p, nil
}

func (s *SQLiteStore) PutProposal(ctx context.Context, p *types.Proposal) error {
	if p.Version == 0 {
		p.Version = 1
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode proposal %s: %w", p.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO proposals (id, dao_id, status, end_time, version, doc)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.DAOID, string(p.Status), p.EndTime.UTC().Format(time.RFC3339Nano), p.Version, doc)
	if err != nil {
		return fmt.Errorf("insert proposal %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateProposal(ctx context.Context, p *types.Proposal) error {
	prev := p.Version
	p.Version = prev + 1
	doc, err := json.Marshal(p)
	if err != nil {
		p.Version = prev
		return fmt.Errorf("encode proposal %s: %w", p.ID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE proposals SET status = ?, version = ?, doc = ? WHERE id = ? AND version = ?`,
		string(p.Status), p.Version, doc, p.ID, prev)
	if err != nil {
		p.Version = prev
		return fmt.Errorf("update proposal %s: %w", p.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		p.Version = prev
		return fmt.Errorf("proposal %s version %d: %w", p.ID, prev, types.ErrConflict)
	}
	return nil
}

// AppendVote reads, mutates and writes the proposal inside one transaction,
// so concurrent votes serialize and the tally never drifts from the list.
func (s *SQLiteStore) AppendVote(ctx context.Context, proposalID string, v types.Vote) (*types.Proposal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("append vote: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var doc []byte
	var version int64
	err = tx.QueryRowContext(ctx,
		`SELECT doc, version FROM proposals WHERE id = ?`, proposalID).Scan(&doc, &version)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("proposal %s: %w", proposalID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("append vote %s: %w", proposalID, err)
	}

	var p types.Proposal
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("decode proposal %s: %w", proposalID, err)
	}
	if p.HasVoted(v.Voter) {
		return nil, fmt.Errorf("proposal %s voter %s: %w", proposalID, v.Voter, types.ErrAlreadyVoted)
	}
	p.Votes = append(p.Votes, v)
	p.Tally.Add(v.Choice, v.Weight)
	p.Version = version + 1

	newDoc, err := json.Marshal(&p)
	if err != nil {
		return nil, fmt.Errorf("encode proposal %s: %w", proposalID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE proposals SET version = ?, doc = ? WHERE id = ? AND version = ?`,
		p.Version, newDoc, proposalID, version); err != nil {
		return nil, fmt.Errorf("append vote %s: %w", proposalID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append vote %s: commit: %w", proposalID, err)
	}
	return &p, nil
}

func (s *SQLiteStore) FindActiveProposals(ctx context.Context) ([]*types.Proposal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM proposals WHERE status = ?`, string(types.ProposalActive))
	if err != nil {
		return nil, fmt.Errorf("query proposals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Proposal
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var p types.Proposal
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetDAO(ctx context.Context, id string) (*types.DAO, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM daos WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("dao %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get dao %s: %w", id, err)
	}
	var d types.DAO
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, fmt.Errorf("decode dao %s: %w", id, err)
	}
	return &d, nil
}

func (s *SQLiteStore) PutDAO(ctx context.Context, d *types.DAO) error {
	if d.Version == 0 {
		d.Version = 1
	}
	doc, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode dao %s: %w", d.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO daos (id, version, doc) VALUES (?, ?, ?)`, d.ID, d.Version, doc)
	if err != nil {
		return fmt.Errorf("insert dao %s: %w", d.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateDAO(ctx context.Context, d *types.DAO) error {
	prev := d.Version
	d.Version = prev + 1
	doc, err := json.Marshal(d)
	if err != nil {
		d.Version = prev
		return fmt.Errorf("encode dao %s: %w", d.ID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE daos SET version = ?, doc = ? WHERE id = ? AND version = ?`,
		d.Version, doc, d.ID, prev)
	if err != nil {
		d.Version = prev
		return fmt.Errorf("update dao %s: %w", d.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		d.Version = prev
		return fmt.Errorf("dao %s version %d: %w", d.ID, prev, types.ErrConflict)
	}
	return nil
}

func dueAtString(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

var _ Store = (*SQLiteStore)(nil)
