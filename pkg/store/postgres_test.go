package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/pulseworks/pulse/pkg/types"
)

func mockPostgres(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	// Skip NewPostgresStore so migration is not expected.
	return &PostgresStore{db: db}, mock
}

func TestPostgresGetEntity(t *testing.T) {
	s, mock := mockPostgres(t)

	doc, _ := json.Marshal(testWorkflow("w1"))
	mock.ExpectQuery(`SELECT kind, doc FROM entities`).
		WithArgs("w1").
		WillReturnRows(sqlmock.NewRows([]string{"kind", "doc"}).AddRow("WORKFLOW", doc))

	got, err := s.GetEntity(context.Background(), "w1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind() != types.KindWorkflow || got.Auto().ID != "w1" {
		t.Fatalf("unexpected entity %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresGetEntityNotFound(t *testing.T) {
	s, mock := mockPostgres(t)

	mock.ExpectQuery(`SELECT kind, doc FROM entities`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"kind", "doc"}))

	_, err := s.GetEntity(context.Background(), "ghost")
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresUpdateEntityConflict(t *testing.T) {
	s, mock := mockPostgres(t)

	mock.ExpectExec(`UPDATE entities SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	w := testWorkflow("w1")
	w.Version = 3
	err := s.UpdateEntity(context.Background(), w)
	if !errors.Is(err, types.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if w.Version != 3 {
		t.Fatalf("version must not advance on conflict, got %d", w.Version)
	}
}

func TestPostgresUpdateEntityBumpsVersion(t *testing.T) {
	s, mock := mockPostgres(t)

	mock.ExpectExec(`UPDATE entities SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := testWorkflow("w1")
	w.Version = 3
	if err := s.UpdateEntity(context.Background(), w); err != nil {
		t.Fatal(err)
	}
	if w.Version != 4 {
		t.Fatalf("expected version 4, got %d", w.Version)
	}
}

func TestPostgresAppendVoteLocksRow(t *testing.T) {
	s, mock := mockPostgres(t)

	p := testProposal("p1")
	p.Version = 1
	doc, _ := json.Marshal(p)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT doc, version FROM proposals WHERE id = \$1 FOR UPDATE`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"doc", "version"}).AddRow(doc, 1))
	mock.ExpectExec(`UPDATE proposals SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := s.AppendVote(context.Background(), "p1",
		types.Vote{Voter: "alice", Choice: types.VoteYes, Weight: 5})
	if err != nil {
		t.Fatal(err)
	}
	if got.Tally.Yes != 5 {
		t.Fatalf("tally not updated: %+v", got.Tally)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
