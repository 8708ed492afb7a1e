package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ajazfarhad/wipeproof/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_anchors (
	id          TEXT PRIMARY KEY,
	hash        TEXT NOT NULL,
	anchored_at TIMESTAMPTZ NOT NULL
)`

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects with the lib/pq driver and ensures the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	st := New(db)
	if err := st.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create ledger schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(ctx context.Context, id string) (*ledger.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, hash, anchored_at
		FROM ledger_anchors
		WHERE id = $1
	`, id)

	var r ledger.Record
	err := row.Scan(&r.ID, &r.Hash, &r.AnchoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.AnchoredAt = r.AnchoredAt.UTC()
	return &r, nil
}

func (s *Store) Insert(ctx context.Context, r ledger.Record) error {
	if r.ID == "" {
		return errors.New("ledger id is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_anchors (id, hash, anchored_at)
		VALUES ($1, $2, $3)
	`, r.ID, r.Hash, r.AnchoredAt.UTC())

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ledger.ErrExists
	}
	return err
}

func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_anchors`).Scan(&n)
	return n, err
}
