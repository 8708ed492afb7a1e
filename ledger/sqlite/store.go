package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ajazfarhad/wipeproof/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_anchors (
	id          TEXT PRIMARY KEY,
	hash        TEXT NOT NULL,
	anchored_at TEXT NOT NULL
);`

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens or creates the database at path, applies PRAGMAs and ensures
// the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
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
		WHERE id = ?
	`, id)

	var r ledger.Record
	var at string
	err := row.Scan(&r.ID, &r.Hash, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if r.AnchoredAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
		return nil, fmt.Errorf("%w: anchored_at %q: %v", ledger.ErrCorrupt, at, err)
	}
	return &r, nil
}

func (s *Store) Insert(ctx context.Context, r ledger.Record) error {
	if r.ID == "" {
		return errors.New("ledger id is required")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_anchors (id, hash, anchored_at)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, r.ID, r.Hash, r.AnchoredAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrExists
	}
	return nil
}

func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_anchors`).Scan(&n)
	return n, err
}
