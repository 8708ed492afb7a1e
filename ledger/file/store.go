// Package file persists anchors in a single JSON document guarded by an
// advisory lock, so independent processes on one host can share it.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ajazfarhad/wipeproof/ledger"
)

type entry struct {
	Hash       string    `json:"hash"`
	AnchoredAt time.Time `json:"anchored_at"`
}

type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	recovered atomic.Int64
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open returns a store backed by path. The file is created on first insert.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	s := &Store{path: path, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

// Recovered counts how many times a corrupt document was set aside.
func (s *Store) Recovered() int { return int(s.recovered.Load()) }

func (s *Store) Get(ctx context.Context, id string) (*ledger.Record, error) {
	var out *ledger.Record
	err := s.view(func(doc map[string]entry) {
		if e, ok := doc[id]; ok {
			out = &ledger.Record{ID: id, Hash: e.Hash, AnchoredAt: e.AnchoredAt}
		}
	})
	return out, err
}

func (s *Store) Insert(ctx context.Context, r ledger.Record) error {
	return s.locked(syscall.LOCK_EX, func() error {
		doc, err := s.load(true)
		if err != nil {
			return err
		}
		if _, ok := doc[r.ID]; ok {
			return ledger.ErrExists
		}
		doc[r.ID] = entry{Hash: r.Hash, AnchoredAt: r.AnchoredAt.UTC()}
		return s.save(doc)
	})
}

func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	err := s.view(func(doc map[string]entry) { n = len(doc) })
	return n, err
}

// view runs fn on the document under a shared lock. Setting a corrupt
// document aside renames it, so that case is retried under the exclusive
// lock.
func (s *Store) view(fn func(map[string]entry)) error {
	err := s.locked(syscall.LOCK_SH, func() error {
		doc, err := s.load(false)
		if err != nil {
			return err
		}
		fn(doc)
		return nil
	})
	if !errors.Is(err, errNeedsRecovery) {
		return err
	}
	return s.locked(syscall.LOCK_EX, func() error {
		doc, err := s.load(true)
		if err != nil {
			return err
		}
		fn(doc)
		return nil
	})
}

// locked runs fn under the in-process mutex and an flock on a sidecar lock
// file. The document itself is replaced by rename, so it can't carry the lock.
func (s *Store) locked(how int, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lf, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open ledger lock: %w", err)
	}
	defer lf.Close()

	if err := syscall.Flock(int(lf.Fd()), how); err != nil {
		return fmt.Errorf("lock ledger: %w", err)
	}
	defer syscall.Flock(int(lf.Fd()), syscall.LOCK_UN)

	return fn()
}

// errNeedsRecovery is returned by load when the document is corrupt and the
// caller does not hold the exclusive lock.
var errNeedsRecovery = errors.New("ledger document needs recovery")

// load reads the document. With repair set (exclusive lock held) a file
// that does not decode is moved aside and treated as empty; the ledger keeps
// working and the event is logged.
func (s *Store) load(repair bool) (map[string]entry, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	doc := map[string]entry{}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		if !repair {
			return nil, errNeedsRecovery
		}
		aside := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
		if rerr := os.Rename(s.path, aside); rerr != nil {
			return nil, fmt.Errorf("%w: %v (set aside: %v)", ledger.ErrCorrupt, err, rerr)
		}
		s.recovered.Add(1)
		s.logger.Warn("ledger store corrupt, resetting",
			"path", s.path, "moved_to", aside, "err", err)
		return map[string]entry{}, nil
	}
	return doc, nil
}

func (s *Store) save(doc map[string]entry) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".ledger-*")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
