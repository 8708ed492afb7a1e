// Package ledger anchors the final hash of each audit chain under a ledger
// identifier so it can be looked up and compared later, independently of the
// certificate that quotes it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ajazfarhad/wipeproof/canonical"
)

// Status is the outcome of a verification query.
type Status string

const (
	StatusVerified Status = "VERIFIED"
	StatusMismatch Status = "MISMATCH"
	StatusNotFound Status = "NOT_FOUND"
)

// IDFunc derives a ledger identifier from a final hash.
type IDFunc func(finalHash string) string

// IdentityID anchors a hash under itself.
func IdentityID(finalHash string) string { return finalHash }

// DigestID derives an identifier that is distinct from the hash it anchors.
func DigestID(finalHash string) string {
	return "sha256:" + canonical.HexSum256([]byte("wipeproof-ledger:"), []byte(finalHash))
}

// IDScheme resolves a configured scheme name.
func IDScheme(name string) (IDFunc, error) {
	switch strings.ToLower(name) {
	case "", "identity":
		return IdentityID, nil
	case "sha256", "digest":
		return DigestID, nil
	default:
		return nil, fmt.Errorf("unknown ledger id scheme %q", name)
	}
}

type Anchor struct {
	store  Store
	derive IDFunc
	now    func() time.Time
	logger *slog.Logger

	// serializes read-modify-write across sessions in this process
	mu sync.Mutex
}

type Option func(*Anchor)

func WithIDFunc(f IDFunc) Option {
	return func(a *Anchor) {
		if f != nil {
			a.derive = f
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Anchor) { a.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Anchor) { a.logger = l }
}

func NewAnchor(store Store, opts ...Option) *Anchor {
	a := &Anchor{
		store:  store,
		derive: IdentityID,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// DeriveID exposes the identifier a hash would be anchored under.
func (a *Anchor) DeriveID(finalHash string) string { return a.derive(finalHash) }

// knownSchemes are every scheme an existing ledger may hold ids from. The
// configured scheme can change over a ledger's lifetime.
var knownSchemes = []IDFunc{IdentityID, DigestID}

// Derives reports whether id is what finalHash derives to under this
// anchor's scheme or any known scheme.
func (a *Anchor) Derives(finalHash, id string) bool {
	if a.derive(finalHash) == id {
		return true
	}
	for _, f := range knownSchemes {
		if f(finalHash) == id {
			return true
		}
	}
	return false
}

// Anchor records finalHash and returns its ledger id. Re-anchoring the same
// hash is a no-op; a different hash under an existing id is ErrConflict.
func (a *Anchor) Anchor(ctx context.Context, finalHash string) (string, error) {
	if finalHash == "" {
		return "", errors.New("ledger: empty final hash")
	}
	id := a.derive(finalHash)

	a.mu.Lock()
	defer a.mu.Unlock()

	existing, err := a.store.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("%w: lookup %s: %w", ErrWrite, id, err)
	}
	if existing != nil {
		return a.settle(id, finalHash, existing)
	}

	rec := Record{ID: id, Hash: finalHash, AnchoredAt: a.now().UTC()}
	err = a.store.Insert(ctx, rec)
	if errors.Is(err, ErrExists) {
		// Lost a race with another process sharing the store.
		existing, gerr := a.store.Get(ctx, id)
		if gerr != nil || existing == nil {
			return "", fmt.Errorf("%w: reread %s after conflict: %v", ErrWrite, id, gerr)
		}
		return a.settle(id, finalHash, existing)
	}
	if err != nil {
		return "", fmt.Errorf("%w: insert %s: %w", ErrWrite, id, err)
	}

	a.logger.Info("anchored final hash", "ledger_id", id, "hash", finalHash)
	return id, nil
}

func (a *Anchor) settle(id, finalHash string, existing *Record) (string, error) {
	if existing.Hash == finalHash {
		return id, nil
	}
	a.logger.Warn("refusing to re-anchor ledger id with a different hash",
		"ledger_id", id, "anchored_hash", existing.Hash, "offered_hash", finalHash)
	return "", fmt.Errorf("%w: %s", ErrConflict, id)
}

// Lookup returns the record anchored under id, or nil when there is none.
func (a *Anchor) Lookup(ctx context.Context, id string) (*Record, error) {
	return a.store.Get(ctx, id)
}

// Verify compares the hash anchored under id with expected.
func (a *Anchor) Verify(ctx context.Context, id, expected string) (Status, error) {
	rec, err := a.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	switch {
	case rec == nil:
		return StatusNotFound, nil
	case rec.Hash == expected:
		return StatusVerified, nil
	default:
		return StatusMismatch, nil
	}
}

// Len reports how many ids are anchored.
func (a *Anchor) Len(ctx context.Context) (int, error) {
	return a.store.Len(ctx)
}
