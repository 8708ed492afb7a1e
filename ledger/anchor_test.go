package ledger_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajazfarhad/wipeproof/ledger"
	"github.com/ajazfarhad/wipeproof/ledger/memory"
)

var (
	hashA = strings.Repeat("a1", 32)
	hashB = strings.Repeat("b2", 32)
)

func fixedNow() time.Time { return time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC) }

func TestAnchorIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	a := ledger.NewAnchor(st, ledger.WithClock(fixedNow))

	id1, err := a.Anchor(ctx, hashA)
	require.NoError(t, err)
	id2, err := a.Anchor(ctx, hashA)
	require.NoError(t, err)

	assert.Equal(t, hashA, id1, "identity scheme anchors a hash under itself")
	assert.Equal(t, id1, id2)

	n, err := a.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := a.Lookup(ctx, id1)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, hashA, rec.Hash)
	assert.Equal(t, fixedNow(), rec.AnchoredAt)
}

func TestAnchorRefusesDifferentHashUnderSameID(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	collide := func(string) string { return "fixed-id" }
	a := ledger.NewAnchor(st, ledger.WithIDFunc(collide))

	_, err := a.Anchor(ctx, hashA)
	require.NoError(t, err)

	_, err = a.Anchor(ctx, hashB)
	require.ErrorIs(t, err, ledger.ErrConflict)

	rec, err := a.Lookup(ctx, "fixed-id")
	require.NoError(t, err)
	assert.Equal(t, hashA, rec.Hash, "existing anchor must be left unchanged")
}

func TestVerifyStatuses(t *testing.T) {
	ctx := context.Background()
	a := ledger.NewAnchor(memory.New())

	id, err := a.Anchor(ctx, hashA)
	require.NoError(t, err)

	st, err := a.Verify(ctx, id, hashA)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusVerified, st)

	st, err = a.Verify(ctx, id, hashB)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusMismatch, st)

	st, err = a.Verify(ctx, "nope", hashA)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusNotFound, st)
}

func TestDigestIDIsStableAndDistinct(t *testing.T) {
	id := ledger.DigestID(hashA)
	assert.True(t, strings.HasPrefix(id, "sha256:"))
	assert.Equal(t, id, ledger.DigestID(hashA))
	assert.NotEqual(t, id, ledger.DigestID(hashB))
	assert.NotEqual(t, "sha256:"+hashA, id)

	a := ledger.NewAnchor(memory.New(), ledger.WithIDFunc(ledger.DigestID))
	got, err := a.Anchor(context.Background(), hashA)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, id, a.DeriveID(hashA))
}

func TestDerivesAcceptsEveryKnownScheme(t *testing.T) {
	a := ledger.NewAnchor(memory.New(), ledger.WithIDFunc(ledger.DigestID))
	assert.True(t, a.Derives(hashA, ledger.DigestID(hashA)))
	assert.True(t, a.Derives(hashA, hashA))
	assert.False(t, a.Derives(hashA, hashB))
	assert.False(t, a.Derives(hashA, ledger.DigestID(hashB)))

	custom := ledger.NewAnchor(memory.New(), ledger.WithIDFunc(func(h string) string { return "x-" + h }))
	assert.True(t, custom.Derives(hashA, "x-"+hashA))
}

func TestIDScheme(t *testing.T) {
	f, err := ledger.IDScheme("")
	require.NoError(t, err)
	assert.Equal(t, hashA, f(hashA))

	f, err = ledger.IDScheme("SHA256")
	require.NoError(t, err)
	assert.Equal(t, ledger.DigestID(hashA), f(hashA))

	_, err = ledger.IDScheme("md5")
	assert.Error(t, err)
}

func TestAnchorRejectsEmptyHash(t *testing.T) {
	_, err := ledger.NewAnchor(memory.New()).Anchor(context.Background(), "")
	assert.Error(t, err)
}

type failingStore struct{ getErr, insertErr error }

func (f failingStore) Get(context.Context, string) (*ledger.Record, error) { return nil, f.getErr }
func (f failingStore) Insert(context.Context, ledger.Record) error       { return f.insertErr }
func (f failingStore) Len(context.Context) (int, error)                   { return 0, nil }

func TestStoreFailuresSurfaceAsWriteErrors(t *testing.T) {
	ctx := context.Background()
	disk := errors.New("disk full")

	_, err := ledger.NewAnchor(failingStore{insertErr: disk}).Anchor(ctx, hashA)
	require.ErrorIs(t, err, ledger.ErrWrite)
	assert.ErrorIs(t, err, disk)

	_, err = ledger.NewAnchor(failingStore{getErr: disk}).Anchor(ctx, hashA)
	require.ErrorIs(t, err, ledger.ErrWrite)
}

// racingStore reports the id free on the first Get, then loses the insert
// to a writer it cannot see.
type racingStore struct {
	*memory.Store
	once sync.Once
	won  ledger.Record
}

func (r *racingStore) Insert(ctx context.Context, rec ledger.Record) error {
	r.once.Do(func() { _ = r.Store.Insert(ctx, r.won) })
	return r.Store.Insert(ctx, rec)
}

func TestAnchorResolvesLostInsertRace(t *testing.T) {
	ctx := context.Background()

	same := &racingStore{Store: memory.New(), won: ledger.Record{ID: hashA, Hash: hashA}}
	id, err := ledger.NewAnchor(same).Anchor(ctx, hashA)
	require.NoError(t, err)
	assert.Equal(t, hashA, id)

	other := &racingStore{Store: memory.New(), won: ledger.Record{ID: "x", Hash: hashB}}
	_, err = ledger.NewAnchor(other, ledger.WithIDFunc(func(string) string { return "x" })).Anchor(ctx, hashA)
	assert.ErrorIs(t, err, ledger.ErrConflict)
}

func TestConcurrentAnchorsOfSameHash(t *testing.T) {
	ctx := context.Background()
	a := ledger.NewAnchor(memory.New())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Anchor(ctx, hashA)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := a.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
