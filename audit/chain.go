package audit

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// GenesisSize is the length of the raw value the first entry links to.
const GenesisSize = 32

// Chain is an append-only, hash-linked sequence of entries. It is safe for
// concurrent use, though a session normally appends from one goroutine.
type Chain struct {
	mu        sync.Mutex
	now       func() time.Time
	genesis   []byte
	prev      []byte
	entries   []Entry
	finalized bool
	final     string
}

type Option func(*Chain)

func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

// WithGenesis overrides the all-zero genesis value.
func WithGenesis(genesis []byte) Option {
	return func(c *Chain) { c.genesis = append([]byte(nil), genesis...) }
}

func NewChain(opts ...Option) *Chain {
	c := &Chain{
		now:     time.Now,
		genesis: make([]byte, GenesisSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.prev = c.genesis
	return c
}

// Genesis returns the value the first entry is linked to.
func (c *Chain) Genesis() []byte {
	return append([]byte(nil), c.genesis...)
}

// Append adds an entry and returns its chain hash. It does not fail: an
// unencodable field or an append after Finalize is a programming error and
// panics.
func (c *Chain) Append(kind Kind, fields Fields) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finalized {
		panic(fmt.Sprintf("audit: append %s after finalize", kind))
	}

	e := Entry{
		Seq:       uint64(len(c.entries)),
		Kind:      kind,
		Fields:    cloneFields(fields),
		Timestamp: c.now().UTC(),
	}

	sum, err := ComputeEntryHash(c.prev, e)
	if err != nil {
		panic(fmt.Errorf("%w: %s entry %d: %v", ErrSerialization, kind, e.Seq, err))
	}
	e.Hash = hex.EncodeToString(sum)

	c.entries = append(c.entries, e)
	c.prev = sum
	return e.Hash
}

// Finalize seals the chain and returns its final hash. Calling it again
// returns the same value.
func (c *Chain) Finalize() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finalized {
		return c.final, nil
	}
	n := len(c.entries)
	if n < 2 || c.entries[0].Kind != KindStart || c.entries[n-1].Kind != KindEnd {
		return "", ErrIncomplete
	}
	c.finalized = true
	c.final = c.entries[n-1].Hash
	return c.final, nil
}

// Head returns the chain hash of the last entry, or "" when empty.
func (c *Chain) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return ""
	}
	return c.entries[len(c.entries)-1].Hash
}

func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Entries returns a copy of the appended entries in order.
func (c *Chain) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		e.Fields = cloneFields(e.Fields)
		out[i] = e
	}
	return out
}

// Last returns the most recent entry.
func (c *Chain) Last() (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return Entry{}, false
	}
	e := c.entries[len(c.entries)-1]
	e.Fields = cloneFields(e.Fields)
	return e, true
}

// cloneFields copies the top level so later caller mutation of its map
// cannot rewrite history. Nested values are expected to be treated as
// immutable by callers.
func cloneFields(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
