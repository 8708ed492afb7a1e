// Package sampler reads a bounded random sample of fixed-size blocks from a
// sanitized target so their contents can be embedded in the audit chain as
// post-operation evidence.
package sampler

import (
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"sync"
)

// BlockSize is the sampling unit. It matches common physical sector
// granularity and is deliberately not configurable.
const BlockSize = 512

// Sample is the evidence collected for one block. Exactly one of Data or
// Error is set.
type Sample struct {
	Index  int64  `json:"index"`
	Offset int64  `json:"offset"`
	Data   []byte `json:"data,omitempty"`
	SHA256 string `json:"sha256,omitempty"`
	Zeroed bool   `json:"zeroed"`
	Error  string `json:"error,omitempty"`
}

// Sampler is safe for concurrent use.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Sampler)

// WithRand fixes the source of randomness (tests, reproducible audits).
func WithRand(r *rand.Rand) Option {
	return func(s *Sampler) { s.rng = r }
}

func New(opts ...Option) *Sampler {
	s := &Sampler{}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		var seed [32]byte
		_, _ = crand.Read(seed[:])
		s.rng = rand.New(rand.NewChaCha8(seed))
	}
	return s
}

// NewSeeded returns a sampler whose selection is reproducible from seed.
func NewSeeded(seed uint64) *Sampler {
	var s [32]byte
	binary.LittleEndian.PutUint64(s[:], seed)
	return New(WithRand(rand.New(rand.NewChaCha8(s))))
}

// Blocks is the number of whole blocks in a target of total bytes.
func Blocks(total int64) int64 {
	if total <= 0 {
		return 0
	}
	return total / BlockSize
}

// Sample reads up to count distinct blocks chosen uniformly at random from
// r. A target smaller than one block yields no samples. A failed read is
// recorded on that block's sample and sampling continues; nothing is retried.
func (s *Sampler) Sample(r io.ReaderAt, total int64, count int) []Sample {
	idx := s.pick(Blocks(total), count)
	out := make([]Sample, 0, len(idx))
	for _, i := range idx {
		out = append(out, readBlock(r, i))
	}
	return out
}

// pick draws min(count, n) distinct indices from [0, n), ascending.
func (s *Sampler) pick(n int64, count int) []int64 {
	if n <= 0 || count <= 0 {
		return nil
	}
	k := int64(count)
	if k >= n {
		all := make([]int64, n)
		for i := range all {
			all[i] = int64(i)
		}
		return all
	}

	// Floyd's algorithm: k draws, no rejection loop, O(k) memory even for
	// multi-terabyte targets.
	chosen := make(map[int64]struct{}, k)
	s.mu.Lock()
	for j := n - k; j < n; j++ {
		t := s.rng.Int64N(j + 1)
		if _, dup := chosen[t]; dup {
			t = j
		}
		chosen[t] = struct{}{}
	}
	s.mu.Unlock()

	out := make([]int64, 0, k)
	for i := range chosen {
		out = append(out, i)
	}
	slices.Sort(out)
	return out
}

func readBlock(r io.ReaderAt, index int64) (smp Sample) {
	smp = Sample{Index: index, Offset: index * BlockSize}

	defer func() {
		// A vanished device can surface as a panic from some ReaderAt
		// implementations; record it like any other read fault.
		if p := recover(); p != nil {
			smp.Data, smp.SHA256, smp.Zeroed = nil, "", false
			smp.Error = fmt.Sprintf("read panicked: %v", p)
		}
	}()

	buf := make([]byte, BlockSize)
	n, err := r.ReadAt(buf, smp.Offset)
	if n == BlockSize {
		// io.ReaderAt may return io.EOF alongside a full final block.
		err = nil
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		smp.Error = fmt.Sprintf("read %d bytes at offset %d: %v", n, smp.Offset, err)
		return smp
	}

	sum := sha256.Sum256(buf)
	smp.Data = buf
	smp.SHA256 = hex.EncodeToString(sum[:])
	smp.Zeroed = allZero(buf)
	return smp
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
