package audit

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// VerifyError tells you exactly what failed and where.
type VerifyError struct {
	Seq    int
	Reason string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("audit verification failed: seq=%d reason=%s", e.Seq, e.Reason)
}

// Recompute rebuilds the chain hashes of entries from genesis using only
// their seq, kind, fields and timestamp. Recorded hashes are ignored.
func Recompute(genesis []byte, entries []Entry) ([]string, error) {
	out := make([]string, 0, len(entries))
	prev := genesis
	for _, e := range entries {
		sum, err := ComputeEntryHash(prev, e)
		if err != nil {
			return nil, err
		}
		out = append(out, hex.EncodeToString(sum))
		prev = sum
	}
	return out, nil
}

// VerifyEntries checks a recorded sequence against its own hashes.
// It detects:
// - edits to any entry's kind, fields or timestamp (hash mismatch)
// - deleted, inserted or re-ordered entries (seq gap or hash mismatch)
func VerifyEntries(genesis []byte, entries []Entry) error {
	prev := genesis
	for i, e := range entries {
		if e.Seq != uint64(i) {
			return &VerifyError{Seq: i, Reason: fmt.Sprintf("seq mismatch (expected %d, got %d)", i, e.Seq)}
		}

		expected, err := ComputeEntryHash(prev, e)
		if err != nil {
			return &VerifyError{Seq: i, Reason: fmt.Sprintf("canonicalize: %v", err)}
		}

		recorded, err := decodeHash(e.Hash)
		if err != nil {
			return &VerifyError{Seq: i, Reason: err.Error()}
		}

		if !bytes.Equal(recorded, expected) {
			return &VerifyError{
				Seq:    i,
				Reason: fmt.Sprintf("hash mismatch (expected %s, got %s)", short(hex.EncodeToString(expected)), short(e.Hash)),
			}
		}

		prev = expected
	}
	return nil
}

// FinalHash returns the hash of the last entry after verifying the whole
// sequence.
func FinalHash(genesis []byte, entries []Entry) (string, error) {
	if err := VerifyEntries(genesis, entries); err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", ErrIncomplete
	}
	return entries[len(entries)-1].Hash, nil
}

// short is just for readable errors/logs.
func short(s string) string {
	if len(s) <= 10 {
		return s
	}
	return s[:10]
}
