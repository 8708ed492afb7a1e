package audit

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ajazfarhad/wipeproof/canonical"
)

// TimeFormat is how entry timestamps are written into hashed bytes.
const TimeFormat = time.RFC3339Nano

// hashPayload is exactly what we hash: the entry minus its own hash.
type hashPayload struct {
	Seq       uint64 `json:"seq"`
	Kind      Kind   `json:"kind"`
	Fields    Fields `json:"fields"`
	Timestamp string `json:"timestamp"`
}

// CanonicalBytes returns the canonical encoding of e without its Hash field.
func CanonicalBytes(e Entry) ([]byte, error) {
	fields := e.Fields
	if fields == nil {
		fields = Fields{}
	}
	return canonical.Marshal(hashPayload{
		Seq:       e.Seq,
		Kind:      e.Kind,
		Fields:    fields,
		Timestamp: e.Timestamp.UTC().Format(TimeFormat),
	})
}

// ComputeEntryHash links e to prev, where prev is the previous entry's raw
// chain hash (or the genesis value for the first entry).
func ComputeEntryHash(prev []byte, e Entry) ([]byte, error) {
	b, err := CanonicalBytes(e)
	if err != nil {
		return nil, err
	}
	sum := canonical.Sum256(prev, b)
	return sum[:], nil
}

func decodeHash(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode hash %q: %w", short(s), err)
	}
	return b, nil
}
