package audit

import (
	"errors"
	"time"
)

type Kind string

const (
	KindStart     Kind = "start"
	KindProgress  Kind = "progress"
	KindSampleSet Kind = "sample-set"
	KindError     Kind = "error"
	KindEnd       Kind = "end"
)

// Fields is the kind-specific payload of an entry. It is serialized with
// sorted keys, so map iteration order never reaches the hash.
type Fields map[string]any

// Entry is one link of a Chain.
type Entry struct {
	Seq       uint64    `json:"seq"`
	Kind      Kind      `json:"kind"`
	Fields    Fields    `json:"fields"`
	Timestamp time.Time `json:"timestamp"`

	// Hash = H(previous Hash || canonical bytes of this entry without Hash)
	Hash string `json:"hash"`
}

var (
	// ErrSerialization is the panic value raised when an entry cannot be
	// canonicalized. It means a caller put an unencodable value in Fields.
	ErrSerialization = errors.New("audit: entry serialization fault")

	// ErrIncomplete is returned by Finalize when the chain does not open
	// with a start entry and close with an end entry.
	ErrIncomplete = errors.New("audit: chain must begin with start and end with end")
)
