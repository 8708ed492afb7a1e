// Package artifact stores session artifacts (chain logs and certificates).
// Every sink is write-once: an artifact name is never overwritten.
package artifact

import (
	"context"
	"errors"
)

// ErrExists is returned when name has already been written.
var ErrExists = errors.New("artifact: already exists")

type Sink interface {
	// Put writes data under name and returns where it landed.
	Put(ctx context.Context, name string, data []byte) (string, error)
}
