// Package canonical produces the byte form that both the audit chain and the
// certificate signer hash or sign.
//
// Values are first encoded with encoding/json (so struct tags apply) and then
// transformed into RFC 8785 canonical JSON: object keys sorted, no
// insignificant whitespace, numbers and strings in their canonical spelling.
// Two implementations that agree on the logical value agree on the bytes.
//
// RFC 8785 writes every number as an IEEE-754 double, so integers beyond
// ±2^53 are rejected rather than silently rounded.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/gowebpki/jcs"
)

// MaxSafeInteger is the largest magnitude an integer may have and still
// survive canonicalization exactly.
const MaxSafeInteger = 1 << 53

// ErrUnsafeInteger is returned for integers a double cannot hold exactly.
var ErrUnsafeInteger = errors.New("canonical: integer exceeds ±2^53")

var maxSafe = big.NewInt(MaxSafeInteger)

// Marshal returns the canonical JSON encoding of v.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: encode: %w", err)
	}
	if err := checkIntegers(raw); err != nil {
		return nil, err
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out, nil
}

// checkIntegers walks the encoded document and rejects integer literals
// outside ±2^53.
func checkIntegers(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	for {
		tok, err := dec.Token()
		if err != nil {
			// raw came from json.Marshal, so only io.EOF ends the walk
			return nil
		}
		n, ok := tok.(json.Number)
		if !ok || strings.ContainsAny(string(n), ".eE") {
			continue
		}
		v, ok := new(big.Int).SetString(string(n), 10)
		if !ok {
			continue
		}
		if v.CmpAbs(maxSafe) > 0 {
			return fmt.Errorf("%w: %s", ErrUnsafeInteger, n)
		}
	}
}

// Sum256 hashes the concatenation of parts with SHA-256.
func Sum256(parts ...[]byte) [32]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HexSum256 is Sum256 rendered as lowercase hex.
func HexSum256(parts ...[]byte) string {
	sum := Sum256(parts...)
	return hex.EncodeToString(sum[:])
}
