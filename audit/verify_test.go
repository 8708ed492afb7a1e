package audit_test

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/ajazfarhad/wipeproof/audit"
)

func hexDecode(s string) ([]byte, error) { return hex.DecodeString(s) }

func TestVerifyEntriesPassesForValidChain(t *testing.T) {
	c := buildChain(t)
	if err := audit.VerifyEntries(c.Genesis(), c.Entries()); err != nil {
		t.Fatalf("VerifyEntries should pass, got error: %v", err)
	}

	final, err := audit.FinalHash(c.Genesis(), c.Entries())
	if err != nil {
		t.Fatalf("FinalHash error: %v", err)
	}
	if final != c.Head() {
		t.Fatalf("FinalHash=%s head=%s", final, c.Head())
	}
}

func TestVerifyEntriesDetectsTampering(t *testing.T) {
	c := buildChain(t)

	entries := c.Entries()
	entries[1].Fields["line"] = "pass 1/1 0%" + "-tampered"

	err := audit.VerifyEntries(c.Genesis(), entries)
	var verr *audit.VerifyError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *VerifyError, got %v", err)
	}
	if verr.Seq != 1 {
		t.Fatalf("expected failure at seq 1, got %d", verr.Seq)
	}
}

func TestVerifyEntriesDetectsDeletionAndReorder(t *testing.T) {
	c := buildChain(t)

	deleted := c.Entries()
	deleted = append(deleted[:2], deleted[3:]...)
	if err := audit.VerifyEntries(c.Genesis(), deleted); err == nil {
		t.Fatalf("expected verification to fail after deletion")
	}

	swapped := c.Entries()
	swapped[1], swapped[2] = swapped[2], swapped[1]
	if err := audit.VerifyEntries(c.Genesis(), swapped); err == nil {
		t.Fatalf("expected verification to fail after reorder")
	}
}

func TestRecomputeMatchesRecordedHashes(t *testing.T) {
	c := buildChain(t)
	entries := c.Entries()

	// Strip hashes: recomputation must only need seq/kind/fields/timestamp.
	stripped := make([]audit.Entry, len(entries))
	for i, e := range entries {
		e.Hash = ""
		stripped[i] = e
	}

	hashes, err := audit.Recompute(c.Genesis(), stripped)
	if err != nil {
		t.Fatalf("Recompute error: %v", err)
	}
	for i := range entries {
		if hashes[i] != entries[i].Hash {
			t.Fatalf("entry %d: recomputed %s recorded %s", i, hashes[i], entries[i].Hash)
		}
	}
}

func TestLogArtifactRoundTripStillVerifies(t *testing.T) {
	c := buildChain(t)
	c.Finalize()

	raw, err := audit.EncodeLog(c.Entries())
	if err != nil {
		t.Fatalf("EncodeLog error: %v", err)
	}
	if n := bytes.Count(raw, []byte("\n")); n != c.Len() {
		t.Fatalf("expected %d lines, got %d", c.Len(), n)
	}

	decoded, err := audit.DecodeLog(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("DecodeLog error: %v", err)
	}
	final, err := audit.FinalHash(c.Genesis(), decoded)
	if err != nil {
		t.Fatalf("decoded log does not verify: %v", err)
	}
	if final != c.Head() {
		t.Fatalf("decoded final hash %s, want %s", final, c.Head())
	}
}

func TestLogArtifactByteFlipIsDetected(t *testing.T) {
	c := buildChain(t)
	raw, _ := audit.EncodeLog(c.Entries())

	tampered := bytes.Replace(raw, []byte("pass 1/1 100%"), []byte("pass 1/1 99%"), 1)
	decoded, err := audit.DecodeLog(bytes.NewReader(tampered))
	if err != nil {
		t.Fatalf("DecodeLog error: %v", err)
	}
	if err := audit.VerifyEntries(c.Genesis(), decoded); err == nil {
		t.Fatalf("expected tampered log to fail verification")
	}
}
