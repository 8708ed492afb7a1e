// Package verify answers whether a ledger id, certificate or chain log
// still matches what was anchored.
package verify

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/ajazfarhad/wipeproof/audit"
	"github.com/ajazfarhad/wipeproof/certificate"
	"github.com/ajazfarhad/wipeproof/ledger"
)

type SignatureStatus string

const (
	SignatureValid     SignatureStatus = "VALID"
	SignatureInvalid   SignatureStatus = "INVALID"
	SignatureUntrusted SignatureStatus = "VALID_UNTRUSTED_KEY"
	SignatureSkipped   SignatureStatus = "NOT_CHECKED"
)

// Report is the outcome of one verification.
type Report struct {
	Status    ledger.Status   `json:"status"`
	LedgerID  string          `json:"ledger_id,omitempty"`
	Hash      string          `json:"hash,omitempty"`
	Expected  string          `json:"expected,omitempty"`
	Signature SignatureStatus `json:"signature"`
	KeyID     string          `json:"key_id,omitempty"`
	Detail    string          `json:"detail,omitempty"`
}

// OK is true only when the ledger matches and any checked signature is
// valid under a trusted key.
func (r Report) OK() bool {
	return r.Status == ledger.StatusVerified &&
		(r.Signature == SignatureValid || r.Signature == SignatureSkipped)
}

type Verifier struct {
	anchor *ledger.Anchor
}

func New(anchor *ledger.Anchor) *Verifier {
	return &Verifier{anchor: anchor}
}

// LedgerID looks up id and checks the stored hash still derives to it under
// some known id scheme, so changing ledger.id_scheme never reads as tampering.
func (v *Verifier) LedgerID(ctx context.Context, id string) (Report, error) {
	rep := Report{LedgerID: id, Signature: SignatureSkipped}
	rec, err := v.anchor.Lookup(ctx, id)
	if err != nil {
		return rep, err
	}
	if rec == nil {
		rep.Status = ledger.StatusNotFound
		return rep, nil
	}
	rep.Hash = rec.Hash
	if !v.anchor.Derives(rec.Hash, id) {
		rep.Status = ledger.StatusMismatch
		rep.Detail = "stored hash does not derive to this ledger id"
		return rep, nil
	}
	rep.Status = ledger.StatusVerified
	return rep, nil
}

// Certificate checks cert against the ledger and its signature against
// trusted. With a nil trusted key the embedded key is used and a valid
// signature is reported as untrusted.
func (v *Verifier) Certificate(ctx context.Context, cert certificate.Certificate, trusted ed25519.PublicKey) (Report, error) {
	rep := Report{Expected: cert.Fields.FinalHash, KeyID: cert.KeyID}
	rep.Signature = checkSignature(cert, trusted)

	if cert.Fields.LedgerID == nil {
		rep.Status = ledger.StatusNotFound
		rep.Detail = "certificate was issued without a ledger id"
		return rep, nil
	}
	rep.LedgerID = *cert.Fields.LedgerID

	rec, err := v.anchor.Lookup(ctx, rep.LedgerID)
	if err != nil {
		return rep, err
	}
	switch {
	case rec == nil:
		rep.Status = ledger.StatusNotFound
	case rec.Hash == cert.Fields.FinalHash:
		rep.Hash = rec.Hash
		rep.Status = ledger.StatusVerified
	default:
		rep.Hash = rec.Hash
		rep.Status = ledger.StatusMismatch
		rep.Detail = "anchored hash differs from certificate"
	}
	return rep, nil
}

func checkSignature(cert certificate.Certificate, trusted ed25519.PublicKey) SignatureStatus {
	if trusted != nil {
		if cert.Verify(trusted) {
			return SignatureValid
		}
		return SignatureInvalid
	}
	embedded, err := cert.EmbeddedPublicKey()
	if err != nil || !cert.Verify(embedded) {
		return SignatureInvalid
	}
	return SignatureUntrusted
}

// Log recomputes a chain log and compares its final hash with cert.
func Log(genesis []byte, entries []audit.Entry, cert certificate.Certificate) Report {
	rep := Report{Expected: cert.Fields.FinalHash, Signature: SignatureSkipped}
	if cert.Fields.LedgerID != nil {
		rep.LedgerID = *cert.Fields.LedgerID
	}
	final, err := audit.FinalHash(genesis, entries)
	if err != nil {
		rep.Status = ledger.StatusMismatch
		rep.Detail = err.Error()
		return rep
	}
	rep.Hash = final
	if final != cert.Fields.FinalHash {
		rep.Status = ledger.StatusMismatch
		rep.Detail = fmt.Sprintf("log ends at %s", final)
		return rep
	}
	rep.Status = ledger.StatusVerified
	return rep
}
