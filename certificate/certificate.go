// Package certificate seals the outcome of a wipe session into a signed,
// canonical record that a third party can check offline.
package certificate

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ajazfarhad/wipeproof/canonical"
	"github.com/ajazfarhad/wipeproof/keystore"
)

// AlgorithmEd25519 names the only signature scheme in use.
const AlgorithmEd25519 = "ed25519"

// ErrKeyStore wraps any failure to obtain the signing key. The session keeps
// its log and final hash but no certificate is issued.
var ErrKeyStore = errors.New("certificate: signing key unavailable")

// Fields is the canonical field map that gets signed.
type Fields struct {
	Target    string  `json:"target"`
	Serial    string  `json:"serial"`
	Method    string  `json:"method"`
	Success   bool    `json:"success"`
	Timestamp string  `json:"timestamp"`
	FinalHash string  `json:"final_hash"`
	LedgerID  *string `json:"ledger_id"`
}

// Certificate is the persisted artifact: the signed fields plus what a
// verifier needs to pick the right public key.
type Certificate struct {
	Fields    Fields `json:"fields"`
	Algorithm string `json:"algorithm"`
	Signature string `json:"signature"`
	PublicKey string `json:"public_key"`
	KeyID     string `json:"key_id"`
}

// KeyProvider is satisfied by *keystore.Store.
type KeyProvider interface {
	SigningKey() (ed25519.PrivateKey, error)
}

type Signer struct {
	keys KeyProvider
}

func NewSigner(keys KeyProvider) *Signer {
	return &Signer{keys: keys}
}

// CanonicalBytes is exactly what gets signed.
func CanonicalBytes(f Fields) ([]byte, error) {
	return canonical.Marshal(f)
}

// Seal canonicalizes fields and signs those bytes. Ed25519 is deterministic,
// so sealing identical fields with the same key yields the same signature.
func (s *Signer) Seal(f Fields) (Certificate, error) {
	msg, err := CanonicalBytes(f)
	if err != nil {
		return Certificate{}, err
	}
	key, err := s.keys.SigningKey()
	if err != nil {
		return Certificate{}, fmt.Errorf("%w: %w", ErrKeyStore, err)
	}
	pub := key.Public().(ed25519.PublicKey)

	return Certificate{
		Fields:    f,
		Algorithm: AlgorithmEd25519,
		Signature: hex.EncodeToString(ed25519.Sign(key, msg)),
		PublicKey: hex.EncodeToString(pub),
		KeyID:     keystore.Fingerprint(pub),
	}, nil
}

// Verify recomputes the canonical bytes of f and checks sig against pub.
// Malformed input is reported as false, never as a panic.
func Verify(f Fields, sig []byte, pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	msg, err := CanonicalBytes(f)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// SignatureBytes decodes the hex signature.
func (c Certificate) SignatureBytes() ([]byte, error) {
	return hex.DecodeString(c.Signature)
}

// EmbeddedPublicKey decodes the key the certificate claims it was signed
// with. Trusting it is the verifier's decision.
func (c Certificate) EmbeddedPublicKey() (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(c.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has %d bytes, want %d", len(b), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}

// Verify checks the certificate's signature against pub.
func (c Certificate) Verify(pub ed25519.PublicKey) bool {
	if c.Algorithm != AlgorithmEd25519 {
		return false
	}
	sig, err := c.SignatureBytes()
	if err != nil {
		return false
	}
	return Verify(c.Fields, sig, pub)
}

// Encode renders the certificate artifact as indented JSON.
func Encode(c Certificate) ([]byte, error) {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func Decode(raw []byte) (Certificate, error) {
	var c Certificate
	if err := json.Unmarshal(raw, &c); err != nil {
		return Certificate{}, fmt.Errorf("decode certificate: %w", err)
	}
	return c, nil
}
