// Package keystore owns the long-lived Ed25519 key that signs wipe
// certificates. The key is created on first use, persisted once as a PKCS#8
// PEM file and loaded unchanged afterwards. It is never rotated or silently
// regenerated when the file is unreadable.
package keystore

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

const pemType = "PRIVATE KEY"

var (
	// ErrCorrupt means a key file exists but cannot be used. Signing stops.
	ErrCorrupt = errors.New("keystore: key file is corrupt")

	// ErrMissing is returned in strict mode when no key file exists.
	ErrMissing = errors.New("keystore: key file is missing")
)

type Store struct {
	path     string
	logger   *slog.Logger
	noCreate bool

	mu sync.Mutex
	// fingerprint of the last key this Store handed out
	lastSeen string
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithoutCreate makes an absent key file an error instead of a reason to
// generate one. Use it wherever a new key must never appear implicitly.
func WithoutCreate() Option {
	return func(s *Store) { s.noCreate = true }
}

func Open(path string, opts ...Option) *Store {
	s := &Store{path: path, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Path() string { return s.path }

// SigningKey returns the persisted key, generating and persisting one first
// if none exists. Check, generate and persist form one critical section per
// process; across processes the key file is published with a hard link,
// which only one writer can win.
func (s *Store) SigningKey() (ed25519.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.load()
	if errors.Is(err, fs.ErrNotExist) {
		if s.noCreate {
			return nil, fmt.Errorf("%w: %s", ErrMissing, s.path)
		}
		key, err = s.create()
	}
	if err != nil {
		return nil, err
	}

	fp := Fingerprint(key.Public().(ed25519.PublicKey))
	if s.lastSeen != "" && s.lastSeen != fp {
		s.logger.Warn("signing key changed; certificates issued earlier verify only under the previous public key",
			"path", s.path, "previous_key_id", s.lastSeen, "key_id", fp)
	}
	s.lastSeen = fp
	return key, nil
}

// PublicKey returns the public half of the signing key.
func (s *Store) PublicKey() (ed25519.PublicKey, error) {
	key, err := s.SigningKey()
	if err != nil {
		return nil, err
	}
	return key.Public().(ed25519.PublicKey), nil
}

func (s *Store) load() (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	return ParsePrivateKey(raw)
}

func (s *Store) create() (ed25519.PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	encoded, err := EncodePrivateKey(key)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".signing-key-*")
	if err != nil {
		return nil, fmt.Errorf("create temp key file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("write key: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("sync key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close key: %w", err)
	}

	// Link fails with EEXIST if someone else published first; their key wins.
	if err := os.Link(tmp.Name(), s.path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			s.logger.Info("signing key created concurrently by another process; loading it", "path", s.path)
			return s.load()
		}
		return nil, fmt.Errorf("publish key: %w", err)
	}
	syncDir(dir)

	s.logger.Info("generated signing key", "path", s.path,
		"key_id", Fingerprint(key.Public().(ed25519.PublicKey)))
	return key, nil
}

// EncodePrivateKey renders key as a PKCS#8 PEM block.
func EncodePrivateKey(key ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemType, Bytes: der}), nil
}

// ParsePrivateKey reads a PKCS#8 PEM encoded Ed25519 key.
func ParsePrivateKey(raw []byte) (ed25519.PrivateKey, error) {
	block, rest := pem.Decode(raw)
	if block == nil || block.Type != pemType || len(bytes.TrimSpace(rest)) != 0 {
		return nil, fmt.Errorf("%w: not a single %s PEM block", ErrCorrupt, pemType)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: key is %T, want ed25519", ErrCorrupt, parsed)
	}
	return key, nil
}

// Fingerprint identifies a public key: hex of the first 16 bytes of its
// SHA-256.
func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:16])
}

// EncodePublicKey renders pub as a PKIX PEM block for distribution to
// verifiers.
func EncodePublicKey(pub ed25519.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePublicKey accepts a PKIX PEM block or a hex encoded raw key.
func ParsePublicKey(raw []byte) (ed25519.PublicKey, error) {
	if block, _ := pem.Decode(raw); block != nil {
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		pub, ok := parsed.(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is %T, want ed25519", parsed)
		}
		return pub, nil
	}
	b, err := hex.DecodeString(string(bytes.TrimSpace(raw)))
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("parse public key: got %d bytes, want %d", len(b), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
