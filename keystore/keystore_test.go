package keystore_test

import (
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajazfarhad/wipeproof/keystore"
)

func TestSigningKeyIsCreatedOnceAndReloaded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "private_key.pem")

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))

	first, err := keystore.Open(path).SigningKey()
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := keystore.Open(path).SigningKey()
	require.NoError(t, err)
	assert.True(t, first.Equal(second), "reopening the store must load the same key")
}

func TestConcurrentFirstUseYieldsOneKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "private_key.pem")

	// Separate Store values model separate processes racing on one file.
	const n = 16
	keys := make([]ed25519.PrivateKey, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys[i], errs[i] = keystore.Open(path).SigningKey()
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.True(t, keys[0].Equal(keys[i]), "caller %d got a different key", i)
	}

	onDisk, err := keystore.Open(path, keystore.WithoutCreate()).SigningKey()
	require.NoError(t, err)
	assert.True(t, keys[0].Equal(onDisk))

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".signing-key-*"))
	assert.Empty(t, leftovers)
}

func TestCorruptKeyIsFatalAndNotRegenerated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "private_key.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0o600))

	_, err := keystore.Open(path).SigningKey()
	require.ErrorIs(t, err, keystore.ErrCorrupt)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "not a key", string(raw), "corrupt key file must be left untouched")
}

func TestStrictModeRefusesToCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "private_key.pem")
	_, err := keystore.Open(path, keystore.WithoutCreate()).SigningKey()
	require.ErrorIs(t, err, keystore.ErrMissing)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDeletedKeyIsReplacedByAFreshOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "private_key.pem")
	st := keystore.Open(path)

	before, err := st.SigningKey()
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))

	after, err := st.SigningKey()
	require.NoError(t, err)
	assert.False(t, before.Equal(after))
}

func TestPublicKeyEncodingRoundTrip(t *testing.T) {
	pub, err := keystore.Open(filepath.Join(t.TempDir(), "k.pem")).PublicKey()
	require.NoError(t, err)

	pemBytes, err := keystore.EncodePublicKey(pub)
	require.NoError(t, err)
	fromPEM, err := keystore.ParsePublicKey(pemBytes)
	require.NoError(t, err)
	assert.True(t, pub.Equal(fromPEM))

	fromHex, err := keystore.ParsePublicKey([]byte(" " + hex.EncodeToString(pub) + "\n"))
	require.NoError(t, err)
	assert.True(t, pub.Equal(fromHex))

	_, err = keystore.ParsePublicKey([]byte("abcd"))
	assert.Error(t, err)

	assert.Len(t, keystore.Fingerprint(pub), 32)
}
