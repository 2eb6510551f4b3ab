package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opd-ai/meshcore/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, dir, passphrase string) *EncryptedKeyStore {
	t.Helper()
	ks, err := NewEncryptedKeyStore(dir, []byte(passphrase))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ks.Close() })
	return ks
}

func TestNewEncryptedKeyStoreCreatesSalt(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	openStore(t, dir, "pw")

	salt, err := os.ReadFile(filepath.Join(dir, saltFileName))
	require.NoError(t, err)
	assert.Len(t, salt, SaltSize)

	_, err = NewEncryptedKeyStore(dir, nil)
	assert.ErrorIs(t, err, interfaces.ErrMissingPassphrase)
}

func TestNewEncryptedKeyStoreRejectsBadSalt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, saltFileName), []byte{1, 2, 3}, 0o600))

	_, err := NewEncryptedKeyStore(dir, []byte("pw"))
	assert.ErrorContains(t, err, "salt")
}

func TestKeyStorePutGet(t *testing.T) {
	dir := t.TempDir()
	ks := openStore(t, dir, "pw")
	secret := []byte("dh private key material")

	require.NoError(t, ks.Put("peer.key", secret))

	got, err := ks.Get("peer.key")
	require.NoError(t, err)
	assert.Equal(t, secret, got)

	raw, err := os.ReadFile(filepath.Join(dir, "peer.key"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), string(secret))

	leftovers, err := filepath.Glob(filepath.Join(dir, tmpPattern))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestKeyStoreWrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, openStore(t, dir, "right").Put("a", []byte("x")))

	_, err := openStore(t, dir, "wrong").Get("a")
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestKeyStoreRecordBoundToName(t *testing.T) {
	dir := t.TempDir()
	ks := openStore(t, dir, "pw")
	require.NoError(t, ks.Put("a.key", []byte("bound")))
	require.NoError(t, os.Rename(filepath.Join(dir, "a.key"), filepath.Join(dir, "b.key")))

	_, err := ks.Get("b.key")
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestKeyStoreCorruption(t *testing.T) {
	tests := []struct {
		name   string
		mangle func([]byte) []byte
	}{
		{"flipped tag", func(b []byte) []byte { b[len(b)-1] ^= 0xff; return b }},
		{"truncated", func(b []byte) []byte { return b[:3] }},
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			ks := openStore(t, dir, "pw")
			require.NoError(t, ks.Put("r", []byte("payload")))

			path := filepath.Join(dir, "r")
			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, tt.mangle(raw), 0o600))

			_, err = ks.Get("r")
			assert.ErrorIs(t, err, ErrCorruptRecord)
		})
	}
}

func TestKeyStoreDelete(t *testing.T) {
	dir := t.TempDir()
	ks := openStore(t, dir, "pw")
	require.NoError(t, ks.Put("gone", []byte("x")))

	require.NoError(t, ks.Delete("gone"))
	_, err := os.Stat(filepath.Join(dir, "gone"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.NoError(t, ks.Delete("gone"))

	_, err = ks.Get("gone")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestKeyStoreIdentityRoundTrip(t *testing.T) {
	dir := t.TempDir()
	keys, err := GenerateIdentityKeys(nil)
	require.NoError(t, err)

	ks := openStore(t, dir, "identity-pw")
	_, err = ks.LoadIdentityKeys()
	require.ErrorIs(t, err, ErrNoIdentity)
	require.NoError(t, ks.SaveIdentityKeys(keys))
	require.NoError(t, ks.Close())

	loaded, err := openStore(t, dir, "identity-pw").LoadIdentityKeys()
	require.NoError(t, err)
	assert.Equal(t, keys.SignPublic, loaded.SignPublic)
	assert.Equal(t, keys.SignPrivate, loaded.SignPrivate)
	assert.Equal(t, keys.DHPublic, loaded.DHPublic)
	assert.Equal(t, keys.DHPrivate, loaded.DHPrivate)
}

func TestKeyStoreIdentityMalformed(t *testing.T) {
	ks := openStore(t, t.TempDir(), "pw")
	require.NoError(t, ks.Put(IdentityFile, []byte{identityRecordVersion, 1, 2}))

	_, err := ks.LoadIdentityKeys()
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestKeyStoreSaveRejectsInvalidKeys(t *testing.T) {
	ks := openStore(t, t.TempDir(), "pw")

	err := ks.SaveIdentityKeys(&interfaces.IdentityKeys{SignPublic: []byte{1}})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestKeyStoreClose(t *testing.T) {
	ks := openStore(t, t.TempDir(), "pw")

	require.NoError(t, ks.Close())
	require.NoError(t, ks.Close())
	assert.True(t, isZero(ks.key[:]))

	assert.ErrorIs(t, ks.Put("a", []byte("x")), ErrKeyStoreClosed)
	_, err := ks.Get("a")
	assert.ErrorIs(t, err, ErrKeyStoreClosed)
	assert.ErrorIs(t, ks.Delete("a"), ErrKeyStoreClosed)
}
