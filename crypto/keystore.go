package crypto

import (
	"bytes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/opd-ai/meshcore/interfaces"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the PBKDF2-SHA256 work factor for the store key.
	PBKDF2Iterations = 100000
	// SaltSize is the length of the per-directory salt.
	SaltSize = 32

	// IdentityFile is the record name identity keys are persisted under.
	IdentityFile = "identity.key"

	saltFileName = "keystore.salt"
	tmpPattern   = ".keystore-*"

	identityRecordVersion = 1
	identityRecordSize    = 1 + ed25519.PublicKeySize + ed25519.PrivateKeySize + 2*DHKeySize
)

// recordMagic prefixes every sealed record; the last byte is the format version.
var recordMagic = []byte{'M', 'K', 'S', 1}

var (
	// ErrNoIdentity is returned by LoadIdentityKeys when nothing has been saved yet.
	ErrNoIdentity = errors.New("no persisted identity")
	// ErrKeyStoreClosed is returned by any operation after Close.
	ErrKeyStoreClosed = errors.New("key store closed")
	// ErrCorruptRecord means a record failed framing or authentication. A
	// wrong passphrase surfaces the same way.
	ErrCorruptRecord = errors.New("corrupt key store record")
)

// EncryptedKeyStore keeps named records in a directory, each sealed with
// XChaCha20-Poly1305 under a key derived from a passphrase. The record name
// is bound as associated data, so a renamed file fails to open.
type EncryptedKeyStore struct {
	mu     sync.Mutex
	dir    string
	key    [chacha20poly1305.KeySize]byte
	aead   cipher.AEAD
	closed bool
}

// NewEncryptedKeyStore opens dir, creating it and its salt on first use.
// The passphrase slice is not retained.
func NewEncryptedKeyStore(dir string, passphrase []byte) (*EncryptedKeyStore, error) {
	if len(passphrase) == 0 {
		return nil, interfaces.ErrMissingPassphrase
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("keystore: create %s: %w", dir, err)
	}

	salt, err := readOrCreateSalt(filepath.Join(dir, saltFileName))
	if err != nil {
		return nil, err
	}

	ks := &EncryptedKeyStore{dir: dir}
	derived := pbkdf2.Key(passphrase, salt, PBKDF2Iterations, len(ks.key), sha256.New)
	copy(ks.key[:], derived)
	ZeroBytes(derived)

	ks.aead, err = chacha20poly1305.NewX(ks.key[:])
	if err != nil {
		return nil, fmt.Errorf("keystore: init cipher: %w", err)
	}
	return ks, nil
}

func readOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	switch {
	case err == nil && len(salt) == SaltSize:
		return salt, nil
	case err == nil:
		return nil, fmt.Errorf("keystore: salt is %d bytes, want %d", len(salt), SaltSize)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("keystore: read salt: %w", err)
	}

	salt = make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keystore: generate salt: %w", err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("keystore: write salt: %w", err)
	}
	return salt, nil
}

// Put seals data and stores it under name, replacing any previous record.
// The write goes through a temp file and a rename so readers never see a
// partial record.
func (ks *EncryptedKeyStore) Put(name string, data []byte) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.closed {
		return ErrKeyStoreClosed
	}

	nonceSize := ks.aead.NonceSize()
	sealed := make([]byte, len(recordMagic)+nonceSize, len(recordMagic)+nonceSize+len(data)+ks.aead.Overhead())
	copy(sealed, recordMagic)
	nonce := sealed[len(recordMagic):]
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("keystore: nonce: %w", err)
	}
	sealed = ks.aead.Seal(sealed, nonce, data, []byte(name))

	return writeAtomic(ks.dir, name, sealed)
}

func writeAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return fmt.Errorf("keystore: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("keystore: write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("keystore: sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("keystore: close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("keystore: commit %s: %w", name, err)
	}
	return nil
}

// Get opens the record stored under name. A missing record yields an error
// wrapping os.ErrNotExist.
func (ks *EncryptedKeyStore) Get(name string) ([]byte, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.closed {
		return nil, ErrKeyStoreClosed
	}

	raw, err := os.ReadFile(filepath.Join(ks.dir, name))
	if err != nil {
		return nil, fmt.Errorf("keystore: read %s: %w", name, err)
	}

	header := len(recordMagic) + ks.aead.NonceSize()
	if len(raw) < header+ks.aead.Overhead() || !bytes.Equal(raw[:len(recordMagic)], recordMagic) {
		return nil, fmt.Errorf("%w: %s has bad framing", ErrCorruptRecord, name)
	}

	plain, err := ks.aead.Open(nil, raw[len(recordMagic):header], raw[header:], []byte(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s failed authentication", ErrCorruptRecord, name)
	}
	return plain, nil
}

// Delete zero-fills the record under name and removes it. Deleting a missing
// record is not an error.
func (ks *EncryptedKeyStore) Delete(name string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.closed {
		return ErrKeyStoreClosed
	}

	path := filepath.Join(ks.dir, name)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("keystore: stat %s: %w", name, err)
	}

	// The overwrite is best effort; removal still proceeds.
	_ = os.WriteFile(path, make([]byte, info.Size()), 0o600)
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("keystore: remove %s: %w", name, err)
	}
	return nil
}

// SaveIdentityKeys persists keys under IdentityFile.
func (ks *EncryptedKeyStore) SaveIdentityKeys(keys *interfaces.IdentityKeys) error {
	if err := ValidateIdentityKeys(keys); err != nil {
		return err
	}

	record := make([]byte, 0, identityRecordSize)
	record = append(record, identityRecordVersion)
	for _, part := range [][]byte{keys.SignPublic, keys.SignPrivate, keys.DHPublic, keys.DHPrivate} {
		record = append(record, part...)
	}
	defer ZeroBytes(record)

	if err := ks.Put(IdentityFile, record); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}

	NewLogger("EncryptedKeyStore.SaveIdentityKeys").
		WithField("dir", ks.dir).
		WithKey("sign_public", keys.SignPublic).
		Info("Identity keys persisted")
	return nil
}

// LoadIdentityKeys reads keys written by SaveIdentityKeys. It returns
// ErrNoIdentity when none have been saved.
func (ks *EncryptedKeyStore) LoadIdentityKeys() (*interfaces.IdentityKeys, error) {
	record, err := ks.Get(IdentityFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoIdentity
	}
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	defer ZeroBytes(record)

	if len(record) != identityRecordSize || record[0] != identityRecordVersion {
		return nil, fmt.Errorf("%w: malformed identity record", ErrInvalidKey)
	}

	rest := record[1:]
	next := func(n int) []byte {
		part := bytes.Clone(rest[:n])
		rest = rest[n:]
		return part
	}
	return &interfaces.IdentityKeys{
		SignPublic:  next(ed25519.PublicKeySize),
		SignPrivate: next(ed25519.PrivateKeySize),
		DHPublic:    next(DHKeySize),
		DHPrivate:   next(DHKeySize),
	}, nil
}

// Close wipes the derived key. Later calls fail with ErrKeyStoreClosed.
func (ks *EncryptedKeyStore) Close() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.closed {
		return nil
	}
	ks.closed = true
	ZeroBytes(ks.key[:])
	ks.aead = nil
	return nil
}
