package real

import (
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/meshcore/crypto"
	"github.com/opd-ai/meshcore/interfaces"
	"github.com/sirupsen/logrus"
)

var _ interfaces.KeyStore = (*LocalKeyStore)(nil)

// LocalKeyStore owns the node's identity keys, optionally persisted at rest.
type LocalKeyStore struct {
	mu    sync.Mutex
	keys  *interfaces.IdentityKeys
	vault *crypto.EncryptedKeyStore
}

// NewLocalKeyStore creates a key store. With an empty dir the keys are kept
// in memory only; otherwise they are loaded from and saved to an encrypted
// vault in dir protected by passphrase.
func NewLocalKeyStore(dir string, passphrase []byte) (*LocalKeyStore, error) {
	ks := &LocalKeyStore{}
	if dir == "" {
		return ks, nil
	}

	vault, err := crypto.NewEncryptedKeyStore(dir, passphrase)
	if err != nil {
		return nil, fmt.Errorf("open key vault: %w", err)
	}
	ks.vault = vault
	return ks, nil
}

// GenerateIfMissing loads persisted keys or creates new ones.
func (k *LocalKeyStore) GenerateIfMissing() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.keys != nil {
		return nil
	}

	if k.vault != nil {
		keys, err := k.vault.LoadIdentityKeys()
		switch {
		case err == nil:
			k.keys = keys
			logrus.WithFields(logrus.Fields{
				"function": "LocalKeyStore.GenerateIfMissing",
			}).Info("Loaded persisted identity keys")
			return nil
		case !errors.Is(err, crypto.ErrNoIdentity):
			return err
		}
	}

	keys, err := crypto.GenerateIdentityKeys(nil)
	if err != nil {
		return err
	}

	if k.vault != nil {
		if err := k.vault.SaveIdentityKeys(keys); err != nil {
			return err
		}
	}
	k.keys = keys

	logrus.WithFields(logrus.Fields{
		"function":  "LocalKeyStore.GenerateIfMissing",
		"persisted": k.vault != nil,
	}).Info("Generated identity keys")
	return nil
}

// Keys returns the identity keys, generating them first if needed.
func (k *LocalKeyStore) Keys() (*interfaces.IdentityKeys, error) {
	if err := k.GenerateIfMissing(); err != nil {
		return nil, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.keys, nil
}

// SafetyNumber returns the fingerprint of the public keys.
func (k *LocalKeyStore) SafetyNumber() (string, error) {
	keys, err := k.Keys()
	if err != nil {
		return "", err
	}
	return crypto.SafetyNumber(keys.SignPublic, keys.DHPublic), nil
}

// PublicKeysBase64 returns both public keys in standard base64.
func (k *LocalKeyStore) PublicKeysBase64() (signPub, dhPub string, err error) {
	keys, err := k.Keys()
	if err != nil {
		return "", "", err
	}
	signPub, dhPub = crypto.EncodePublicKeys(keys)
	return signPub, dhPub, nil
}

// Close wipes private key material and the vault key.
func (k *LocalKeyStore) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.keys != nil {
		_ = crypto.WipeIdentityKeys(k.keys)
		k.keys = nil
	}
	if k.vault != nil {
		return k.vault.Close()
	}
	return nil
}
