package interfaces

import (
	"errors"
	"fmt"
)

// SessionCrypto performs per-peer payload encryption once a session exists.
type SessionCrypto interface {
	// Encrypt seals plaintext for the given peer.
	Encrypt(peerID, plaintext []byte) ([]byte, error)

	// Decrypt opens ciphertext received from the given peer.
	Decrypt(peerID, ciphertext []byte) ([]byte, error)

	// EstablishSession derives session state from the peer's key-exchange public key.
	EstablishSession(peerID, peerPublicKey []byte) error

	// HasSession reports whether a session exists for the peer.
	HasSession(peerID []byte) bool

	// RemoveSession discards any session state for the peer.
	RemoveSession(peerID []byte)
}

// IdentityKeys holds the node's long-term key material.
type IdentityKeys struct {
	SignPublic  []byte
	SignPrivate []byte
	DHPublic    []byte
	DHPrivate   []byte
}

// KeyStore owns the node's identity keys. Keys are generated lazily on first use.
type KeyStore interface {
	// GenerateIfMissing creates the signing and key-exchange pairs if absent.
	GenerateIfMissing() error

	// Keys returns the identity keys, generating them first if necessary.
	Keys() (*IdentityKeys, error)

	// SafetyNumber returns a short fingerprint of the public keys for
	// out-of-band identity verification.
	SafetyNumber() (string, error)

	// PublicKeysBase64 returns the signing and key-exchange public keys in
	// base64 form for exchange (for example via QR code).
	PublicKeysBase64() (signPub, dhPub string, err error)
}

// CryptoConfig selects and parameterises the crypto implementations.
type CryptoConfig struct {
	// UseSimulation selects the pass-through simulation doubles.
	UseSimulation bool

	// KeyStoreDir persists identity keys when non-empty (real implementation only).
	KeyStoreDir string

	// Passphrase protects persisted identity keys at rest.
	Passphrase []byte
}

// ErrMissingPassphrase is returned when persistence is requested without a passphrase.
var ErrMissingPassphrase = errors.New("key store passphrase required")

// Validate checks that the configuration is internally consistent.
func (c *CryptoConfig) Validate() error {
	if c == nil {
		return errors.New("crypto config is nil")
	}
	if c.KeyStoreDir != "" && !c.UseSimulation && len(c.Passphrase) == 0 {
		return fmt.Errorf("%w: key store dir %q", ErrMissingPassphrase, c.KeyStoreDir)
	}
	return nil
}
