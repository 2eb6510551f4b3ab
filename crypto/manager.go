package crypto

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/opd-ai/meshcore/interfaces"
)

// ErrCryptoFailure wraps any internal fault raised by a SessionCrypto.
var ErrCryptoFailure = errors.New("crypto failure")

// CryptoManager fronts a SessionCrypto and a KeyStore for the node.
//
// Encrypt and Decrypt fail open: when the underlying SessionCrypto returns an
// error or panics, the manager logs the fault at error level with
// fail_open=true, counts it, and returns the input unchanged with ok=false.
// Message availability takes priority over confidentiality. Callers that
// mark envelopes as encrypted must check ok.
type CryptoManager struct {
	keyStore interfaces.KeyStore
	session  interfaces.SessionCrypto

	encryptFailures   atomic.Uint64
	decryptFailures   atomic.Uint64
	sessionFailures   atomic.Uint64
	signatureFailures atomic.Uint64
}

// NewCryptoManager creates a manager and ensures identity keys exist.
func NewCryptoManager(keyStore interfaces.KeyStore, session interfaces.SessionCrypto) (*CryptoManager, error) {
	if keyStore == nil || session == nil {
		return nil, errors.New("crypto manager requires a key store and session crypto")
	}
	if err := keyStore.GenerateIfMissing(); err != nil {
		return nil, fmt.Errorf("initialize identity keys: %w", err)
	}

	return &CryptoManager{
		keyStore: keyStore,
		session:  session,
	}, nil
}

// Encrypt seals plaintext for peerID. On failure it returns plaintext and false.
func (m *CryptoManager) Encrypt(peerID string, plaintext []byte) ([]byte, bool) {
	out, err := m.guard(func() ([]byte, error) {
		return m.session.Encrypt([]byte(peerID), plaintext)
	})
	if err != nil {
		m.encryptFailures.Add(1)
		m.failOpen("Encrypt", peerID, err)
		return plaintext, false
	}
	return out, true
}

// Decrypt opens ciphertext from peerID. On failure it returns ciphertext and false.
func (m *CryptoManager) Decrypt(peerID string, ciphertext []byte) ([]byte, bool) {
	out, err := m.guard(func() ([]byte, error) {
		return m.session.Decrypt([]byte(peerID), ciphertext)
	})
	if err != nil {
		m.decryptFailures.Add(1)
		m.failOpen("Decrypt", peerID, err)
		return ciphertext, false
	}
	return out, true
}

// guard runs fn, converting errors and panics into ErrCryptoFailure.
func (m *CryptoManager) guard(fn func() ([]byte, error)) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: panic: %v", ErrCryptoFailure, r)
		}
	}()

	out, err = fn()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}
	return out, nil
}

func (m *CryptoManager) failOpen(op, peerID string, err error) {
	NewLogger("CryptoManager."+op).
		WithPeer(peerID).
		WithError(err, "CryptoFailure", op).
		WithField("fail_open", true).
		Error("Crypto operation failed, passing data through unchanged")
}

// EstablishSession derives session state for peerID from its key-exchange
// public key. It reports whether a session now exists.
func (m *CryptoManager) EstablishSession(peerID string, peerPublicKey []byte) bool {
	_, err := m.guard(func() ([]byte, error) {
		return nil, m.session.EstablishSession([]byte(peerID), peerPublicKey)
	})
	if err != nil {
		m.sessionFailures.Add(1)
		NewLogger("CryptoManager.EstablishSession").
			WithPeer(peerID).
			WithError(err, "CryptoFailure", "establish_session").
			WithKey("peer_public_key", peerPublicKey).
			Warn("Session establishment failed")
		return false
	}

	NewLogger("CryptoManager.EstablishSession").
		WithPeer(peerID).
		WithOutcome("establish_session", "success").
		Info("Session established")
	return true
}

// HasSession reports whether a session exists for peerID.
func (m *CryptoManager) HasSession(peerID string) bool {
	return m.session.HasSession([]byte(peerID))
}

// RemoveSession discards session state for peerID.
func (m *CryptoManager) RemoveSession(peerID string) {
	m.session.RemoveSession([]byte(peerID))
	NewLogger("CryptoManager.RemoveSession").WithPeer(peerID).Debug("Session removed")
}

// LocalSafetyNumber returns the fingerprint of this node's public keys.
func (m *CryptoManager) LocalSafetyNumber() (string, error) {
	return m.keyStore.SafetyNumber()
}

// LocalPublicKeys returns this node's public keys in base64.
func (m *CryptoManager) LocalPublicKeys() (signPub, dhPub string, err error) {
	return m.keyStore.PublicKeysBase64()
}

// LocalDHPublicKey returns the raw key-exchange public key peers need to
// establish a session with this node.
func (m *CryptoManager) LocalDHPublicKey() ([]byte, error) {
	keys, err := m.keyStore.Keys()
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), keys.DHPublic...), nil
}

// Sign appends this node's signing key and signature to payload. Unlike
// Encrypt it does not fail open; an unsigned payload must not be sent as
// signed.
func (m *CryptoManager) Sign(payload []byte) ([]byte, error) {
	keys, err := m.keyStore.Keys()
	if err != nil {
		return nil, err
	}
	return SignAttached(keys.SignPrivate, payload)
}

// Verify checks a payload produced by Sign on any node and returns the body
// and the signer's public key. Failures are counted and logged.
func (m *CryptoManager) Verify(peerID string, signed []byte) (body, signer []byte, err error) {
	body, signer, err = VerifyAttached(signed)
	if err != nil {
		m.signatureFailures.Add(1)
		NewLogger("CryptoManager.Verify").
			WithPeer(peerID).
			WithError(err, "SignatureFailure", "verify").
			WithField("size", len(signed)).
			Warn("Rejecting signed payload")
		return nil, nil, err
	}
	return body, signer, nil
}

// FailureCount returns the total number of fail-open events.
func (m *CryptoManager) FailureCount() uint64 {
	return m.encryptFailures.Load() + m.decryptFailures.Load()
}

// CryptoStats is a snapshot of the manager's failure counters.
type CryptoStats struct {
	EncryptFailures   uint64
	DecryptFailures   uint64
	SessionFailures   uint64
	SignatureFailures uint64
}

// Stats returns the failure counters.
func (m *CryptoManager) Stats() CryptoStats {
	return CryptoStats{
		EncryptFailures:   m.encryptFailures.Load(),
		DecryptFailures:   m.decryptFailures.Load(),
		SessionFailures:   m.sessionFailures.Load(),
		SignatureFailures: m.signatureFailures.Load(),
	}
}
