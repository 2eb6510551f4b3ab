package real

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/opd-ai/meshcore/crypto"
	"github.com/opd-ai/meshcore/interfaces"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrNoSession is returned when no session exists for a peer.
	ErrNoSession = errors.New("no session for peer")

	// ErrCiphertextTooShort indicates a sealed payload smaller than nonce plus tag.
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

var _ interfaces.SessionCrypto = (*SessionCrypto)(nil)

// SessionCrypto keeps one XChaCha20-Poly1305 AEAD per peer.
type SessionCrypto struct {
	keyStore interfaces.KeyStore
	sessions sync.Map // string(peerID) -> cipher.AEAD
}

// NewSessionCrypto creates a session cipher backed by the node's identity keys.
func NewSessionCrypto(keyStore interfaces.KeyStore) *SessionCrypto {
	return &SessionCrypto{keyStore: keyStore}
}

// EstablishSession derives a session key with the peer's X25519 public key.
// An existing session for the peer is replaced.
func (s *SessionCrypto) EstablishSession(peerID, peerPublicKey []byte) error {
	keys, err := s.keyStore.Keys()
	if err != nil {
		return fmt.Errorf("load identity keys: %w", err)
	}

	key, err := crypto.DeriveSessionKey(keys.DHPrivate, keys.DHPublic, peerPublicKey)
	if err != nil {
		return err
	}
	defer crypto.ZeroBytes(key[:])

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return fmt.Errorf("create session cipher: %w", err)
	}
	s.sessions.Store(string(peerID), aead)

	logrus.WithFields(logrus.Fields{
		"function": "SessionCrypto.EstablishSession",
		"peer_id":  string(peerID),
	}).WithFields(crypto.KeyFingerprint(peerPublicKey, "peer_public_key")).Info("Session established")

	return nil
}

func (s *SessionCrypto) session(peerID []byte) (cipher.AEAD, error) {
	v, ok := s.sessions.Load(string(peerID))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, peerID)
	}
	return v.(cipher.AEAD), nil
}

// Encrypt seals plaintext for peerID as nonce || ciphertext.
func (s *SessionCrypto) Encrypt(peerID, plaintext []byte) ([]byte, error) {
	aead, err := s.session(peerID)
	if err != nil {
		return nil, err
	}

	out := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(out, out[:aead.NonceSize()], plaintext, nil), nil
}

// Decrypt opens a payload produced by Encrypt on the peer's side.
func (s *SessionCrypto) Decrypt(peerID, ciphertext []byte) ([]byte, error) {
	aead, err := s.session(peerID)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: %d bytes", ErrCiphertextTooShort, len(ciphertext))
	}

	nonce := ciphertext[:aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, ciphertext[aead.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("open payload: %w", err)
	}
	return plaintext, nil
}

// HasSession reports whether a session exists for peerID.
func (s *SessionCrypto) HasSession(peerID []byte) bool {
	_, ok := s.sessions.Load(string(peerID))
	return ok
}

// RemoveSession discards the session for peerID.
func (s *SessionCrypto) RemoveSession(peerID []byte) {
	s.sessions.Delete(string(peerID))
}
