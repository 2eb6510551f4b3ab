package crypto

import (
	"errors"
	"sync"
	"testing"

	"github.com/opd-ai/meshcore/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubKeyStore holds keys generated on demand.
type stubKeyStore struct {
	mu          sync.Mutex
	keys        *interfaces.IdentityKeys
	generateErr error
	generated   int
}

func (s *stubKeyStore) GenerateIfMissing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generateErr != nil {
		return s.generateErr
	}
	if s.keys == nil {
		k, err := GenerateIdentityKeys(nil)
		if err != nil {
			return err
		}
		s.keys = k
		s.generated++
	}
	return nil
}

func (s *stubKeyStore) Keys() (*interfaces.IdentityKeys, error) {
	if err := s.GenerateIfMissing(); err != nil {
		return nil, err
	}
	return s.keys, nil
}

func (s *stubKeyStore) SafetyNumber() (string, error) {
	k, err := s.Keys()
	if err != nil {
		return "", err
	}
	return SafetyNumber(k.SignPublic, k.DHPublic), nil
}

func (s *stubKeyStore) PublicKeysBase64() (string, string, error) {
	k, err := s.Keys()
	if err != nil {
		return "", "", err
	}
	sign, dh := EncodePublicKeys(k)
	return sign, dh, nil
}

// stubSession reverses bytes and can be told to fail or panic.
type stubSession struct {
	mu       sync.Mutex
	sessions map[string]bool
	err      error
	panicMsg string
}

func newStubSession() *stubSession {
	return &stubSession{sessions: make(map[string]bool)}
}

func (s *stubSession) fault() error {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.err
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

func (s *stubSession) Encrypt(_, plaintext []byte) ([]byte, error) {
	if err := s.fault(); err != nil {
		return nil, err
	}
	return reverse(plaintext), nil
}

func (s *stubSession) Decrypt(_, ciphertext []byte) ([]byte, error) {
	if err := s.fault(); err != nil {
		return nil, err
	}
	return reverse(ciphertext), nil
}

func (s *stubSession) EstablishSession(peerID, _ []byte) error {
	if err := s.fault(); err != nil {
		return err
	}
	s.mu.Lock()
	s.sessions[string(peerID)] = true
	s.mu.Unlock()
	return nil
}

func (s *stubSession) HasSession(peerID []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[string(peerID)]
}

func (s *stubSession) RemoveSession(peerID []byte) {
	s.mu.Lock()
	delete(s.sessions, string(peerID))
	s.mu.Unlock()
}

func TestNewCryptoManagerGeneratesKeys(t *testing.T) {
	ks := &stubKeyStore{}
	m, err := NewCryptoManager(ks, newStubSession())
	require.NoError(t, err)
	assert.Equal(t, 1, ks.generated)

	sn, err := m.LocalSafetyNumber()
	require.NoError(t, err)
	assert.Len(t, sn, 16)

	sign, dh, err := m.LocalPublicKeys()
	require.NoError(t, err)
	assert.NotEmpty(t, sign)
	assert.NotEmpty(t, dh)

	pub, err := m.LocalDHPublicKey()
	require.NoError(t, err)
	assert.Len(t, pub, DHKeySize)
}

func TestNewCryptoManagerErrors(t *testing.T) {
	_, err := NewCryptoManager(nil, newStubSession())
	assert.Error(t, err)

	_, err = NewCryptoManager(&stubKeyStore{generateErr: errors.New("disk full")}, newStubSession())
	assert.Error(t, err)
}

func TestCryptoManagerEncryptDecrypt(t *testing.T) {
	m, err := NewCryptoManager(&stubKeyStore{}, newStubSession())
	require.NoError(t, err)

	sealed, ok := m.Encrypt("peer", []byte("abc"))
	require.True(t, ok)
	assert.Equal(t, "cba", string(sealed))

	opened, ok := m.Decrypt("peer", sealed)
	require.True(t, ok)
	assert.Equal(t, "abc", string(opened))
	assert.Equal(t, uint64(0), m.FailureCount())
}

func TestCryptoManagerFailsOpenOnError(t *testing.T) {
	session := newStubSession()
	session.err = errors.New("cipher exploded")
	m, err := NewCryptoManager(&stubKeyStore{}, session)
	require.NoError(t, err)

	in := []byte("plain")
	out, ok := m.Encrypt("peer", in)
	assert.False(t, ok)
	assert.Equal(t, in, out)

	out, ok = m.Decrypt("peer", in)
	assert.False(t, ok)
	assert.Equal(t, in, out)

	assert.Equal(t, uint64(2), m.FailureCount())
	assert.Equal(t, CryptoStats{EncryptFailures: 1, DecryptFailures: 1}, m.Stats())
}

func TestCryptoManagerFailsOpenOnPanic(t *testing.T) {
	session := newStubSession()
	session.panicMsg = "nil pointer in cipher"
	m, err := NewCryptoManager(&stubKeyStore{}, session)
	require.NoError(t, err)

	out, ok := m.Encrypt("peer", []byte("plain"))
	assert.False(t, ok)
	assert.Equal(t, "plain", string(out))

	assert.False(t, m.EstablishSession("peer", make([]byte, 32)))
	assert.Equal(t, uint64(1), m.Stats().SessionFailures)
}

func TestCryptoManagerFailOpenLogged(t *testing.T) {
	buf := captureLogs(t)

	session := newStubSession()
	session.err = errors.New("bad tag")
	m, err := NewCryptoManager(&stubKeyStore{}, session)
	require.NoError(t, err)

	m.Decrypt("peer-9", []byte{1})
	out := buf.String()
	assert.Contains(t, out, "level=error")
	assert.Contains(t, out, "fail_open=true")
	assert.Contains(t, out, "peer_id=peer-9")
}

func TestCryptoManagerSessions(t *testing.T) {
	m, err := NewCryptoManager(&stubKeyStore{}, newStubSession())
	require.NoError(t, err)

	assert.False(t, m.HasSession("p"))
	assert.True(t, m.EstablishSession("p", make([]byte, 32)))
	assert.True(t, m.HasSession("p"))
	m.RemoveSession("p")
	assert.False(t, m.HasSession("p"))
}

func TestCryptoManagerSignVerify(t *testing.T) {
	ks := &stubKeyStore{}
	m, err := NewCryptoManager(ks, newStubSession())
	require.NoError(t, err)

	signed, err := m.Sign([]byte("hello"))
	require.NoError(t, err)
	assert.Len(t, signed, len("hello")+AttachedOverhead)

	keys, err := ks.Keys()
	require.NoError(t, err)
	body, signer, err := m.Verify("p", signed)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, keys.SignPublic, signer)

	signed[0] ^= 0xff
	_, _, err = m.Verify("p", signed)
	assert.ErrorIs(t, err, ErrBadSignature)
	assert.Equal(t, uint64(1), m.Stats().SignatureFailures)
	assert.Zero(t, m.FailureCount(), "signature rejections are not fail-open events")
}

func TestCryptoManagerSignWithoutKeys(t *testing.T) {
	ks := &stubKeyStore{}
	m, err := NewCryptoManager(ks, newStubSession())
	require.NoError(t, err)

	ks.mu.Lock()
	ks.keys.SignPrivate = []byte{1}
	ks.mu.Unlock()

	_, err = m.Sign([]byte("x"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}
