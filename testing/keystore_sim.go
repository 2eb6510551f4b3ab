package testing

import (
	"crypto/ed25519"
	"crypto/rand"
	"sync"

	"github.com/opd-ai/meshcore/crypto"
	"github.com/opd-ai/meshcore/interfaces"
	"github.com/sirupsen/logrus"
)

var _ interfaces.KeyStore = (*SimulatedKeyStore)(nil)

// SimulatedKeyStore is a KeyStore double. Its signing pair is genuine, but
// its exchange keys are random bytes that are not valid curve points and
// must not be used with the real session cipher.
type SimulatedKeyStore struct {
	mu          sync.Mutex
	keys        *interfaces.IdentityKeys
	generations int
}

// NewSimulatedKeyStore creates an empty simulated key store.
func NewSimulatedKeyStore() *SimulatedKeyStore {
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")
	return &SimulatedKeyStore{}
}

// GenerateIfMissing implements KeyStore.GenerateIfMissing with simulation.
func (s *SimulatedKeyStore) GenerateIfMissing() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keys != nil {
		return nil
	}

	// Signing keys are a real pair so attached signatures verify. The
	// exchange keys are random bytes the simulated session never checks.
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	keys := &interfaces.IdentityKeys{
		SignPublic:  signPub,
		SignPrivate: signPriv,
		DHPublic:    make([]byte, crypto.DHKeySize),
		DHPrivate:   make([]byte, crypto.DHKeySize),
	}
	for _, b := range [][]byte{keys.DHPublic, keys.DHPrivate} {
		if _, err := rand.Read(b); err != nil {
			return err
		}
	}
	s.keys = keys
	s.generations++

	logrus.WithFields(logrus.Fields{
		"function": "SimulatedKeyStore.GenerateIfMissing",
	}).Info("Simulated identity keys generated")
	return nil
}

// Keys implements KeyStore.Keys.
func (s *SimulatedKeyStore) Keys() (*interfaces.IdentityKeys, error) {
	if err := s.GenerateIfMissing(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys, nil
}

// SafetyNumber implements KeyStore.SafetyNumber.
func (s *SimulatedKeyStore) SafetyNumber() (string, error) {
	keys, err := s.Keys()
	if err != nil {
		return "", err
	}
	return crypto.SafetyNumber(keys.SignPublic, keys.DHPublic), nil
}

// PublicKeysBase64 implements KeyStore.PublicKeysBase64.
func (s *SimulatedKeyStore) PublicKeysBase64() (signPub, dhPub string, err error) {
	keys, err := s.Keys()
	if err != nil {
		return "", "", err
	}
	signPub, dhPub = crypto.EncodePublicKeys(keys)
	return signPub, dhPub, nil
}

// Generations returns how many times keys were generated.
func (s *SimulatedKeyStore) Generations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations
}
