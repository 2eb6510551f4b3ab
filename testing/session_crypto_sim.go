package testing

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/meshcore/interfaces"
	"github.com/sirupsen/logrus"
)

// simulationTag prefixes every payload the simulated cipher "encrypts".
var simulationTag = []byte("SIM1")

// ErrNoSession is returned when encrypting for a peer without a session.
var ErrNoSession = errors.New("no session for peer")

var _ interfaces.SessionCrypto = (*SimulatedSessionCrypto)(nil)

// SimulatedSessionCrypto is a SessionCrypto double. Encrypt prepends a tag
// and Decrypt strips it; no confidentiality is provided.
type SimulatedSessionCrypto struct {
	mu       sync.RWMutex
	sessions map[string][]byte
	failure  error
	calls    int
}

// NewSimulatedSessionCrypto creates a simulation cipher with no sessions.
func NewSimulatedSessionCrypto() *SimulatedSessionCrypto {
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")
	logrus.WithFields(logrus.Fields{
		"function": "NewSimulatedSessionCrypto",
	}).Info("Creating simulated session crypto for testing")

	return &SimulatedSessionCrypto{
		sessions: make(map[string][]byte),
	}
}

// SetFailure makes every subsequent operation return err. Pass nil to clear.
func (s *SimulatedSessionCrypto) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// Encrypt implements SessionCrypto.Encrypt with simulation.
func (s *SimulatedSessionCrypto) Encrypt(peerID, plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	failure := s.failure
	_, ok := s.sessions[string(peerID)]
	s.mu.Unlock()

	if failure != nil {
		return nil, failure
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, peerID)
	}

	out := make([]byte, 0, len(simulationTag)+len(plaintext))
	out = append(out, simulationTag...)
	return append(out, plaintext...), nil
}

// Decrypt implements SessionCrypto.Decrypt with simulation.
func (s *SimulatedSessionCrypto) Decrypt(peerID, ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	failure := s.failure
	s.mu.Unlock()

	if failure != nil {
		return nil, failure
	}
	if !bytes.HasPrefix(ciphertext, simulationTag) {
		return nil, fmt.Errorf("simulated ciphertext from %s lacks tag", peerID)
	}
	return append([]byte(nil), ciphertext[len(simulationTag):]...), nil
}

// EstablishSession implements SessionCrypto.EstablishSession with simulation.
func (s *SimulatedSessionCrypto) EstablishSession(peerID, peerPublicKey []byte) error {
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return s.failure
	}
	if len(peerPublicKey) == 0 {
		return errors.New("empty peer public key")
	}
	s.sessions[string(peerID)] = append([]byte(nil), peerPublicKey...)

	logrus.WithFields(logrus.Fields{
		"function": "SimulatedSessionCrypto.EstablishSession",
		"peer_id":  string(peerID),
		"sessions": len(s.sessions),
	}).Info("Simulated session established")
	return nil
}

// HasSession implements SessionCrypto.HasSession.
func (s *SimulatedSessionCrypto) HasSession(peerID []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[string(peerID)]
	return ok
}

// RemoveSession implements SessionCrypto.RemoveSession.
func (s *SimulatedSessionCrypto) RemoveSession(peerID []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, string(peerID))
}

// Calls returns how many Encrypt and Decrypt calls were made.
func (s *SimulatedSessionCrypto) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}
