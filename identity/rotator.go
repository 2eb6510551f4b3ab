package identity

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/opd-ai/meshcore/crypto"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultIDSize is the length of an ephemeral identifier in bytes.
	DefaultIDSize = 8

	// DefaultRotationInterval is how often the identifier is replaced.
	DefaultRotationInterval = 15 * time.Minute

	// MinRotationInterval and MaxRotationInterval bound externally configured intervals.
	MinRotationInterval = 5 * time.Minute
	MaxRotationInterval = 60 * time.Minute
)

// ErrInvalidConfig indicates a non-positive interval or id size.
var ErrInvalidConfig = errors.New("invalid rotator config")

// Config controls identifier size and rotation cadence.
type Config struct {
	Interval time.Duration
	IDSize   int

	// Rand is the entropy source. Nil means crypto/rand.
	Rand io.Reader
}

// DefaultConfig returns an 8-byte identifier rotated every 15 minutes.
func DefaultConfig() Config {
	return Config{
		Interval: DefaultRotationInterval,
		IDSize:   DefaultIDSize,
		Rand:     rand.Reader,
	}
}

// RotateFunc observes identifier changes. Both slices are copies.
type RotateFunc func(previous, current []byte)

// Rotator owns the current ephemeral identifier.
type Rotator struct {
	mu        sync.RWMutex
	config    Config
	current   []byte
	rotatedAt time.Time
	rotations uint64
	callbacks []RotateFunc

	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewRotator creates a Rotator holding a freshly generated identifier.
func NewRotator(config Config) (*Rotator, error) {
	if config.Interval <= 0 || config.IDSize <= 0 {
		return nil, fmt.Errorf("%w: interval %v, id size %d", ErrInvalidConfig, config.Interval, config.IDSize)
	}
	if config.Rand == nil {
		config.Rand = rand.Reader
	}

	r := &Rotator{config: config}
	id, err := r.generate()
	if err != nil {
		return nil, err
	}
	r.current = id
	r.rotatedAt = time.Now()

	logrus.WithFields(logrus.Fields{
		"function":     "NewRotator",
		"ephemeral_id": hex.EncodeToString(id),
		"interval":     config.Interval.String(),
	}).Info("Ephemeral identity created")

	return r, nil
}

func (r *Rotator) generate() ([]byte, error) {
	id := make([]byte, r.config.IDSize)
	if _, err := io.ReadFull(r.config.Rand, id); err != nil {
		return nil, fmt.Errorf("generate ephemeral id: %w", err)
	}
	return id, nil
}

// Start begins periodic rotation. Calling Start while running logs a warning
// and does nothing.
func (r *Rotator) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		logrus.WithFields(logrus.Fields{
			"function": "Rotator.Start",
		}).Warn("Identity rotation already running")
		return
	}

	r.running = true
	r.stopChan = make(chan struct{})
	r.wg.Add(1)
	go r.rotationLoop(r.stopChan)

	logrus.WithFields(logrus.Fields{
		"function": "Rotator.Start",
		"interval": r.config.Interval.String(),
	}).Info("Identity rotation started")
}

func (r *Rotator) rotationLoop(stop <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.ForceRotate(); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Rotator.rotationLoop",
					"error":    err.Error(),
				}).Error("Scheduled identity rotation failed")
			}
		case <-stop:
			return
		}
	}
}

// Stop cancels periodic rotation and waits for the background task to exit.
// Stop is idempotent; a stopped Rotator may be started again.
func (r *Rotator) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopChan)
	r.mu.Unlock()

	r.wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "Rotator.Stop",
	}).Info("Identity rotation stopped")
}

// ForceRotate replaces the identifier immediately and returns a copy of the new one.
func (r *Rotator) ForceRotate() ([]byte, error) {
	next, err := r.generate()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	previous := r.current
	r.current = next
	r.rotatedAt = time.Now()
	r.rotations++
	callbacks := append([]RotateFunc(nil), r.callbacks...)
	r.mu.Unlock()

	prevCopy := append([]byte(nil), previous...)
	crypto.ZeroBytes(previous)

	logrus.WithFields(logrus.Fields{
		"function":     "Rotator.ForceRotate",
		"previous_id":  hex.EncodeToString(prevCopy),
		"ephemeral_id": hex.EncodeToString(next),
	}).Info("Ephemeral identity rotated")

	for _, cb := range callbacks {
		cb(append([]byte(nil), prevCopy...), append([]byte(nil), next...))
	}

	return append([]byte(nil), next...), nil
}

// Current returns a copy of the current identifier.
func (r *Rotator) Current() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]byte(nil), r.current...)
}

// CurrentHex returns the current identifier as lowercase hex.
func (r *Rotator) CurrentHex() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return hex.EncodeToString(r.current)
}

// OnRotate registers a callback invoked after every rotation.
func (r *Rotator) OnRotate(fn RotateFunc) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.callbacks = append(r.callbacks, fn)
	r.mu.Unlock()
}

// IsRunning reports whether periodic rotation is active.
func (r *Rotator) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Rotations returns how many times the identifier has been replaced.
func (r *Rotator) Rotations() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rotations
}

// RotatedAt returns when the current identifier was generated.
func (r *Rotator) RotatedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rotatedAt
}

// Interval returns the rotation interval.
func (r *Rotator) Interval() time.Duration {
	return r.config.Interval
}
