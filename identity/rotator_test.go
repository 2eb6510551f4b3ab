package identity

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatorGeneratesID(t *testing.T) {
	r, err := NewRotator(DefaultConfig())
	require.NoError(t, err)

	id := r.Current()
	assert.Len(t, id, DefaultIDSize)
	assert.NotEqual(t, make([]byte, DefaultIDSize), id)
	assert.Len(t, r.CurrentHex(), DefaultIDSize*2)
	assert.False(t, r.IsRunning())
	assert.Equal(t, uint64(0), r.Rotations())
	assert.Equal(t, DefaultRotationInterval, r.Interval())
}

func TestNewRotatorInvalidConfig(t *testing.T) {
	_, err := NewRotator(Config{Interval: 0, IDSize: 8})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewRotator(Config{Interval: time.Minute, IDSize: 0})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestNewRotatorEntropyFailure(t *testing.T) {
	_, err := NewRotator(Config{Interval: time.Minute, IDSize: 8, Rand: failingReader{}})
	assert.Error(t, err)
}

func TestForceRotate(t *testing.T) {
	r, err := NewRotator(DefaultConfig())
	require.NoError(t, err)

	var mu sync.Mutex
	var events [][2][]byte
	r.OnRotate(func(prev, next []byte) {
		mu.Lock()
		events = append(events, [2][]byte{prev, next})
		mu.Unlock()
	})

	before := r.Current()
	next, err := r.ForceRotate()
	require.NoError(t, err)

	assert.False(t, bytes.Equal(before, next))
	assert.Equal(t, next, r.Current())
	assert.Equal(t, uint64(1), r.Rotations())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, before, events[0][0])
	assert.Equal(t, next, events[0][1])
}

func TestCurrentReturnsCopy(t *testing.T) {
	r, err := NewRotator(DefaultConfig())
	require.NoError(t, err)

	id := r.Current()
	id[0] ^= 0xFF
	assert.NotEqual(t, id, r.Current())
}

func TestStartStop(t *testing.T) {
	r, err := NewRotator(Config{Interval: 5 * time.Millisecond, IDSize: 4})
	require.NoError(t, err)

	rotated := make(chan struct{}, 16)
	r.OnRotate(func(_, _ []byte) {
		select {
		case rotated <- struct{}{}:
		default:
		}
	})

	r.Start()
	r.Start()
	assert.True(t, r.IsRunning())

	select {
	case <-rotated:
	case <-time.After(time.Second):
		t.Fatal("no scheduled rotation observed")
	}

	r.Stop()
	r.Stop()
	assert.False(t, r.IsRunning())

	count := r.Rotations()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, count, r.Rotations(), "rotation continued after Stop")
}

func TestRestartAfterStop(t *testing.T) {
	r, err := NewRotator(Config{Interval: 5 * time.Millisecond, IDSize: 4})
	require.NoError(t, err)

	r.Start()
	r.Stop()
	r.Start()
	defer r.Stop()

	assert.Eventually(t, func() bool { return r.Rotations() > 0 }, time.Second, 5*time.Millisecond)
}

func TestOnRotateNilIgnored(t *testing.T) {
	r, err := NewRotator(DefaultConfig())
	require.NoError(t, err)

	r.OnRotate(nil)
	_, err = r.ForceRotate()
	assert.NoError(t, err)
}
