package testing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opd-ai/meshcore/interfaces"
	"github.com/opd-ai/meshcore/limits"
	"github.com/sirupsen/logrus"
)

// ErrLinkClosed is returned when sending on a disconnected link.
var ErrLinkClosed = errors.New("link closed")

// DeliveryRecord represents a frame send event for testing verification
type DeliveryRecord struct {
	PeerID    string
	FrameSize int
	Timestamp int64
	Success   bool
	Error     error
}

// pairState is shared by both ends of a link.
type pairState struct {
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

var _ interfaces.Link = (*SimulatedLink)(nil)

// SimulatedLink is one end of an in-memory point-to-point link.
type SimulatedLink struct {
	localID string
	peerID  string
	pair    *pairState
	inbound chan []byte
	remote  *SimulatedLink

	mu          sync.RWMutex
	mtu         int
	sendFailure error
	deliveryLog []DeliveryRecord
}

// NewLinkPair creates two connected link ends. a is held by localID and
// reaches peerID; b is the mirror. buffer bounds each inbound queue.
func NewLinkPair(localID, peerID string, mtu, buffer int) (a, b *SimulatedLink) {
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")
	if mtu <= 0 {
		mtu = limits.DefaultMTU
	}
	if buffer <= 0 {
		buffer = 1
	}

	pair := &pairState{done: make(chan struct{})}
	a = &SimulatedLink{
		localID: localID,
		peerID:  peerID,
		pair:    pair,
		inbound: make(chan []byte, buffer),
		mtu:     mtu,
	}
	b = &SimulatedLink{
		localID: peerID,
		peerID:  localID,
		pair:    pair,
		inbound: make(chan []byte, buffer),
		mtu:     mtu,
	}
	a.remote, b.remote = b, a

	logrus.WithFields(logrus.Fields{
		"function": "NewLinkPair",
		"local":    localID,
		"peer":     peerID,
		"mtu":      mtu,
		"buffer":   buffer,
	}).Info("Created simulated link pair")

	return a, b
}

// PeerID implements Link.PeerID.
func (l *SimulatedLink) PeerID() string { return l.peerID }

// LocalID returns the identity of the node holding this end.
func (l *SimulatedLink) LocalID() string { return l.localID }

// MTU implements Link.MTU.
func (l *SimulatedLink) MTU() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.mtu
}

// SetMTU changes the frame size limit reported by this end.
func (l *SimulatedLink) SetMTU(mtu int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mtu = mtu
}

// IsConnected implements Link.IsConnected.
func (l *SimulatedLink) IsConnected() bool {
	l.pair.mu.RLock()
	defer l.pair.mu.RUnlock()
	return !l.pair.closed
}

// SetSendFailure makes every subsequent Send fail with err. Pass nil to clear.
func (l *SimulatedLink) SetSendFailure(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendFailure = err
}

// Send implements Link.Send. It blocks at most until ctx is done when the
// peer's inbound queue is full.
func (l *SimulatedLink) Send(ctx context.Context, frame []byte) error {
	l.mu.RLock()
	failure := l.sendFailure
	l.mu.RUnlock()

	err := failure
	if err == nil {
		err = l.deliver(ctx, frame)
	}
	l.record(len(frame), err)
	return err
}

func (l *SimulatedLink) deliver(ctx context.Context, frame []byte) error {
	l.pair.mu.RLock()
	defer l.pair.mu.RUnlock()

	if l.pair.closed {
		return ErrLinkClosed
	}

	f := append([]byte(nil), frame...)
	select {
	case l.remote.inbound <- f:
		return nil
	case <-l.pair.done:
		return ErrLinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *SimulatedLink) record(size int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deliveryLog = append(l.deliveryLog, DeliveryRecord{
		PeerID:    l.peerID,
		FrameSize: size,
		Timestamp: time.Now().UnixNano(),
		Success:   err == nil,
		Error:     err,
	})
}

// Frames implements Link.Frames.
func (l *SimulatedLink) Frames() <-chan []byte { return l.inbound }

// Close implements Link.Close. It disconnects both ends and closes both
// Frames channels. Close is idempotent.
func (l *SimulatedLink) Close() error {
	l.pair.closeOnce.Do(func() {
		// Wake senders blocked on a full queue before taking the write lock.
		close(l.pair.done)

		l.pair.mu.Lock()
		l.pair.closed = true
		close(l.inbound)
		close(l.remote.inbound)
		l.pair.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "SimulatedLink.Close",
			"local":    l.localID,
			"peer":     l.peerID,
		}).Info("Simulated link disconnected")
	})
	return nil
}

// GetDeliveryLog returns a copy of the send log.
func (l *SimulatedLink) GetDeliveryLog() []DeliveryRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]DeliveryRecord(nil), l.deliveryLog...)
}

// ClearDeliveryLog clears the send log.
func (l *SimulatedLink) ClearDeliveryLog() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deliveryLog = nil
}
