package fragment

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/meshcore/envelope"
	"github.com/opd-ai/meshcore/interfaces"
	"github.com/opd-ai/meshcore/limits"
	"github.com/sirupsen/logrus"
)

var (
	// ErrReassembly indicates a partial message with a missing index or an
	// inconsistent total. The partial is dropped. On a total mismatch the
	// arriving chunk starts a new partial.
	ErrReassembly = errors.New("reassembly failed")

	// ErrDuplicate indicates a completed message whose id was already delivered.
	ErrDuplicate = errors.New("duplicate message")

	// ErrClosed is returned after the Reassembler has been stopped.
	ErrClosed = errors.New("reassembler closed")
)

const (
	// DefaultPartialTimeout is how long a partial message may go without a new chunk.
	DefaultPartialTimeout = 30 * time.Second

	// DefaultSweepInterval is how often idle partial messages are purged.
	DefaultSweepInterval = 5 * time.Second
)

// ReassemblerConfig holds the timing policy of a Reassembler.
type ReassemblerConfig struct {
	PartialTimeout time.Duration
	SweepInterval  time.Duration

	// TimeProvider drives timeout decisions. Nil means wall-clock time.
	TimeProvider interfaces.TimeProvider
}

// DefaultReassemblerConfig returns the standard 30s timeout and 5s sweep.
func DefaultReassemblerConfig() ReassemblerConfig {
	return ReassemblerConfig{
		PartialTimeout: DefaultPartialTimeout,
		SweepInterval:  DefaultSweepInterval,
		TimeProvider:   interfaces.DefaultTimeProvider{},
	}
}

// ReassemblerStats is a snapshot of reassembly counters.
type ReassemblerStats struct {
	PartialCount     int
	SeenCount        int
	ChunksReceived   uint64
	BytesReceived    uint64
	Completed        uint64
	Duplicates       uint64
	FormatErrors     uint64
	ReassemblyErrors uint64
	Evicted          uint64
}

type partialKey struct {
	path string
	seq  uint32
}

// partialMessage accumulates the chunks of one msgSeq on one path.
// done is set under mu once the entry leaves the table.
type partialMessage struct {
	mu         sync.Mutex
	total      uint16
	chunks     map[uint16][]byte
	size       int
	lastUpdate time.Time
	done       bool
}

// Reassembler rebuilds envelopes from chunks and deduplicates them by msgId.
//
// Partial state is held per (path, msgSeq) with a lock per entry, so chunks
// from different peers or different messages never contend. The seen-set is
// unbounded and lives as long as the Reassembler.
type Reassembler struct {
	config ReassemblerConfig

	partials  sync.Map // partialKey -> *partialMessage
	seen      sync.Map // envelope.MsgID -> struct{}
	seenCount atomic.Int64

	chunksReceived   atomic.Uint64
	bytesReceived    atomic.Uint64
	completed        atomic.Uint64
	duplicates       atomic.Uint64
	formatErrors     atomic.Uint64
	reassemblyErrors atomic.Uint64
	evicted          atomic.Uint64

	// lifecycle is held shared by every mutation and exclusively by Stop.
	lifecycle sync.RWMutex
	closed    bool
	running   bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewReassembler creates a Reassembler. Zero config fields take defaults.
func NewReassembler(config ReassemblerConfig) *Reassembler {
	if config.PartialTimeout <= 0 {
		config.PartialTimeout = DefaultPartialTimeout
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	if config.TimeProvider == nil {
		config.TimeProvider = interfaces.DefaultTimeProvider{}
	}

	return &Reassembler{
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// AddChunk merges c into the partial message for (path, c.MsgSeq). It returns
// the decoded envelope once every chunk has arrived and the message id has not
// been seen before; otherwise it returns nil. A non-nil error reports why a
// chunk or message was dropped.
func (r *Reassembler) AddChunk(path string, c *Chunk) (*envelope.Envelope, error) {
	r.lifecycle.RLock()
	defer r.lifecycle.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}
	if c == nil {
		return nil, fmt.Errorf("%w: nil chunk", ErrInvalidChunk)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	r.chunksReceived.Add(1)
	r.bytesReceived.Add(uint64(c.Size()))

	if c.IsSingle() {
		return r.complete(path, c.MsgSeq, c.Data)
	}

	frame, err := r.merge(partialKey{path: path, seq: c.MsgSeq}, c)
	if err != nil || frame == nil {
		return nil, err
	}
	return r.complete(path, c.MsgSeq, frame)
}

// merge stores the chunk and returns the assembled frame once all indices are present.
func (r *Reassembler) merge(key partialKey, c *Chunk) ([]byte, error) {
	now := r.config.TimeProvider.Now()

	for {
		v, _ := r.partials.LoadOrStore(key, &partialMessage{
			total:      c.Total,
			chunks:     make(map[uint16][]byte, c.Total),
			lastUpdate: now,
		})
		p := v.(*partialMessage)

		p.mu.Lock()
		if p.done {
			// Completed or evicted between LoadOrStore and Lock.
			p.mu.Unlock()
			continue
		}

		if now.Sub(p.lastUpdate) > r.config.PartialTimeout {
			r.evictLocked(key, p, "expired before next chunk")
			p.mu.Unlock()
			continue
		}

		if p.total != c.Total {
			// A sender whose chunker restarted reuses msgSeq values. The
			// stale partial is dropped and this chunk seeds a fresh one.
			r.dropLocked(key, p)
			_ = r.reassemblyError(key, fmt.Errorf("%w: chunk total %d, partial expects %d", ErrReassembly, c.Total, p.total))
			p.mu.Unlock()
			continue
		}

		frame, err := r.mergeLocked(key, p, c, now)
		p.mu.Unlock()
		return frame, err
	}
}

func (r *Reassembler) mergeLocked(key partialKey, p *partialMessage, c *Chunk, now time.Time) ([]byte, error) {
	if old, exists := p.chunks[c.Index]; exists {
		p.size -= len(old)
	}
	p.chunks[c.Index] = append([]byte(nil), c.Data...)
	p.size += len(c.Data)
	p.lastUpdate = now

	if p.size > limits.MaxFrameSize {
		r.dropLocked(key, p)
		return nil, r.reassemblyError(key, fmt.Errorf("%w: partial size %d exceeds frame limit", ErrReassembly, p.size))
	}

	if len(p.chunks) < int(p.total) {
		return nil, nil
	}

	frame := make([]byte, 0, p.size)
	for i := uint16(0); i < p.total; i++ {
		data, ok := p.chunks[i]
		if !ok {
			r.dropLocked(key, p)
			return nil, r.reassemblyError(key, fmt.Errorf("%w: missing chunk index %d of %d", ErrReassembly, i, p.total))
		}
		frame = append(frame, data...)
	}

	r.dropLocked(key, p)
	return frame, nil
}

// complete decodes an assembled frame and applies the seen-set.
func (r *Reassembler) complete(path string, seq uint32, frame []byte) (*envelope.Envelope, error) {
	env, err := envelope.Decode(frame)
	if err != nil {
		r.formatErrors.Add(1)
		logrus.WithFields(logrus.Fields{
			"function":  "Reassembler.AddChunk",
			"path":      path,
			"msg_seq":   seq,
			"frame_len": len(frame),
			"error":     err.Error(),
		}).Warn("Dropping malformed frame")
		return nil, err
	}

	if _, loaded := r.seen.LoadOrStore(env.MsgID, struct{}{}); loaded {
		r.duplicates.Add(1)
		logrus.WithFields(logrus.Fields{
			"function": "Reassembler.AddChunk",
			"path":     path,
			"msg_id":   env.MsgID.String(),
		}).Debug("Duplicate message dropped")
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, env.MsgID)
	}
	r.seenCount.Add(1)
	r.completed.Add(1)

	logrus.WithFields(logrus.Fields{
		"function": "Reassembler.AddChunk",
		"path":     path,
		"msg_seq":  seq,
		"msg_id":   env.MsgID.String(),
		"topic":    env.TopicID,
	}).Debug("Message reassembled")

	return env, nil
}

func (r *Reassembler) dropLocked(key partialKey, p *partialMessage) {
	p.done = true
	r.partials.CompareAndDelete(key, p)
}

func (r *Reassembler) evictLocked(key partialKey, p *partialMessage, reason string) {
	r.dropLocked(key, p)
	r.evicted.Add(1)
	logrus.WithFields(logrus.Fields{
		"function": "Reassembler.evict",
		"path":     key.path,
		"msg_seq":  key.seq,
		"received": len(p.chunks),
		"total":    p.total,
		"reason":   reason,
	}).Info("Evicted partial message")
}

func (r *Reassembler) reassemblyError(key partialKey, err error) error {
	r.reassemblyErrors.Add(1)
	logrus.WithFields(logrus.Fields{
		"function": "Reassembler.AddChunk",
		"path":     key.path,
		"msg_seq":  key.seq,
		"error":    err.Error(),
	}).Warn("Dropping partial message")
	return err
}

// MarkSeen records a message id as delivered without reassembling it. It
// returns false if the id was already present. Nodes call this for messages
// they originate so flood echoes are suppressed.
func (r *Reassembler) MarkSeen(id envelope.MsgID) bool {
	if _, loaded := r.seen.LoadOrStore(id, struct{}{}); loaded {
		return false
	}
	r.seenCount.Add(1)
	return true
}

// HasSeen reports whether id is in the seen-set.
func (r *Reassembler) HasSeen(id envelope.MsgID) bool {
	_, ok := r.seen.Load(id)
	return ok
}

// PurgeExpired evicts every partial message idle for longer than the
// partial timeout and returns how many were removed.
func (r *Reassembler) PurgeExpired() int {
	r.lifecycle.RLock()
	defer r.lifecycle.RUnlock()

	if r.closed {
		return 0
	}
	return r.purgeExpired()
}

func (r *Reassembler) purgeExpired() int {
	now := r.config.TimeProvider.Now()
	removed := 0

	r.partials.Range(func(k, v any) bool {
		key := k.(partialKey)
		p := v.(*partialMessage)

		p.mu.Lock()
		if !p.done && now.Sub(p.lastUpdate) > r.config.PartialTimeout {
			r.evictLocked(key, p, "timeout")
			removed++
		}
		p.mu.Unlock()
		return true
	})

	return removed
}

// DropPath evicts every partial message received on path and returns how
// many were removed. Nodes call it when a link goes away, since a
// reconnecting peer starts its msgSeq counter from zero again.
func (r *Reassembler) DropPath(path string) int {
	r.lifecycle.RLock()
	defer r.lifecycle.RUnlock()

	if r.closed {
		return 0
	}

	removed := 0
	r.partials.Range(func(k, v any) bool {
		key := k.(partialKey)
		if key.path != path {
			return true
		}
		p := v.(*partialMessage)

		p.mu.Lock()
		if !p.done {
			r.evictLocked(key, p, "path removed")
			removed++
		}
		p.mu.Unlock()
		return true
	})
	return removed
}

// Start launches the background sweep. Calling Start on a running or
// stopped Reassembler has no effect.
func (r *Reassembler) Start() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.running || r.closed {
		return
	}
	r.running = true

	r.wg.Add(1)
	go r.sweepLoop()

	logrus.WithFields(logrus.Fields{
		"function":        "Reassembler.Start",
		"sweep_interval":  r.config.SweepInterval.String(),
		"partial_timeout": r.config.PartialTimeout.String(),
	}).Info("Reassembler sweep started")
}

func (r *Reassembler) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.PurgeExpired()
		case <-r.stopChan:
			return
		}
	}
}

// Stop cancels the sweep and waits for it to exit. No state changes after
// Stop returns; later AddChunk calls return ErrClosed. Stop is idempotent.
func (r *Reassembler) Stop() {
	r.lifecycle.Lock()
	if r.closed {
		r.lifecycle.Unlock()
		return
	}
	r.closed = true
	close(r.stopChan)
	r.lifecycle.Unlock()

	// The sweep goroutine may be blocked on RLock inside PurgeExpired; it
	// observes closed once the write lock is released.
	r.wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "Reassembler.Stop",
	}).Info("Reassembler stopped")
}

// Stats returns a snapshot of the reassembly counters.
func (r *Reassembler) Stats() ReassemblerStats {
	partials := 0
	r.partials.Range(func(_, _ any) bool {
		partials++
		return true
	})

	return ReassemblerStats{
		PartialCount:     partials,
		SeenCount:        int(r.seenCount.Load()),
		ChunksReceived:   r.chunksReceived.Load(),
		BytesReceived:    r.bytesReceived.Load(),
		Completed:        r.completed.Load(),
		Duplicates:       r.duplicates.Load(),
		FormatErrors:     r.formatErrors.Load(),
		ReassemblyErrors: r.reassemblyErrors.Load(),
		Evicted:          r.evicted.Load(),
	}
}

// Clear drops all partial messages, empties the seen-set and resets counters.
func (r *Reassembler) Clear() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.partials.Range(func(k, v any) bool {
		p := v.(*partialMessage)
		p.mu.Lock()
		p.done = true
		p.mu.Unlock()
		r.partials.Delete(k)
		return true
	})
	r.seen.Range(func(k, _ any) bool {
		r.seen.Delete(k)
		return true
	})

	r.seenCount.Store(0)
	r.chunksReceived.Store(0)
	r.bytesReceived.Store(0)
	r.completed.Store(0)
	r.duplicates.Store(0)
	r.formatErrors.Store(0)
	r.reassemblyErrors.Store(0)
	r.evicted.Store(0)
}
