package messaging

import (
	"sync"
	"sync/atomic"

	"github.com/opd-ai/meshcore/envelope"
	"github.com/opd-ai/meshcore/interfaces"
	"github.com/sirupsen/logrus"
)

// ledgerEntry holds the per-peer records of one message id.
type ledgerEntry struct {
	mu     sync.Mutex
	byPeer map[string]*OutgoingMessage
}

// LedgerStats is a snapshot of ledger counters.
type LedgerStats struct {
	Records   int
	Pending   int
	Sent      uint64
	Delivered uint64
	Failed    uint64
}

// Ledger is the outgoing-delivery ledger.
type Ledger struct {
	entries sync.Map // envelope.MsgID -> *ledgerEntry

	records   atomic.Int64
	sent      atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64

	cbMu      sync.RWMutex
	callbacks []StatusCallback

	timeProvider interfaces.TimeProvider
}

// NewLedger creates an empty ledger. A nil time provider uses the wall clock.
func NewLedger(tp interfaces.TimeProvider) *Ledger {
	if tp == nil {
		tp = interfaces.DefaultTimeProvider{}
	}
	return &Ledger{timeProvider: tp}
}

// OnStatusChange registers a callback invoked after every successful transition,
// including the initial Sending state created by Track.
func (l *Ledger) OnStatusChange(cb StatusCallback) {
	if cb == nil {
		return
	}
	l.cbMu.Lock()
	l.callbacks = append(l.callbacks, cb)
	l.cbMu.Unlock()
}

func (l *Ledger) notify(recs []OutgoingMessage) {
	l.cbMu.RLock()
	callbacks := l.callbacks
	l.cbMu.RUnlock()

	for _, rec := range recs {
		for _, cb := range callbacks {
			cb(rec)
		}
	}
}

func (l *Ledger) entry(id envelope.MsgID) *ledgerEntry {
	if v, ok := l.entries.Load(id); ok {
		return v.(*ledgerEntry)
	}
	v, _ := l.entries.LoadOrStore(id, &ledgerEntry{byPeer: make(map[string]*OutgoingMessage)})
	return v.(*ledgerEntry)
}

// Track creates a Sending record for env to peerID. If a record already exists
// for that pair it is returned unchanged with created set to false.
func (l *Ledger) Track(env *envelope.Envelope, peerID string) (rec OutgoingMessage, created bool) {
	e := l.entry(env.MsgID)

	e.mu.Lock()
	if existing, ok := e.byPeer[peerID]; ok {
		rec = *existing
		e.mu.Unlock()
		return rec, false
	}
	m := &OutgoingMessage{
		MsgID:     env.MsgID,
		PeerID:    peerID,
		Envelope:  env,
		Status:    StatusSending,
		CreatedAt: l.timeProvider.Now(),
	}
	e.byPeer[peerID] = m
	rec = *m
	e.mu.Unlock()

	l.records.Add(1)

	logrus.WithFields(logrus.Fields{
		"function": "Ledger.Track",
		"msg_id":   env.MsgID.String(),
		"peer_id":  peerID,
		"is_ack":   env.IsAck,
	}).Debug("Tracking outgoing message")

	l.notify([]OutgoingMessage{rec})
	return rec, true
}

// MarkSent moves the record for (id, peerID) from Sending to Sent.
func (l *Ledger) MarkSent(id envelope.MsgID, peerID string) bool {
	if !l.transitionPeer(id, peerID, StatusSent) {
		return false
	}
	l.sent.Add(1)
	return true
}

// MarkFailed moves the record for (id, peerID) from Sending to Failed.
func (l *Ledger) MarkFailed(id envelope.MsgID, peerID string) bool {
	if !l.transitionPeer(id, peerID, StatusFailed) {
		return false
	}
	l.failed.Add(1)
	return true
}

func (l *Ledger) transitionPeer(id envelope.MsgID, peerID string, next DeliveryStatus) bool {
	v, ok := l.entries.Load(id)
	if !ok {
		return false
	}
	e := v.(*ledgerEntry)

	e.mu.Lock()
	m, ok := e.byPeer[peerID]
	if !ok || !m.apply(next, l.timeProvider.Now()) {
		e.mu.Unlock()
		return false
	}
	rec := *m
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Ledger.transitionPeer",
		"msg_id":   id.String(),
		"peer_id":  peerID,
		"status":   next.String(),
	}).Debug("Outgoing message status changed")

	l.notify([]OutgoingMessage{rec})
	return true
}

// MarkDelivered moves every non-terminal record of id to Delivered and returns
// how many records changed. Unknown ids return 0; a late or unknown ACK is not an error.
func (l *Ledger) MarkDelivered(id envelope.MsgID) int {
	v, ok := l.entries.Load(id)
	if !ok {
		return 0
	}
	e := v.(*ledgerEntry)
	now := l.timeProvider.Now()

	e.mu.Lock()
	changed := make([]OutgoingMessage, 0, len(e.byPeer))
	for _, m := range e.byPeer {
		if m.apply(StatusDelivered, now) {
			changed = append(changed, *m)
		}
	}
	e.mu.Unlock()

	if len(changed) == 0 {
		return 0
	}
	l.delivered.Add(uint64(len(changed)))

	logrus.WithFields(logrus.Fields{
		"function": "Ledger.MarkDelivered",
		"msg_id":   id.String(),
		"records":  len(changed),
	}).Info("Message delivered")

	l.notify(changed)
	return len(changed)
}

// Get returns a snapshot of the record for (id, peerID).
func (l *Ledger) Get(id envelope.MsgID, peerID string) (OutgoingMessage, bool) {
	v, ok := l.entries.Load(id)
	if !ok {
		return OutgoingMessage{}, false
	}
	e := v.(*ledgerEntry)

	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.byPeer[peerID]
	if !ok {
		return OutgoingMessage{}, false
	}
	return *m, true
}

// Outgoing returns snapshots of every record of id.
func (l *Ledger) Outgoing(id envelope.MsgID) []OutgoingMessage {
	v, ok := l.entries.Load(id)
	if !ok {
		return nil
	}
	e := v.(*ledgerEntry)

	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]OutgoingMessage, 0, len(e.byPeer))
	for _, m := range e.byPeer {
		out = append(out, *m)
	}
	return out
}

// Len returns the number of records across all message ids.
func (l *Ledger) Len() int {
	return int(l.records.Load())
}

// Stats returns counters plus the number of records still awaiting a terminal state.
func (l *Ledger) Stats() LedgerStats {
	pending := 0
	l.entries.Range(func(_, v any) bool {
		e := v.(*ledgerEntry)
		e.mu.Lock()
		for _, m := range e.byPeer {
			if !m.Status.IsTerminal() {
				pending++
			}
		}
		e.mu.Unlock()
		return true
	})

	return LedgerStats{
		Records:   l.Len(),
		Pending:   pending,
		Sent:      l.sent.Load(),
		Delivered: l.delivered.Load(),
		Failed:    l.failed.Load(),
	}
}

// Clear drops every record and resets the counters.
func (l *Ledger) Clear() {
	l.entries.Range(func(k, _ any) bool {
		l.entries.Delete(k)
		return true
	})
	l.records.Store(0)
	l.sent.Store(0)
	l.delivered.Store(0)
	l.failed.Store(0)
}
