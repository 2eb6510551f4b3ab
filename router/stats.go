package router

import "time"

// RouterStats is a snapshot of routing activity.
type RouterStats struct {
	ActiveConnections  int
	ProcessedEnvelopes uint64
	RelayedMessages    uint64
	ExpiredDropped     uint64
	OutgoingQueueSize  int
	SentMessages       uint64
	DeliveredMessages  uint64
	FailedMessages     uint64
	ChunksSent         uint64
	BytesSent          uint64
	InboxSize          int
	UpdatedAt          time.Time
}

// Stats returns the most recent snapshot. Snapshots are refreshed on every
// processed envelope, link change, send completion and stats tick.
func (r *Router) Stats() RouterStats {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()
	return r.stats
}

// ClearStats resets the router counters. Ledger and inbox contents are kept.
func (r *Router) ClearStats() {
	r.processed.Store(0)
	r.relayed.Store(0)
	r.expired.Store(0)
	r.chunksSent.Store(0)
	r.bytesSent.Store(0)
	r.refreshStats()
}

// refreshStats recomputes the snapshot unless the router is closed.
func (r *Router) refreshStats() {
	r.lifecycle.RLock()
	closed := r.closed
	r.lifecycle.RUnlock()
	if closed {
		return
	}
	r.storeStats()
}

func (r *Router) storeStats() {
	ledger := r.ledger.Stats()

	r.inboxMu.Lock()
	inboxSize := len(r.inbox)
	r.inboxMu.Unlock()

	snapshot := RouterStats{
		ActiveConnections:  int(r.linkCount.Load()),
		ProcessedEnvelopes: r.processed.Load(),
		RelayedMessages:    r.relayed.Load(),
		ExpiredDropped:     r.expired.Load(),
		OutgoingQueueSize:  ledger.Pending,
		SentMessages:       ledger.Sent,
		DeliveredMessages:  ledger.Delivered,
		FailedMessages:     ledger.Failed,
		ChunksSent:         r.chunksSent.Load(),
		BytesSent:          r.bytesSent.Load(),
		InboxSize:          inboxSize,
		UpdatedAt:          r.config.TimeProvider.Now(),
	}

	r.statsMu.Lock()
	r.stats = snapshot
	r.statsMu.Unlock()
}
