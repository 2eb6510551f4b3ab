package meshcore

import (
	"time"

	"github.com/opd-ai/meshcore/crypto"
	"github.com/opd-ai/meshcore/fragment"
	"github.com/opd-ai/meshcore/router"
)

// Stats merges the counters of every node component.
type Stats struct {
	Router      router.RouterStats
	Reassembler fragment.ReassemblerStats
	Crypto      crypto.CryptoStats

	Links             int
	IdentityRotations uint64
	Uptime            time.Duration

	ChunksSent     uint64
	ChunksReceived uint64
	BytesSent      uint64
	BytesReceived  uint64
}

// Stats returns a snapshot of node activity.
func (n *Node) Stats() Stats {
	routerStats := n.router.Stats()
	reassemblerStats := n.reassembler.Stats()

	n.lifecycle.RLock()
	startedAt := n.startedAt
	n.lifecycle.RUnlock()

	var uptime time.Duration
	if !startedAt.IsZero() {
		uptime = n.options.TimeProvider.Since(startedAt)
	}

	n.pumpsMu.Lock()
	links := len(n.pumps)
	n.pumpsMu.Unlock()

	return Stats{
		Router:            routerStats,
		Reassembler:       reassemblerStats,
		Crypto:            n.crypto.Stats(),
		Links:             links,
		IdentityRotations: n.rotator.Rotations(),
		Uptime:            uptime,
		ChunksSent:        routerStats.ChunksSent,
		ChunksReceived:    reassemblerStats.ChunksReceived,
		BytesSent:         routerStats.BytesSent,
		BytesReceived:     reassemblerStats.BytesReceived,
	}
}
