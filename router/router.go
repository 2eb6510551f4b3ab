package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/meshcore/envelope"
	"github.com/opd-ai/meshcore/fragment"
	"github.com/opd-ai/meshcore/interfaces"
	"github.com/opd-ai/meshcore/messaging"
	"github.com/sirupsen/logrus"
)

// ErrLinkUnavailable indicates no registered, connected link for a peer.
// It is logged and never returned from SendToPeer.
var ErrLinkUnavailable = errors.New("link unavailable")

// Default timer values.
const (
	DefaultSendTimeout   = 5 * time.Second
	DefaultStatsInterval = 10 * time.Second
)

// Config holds router policy.
type Config struct {
	// RelayEnabled controls re-flooding of non-local envelopes.
	RelayEnabled bool
	// SendTimeout bounds each chunk write.
	SendTimeout time.Duration
	// StatsInterval is the period of the stats refresh loop.
	StatsInterval time.Duration
	// TimeProvider stamps stats snapshots. Nil uses the wall clock.
	TimeProvider interfaces.TimeProvider
}

// DefaultConfig returns relay on, 5s send timeout and 10s stats refresh.
func DefaultConfig() Config {
	return Config{
		RelayEnabled:  true,
		SendTimeout:   DefaultSendTimeout,
		StatsInterval: DefaultStatsInterval,
		TimeProvider:  interfaces.DefaultTimeProvider{},
	}
}

// DeliveryFunc receives an envelope together with the peer it arrived from.
type DeliveryFunc func(env *envelope.Envelope, sourcePeer string)

// boundLink pairs a link with the Chunker used for every send on it.
type boundLink struct {
	link    interfaces.Link
	chunker *fragment.Chunker
}

// Router is the central routing state machine. It is safe for concurrent use.
type Router struct {
	config Config
	ledger *messaging.Ledger

	links     sync.Map // peer id -> *boundLink
	linkCount atomic.Int64

	inboxMu sync.Mutex
	inbox   []*envelope.Envelope

	cbMu           sync.RWMutex
	localCallbacks []DeliveryFunc
	topicHandlers  map[uint32][]DeliveryFunc

	processed  atomic.Uint64
	relayed    atomic.Uint64
	expired    atomic.Uint64
	chunksSent atomic.Uint64
	bytesSent  atomic.Uint64

	statsMu sync.RWMutex
	stats   RouterStats

	ctx    context.Context
	cancel context.CancelFunc

	lifecycle sync.RWMutex
	running   bool
	closed    bool
	sends     sync.WaitGroup
	loop      sync.WaitGroup
}

// New creates a router. A nil ledger gets a fresh one.
func New(config Config, ledger *messaging.Ledger) *Router {
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultSendTimeout
	}
	if config.StatsInterval <= 0 {
		config.StatsInterval = DefaultStatsInterval
	}
	if config.TimeProvider == nil {
		config.TimeProvider = interfaces.DefaultTimeProvider{}
	}
	if ledger == nil {
		ledger = messaging.NewLedger(config.TimeProvider)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		config:        config,
		ledger:        ledger,
		topicHandlers: make(map[uint32][]DeliveryFunc),
		ctx:           ctx,
		cancel:        cancel,
	}
	r.storeStats()

	logrus.WithFields(logrus.Fields{
		"function":      "router.New",
		"relay_enabled": config.RelayEnabled,
		"send_timeout":  config.SendTimeout.String(),
	}).Info("Router created")

	return r
}

// Ledger returns the outgoing-delivery ledger.
func (r *Router) Ledger() *messaging.Ledger {
	return r.ledger
}

// RegisterLink binds link to peerID, replacing any previous binding.
// Each binding gets its own Chunker for its whole lifetime.
func (r *Router) RegisterLink(peerID string, link interfaces.Link) error {
	if peerID == "" || link == nil {
		return fmt.Errorf("register link: empty peer id or nil link")
	}

	r.lifecycle.RLock()
	if r.closed {
		r.lifecycle.RUnlock()
		return fmt.Errorf("register link %s: router closed", peerID)
	}
	if _, loaded := r.links.Swap(peerID, &boundLink{link: link, chunker: fragment.NewChunker()}); !loaded {
		r.linkCount.Add(1)
	}
	r.lifecycle.RUnlock()

	logrus.WithFields(logrus.Fields{
		"function": "Router.RegisterLink",
		"peer_id":  peerID,
		"mtu":      link.MTU(),
	}).Info("Link registered")

	r.refreshStats()
	return nil
}

// UnregisterLink removes the binding for peerID. The link itself is not closed.
func (r *Router) UnregisterLink(peerID string) bool {
	r.lifecycle.RLock()
	_, loaded := r.links.LoadAndDelete(peerID)
	if loaded {
		r.linkCount.Add(-1)
	}
	r.lifecycle.RUnlock()

	if !loaded {
		return false
	}

	logrus.WithFields(logrus.Fields{
		"function": "Router.UnregisterLink",
		"peer_id":  peerID,
	}).Info("Link unregistered")

	r.refreshStats()
	return true
}

// Peers returns the ids of all registered links.
func (r *Router) Peers() []string {
	peers := make([]string, 0, r.linkCount.Load())
	r.links.Range(func(k, _ any) bool {
		peers = append(peers, k.(string))
		return true
	})
	return peers
}

// OnLocalDelivery registers a callback for envelopes on the local topic.
// Callbacks run on the goroutine that called OnEnvelopeReceived.
func (r *Router) OnLocalDelivery(fn DeliveryFunc) {
	if fn == nil {
		return
	}
	r.cbMu.Lock()
	r.localCallbacks = append(r.localCallbacks, fn)
	r.cbMu.Unlock()
}

// HandleTopic subscribes fn to a non-local topic. Subscribed envelopes are
// delivered to fn and still relayed.
func (r *Router) HandleTopic(topicID uint32, fn DeliveryFunc) {
	if fn == nil || topicID == envelope.TopicLocal {
		return
	}
	r.cbMu.Lock()
	r.topicHandlers[topicID] = append(r.topicHandlers[topicID], fn)
	r.cbMu.Unlock()
}

// OnEnvelopeReceived processes one reassembled, deduplicated envelope that
// arrived from sourcePeer. Callbacks run after internal locks are released.
func (r *Router) OnEnvelopeReceived(env *envelope.Envelope, sourcePeer string) {
	if env == nil {
		return
	}

	r.lifecycle.RLock()
	if r.closed {
		r.lifecycle.RUnlock()
		return
	}
	deliver := r.process(env, sourcePeer)
	r.lifecycle.RUnlock()

	for _, fn := range deliver {
		fn(env, sourcePeer)
	}
	r.refreshStats()
}

// process applies the routing rules and returns the callbacks to invoke.
func (r *Router) process(env *envelope.Envelope, sourcePeer string) []DeliveryFunc {
	r.processed.Add(1)

	switch {
	case env.IsAck:
		n := r.ledger.MarkDelivered(env.AckForMsgID)
		logrus.WithFields(logrus.Fields{
			"function":    "Router.process",
			"ack_for":     env.AckForMsgID.String(),
			"source_peer": sourcePeer,
			"matched":     n,
		}).Debug("ACK received")
		return nil

	case env.TopicID == envelope.TopicLocal:
		r.inboxMu.Lock()
		r.inbox = append(r.inbox, env)
		r.inboxMu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function":    "Router.process",
			"msg_id":      env.MsgID.String(),
			"source_peer": sourcePeer,
			"size":        len(env.Payload),
		}).Debug("Local delivery")

		r.cbMu.RLock()
		defer r.cbMu.RUnlock()
		return append([]DeliveryFunc(nil), r.localCallbacks...)
	}

	r.cbMu.RLock()
	handlers := append([]DeliveryFunc(nil), r.topicHandlers[env.TopicID]...)
	r.cbMu.RUnlock()

	r.relay(env, sourcePeer)
	return handlers
}

// relay re-floods env with ttl-1 to every link except sourcePeer.
func (r *Router) relay(env *envelope.Envelope, sourcePeer string) {
	if env.IsExpired() {
		r.expired.Add(1)
		logrus.WithFields(logrus.Fields{
			"function": "Router.relay",
			"msg_id":   env.MsgID.String(),
		}).Debug("TTL expired, dropping")
		return
	}
	if !r.config.RelayEnabled {
		return
	}

	next := env.DecrementTTL()
	scheduled := 0
	r.links.Range(func(k, _ any) bool {
		peer := k.(string)
		if peer != sourcePeer && r.send(next, peer) {
			scheduled++
		}
		return true
	})

	if scheduled > 0 {
		r.relayed.Add(1)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Router.relay",
		"msg_id":      env.MsgID.String(),
		"ttl":         next.TTL,
		"source_peer": sourcePeer,
		"fanout":      scheduled,
	}).Debug("Relayed envelope")
}

// SendToPeer schedules env for transmission to peerID and returns whether a
// send was scheduled. A missing or disconnected link is logged and dropped.
// Non-ACK envelopes get a ledger record; ACKs are sent untracked.
func (r *Router) SendToPeer(env *envelope.Envelope, peerID string) bool {
	if env == nil {
		return false
	}

	r.lifecycle.RLock()
	defer r.lifecycle.RUnlock()
	if r.closed {
		return false
	}
	return r.send(env, peerID)
}

// BroadcastMessage sends env to every registered peer and returns how many
// sends were scheduled.
func (r *Router) BroadcastMessage(env *envelope.Envelope) int {
	if env == nil {
		return 0
	}

	r.lifecycle.RLock()
	defer r.lifecycle.RUnlock()
	if r.closed {
		return 0
	}

	scheduled := 0
	r.links.Range(func(k, _ any) bool {
		if r.send(env, k.(string)) {
			scheduled++
		}
		return true
	})
	return scheduled
}

// send must be called with the lifecycle read lock held.
func (r *Router) send(env *envelope.Envelope, peerID string) bool {
	v, ok := r.links.Load(peerID)
	if !ok || !v.(*boundLink).link.IsConnected() {
		logrus.WithFields(logrus.Fields{
			"function": "Router.send",
			"msg_id":   env.MsgID.String(),
			"peer_id":  peerID,
			"error":    ErrLinkUnavailable.Error(),
		}).Warn("Dropping envelope for unavailable peer")
		return false
	}
	bl := v.(*boundLink)

	// ACKs are never acknowledged themselves, so a ledger record for one
	// could not reach DELIVERED.
	tracked := !env.IsAck
	if tracked {
		r.ledger.Track(env, peerID)
	}

	r.sends.Add(1)
	go func() {
		defer r.sends.Done()

		err := r.transmit(bl, env)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Router.send",
				"msg_id":   env.MsgID.String(),
				"peer_id":  peerID,
				"is_ack":   env.IsAck,
				"error":    err.Error(),
			}).Error("Send failed")
		}
		switch {
		case !tracked:
		case err != nil:
			r.ledger.MarkFailed(env.MsgID, peerID)
		default:
			r.ledger.MarkSent(env.MsgID, peerID)
		}
		r.refreshStats()
	}()
	return true
}

// transmit splits env with the link's Chunker and writes every chunk in order.
func (r *Router) transmit(bl *boundLink, env *envelope.Envelope) error {
	chunks, err := bl.chunker.Chunk(env, bl.link.MTU())
	if err != nil {
		return err
	}

	for _, c := range chunks {
		frame, err := c.Serialize()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(r.ctx, r.config.SendTimeout)
		err = bl.link.Send(ctx, frame)
		cancel()
		if err != nil {
			return fmt.Errorf("chunk %d/%d seq %d: %w", c.Index+1, c.Total, c.MsgSeq, err)
		}

		r.chunksSent.Add(1)
		r.bytesSent.Add(uint64(len(frame)))
	}
	return nil
}

// Inbox returns a copy of the locally delivered envelopes.
func (r *Router) Inbox() []*envelope.Envelope {
	r.inboxMu.Lock()
	defer r.inboxMu.Unlock()
	return append([]*envelope.Envelope(nil), r.inbox...)
}

// ClearInbox empties the local inbox.
func (r *Router) ClearInbox() {
	r.inboxMu.Lock()
	r.inbox = nil
	r.inboxMu.Unlock()
	r.refreshStats()
}

// Outgoing returns the ledger records for msgID.
func (r *Router) Outgoing(msgID envelope.MsgID) []messaging.OutgoingMessage {
	return r.ledger.Outgoing(msgID)
}

// Start launches the stats refresh loop. Start on a running or closed router does nothing.
func (r *Router) Start() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.running || r.closed {
		return
	}
	r.running = true

	r.loop.Add(1)
	go r.statsLoop()

	logrus.WithFields(logrus.Fields{
		"function":       "Router.Start",
		"stats_interval": r.config.StatsInterval.String(),
	}).Info("Router started")
}

func (r *Router) statsLoop() {
	defer r.loop.Done()

	ticker := time.NewTicker(r.config.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.refreshStats()
		case <-r.ctx.Done():
			return
		}
	}
}

// Close stops the stats loop, cancels in-flight chunk writes and waits for
// all send goroutines. After Close returns no router state changes. Close is idempotent.
func (r *Router) Close() error {
	r.lifecycle.Lock()
	if r.closed {
		r.lifecycle.Unlock()
		return nil
	}
	r.closed = true
	r.lifecycle.Unlock()

	r.cancel()
	r.loop.Wait()
	r.sends.Wait()
	r.storeStats()

	logrus.WithFields(logrus.Fields{
		"function": "Router.Close",
	}).Info("Router closed")
	return nil
}
