package meshcore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/opd-ai/meshcore/crypto"
	"github.com/opd-ai/meshcore/envelope"
	"github.com/opd-ai/meshcore/factory"
	"github.com/opd-ai/meshcore/fragment"
	"github.com/opd-ai/meshcore/identity"
	"github.com/opd-ai/meshcore/interfaces"
	"github.com/opd-ai/meshcore/limits"
	"github.com/opd-ai/meshcore/messaging"
	"github.com/opd-ai/meshcore/router"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNodeStopped is returned by operations on a stopped node.
	ErrNodeStopped = errors.New("node stopped")
	// ErrNoLinks is returned when a broadcast reaches no peer.
	ErrNoLinks = errors.New("no active links")
	// ErrLocalTopic is returned when Broadcast is asked to use the local topic.
	ErrLocalTopic = errors.New("broadcast on local topic")
)

// Message is an application payload delivered to this node.
type Message struct {
	ID        envelope.MsgID
	TopicID   uint32
	From      string
	Payload   []byte
	Encrypted bool
	SentAt    time.Time

	// Signed is set when the payload carried a valid origin signature.
	// Signer is then the origin's base64 Ed25519 public key.
	Signed bool
	Signer string
}

// MessageCallback is called for every delivered message.
type MessageCallback func(msg Message)

// linkPump reads frames from one link until it closes or the node stops.
type linkPump struct {
	link interfaces.Link
	done chan struct{}
	once sync.Once
}

func (p *linkPump) stop() {
	p.once.Do(func() { close(p.done) })
}

// Node is one participant in the mesh.
type Node struct {
	options *Options

	keyStore    interfaces.KeyStore
	crypto      *crypto.CryptoManager
	rotator     *identity.Rotator
	reassembler *fragment.Reassembler
	ledger      *messaging.Ledger
	router      *router.Router

	pumpsMu sync.Mutex
	pumps   map[string]*linkPump
	pumpWg  sync.WaitGroup

	cbMu             sync.RWMutex
	messageCallbacks []MessageCallback

	lifecycle sync.RWMutex
	running   bool
	stopped   bool
	startedAt time.Time
}

// New creates a Node from options. Nil options means NewOptions().
func New(options *Options) (*Node, error) {
	if options == nil {
		options = NewOptions()
	}
	if options.TimeProvider == nil {
		options.TimeProvider = interfaces.DefaultTimeProvider{}
	}
	if options.DefaultTTL > MaxTTL {
		return nil, fmt.Errorf("default ttl %d exceeds %d", options.DefaultTTL, MaxTTL)
	}
	applyLogLevel(options)

	keyStore, session, err := createCrypto(options)
	if err != nil {
		return nil, err
	}
	manager, err := crypto.NewCryptoManager(keyStore, session)
	if err != nil {
		return nil, fmt.Errorf("create crypto manager: %w", err)
	}

	rotatorConfig := identity.DefaultConfig()
	if options.RotationInterval > 0 {
		rotatorConfig.Interval = options.RotationInterval
	}
	if options.EphemeralIDSize > 0 {
		rotatorConfig.IDSize = options.EphemeralIDSize
	}
	rotator, err := identity.NewRotator(rotatorConfig)
	if err != nil {
		return nil, err
	}

	reassemblerConfig := fragment.DefaultReassemblerConfig()
	if options.PartialTimeout > 0 {
		reassemblerConfig.PartialTimeout = options.PartialTimeout
	}
	if options.SweepInterval > 0 {
		reassemblerConfig.SweepInterval = options.SweepInterval
	}
	reassemblerConfig.TimeProvider = options.TimeProvider

	routerConfig := router.DefaultConfig()
	routerConfig.RelayEnabled = options.RelayEnabled
	routerConfig.SendTimeout = options.SendTimeout
	routerConfig.StatsInterval = options.StatsInterval
	routerConfig.TimeProvider = options.TimeProvider

	ledger := messaging.NewLedger(options.TimeProvider)

	n := &Node{
		options:     options,
		keyStore:    keyStore,
		crypto:      manager,
		rotator:     rotator,
		reassembler: fragment.NewReassembler(reassemblerConfig),
		ledger:      ledger,
		router:      router.New(routerConfig, ledger),
		pumps:       make(map[string]*linkPump),
	}

	n.router.OnLocalDelivery(n.handleLocalDelivery)
	n.router.HandleTopic(envelope.TopicBroadcast, n.handleBroadcast)
	n.rotator.OnRotate(func(previous, current []byte) {
		logrus.WithFields(logrus.Fields{
			"function": "Node.onRotate",
			"node_id":  n.options.NodeID,
		}).Info("Ephemeral identity rotated")
	})

	logrus.WithFields(logrus.Fields{
		"function":      "meshcore.New",
		"node_id":       options.NodeID,
		"relay_enabled": options.RelayEnabled,
		"default_ttl":   options.DefaultTTL,
		"ephemeral_id":  rotator.CurrentHex(),
	}).Info("Node created")

	return n, nil
}

// createCrypto returns injected collaborators or builds them through the factory.
func createCrypto(options *Options) (interfaces.KeyStore, interfaces.SessionCrypto, error) {
	if options.KeyStore != nil && options.SessionCrypto != nil {
		return options.KeyStore, options.SessionCrypto, nil
	}

	suite, err := factory.NewCryptoFactory().CreateCryptoWithConfig(options.Crypto)
	if err != nil {
		return nil, nil, fmt.Errorf("create crypto: %w", err)
	}
	return suite.KeyStore, suite.Session, nil
}

// Start launches the background tasks: partial sweep, stats refresh and
// identity rotation. Start on a running or stopped node does nothing.
func (n *Node) Start() {
	n.lifecycle.Lock()
	defer n.lifecycle.Unlock()

	if n.running || n.stopped {
		return
	}
	n.running = true
	n.startedAt = n.options.TimeProvider.Now()

	n.reassembler.Start()
	n.router.Start()
	n.rotator.Start()

	logrus.WithFields(logrus.Fields{
		"function": "Node.Start",
		"node_id":  n.options.NodeID,
	}).Info("Node started")
}

// IsRunning reports whether Start was called and Stop was not.
func (n *Node) IsRunning() bool {
	n.lifecycle.RLock()
	defer n.lifecycle.RUnlock()
	return n.running && !n.stopped
}

// Stop halts inbound pumps and background tasks and waits for them. Links
// are not closed; their owner closes them. Stop is idempotent.
func (n *Node) Stop() {
	n.lifecycle.Lock()
	if n.stopped {
		n.lifecycle.Unlock()
		return
	}
	n.stopped = true
	n.lifecycle.Unlock()

	n.pumpsMu.Lock()
	for peer, p := range n.pumps {
		p.stop()
		delete(n.pumps, peer)
	}
	n.pumpsMu.Unlock()
	n.pumpWg.Wait()

	n.router.Close()
	n.reassembler.Stop()
	n.rotator.Stop()

	if closer, ok := n.keyStore.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Node.Stop",
				"error":    err.Error(),
			}).Warn("Failed to close key store")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Node.Stop",
		"node_id":  n.options.NodeID,
	}).Info("Node stopped")
}

// AddLink registers link under its peer id and starts reading its frames.
// A link already registered for the same peer is replaced.
func (n *Node) AddLink(link interfaces.Link) error {
	if link == nil {
		return errors.New("nil link")
	}
	if err := limits.ValidateMTU(link.MTU()); err != nil {
		return err
	}
	peer := link.PeerID()

	n.lifecycle.RLock()
	defer n.lifecycle.RUnlock()
	if n.stopped {
		return ErrNodeStopped
	}

	if err := n.router.RegisterLink(peer, link); err != nil {
		return err
	}

	p := &linkPump{link: link, done: make(chan struct{})}
	n.pumpsMu.Lock()
	old, replaced := n.pumps[peer]
	if replaced {
		old.stop()
	}
	n.pumps[peer] = p
	n.pumpsMu.Unlock()

	if replaced {
		n.reassembler.DropPath(peer)
	}

	n.pumpWg.Add(1)
	go n.pump(peer, p)

	logrus.WithFields(logrus.Fields{
		"function": "Node.AddLink",
		"node_id":  n.options.NodeID,
		"peer_id":  peer,
		"mtu":      link.MTU(),
	}).Info("Link added")
	return nil
}

// RemoveLink stops reading from the link for peerID and unregisters it.
// Partial messages received from the peer are discarded.
func (n *Node) RemoveLink(peerID string) bool {
	n.pumpsMu.Lock()
	p, ok := n.pumps[peerID]
	if ok {
		delete(n.pumps, peerID)
	}
	n.pumpsMu.Unlock()

	if !ok {
		return false
	}
	p.stop()
	n.router.UnregisterLink(peerID)
	n.reassembler.DropPath(peerID)
	return true
}

// removePump drops p if it is still the active pump for peerID.
func (n *Node) removePump(peerID string, p *linkPump) {
	n.pumpsMu.Lock()
	current, ok := n.pumps[peerID]
	if ok && current == p {
		delete(n.pumps, peerID)
	}
	n.pumpsMu.Unlock()

	if ok && current == p {
		n.router.UnregisterLink(peerID)
		dropped := n.reassembler.DropPath(peerID)
		logrus.WithFields(logrus.Fields{
			"function":         "Node.pump",
			"node_id":          n.options.NodeID,
			"peer_id":          peerID,
			"partials_dropped": dropped,
		}).Info("Link disconnected")
	}
}

func (n *Node) pump(peerID string, p *linkPump) {
	defer n.pumpWg.Done()

	frames := p.link.Frames()
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				n.removePump(peerID, p)
				return
			}
			n.handleFrame(peerID, frame)
		case <-p.done:
			return
		}
	}
}

// handleFrame parses one chunk frame and feeds it through reassembly and
// routing. Faults are logged and the frame dropped.
func (n *Node) handleFrame(peerID string, frame []byte) {
	c, err := fragment.ParseChunk(frame)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Node.handleFrame",
			"peer_id":  peerID,
			"size":     len(frame),
			"error":    err.Error(),
		}).Warn("Dropping malformed chunk")
		return
	}

	env, err := n.reassembler.AddChunk(peerID, c)
	switch {
	case errors.Is(err, fragment.ErrDuplicate), errors.Is(err, fragment.ErrClosed):
		return
	case err != nil:
		logrus.WithFields(logrus.Fields{
			"function": "Node.handleFrame",
			"peer_id":  peerID,
			"msg_seq":  c.MsgSeq,
			"error":    err.Error(),
		}).Warn("Dropping undeliverable message")
		return
	case env == nil:
		return
	}

	n.router.OnEnvelopeReceived(env, peerID)
}

// open turns a delivered envelope into a Message. Directed envelopes are
// decrypted first when encrypted. A signed payload that fails verification
// yields false and must be dropped.
func (n *Node) open(env *envelope.Envelope, sourcePeer string, directed bool) (Message, bool) {
	msg := Message{
		ID:      env.MsgID,
		TopicID: env.TopicID,
		From:    sourcePeer,
		Payload: env.Payload,
		SentAt:  env.CreatedAt(),
	}

	if directed && env.IsEncrypted() {
		if plain, ok := n.crypto.Decrypt(sourcePeer, env.Payload); ok {
			msg.Payload = plain
			msg.Encrypted = true
		}
	}

	if env.IsSigned() {
		body, signer, err := n.crypto.Verify(sourcePeer, msg.Payload)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Node.open",
				"node_id":  n.options.NodeID,
				"msg_id":   env.MsgID.String(),
				"peer_id":  sourcePeer,
			}).Warn("Dropping message with invalid signature")
			return Message{}, false
		}
		msg.Payload = body
		msg.Signed = true
		msg.Signer = base64.StdEncoding.EncodeToString(signer)
	}
	return msg, true
}

// handleLocalDelivery hands a directed message to the application and
// acknowledges it toward the link it came from.
func (n *Node) handleLocalDelivery(env *envelope.Envelope, sourcePeer string) {
	msg, ok := n.open(env, sourcePeer, true)
	if !ok {
		return
	}
	n.notify(msg)

	ack := envelope.NewAck(env.MsgID, env.TopicID)
	if !n.router.SendToPeer(ack, sourcePeer) {
		logrus.WithFields(logrus.Fields{
			"function": "Node.handleLocalDelivery",
			"msg_id":   env.MsgID.String(),
			"peer_id":  sourcePeer,
		}).Warn("Could not send ACK")
	}
}

func (n *Node) handleBroadcast(env *envelope.Envelope, sourcePeer string) {
	if msg, ok := n.open(env, sourcePeer, false); ok {
		n.notify(msg)
	}
}

func (n *Node) notify(msg Message) {
	n.cbMu.RLock()
	callbacks := n.messageCallbacks
	n.cbMu.RUnlock()

	for _, cb := range callbacks {
		cb(msg)
	}
}

// OnMessage registers a callback for directed and broadcast messages.
// Callbacks run on the link's read goroutine and should not block.
func (n *Node) OnMessage(callback MessageCallback) {
	if callback == nil {
		return
	}
	n.cbMu.Lock()
	n.messageCallbacks = append(n.messageCallbacks, callback)
	n.cbMu.Unlock()
}

// Subscribe delivers messages on an application topic to callback. Such
// messages are also relayed like broadcasts.
func (n *Node) Subscribe(topicID uint32, callback MessageCallback) error {
	if topicID == envelope.TopicLocal || topicID == envelope.TopicBroadcast {
		return fmt.Errorf("topic %d is reserved", topicID)
	}
	if callback == nil {
		return errors.New("nil callback")
	}
	n.router.HandleTopic(topicID, func(env *envelope.Envelope, sourcePeer string) {
		if msg, ok := n.open(env, sourcePeer, false); ok {
			callback(msg)
		}
	})
	return nil
}

// OnDeliveryStatus registers a callback for outgoing-message status changes.
func (n *Node) OnDeliveryStatus(callback messaging.StatusCallback) {
	n.ledger.OnStatusChange(callback)
}

// newEnvelope validates payload and wraps it for topicID, signing it when
// the node is configured to.
func (n *Node) newEnvelope(topicID uint32, payload []byte) (*envelope.Envelope, error) {
	if !n.options.SignMessages {
		if err := limits.ValidatePlaintextPayload(payload); err != nil {
			return nil, err
		}
		env := envelope.New(topicID, payload)
		env.TTL = n.options.DefaultTTL
		return env, nil
	}

	if err := limits.ValidateSignedPayload(payload); err != nil {
		return nil, err
	}
	signed, err := n.crypto.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}
	return envelope.NewSigned(envelope.NewMsgID(), topicID, signed, n.options.DefaultTTL), nil
}

// SendMessage sends payload directly to a neighbour. The payload is
// encrypted when a session with peerID exists. The returned id identifies
// the message in the delivery ledger.
func (n *Node) SendMessage(peerID string, payload []byte) (envelope.MsgID, error) {
	if n.isStopped() {
		return envelope.MsgID{}, ErrNodeStopped
	}
	env, err := n.newEnvelope(envelope.TopicLocal, payload)
	if err != nil {
		return envelope.MsgID{}, err
	}

	if n.crypto.HasSession(peerID) {
		if sealed, ok := n.crypto.Encrypt(peerID, env.Payload); ok {
			env = env.WithPayload(sealed, env.Flags|envelope.FlagEncrypted)
		}
	}

	n.reassembler.MarkSeen(env.MsgID)
	if !n.router.SendToPeer(env, peerID) {
		return env.MsgID, fmt.Errorf("%w: %s", router.ErrLinkUnavailable, peerID)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Node.SendMessage",
		"node_id":   n.options.NodeID,
		"msg_id":    env.MsgID.String(),
		"peer_id":   peerID,
		"encrypted": env.IsEncrypted(),
		"signed":    env.IsSigned(),
		"size":      len(env.Payload),
	}).Debug("Message scheduled")

	return env.MsgID, nil
}

// Broadcast floods payload to every neighbour on a non-local topic. It
// returns ErrNoLinks if no neighbour could be scheduled.
func (n *Node) Broadcast(topicID uint32, payload []byte) (envelope.MsgID, error) {
	if topicID == envelope.TopicLocal {
		return envelope.MsgID{}, ErrLocalTopic
	}
	if n.isStopped() {
		return envelope.MsgID{}, ErrNodeStopped
	}
	env, err := n.newEnvelope(topicID, payload)
	if err != nil {
		return envelope.MsgID{}, err
	}

	// The origin must not deliver or relay its own flood when it echoes back.
	n.reassembler.MarkSeen(env.MsgID)

	scheduled := n.router.BroadcastMessage(env)
	if scheduled == 0 {
		return env.MsgID, ErrNoLinks
	}

	logrus.WithFields(logrus.Fields{
		"function": "Node.Broadcast",
		"node_id":  n.options.NodeID,
		"msg_id":   env.MsgID.String(),
		"topic_id": topicID,
		"ttl":      env.TTL,
		"fanout":   scheduled,
	}).Debug("Broadcast scheduled")

	return env.MsgID, nil
}

func (n *Node) isStopped() bool {
	n.lifecycle.RLock()
	defer n.lifecycle.RUnlock()
	return n.stopped
}

// Outgoing returns the delivery records of a sent message.
func (n *Node) Outgoing(msgID envelope.MsgID) []messaging.OutgoingMessage {
	return n.router.Outgoing(msgID)
}

// Inbox returns the directed envelopes delivered to this node.
func (n *Node) Inbox() []*envelope.Envelope {
	return n.router.Inbox()
}

// Peers returns the ids of the registered links.
func (n *Node) Peers() []string {
	return n.router.Peers()
}

// EstablishSession derives a session with peerID from its key-exchange public key.
func (n *Node) EstablishSession(peerID string, peerPublicKey []byte) bool {
	return n.crypto.EstablishSession(peerID, peerPublicKey)
}

// HasSession reports whether directed messages to peerID are encrypted.
func (n *Node) HasSession(peerID string) bool {
	return n.crypto.HasSession(peerID)
}

// RemoveSession forgets the session with peerID.
func (n *Node) RemoveSession(peerID string) {
	n.crypto.RemoveSession(peerID)
}

// DHPublicKey returns the key-exchange public key peers need for EstablishSession.
func (n *Node) DHPublicKey() ([]byte, error) {
	return n.crypto.LocalDHPublicKey()
}

// SafetyNumber returns the short fingerprint of this node's public keys.
func (n *Node) SafetyNumber() (string, error) {
	return n.crypto.LocalSafetyNumber()
}

// PublicKeys returns the signing and key-exchange public keys in base64.
func (n *Node) PublicKeys() (signPub, dhPub string, err error) {
	return n.crypto.LocalPublicKeys()
}

// EphemeralID returns the current rotating identifier in hex.
func (n *Node) EphemeralID() string {
	return n.rotator.CurrentHex()
}

// RotateIdentity replaces the ephemeral identifier immediately.
func (n *Node) RotateIdentity() (string, error) {
	if _, err := n.rotator.ForceRotate(); err != nil {
		return "", err
	}
	return n.rotator.CurrentHex(), nil
}

// OnIdentityRotate registers a callback for ephemeral identifier changes.
func (n *Node) OnIdentityRotate(callback identity.RotateFunc) {
	n.rotator.OnRotate(callback)
}
