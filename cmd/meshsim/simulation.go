package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/opd-ai/meshcore"
	"github.com/opd-ai/meshcore/envelope"
	"github.com/opd-ai/meshcore/interfaces"
	"github.com/opd-ai/meshcore/messaging"
	meshtest "github.com/opd-ai/meshcore/testing"
	"github.com/sirupsen/logrus"
)

// Supported topologies.
const (
	TopologyLine = "line"
	TopologyRing = "ring"
	TopologyFull = "full"
)

// linkBuffer is the inbound queue depth of each simulated link end.
const linkBuffer = 256

// SimConfig describes one simulation run.
type SimConfig struct {
	Nodes     int
	Topology  string
	MTU       int
	TTL       uint32
	Payload   []byte
	Encrypt   bool
	Sign      bool
	SimCrypto bool
	Timeout   time.Duration
	LogLevel  string
}

// Edges returns the undirected node pairs of the configured topology.
func (c *SimConfig) Edges() [][2]int {
	var edges [][2]int
	switch c.Topology {
	case TopologyFull:
		for i := 0; i < c.Nodes; i++ {
			for j := i + 1; j < c.Nodes; j++ {
				edges = append(edges, [2]int{i, j})
			}
		}
	default:
		for i := 0; i+1 < c.Nodes; i++ {
			edges = append(edges, [2]int{i, i + 1})
		}
		if c.Topology == TopologyRing && c.Nodes > 2 {
			edges = append(edges, [2]int{c.Nodes - 1, 0})
		}
	}
	return edges
}

// NodeReport is the outcome at one node.
type NodeReport struct {
	ID       string
	Received int
	Stats    meshcore.Stats
}

// Report summarises a simulation run.
type Report struct {
	Topology         string
	Nodes            int
	BroadcastID      envelope.MsgID
	BroadcastReached int
	DirectID         envelope.MsgID
	DirectStatus     messaging.DeliveryStatus
	Elapsed          time.Duration
	PerNode          []NodeReport
}

// Print writes a human-readable report.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Topology %s, %d nodes, finished in %v\n", r.Topology, r.Nodes, r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Broadcast %s reached %d/%d nodes\n", r.BroadcastID, r.BroadcastReached, r.Nodes-1)
	fmt.Fprintf(w, "Directed  %s status %s\n", r.DirectID, r.DirectStatus)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-6s %8s %10s %8s %8s %8s %10s %10s\n",
		"node", "received", "processed", "relayed", "dups", "expired", "chunks_tx", "chunks_rx")
	for _, n := range r.PerNode {
		fmt.Fprintf(w, "%-6s %8d %10d %8d %8d %8d %10d %10d\n",
			n.ID, n.Received,
			n.Stats.Router.ProcessedEnvelopes, n.Stats.Router.RelayedMessages,
			n.Stats.Reassembler.Duplicates, n.Stats.Router.ExpiredDropped,
			n.Stats.ChunksSent, n.Stats.ChunksReceived)
	}
}

// Simulation is a set of started nodes wired by simulated links.
type Simulation struct {
	config *SimConfig
	ids    []string
	nodes  []*meshcore.Node
	links  []*meshtest.SimulatedLink

	mu       sync.Mutex
	received map[string]map[envelope.MsgID]int

	closeOnce sync.Once
}

// NewSimulation creates and starts every node and link.
func NewSimulation(config *SimConfig) (*Simulation, error) {
	s := &Simulation{
		config:   config,
		received: make(map[string]map[envelope.MsgID]int),
	}

	for i := 0; i < config.Nodes; i++ {
		id := fmt.Sprintf("n%d", i)
		options := meshcore.NewOptions()
		options.NodeID = id
		options.DefaultTTL = config.TTL
		options.LogLevel = config.LogLevel
		options.SignMessages = config.Sign
		options.Crypto = &interfaces.CryptoConfig{UseSimulation: config.SimCrypto}

		node, err := meshcore.New(options)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("create node %s: %w", id, err)
		}
		node.OnMessage(s.recorder(id))
		node.Start()

		s.ids = append(s.ids, id)
		s.nodes = append(s.nodes, node)
		s.received[id] = make(map[envelope.MsgID]int)
	}

	for _, edge := range config.Edges() {
		a, b := edge[0], edge[1]
		la, lb := meshtest.NewLinkPair(s.ids[a], s.ids[b], config.MTU, linkBuffer)
		s.links = append(s.links, la)
		if err := s.nodes[a].AddLink(la); err != nil {
			s.Close()
			return nil, err
		}
		if err := s.nodes[b].AddLink(lb); err != nil {
			s.Close()
			return nil, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewSimulation",
		"nodes":    config.Nodes,
		"topology": config.Topology,
		"edges":    len(config.Edges()),
	}).Info("Simulation built")

	return s, nil
}

func (s *Simulation) recorder(id string) meshcore.MessageCallback {
	return func(msg meshcore.Message) {
		s.mu.Lock()
		s.received[id][msg.ID]++
		s.mu.Unlock()
	}
}

// reached counts the nodes other than origin that received id.
func (s *Simulation) reached(id envelope.MsgID, origin string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for node, seen := range s.received {
		if node != origin && seen[id] > 0 {
			n++
		}
	}
	return n
}

// Run floods a broadcast from the first node, sends a directed message to
// its first neighbour and waits for both to complete or the timeout.
func (s *Simulation) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	origin := s.nodes[0]
	neighbour := s.ids[1]

	if s.config.Encrypt {
		if err := s.establish(0, 1); err != nil {
			return nil, err
		}
	}

	broadcastID, err := origin.Broadcast(envelope.TopicBroadcast, s.config.Payload)
	if err != nil {
		return nil, fmt.Errorf("broadcast: %w", err)
	}
	directID, err := origin.SendMessage(neighbour, s.config.Payload)
	if err != nil {
		return nil, fmt.Errorf("send to %s: %w", neighbour, err)
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	report := &Report{
		Topology:    s.config.Topology,
		Nodes:       s.config.Nodes,
		BroadcastID: broadcastID,
		DirectID:    directID,
	}

	for {
		report.BroadcastReached = s.reached(broadcastID, s.ids[0])
		report.DirectStatus = s.directStatus(directID, neighbour)
		if report.BroadcastReached == s.config.Nodes-1 && report.DirectStatus == messaging.StatusDelivered {
			break
		}

		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			s.finish(report, start)
			return report, fmt.Errorf("incomplete delivery: %w", ctx.Err())
		}
	}

	// Let trailing relays and duplicates settle before sampling stats.
	time.Sleep(100 * time.Millisecond)
	s.finish(report, start)
	return report, nil
}

func (s *Simulation) establish(a, b int) error {
	pubA, err := s.nodes[a].DHPublicKey()
	if err != nil {
		return err
	}
	pubB, err := s.nodes[b].DHPublicKey()
	if err != nil {
		return err
	}
	if !s.nodes[a].EstablishSession(s.ids[b], pubB) || !s.nodes[b].EstablishSession(s.ids[a], pubA) {
		return errors.New("session establishment failed")
	}
	return nil
}

func (s *Simulation) directStatus(id envelope.MsgID, peer string) messaging.DeliveryStatus {
	for _, rec := range s.nodes[0].Outgoing(id) {
		if rec.PeerID == peer {
			return rec.Status
		}
	}
	return messaging.StatusSending
}

func (s *Simulation) finish(report *Report, start time.Time) {
	report.Elapsed = time.Since(start)
	report.PerNode = report.PerNode[:0]

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, node := range s.nodes {
		id := s.ids[i]
		total := 0
		for _, c := range s.received[id] {
			total += c
		}
		report.PerNode = append(report.PerNode, NodeReport{
			ID:       id,
			Received: total,
			Stats:    node.Stats(),
		})
	}
}

// Close stops every node and closes every link. Close is idempotent.
func (s *Simulation) Close() {
	s.closeOnce.Do(func() {
		for _, node := range s.nodes {
			node.Stop()
		}
		for _, link := range s.links {
			link.Close()
		}
	})
}
