package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/opd-ai/meshcore/limits"
	"github.com/opd-ai/meshcore/messaging"
)

func TestParseCLIFlagsDefaults(t *testing.T) {
	fs := flag.NewFlagSet("meshsim", flag.ContinueOnError)
	config, err := parseCLIFlags(fs, nil)
	if err != nil {
		t.Fatalf("parseCLIFlags failed: %v", err)
	}
	if config.nodes != 5 || config.topology != TopologyLine || config.mtu != 23 || config.ttl != 8 {
		t.Errorf("unexpected defaults: %+v", config)
	}
	if err := validateCLIConfig(config); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestParseCLIFlagsRejectsUnknown(t *testing.T) {
	fs := flag.NewFlagSet("meshsim", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if _, err := parseCLIFlags(fs, []string{"-bogus"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestValidateCLIConfig(t *testing.T) {
	valid := func() *CLIConfig {
		return &CLIConfig{nodes: 3, topology: "ring", mtu: 23, ttl: 8, payload: "x", timeout: time.Second}
	}

	tests := []struct {
		name        string
		mutate      func(c *CLIConfig)
		wantErr     bool
		errContains string
	}{
		{"valid", func(c *CLIConfig) {}, false, ""},
		{"uppercase topology", func(c *CLIConfig) { c.topology = "FULL" }, false, ""},
		{"one node", func(c *CLIConfig) { c.nodes = 1 }, true, "at least 2 nodes"},
		{"unknown topology", func(c *CLIConfig) { c.topology = "star" }, true, "unknown topology"},
		{"mtu too small", func(c *CLIConfig) { c.mtu = 8 }, true, "invalid mtu"},
		{"ttl too large", func(c *CLIConfig) { c.ttl = 65 }, true, "exceeds"},
		{"empty payload", func(c *CLIConfig) { c.payload = "" }, true, "payload"},
		{"large mtu", func(c *CLIConfig) { c.mtu = 4096 }, false, ""},
		{"unsigned payload above signed limit", func(c *CLIConfig) {
			c.payload = strings.Repeat("x", limits.MaxSignedPlaintextPayload+1)
		}, false, ""},
		{"signed payload over limit", func(c *CLIConfig) {
			c.sign = true
			c.payload = strings.Repeat("x", limits.MaxSignedPlaintextPayload+1)
		}, true, "payload"},
		{"zero timeout", func(c *CLIConfig) { c.timeout = 0 }, true, "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := validateCLIConfig(c)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateCLIConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.errContains)
			}
		})
	}
}

func TestEdges(t *testing.T) {
	tests := []struct {
		topology string
		nodes    int
		want     int
	}{
		{TopologyLine, 5, 4},
		{TopologyRing, 5, 5},
		{TopologyRing, 2, 1},
		{TopologyFull, 5, 10},
	}

	for _, tt := range tests {
		c := &SimConfig{Topology: tt.topology, Nodes: tt.nodes}
		if got := len(c.Edges()); got != tt.want {
			t.Errorf("%s/%d: got %d edges, want %d", tt.topology, tt.nodes, got, tt.want)
		}
	}
}

func TestSimulationRun(t *testing.T) {
	for _, topology := range []string{TopologyLine, TopologyRing, TopologyFull} {
		t.Run(topology, func(t *testing.T) {
			sim, err := NewSimulation(&SimConfig{
				Nodes:     4,
				Topology:  topology,
				MTU:       23,
				TTL:       8,
				Payload:   []byte("hello mesh"),
				Encrypt:   true,
				Sign:      topology == TopologyRing,
				SimCrypto: false,
				Timeout:   5 * time.Second,
				LogLevel:  "error",
			})
			if err != nil {
				t.Fatalf("NewSimulation failed: %v", err)
			}
			defer sim.Close()

			report, err := sim.Run(context.Background())
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if report.BroadcastReached != 3 {
				t.Errorf("broadcast reached %d nodes, want 3", report.BroadcastReached)
			}
			if report.DirectStatus != messaging.StatusDelivered {
				t.Errorf("direct status %s, want DELIVERED", report.DirectStatus)
			}
			if len(report.PerNode) != 4 {
				t.Fatalf("expected 4 node reports, got %d", len(report.PerNode))
			}
			if report.PerNode[1].Received != 2 {
				t.Errorf("neighbour received %d messages, want broadcast and direct", report.PerNode[1].Received)
			}

			var buf bytes.Buffer
			report.Print(&buf)
			if !strings.Contains(buf.String(), "reached 3/3 nodes") {
				t.Errorf("report missing reach line:\n%s", buf.String())
			}
		})
	}
}

func TestSimulationTTLTooShort(t *testing.T) {
	sim, err := NewSimulation(&SimConfig{
		Nodes:     5,
		Topology:  TopologyLine,
		MTU:       64,
		TTL:       0,
		Payload:   []byte("short"),
		SimCrypto: true,
		Timeout:   300 * time.Millisecond,
		LogLevel:  "error",
	})
	if err != nil {
		t.Fatalf("NewSimulation failed: %v", err)
	}
	defer sim.Close()

	report, err := sim.Run(context.Background())
	if err == nil {
		t.Fatal("expected incomplete delivery with ttl 0 on a line of 5")
	}
	if report == nil || report.BroadcastReached != 1 {
		t.Errorf("ttl 0 should reach only the first neighbour, got %+v", report)
	}
}

func TestPrintUsage(t *testing.T) {
	fs := flag.NewFlagSet("meshsim", flag.ContinueOnError)
	if _, err := parseCLIFlags(fs, nil); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	printUsage(&buf, fs)
	if !strings.Contains(buf.String(), "-topology") {
		t.Error("usage should list flags")
	}
}
