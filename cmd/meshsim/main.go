package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/opd-ai/meshcore"
	"github.com/opd-ai/meshcore/limits"
)

// CLI configuration
type CLIConfig struct {
	nodes    int
	topology string
	mtu      int
	ttl      uint
	payload  string
	encrypt  bool
	sign     bool
	simCrypt bool
	timeout  time.Duration
	logLevel string
	help     bool
}

// parseCLIFlags parses command-line flags and returns the configuration.
func parseCLIFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	config := &CLIConfig{}

	fs.IntVar(&config.nodes, "nodes", 5, "Number of nodes")
	fs.StringVar(&config.topology, "topology", TopologyLine, "Topology: line, ring or full")
	fs.IntVar(&config.mtu, "mtu", limits.DefaultMTU, "Link MTU in bytes")
	fs.UintVar(&config.ttl, "ttl", 8, "Broadcast hop budget")
	fs.StringVar(&config.payload, "payload", "hello mesh", "Broadcast payload")
	fs.BoolVar(&config.encrypt, "encrypt", false, "Encrypt the directed message")
	fs.BoolVar(&config.sign, "sign", false, "Sign every message with the origin's identity key")
	fs.BoolVar(&config.simCrypt, "sim-crypto", false, "Use simulated crypto")
	fs.DurationVar(&config.timeout, "timeout", 10*time.Second, "Delivery timeout")
	fs.StringVar(&config.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	fs.BoolVar(&config.help, "help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config, nil
}

// validateCLIConfig validates the CLI configuration.
func validateCLIConfig(config *CLIConfig) error {
	if config.nodes < 2 {
		return fmt.Errorf("at least 2 nodes required, got %d", config.nodes)
	}

	switch strings.ToLower(config.topology) {
	case TopologyLine, TopologyRing, TopologyFull:
	default:
		return fmt.Errorf("unknown topology %q", config.topology)
	}

	if err := limits.ValidateMTU(config.mtu); err != nil {
		return err
	}

	if config.ttl > meshcore.MaxTTL {
		return fmt.Errorf("ttl %d exceeds %d", config.ttl, meshcore.MaxTTL)
	}

	validatePayload := limits.ValidatePlaintextPayload
	if config.sign {
		validatePayload = limits.ValidateSignedPayload
	}
	if err := validatePayload([]byte(config.payload)); err != nil {
		return fmt.Errorf("payload: %w", err)
	}

	if config.timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	return nil
}

// createSimConfig converts CLI configuration to a simulation configuration.
func createSimConfig(cliConfig *CLIConfig) *SimConfig {
	return &SimConfig{
		Nodes:     cliConfig.nodes,
		Topology:  strings.ToLower(cliConfig.topology),
		MTU:       cliConfig.mtu,
		TTL:       uint32(cliConfig.ttl),
		Payload:   []byte(cliConfig.payload),
		Encrypt:   cliConfig.encrypt,
		Sign:      cliConfig.sign,
		SimCrypto: cliConfig.simCrypt,
		Timeout:   cliConfig.timeout,
		LogLevel:  cliConfig.logLevel,
	}
}

// printUsage prints the usage information.
func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "Mesh Store-and-Forward Simulator")
	fmt.Fprintln(w, "================================")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Builds nodes connected by simulated links, floods a broadcast and")
	fmt.Fprintln(w, "sends one acknowledged directed message from the first node.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintf(w, "  %s -nodes 8 -topology ring -mtu 23\n", os.Args[0])
	fmt.Fprintf(w, "  %s -nodes 4 -topology full -encrypt -log-level debug\n", os.Args[0])
}

// setupSignalHandling cancels ctx on interrupt.
func setupSignalHandling(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	go func() {
		sig := <-sigChan
		fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
		cancel()
	}()
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	cliConfig, err := parseCLIFlags(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		os.Exit(2)
	}

	if cliConfig.help {
		printUsage(os.Stdout, fs)
		os.Exit(0)
	}

	if err := validateCLIConfig(cliConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Use -help for usage information.\n")
		os.Exit(1)
	}

	sim, err := NewSimulation(createSimConfig(cliConfig))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build simulation: %v\n", err)
		os.Exit(1)
	}
	defer sim.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandling(cancel)

	report, err := sim.Run(ctx)
	if report != nil {
		report.Print(os.Stdout)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nSimulation failed: %v\n", err)
		sim.Close()
		os.Exit(1)
	}
}
