package factory

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/opd-ai/meshcore/crypto"
	"github.com/opd-ai/meshcore/interfaces"
	"github.com/opd-ai/meshcore/real"
	"github.com/opd-ai/meshcore/testing"
	"github.com/sirupsen/logrus"
)

// Environment variables read by NewCryptoFactory.
const (
	EnvUseSimulation      = "MESH_USE_SIMULATION"
	EnvKeyStoreDir        = "MESH_KEYSTORE_DIR"
	EnvKeyStorePassphrase = "MESH_KEYSTORE_PASSPHRASE"
)

// CryptoSuite is a matched key store and session cipher.
type CryptoSuite struct {
	KeyStore  interfaces.KeyStore
	Session   interfaces.SessionCrypto
	Simulated bool
}

// NewManager wraps the suite in a fail-open CryptoManager.
func (s *CryptoSuite) NewManager() (*crypto.CryptoManager, error) {
	return crypto.NewCryptoManager(s.KeyStore, s.Session)
}

// CryptoFactory creates crypto suites based on configuration.
// It is safe for concurrent use; all methods are protected by an internal mutex.
type CryptoFactory struct {
	mu            sync.RWMutex
	defaultConfig *interfaces.CryptoConfig
}

// NewCryptoFactory creates a factory from defaults and MESH_* overrides.
func NewCryptoFactory() *CryptoFactory {
	defaultConfig := createDefaultConfig()
	applyEnvironmentOverrides(defaultConfig)
	logConfigurationInfo(defaultConfig)

	return &CryptoFactory{
		defaultConfig: defaultConfig,
	}
}

// createDefaultConfig selects real crypto with in-memory keys.
func createDefaultConfig() *interfaces.CryptoConfig {
	return &interfaces.CryptoConfig{
		UseSimulation: false,
	}
}

// applyEnvironmentOverrides updates configuration from MESH_* variables.
func applyEnvironmentOverrides(config *interfaces.CryptoConfig) {
	parseSimulationSetting(config)
	parseKeyStoreSettings(config)
}

// parseSimulationSetting updates UseSimulation from MESH_USE_SIMULATION.
// It logs a warning and keeps the default if the value does not parse.
func parseSimulationSetting(config *interfaces.CryptoConfig) {
	useSimStr := os.Getenv(EnvUseSimulation)
	if useSimStr == "" {
		return
	}

	useSim, err := strconv.ParseBool(useSimStr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseSimulationSetting",
			"env_var":     EnvUseSimulation,
			"value":       useSimStr,
			"error":       err.Error(),
			"using_value": config.UseSimulation,
		}).Warn("Failed to parse MESH_USE_SIMULATION environment variable, using default")
		return
	}
	config.UseSimulation = useSim
}

// parseKeyStoreSettings reads the persistence directory and passphrase.
func parseKeyStoreSettings(config *interfaces.CryptoConfig) {
	if dir := os.Getenv(EnvKeyStoreDir); dir != "" {
		config.KeyStoreDir = dir
	}
	if pass := os.Getenv(EnvKeyStorePassphrase); pass != "" {
		config.Passphrase = []byte(pass)
	}

	if config.KeyStoreDir != "" && len(config.Passphrase) == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "parseKeyStoreSettings",
			"env_var":  EnvKeyStorePassphrase,
			"dir":      config.KeyStoreDir,
		}).Warn("Key store directory set without passphrase, persistence will fail")
	}
}

// logConfigurationInfo logs the final configuration. The passphrase is never logged.
func logConfigurationInfo(config *interfaces.CryptoConfig) {
	logrus.WithFields(logrus.Fields{
		"function":       "NewCryptoFactory",
		"use_simulation": config.UseSimulation,
		"keystore_dir":   config.KeyStoreDir,
		"has_passphrase": len(config.Passphrase) > 0,
	}).Info("Created crypto factory with configuration")
}

// CreateCrypto creates a suite from the factory's current configuration.
func (f *CryptoFactory) CreateCrypto() (*CryptoSuite, error) {
	return f.CreateCryptoWithConfig(f.GetCurrentConfig())
}

// CreateCryptoWithConfig creates a suite from an explicit configuration.
// A nil config uses the factory default.
func (f *CryptoFactory) CreateCryptoWithConfig(config *interfaces.CryptoConfig) (*CryptoSuite, error) {
	if config == nil {
		config = f.GetCurrentConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.UseSimulation {
		logrus.WithFields(logrus.Fields{
			"function": "CreateCryptoWithConfig",
			"type":     "simulation",
		}).Info("Creating simulation crypto implementation")

		return newSimulationSuite(), nil
	}

	keyStore, err := real.NewLocalKeyStore(config.KeyStoreDir, config.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("create key store: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "CreateCryptoWithConfig",
		"type":      "real",
		"persisted": config.KeyStoreDir != "",
	}).Info("Creating real crypto implementation")

	return &CryptoSuite{
		KeyStore: keyStore,
		Session:  real.NewSessionCrypto(keyStore),
	}, nil
}

func newSimulationSuite() *CryptoSuite {
	return &CryptoSuite{
		KeyStore:  testing.NewSimulatedKeyStore(),
		Session:   testing.NewSimulatedSessionCrypto(),
		Simulated: true,
	}
}

// CreateSimulationForTesting creates a simulation suite regardless of configuration.
func (f *CryptoFactory) CreateSimulationForTesting() *CryptoSuite {
	logrus.WithFields(logrus.Fields{
		"function": "CreateSimulationForTesting",
	}).Info("Creating simulation crypto for testing")

	return newSimulationSuite()
}

// SwitchToSimulation switches the configuration to use simulation
func (f *CryptoFactory) SwitchToSimulation() {
	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "SwitchToSimulation",
		"previous": f.defaultConfig.UseSimulation,
	}).Info("Switching factory to simulation mode")

	f.defaultConfig.UseSimulation = true
}

// SwitchToReal switches the configuration to use the real implementation
func (f *CryptoFactory) SwitchToReal() {
	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "SwitchToReal",
		"previous": f.defaultConfig.UseSimulation,
	}).Info("Switching factory to real mode")

	f.defaultConfig.UseSimulation = false
}

// GetCurrentConfig returns a copy of the current default configuration
func (f *CryptoFactory) GetCurrentConfig() *interfaces.CryptoConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return &interfaces.CryptoConfig{
		UseSimulation: f.defaultConfig.UseSimulation,
		KeyStoreDir:   f.defaultConfig.KeyStoreDir,
		Passphrase:    append([]byte(nil), f.defaultConfig.Passphrase...),
	}
}
