package factory

import (
	"testing"

	"github.com/opd-ai/meshcore/interfaces"
)

// TestNewCryptoFactory verifies default factory creation
func TestNewCryptoFactory(t *testing.T) {
	t.Setenv(EnvUseSimulation, "")
	t.Setenv(EnvKeyStoreDir, "")
	t.Setenv(EnvKeyStorePassphrase, "")

	factory := NewCryptoFactory()
	if factory == nil {
		t.Fatal("NewCryptoFactory returned nil")
	}

	config := factory.GetCurrentConfig()
	if config.UseSimulation {
		t.Error("Expected default UseSimulation to be false")
	}
	if config.KeyStoreDir != "" {
		t.Errorf("Expected empty KeyStoreDir, got %q", config.KeyStoreDir)
	}
}

// TestEnvironmentOverrides verifies MESH_* variables are applied
func TestEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvUseSimulation, "true")
	t.Setenv(EnvKeyStoreDir, dir)
	t.Setenv(EnvKeyStorePassphrase, "hunter2")

	config := NewCryptoFactory().GetCurrentConfig()
	if !config.UseSimulation {
		t.Error("Expected UseSimulation from environment")
	}
	if config.KeyStoreDir != dir {
		t.Errorf("Expected KeyStoreDir %q, got %q", dir, config.KeyStoreDir)
	}
	if string(config.Passphrase) != "hunter2" {
		t.Error("Expected passphrase from environment")
	}
}

// TestInvalidSimulationValueIgnored verifies unparseable values keep the default
func TestInvalidSimulationValueIgnored(t *testing.T) {
	t.Setenv(EnvUseSimulation, "maybe")
	t.Setenv(EnvKeyStoreDir, "")
	t.Setenv(EnvKeyStorePassphrase, "")

	if NewCryptoFactory().GetCurrentConfig().UseSimulation {
		t.Error("Invalid MESH_USE_SIMULATION should keep default false")
	}
}

// TestCreateCryptoSimulation verifies the simulation suite is returned
func TestCreateCryptoSimulation(t *testing.T) {
	t.Setenv(EnvUseSimulation, "")
	factory := NewCryptoFactory()

	suite, err := factory.CreateCryptoWithConfig(&interfaces.CryptoConfig{UseSimulation: true})
	if err != nil {
		t.Fatalf("CreateCryptoWithConfig failed: %v", err)
	}
	if !suite.Simulated {
		t.Error("Expected simulated suite")
	}

	mgr, err := suite.NewManager()
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if _, err := mgr.LocalSafetyNumber(); err != nil {
		t.Errorf("LocalSafetyNumber failed: %v", err)
	}
}

// TestCreateCryptoReal verifies the real suite encrypts end to end
func TestCreateCryptoReal(t *testing.T) {
	t.Setenv(EnvUseSimulation, "")
	factory := NewCryptoFactory()
	factory.SwitchToReal()

	alice, err := factory.CreateCrypto()
	if err != nil {
		t.Fatalf("CreateCrypto failed: %v", err)
	}
	bob, err := factory.CreateCrypto()
	if err != nil {
		t.Fatalf("CreateCrypto failed: %v", err)
	}
	if alice.Simulated {
		t.Error("Expected real suite")
	}

	aliceMgr, err := alice.NewManager()
	if err != nil {
		t.Fatal(err)
	}
	bobMgr, err := bob.NewManager()
	if err != nil {
		t.Fatal(err)
	}

	alicePub, _ := aliceMgr.LocalDHPublicKey()
	bobPub, _ := bobMgr.LocalDHPublicKey()
	if !aliceMgr.EstablishSession("bob", bobPub) || !bobMgr.EstablishSession("alice", alicePub) {
		t.Fatal("session establishment failed")
	}

	sealed, ok := aliceMgr.Encrypt("bob", []byte("secret"))
	if !ok {
		t.Fatal("Encrypt reported failure")
	}
	opened, ok := bobMgr.Decrypt("alice", sealed)
	if !ok || string(opened) != "secret" {
		t.Errorf("Decrypt = %q, %v", opened, ok)
	}
}

// TestCreateCryptoPersistenceRequiresPassphrase verifies config validation
func TestCreateCryptoPersistenceRequiresPassphrase(t *testing.T) {
	t.Setenv(EnvUseSimulation, "")
	factory := NewCryptoFactory()

	_, err := factory.CreateCryptoWithConfig(&interfaces.CryptoConfig{KeyStoreDir: t.TempDir()})
	if err == nil {
		t.Error("Expected error for persistence without passphrase")
	}
}

// TestSwitchModes verifies SwitchToSimulation and SwitchToReal
func TestSwitchModes(t *testing.T) {
	t.Setenv(EnvUseSimulation, "")
	factory := NewCryptoFactory()

	factory.SwitchToSimulation()
	if !factory.GetCurrentConfig().UseSimulation {
		t.Error("SwitchToSimulation did not take effect")
	}
	suite, err := factory.CreateCrypto()
	if err != nil || !suite.Simulated {
		t.Errorf("Expected simulated suite after switch, got %+v (%v)", suite, err)
	}

	factory.SwitchToReal()
	if factory.GetCurrentConfig().UseSimulation {
		t.Error("SwitchToReal did not take effect")
	}
}

// TestCreateSimulationForTesting verifies the test helper ignores configuration
func TestCreateSimulationForTesting(t *testing.T) {
	t.Setenv(EnvUseSimulation, "false")
	suite := NewCryptoFactory().CreateSimulationForTesting()
	if !suite.Simulated {
		t.Error("Expected simulated suite")
	}
}

// TestGetCurrentConfigReturnsCopy verifies callers cannot mutate the default
func TestGetCurrentConfigReturnsCopy(t *testing.T) {
	t.Setenv(EnvUseSimulation, "")
	factory := NewCryptoFactory()

	config := factory.GetCurrentConfig()
	config.UseSimulation = true
	if factory.GetCurrentConfig().UseSimulation {
		t.Error("GetCurrentConfig returned a shared pointer")
	}
}
