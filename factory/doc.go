// Package factory builds the crypto collaborators of a mesh node.
//
// The factory abstracts the choice between simulation doubles (testing
// package) and production implementations (real package), so consuming code
// never inspects concrete types.
//
// # Configuration
//
// Defaults may be overridden through environment variables:
//   - MESH_USE_SIMULATION: "true" or "false" to select simulated crypto
//   - MESH_KEYSTORE_DIR: directory for encrypted identity persistence
//   - MESH_KEYSTORE_PASSPHRASE: passphrase protecting the persisted identity
//
// Unparseable values are logged and ignored.
//
// # Usage
//
//	f := factory.NewCryptoFactory()
//	suite, err := f.CreateCrypto()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	mgr, err := suite.NewManager()
//
// Tests use CreateSimulationForTesting, which never touches the environment
// or the filesystem.
package factory
