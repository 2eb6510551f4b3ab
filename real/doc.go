// Package real provides the production implementations of the mesh crypto
// contracts.
//
// # Session Crypto
//
// [SessionCrypto] implements [interfaces.SessionCrypto]. EstablishSession
// performs an X25519 exchange between the node's identity key and the peer's
// key-exchange public key, expands the result with HKDF-SHA256 and keeps an
// XChaCha20-Poly1305 AEAD per peer. Sealed payloads are framed as
//
//	[24-byte random nonce][ciphertext || 16-byte tag]
//
// so every payload grows by [limits.EncryptionOverhead] bytes. Random 192-bit
// nonces make counter state unnecessary across reconnects.
//
// # Key Store
//
// [LocalKeyStore] implements [interfaces.KeyStore]. Identity keys are generated
// lazily on first use. When constructed with a directory and passphrase it
// loads existing keys from, and saves new keys to, a
// [crypto.EncryptedKeyStore]; otherwise keys live only in memory.
//
//	ks, err := real.NewLocalKeyStore("/var/lib/mesh", passphrase)
//	keys, err := ks.Keys()
//	sc := real.NewSessionCrypto(ks)
package real
