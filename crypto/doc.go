// Package crypto provides the node's identity keys and the fail-open
// CryptoManager that the mesh node calls for per-peer payload encryption.
//
// # Identity Keys
//
// Every node owns two key pairs: an Ed25519 signing pair and an X25519
// key-exchange pair, generated by [GenerateIdentityKeys]. Peers verify each
// other out of band by comparing a [SafetyNumber], the hex of the first 8
// bytes of SHA-256 over both public keys, and exchange public keys as a
// base64 pair (for example through a QR code).
//
// # Sessions
//
// [DeriveSessionKey] turns an X25519 exchange into a 32-byte symmetric key with
// HKDF-SHA256. The concrete cipher lives behind [interfaces.SessionCrypto];
// see the real and testing packages for the two implementations.
//
// # Signatures
//
// [SignAttached] produces payload || signer public key || Ed25519 signature,
// and [VerifyAttached] splits and checks it. Because the key travels with the
// payload, a relayed message can be verified by any receiver. Signing is not
// fail-open: [CryptoManager.Sign] returns its error and
// [CryptoManager.Verify] counts every rejected signature.
//
// # Fail-Open Policy
//
// [CryptoManager.Encrypt] and [CryptoManager.Decrypt] never fail the message
// path. If the SessionCrypto returns an error or panics, the manager logs the
// fault at error level with fail_open=true, counts it, and returns the input
// unchanged together with ok=false:
//
//	sealed, ok := mgr.Encrypt(peer, plaintext)
//	flags := envelope.Flags(0)
//	if ok {
//	    flags |= envelope.FlagEncrypted
//	}
//
// This favours delivery over confidentiality. Callers must consult ok before
// claiming a payload is encrypted.
//
// # Keys at Rest
//
// [EncryptedKeyStore] persists identity keys with XChaCha20-Poly1305 under a
// PBKDF2-derived key. Private key material is wiped with [SecureWipe] once it
// is no longer needed.
package crypto
