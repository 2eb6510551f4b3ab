// Package interfaces defines the contracts the mesh core consumes from its
// environment: the radio link, the session cipher, the identity key store and
// a clock.
//
// These abstractions let the same routing code run against real radio links
// and real cryptography in production, and against in-memory simulations in
// tests. Implementations are selected at composition time by the factory
// package, never by runtime type inspection.
//
// # Link
//
// [Link] is the only view the core has of the physical transport. It can send
// a raw frame, exposes a stream of inbound frames, reports its current frame
// size limit and whether it is still connected:
//
//	for frame := range link.Frames() {
//	    chunk, err := fragment.ParseChunk(frame)
//	    if err != nil {
//	        continue
//	    }
//	    // hand the chunk to the reassembler
//	}
//
// Frames() is closed when the link disconnects, which is how the core observes
// disconnect events.
//
// # Session Crypto
//
// [SessionCrypto] encrypts and decrypts payloads per peer once a session has
// been established from the peer's key-exchange public key. [KeyStore] owns the
// node's long-term identity: a signing pair and a key-exchange pair, generated
// lazily on first use.
//
// # Implementation Selection
//
// [CryptoConfig] drives the factory package:
//   - UseSimulation=true: SimulatedSessionCrypto and SimulatedKeyStore from the testing package
//   - UseSimulation=false: SessionCrypto and LocalKeyStore from the real package
//
// # Thread Safety
//
// All implementations of these interfaces must be safe for concurrent use.
// The router calls them from one goroutine per connected link plus its own
// background loops.
package interfaces
