// Package testing provides in-memory simulation doubles for deterministic
// testing of the mesh core.
//
// # Overview
//
// The mesh core consumes three external collaborators through interfaces:
// the radio [interfaces.Link], the [interfaces.SessionCrypto] cipher and the
// [interfaces.KeyStore]. This package implements each of them entirely in
// memory so routing, fragmentation and delivery tracking can be exercised
// without radios or real key material.
//
// # Simulation vs Real Implementation
//
// Crypto comes in two flavours chosen at composition time:
//
//   - Simulation (this package): SimulatedSessionCrypto tags payloads instead
//     of encrypting them and SimulatedKeyStore fills keys with random bytes.
//
//   - Real (real package): X25519 + HKDF + XChaCha20-Poly1305 sessions and
//     Ed25519/X25519 identity keys, optionally persisted at rest.
//
// The factory package selects between them from an [interfaces.CryptoConfig].
//
// # Simulated Links
//
// [NewLinkPair] returns the two ends of a point-to-point link. Frames sent on
// one end appear on the other end's Frames channel. Sends are bounded by the
// caller's context and by the channel buffer, never indefinite. Each end keeps
// a delivery log for verification:
//
//	a, b := testing.NewLinkPair("alice", "bob", 23, 64)
//	_ = a.Send(ctx, []byte("frame"))
//	frame := <-b.Frames()
//	log := a.GetDeliveryLog()
//
// Closing either end disconnects both and closes both Frames channels.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package testing
