// Package router implements the store-and-forward routing state machine.
//
// A [Router] owns the registry of active links, a per-link fragment
// Chunker, the local inbox, and the outgoing-delivery ledger. Inbound
// envelopes are handled by [Router.OnEnvelopeReceived]:
//
//   - ACK envelopes mark the acknowledged message Delivered in the ledger.
//   - Envelopes on the local topic go to the inbox and local-delivery
//     callbacks and are never relayed.
//   - Every other envelope is passed to any handlers registered for its
//     topic, then re-flooded with its TTL decremented to every link except
//     the one it arrived on. Envelopes whose TTL is already zero are dropped.
//
// Loop suppression depends on the receiving side's seen-set (see the
// fragment package); excluding the source link only avoids the most
// obvious echo.
//
// Sends are asynchronous. [Router.SendToPeer] records the message as
// Sending and returns; a goroutine writes the chunks with a bounded
// per-chunk timeout and moves the record to Sent or Failed. ACK envelopes
// are written the same way but get no ledger record.
//
// Example:
//
//	r := router.New(router.DefaultConfig(), nil)
//	r.Start()
//	defer r.Close()
//
//	r.RegisterLink(link.PeerID(), link)
//	r.OnLocalDelivery(func(env *envelope.Envelope, from string) {
//	    fmt.Printf("from %s: %s\n", from, env.Payload)
//	})
//	r.BroadcastMessage(envelope.New(envelope.TopicBroadcast, []byte("hello")))
package router
