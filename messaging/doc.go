// Package messaging tracks the delivery of envelopes sent to specific peers.
//
// # Overview
//
// Every directed send creates an [OutgoingMessage] in a [Ledger], keyed by the
// envelope's message id and the target peer. A broadcast of one envelope to
// several peers therefore produces one record per peer under the same id.
//
// # Delivery States
//
// Records progress through a monotonic state machine:
//
//	Sending -> Sent -> Delivered
//	   |
//	   v (on failure)
//	 Failed
//
// Sending is the initial state. Sent means the chunks were handed to the
// link, not that the peer received them. Delivered is reached when an ACK
// naming the message id arrives. Delivered and Failed are terminal; a
// transition that would move a record backwards is ignored.
//
// There is no retry of Failed records and no timeout for Sent records
// waiting on an ACK.
//
// # Usage
//
//	ledger := messaging.NewLedger(nil)
//	ledger.OnStatusChange(func(rec messaging.OutgoingMessage) {
//	    log.Printf("%s -> %s: %s", rec.MsgID, rec.PeerID, rec.Status)
//	})
//
//	ledger.Track(env, "peer-a")
//	ledger.MarkSent(env.MsgID, "peer-a")
//	ledger.MarkDelivered(env.MsgID)
//
// # Concurrency
//
// [Ledger] is safe for concurrent use. Records for different message ids do
// not contend; each id has its own lock. Records are retained until
// [Ledger.Clear] is called.
//
// # Testing
//
// Inject an [interfaces.TimeProvider] through [NewLedger] to make timestamps
// deterministic.
package messaging
