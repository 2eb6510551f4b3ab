// Package fragment splits encoded envelopes into link-sized chunks and
// reassembles them on the receiving side.
//
// # Chunks
//
// A [Chunk] is one transport frame: an 8-byte little-endian header followed by
// a slice of the encoded envelope.
//
//	[u32 msgSeq][u16 index][u16 total][data...]
//
// msgSeq is scoped to the [Chunker] that produced it, which in turn is bound to
// a single outbound link. It is not globally unique; receivers key partial
// state by (inbound path, msgSeq).
//
// # Chunker
//
// A Chunker owns a 32-bit sequence counter that advances once per call to
// [Chunker.Chunk], so all chunks of one envelope share a msgSeq. Keep one
// Chunker per link for the link's lifetime: a fresh Chunker restarts at zero
// and makes concurrently in-flight messages indistinguishable to the peer.
//
//	c := fragment.NewChunker()
//	chunks, err := c.Chunk(env, link.MTU())
//	for _, ch := range chunks {
//	    frame, _ := ch.Serialize()
//	    link.Send(ctx, frame)
//	}
//
// # Reassembler
//
// The [Reassembler] merges concurrently arriving chunks per (path, msgSeq)
// without a global lock, decodes completed frames, and suppresses duplicate
// deliveries of a message id through a seen-set that lives as long as the
// Reassembler. Partial messages idle for longer than the configured timeout
// (30 seconds by default) are evicted by a background sweep; chunks arriving
// later under the same msgSeq start a fresh partial. A chunk whose total
// disagrees with its partial also replaces it, since a sender whose link was
// re-established restarts its msgSeq counter. [Reassembler.DropPath] discards
// every partial of a path when its link goes away.
//
// Errors returned by [Reassembler.AddChunk] are informational: callers log and
// drop. [ErrDuplicate] marks a dedup hit rather than a fault.
package fragment
