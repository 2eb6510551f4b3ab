// Package envelope defines the logical message unit of the mesh protocol and
// its binary wire codec.
//
// An [Envelope] carries an opaque application payload together with the
// routing metadata the flood router needs: a 128-bit message id, a topic, a
// creation timestamp, a hop budget (TTL) and a flag bitmask. ACK envelopes
// additionally reference the message they acknowledge.
//
// # Wire Format
//
// Envelopes encode to a single length-prefixed frame. All integers are
// little-endian; 128-bit ids are written high 8 bytes first, each half
// big-endian, which is the standard UUID byte order:
//
//	[u32 totalLength][16B msgId][u32 topicId][u64 timestamp][u32 ttl]
//	[u32 flags][u32 payloadLength][payload][u8 isAck][16B ackForMsgId]
//
// totalLength covers the whole frame including itself. ackForMsgId is sixteen
// zero bytes when absent. The layout is bit-exact so independent
// implementations interoperate.
//
// # Decoding Untrusted Frames
//
// [Decode] never trusts peer-supplied lengths: the declared total length must
// equal the number of bytes available, must not exceed [limits.MaxFrameSize],
// and the declared payload length must match the remaining space exactly.
// Violations return an error wrapping [ErrFormat].
//
// Example:
//
//	env := envelope.New(envelope.TopicBroadcast, []byte("hello"))
//	frame, err := envelope.Encode(env)
//	if err != nil {
//	    return err
//	}
//	decoded, err := envelope.Decode(frame)
//
// Envelopes are values: relaying produces a copy with a decremented TTL via
// [Envelope.DecrementTTL] rather than mutating the received envelope.
package envelope
