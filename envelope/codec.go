package envelope

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/opd-ai/meshcore/limits"
)

// ErrFormat indicates malformed or truncated wire bytes.
var ErrFormat = errors.New("malformed envelope frame")

// Field offsets within an encoded frame. The payload starts at offPayload;
// isAck and ackForMsgId follow it.
const (
	offLength        = 0
	offMsgID         = 4
	offTopic         = 20
	offTimestamp     = 24
	offTTL           = 32
	offFlags         = 36
	offPayloadLength = 40
	offPayload       = 44

	idSize = 16
)

// EncodedLen returns the size of the encoded frame for e.
func EncodedLen(e *Envelope) int {
	return limits.EnvelopeOverhead + len(e.Payload)
}

// Encode serializes an envelope into a single length-prefixed frame.
func Encode(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	total := EncodedLen(e)
	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[offLength:], uint32(total))
	copy(buf[offMsgID:offMsgID+idSize], e.MsgID[:])
	binary.LittleEndian.PutUint32(buf[offTopic:], e.TopicID)
	binary.LittleEndian.PutUint64(buf[offTimestamp:], uint64(e.Timestamp))
	binary.LittleEndian.PutUint32(buf[offTTL:], e.TTL)
	binary.LittleEndian.PutUint32(buf[offFlags:], uint32(e.Flags))
	binary.LittleEndian.PutUint32(buf[offPayloadLength:], uint32(len(e.Payload)))

	off := offPayload
	off += copy(buf[off:], e.Payload)

	if e.IsAck {
		buf[off] = 1
	}
	off++

	// Absent ids stay as the zero bytes make() produced.
	if e.IsAck {
		copy(buf[off:off+idSize], e.AckForMsgID[:])
	}

	return buf, nil
}

// Decode parses a frame produced by Encode. Every declared length is checked
// against the bytes actually available before slicing.
func Decode(data []byte) (*Envelope, error) {
	if len(data) < limits.EnvelopeOverhead {
		return nil, fmt.Errorf("%w: frame too short: %d bytes (minimum %d)", ErrFormat, len(data), limits.EnvelopeOverhead)
	}

	total := binary.LittleEndian.Uint32(data[offLength:])
	if uint64(total) != uint64(len(data)) {
		return nil, fmt.Errorf("%w: declared length %d, have %d bytes", ErrFormat, total, len(data))
	}
	if total > limits.MaxFrameSize {
		return nil, fmt.Errorf("%w: declared length %d exceeds limit %d", ErrFormat, total, limits.MaxFrameSize)
	}

	payloadLen := binary.LittleEndian.Uint32(data[offPayloadLength:])
	if uint64(payloadLen) != uint64(total)-limits.EnvelopeOverhead {
		return nil, fmt.Errorf("%w: declared payload length %d does not fit frame of %d bytes", ErrFormat, payloadLen, total)
	}

	e := &Envelope{
		TopicID:   binary.LittleEndian.Uint32(data[offTopic:]),
		Timestamp: int64(binary.LittleEndian.Uint64(data[offTimestamp:])),
		TTL:       binary.LittleEndian.Uint32(data[offTTL:]),
		Flags:     Flags(binary.LittleEndian.Uint32(data[offFlags:])),
	}
	copy(e.MsgID[:], data[offMsgID:offMsgID+idSize])

	off := offPayload
	e.Payload = make([]byte, payloadLen)
	copy(e.Payload, data[off:off+int(payloadLen)])
	off += int(payloadLen)

	e.IsAck = data[off] != 0
	off++

	if e.IsAck {
		var ackFor uuid.UUID
		copy(ackFor[:], data[off:off+idSize])
		// An all-zero id decodes as absent.
		e.AckForMsgID = ackFor
	}

	return e, nil
}
