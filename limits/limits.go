package limits

import (
	"errors"
	"fmt"
)

const (
	// ChunkHeaderSize is the fixed chunk header: u32 msgSeq, u16 index, u16 total.
	ChunkHeaderSize = 8

	// MinMTU is the smallest frame that can carry a chunk header and one data byte.
	MinMTU = ChunkHeaderSize + 1

	// DefaultMTU is the default attribute payload size of a freshly connected radio link.
	DefaultMTU = 23

	// MaxChunks is the largest chunk count representable in the u16 total field.
	MaxChunks = 0xFFFF

	// EnvelopeOverhead is the encoded size of an Envelope with an empty payload:
	// length(4) + msgId(16) + topic(4) + timestamp(8) + ttl(4) + flags(4) +
	// payloadLength(4) + isAck(1) + ackForMsgId(16).
	EnvelopeOverhead = 61

	// MaxPayload is the largest payload an Envelope may carry.
	MaxPayload = 32 * 1024

	// MaxFrameSize is the largest encoded Envelope accepted by the codec.
	MaxFrameSize = MaxPayload + EnvelopeOverhead

	// EncryptionOverhead is the XChaCha20-Poly1305 nonce (24) plus tag (16)
	// added by the session cipher.
	EncryptionOverhead = 24 + 16

	// MaxPlaintextPayload is the largest application payload the node accepts.
	MaxPlaintextPayload = MaxPayload - EncryptionOverhead

	// SignatureOverhead is the Ed25519 signer key (32) plus signature (64)
	// attached to signed payloads.
	SignatureOverhead = 32 + 64

	// MaxSignedPlaintextPayload is the largest payload a signing node accepts.
	MaxSignedPlaintextPayload = MaxPlaintextPayload - SignatureOverhead
)

var (
	// ErrMessageEmpty means a payload that must carry data was empty.
	ErrMessageEmpty = errors.New("empty message")
	// ErrMessageTooLarge means a payload or frame exceeds a size limit.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrInvalidMTU means a link MTU cannot carry a chunk.
	ErrInvalidMTU = errors.New("invalid mtu")
)

func checkSize(kind string, n, max int, allowEmpty bool) error {
	if n == 0 && !allowEmpty {
		return ErrMessageEmpty
	}
	if n > max {
		return fmt.Errorf("%w: %s size %d exceeds limit %d", ErrMessageTooLarge, kind, n, max)
	}
	return nil
}

// ValidatePlaintextPayload checks an application payload before it is
// wrapped in an envelope. The limit leaves room for session encryption.
func ValidatePlaintextPayload(payload []byte) error {
	return checkSize("plaintext", len(payload), MaxPlaintextPayload, false)
}

// ValidateSignedPayload checks an application payload that will be signed
// before it is wrapped.
func ValidateSignedPayload(payload []byte) error {
	return checkSize("signed plaintext", len(payload), MaxSignedPlaintextPayload, false)
}

// ValidatePayload checks a wire payload. ACK envelopes carry none, so empty
// is allowed.
func ValidatePayload(payload []byte) error {
	return checkSize("payload", len(payload), MaxPayload, true)
}

// ValidateMTU checks that a link MTU can carry a chunk header plus one data
// byte. There is no upper bound; a link reports its own frame limit.
func ValidateMTU(mtu int) error {
	if mtu < MinMTU {
		return fmt.Errorf("%w: %d below minimum %d", ErrInvalidMTU, mtu, MinMTU)
	}
	return nil
}

// ChunkCount returns how many chunks a frame of frameLen bytes needs at the given MTU.
func ChunkCount(frameLen, mtu int) int {
	maxData := mtu - ChunkHeaderSize
	if maxData <= 0 {
		return 0
	}
	if frameLen <= maxData {
		return 1
	}
	return (frameLen + maxData - 1) / maxData
}
