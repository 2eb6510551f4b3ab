package envelope

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/meshcore/limits"
)

// MsgID is the globally unique 128-bit identifier of a logical message.
type MsgID = uuid.UUID

// Flags is the envelope flag bitmask.
type Flags uint32

const (
	// FlagAck marks an acknowledgement frame.
	FlagAck Flags = 0x01
	// FlagUrgent asks relays to prioritise the envelope.
	FlagUrgent Flags = 0x02
	// FlagEncrypted marks a payload sealed by the session cipher.
	FlagEncrypted Flags = 0x04
	// FlagSigned marks a payload carrying a signature.
	FlagSigned Flags = 0x08
)

const (
	// DefaultTTL is the hop budget given to newly originated envelopes.
	DefaultTTL uint32 = 8

	// TopicLocal addresses the directly connected peer; never relayed.
	TopicLocal uint32 = 0

	// TopicBroadcast addresses every node reachable within the TTL.
	TopicBroadcast uint32 = 1
)

// ErrInvalidEnvelope indicates an envelope violating the ACK invariants.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope is the logical application message unit with routing metadata.
type Envelope struct {
	MsgID     MsgID
	TopicID   uint32
	Timestamp int64 // milliseconds since the Unix epoch
	TTL       uint32
	Flags     Flags
	Payload   []byte
	IsAck     bool

	// AckForMsgID is uuid.Nil unless IsAck is set.
	AckForMsgID MsgID
}

// NewMsgID returns a fresh random message id.
func NewMsgID() MsgID {
	return uuid.New()
}

// New creates an envelope with a fresh id, the current time and DefaultTTL.
func New(topicID uint32, payload []byte) *Envelope {
	return &Envelope{
		MsgID:     NewMsgID(),
		TopicID:   topicID,
		Timestamp: time.Now().UnixMilli(),
		TTL:       DefaultTTL,
		Payload:   clonePayload(payload),
	}
}

// NewAck creates an acknowledgement for originalMsgID. ACKs carry no payload
// and a zero TTL: they are consumed by the neighbour that receives them.
func NewAck(originalMsgID MsgID, topicID uint32) *Envelope {
	return &Envelope{
		MsgID:       NewMsgID(),
		TopicID:     topicID,
		Timestamp:   time.Now().UnixMilli(),
		TTL:         0,
		Flags:       FlagAck,
		Payload:     []byte{},
		IsAck:       true,
		AckForMsgID: originalMsgID,
	}
}

// NewEncrypted creates an envelope whose payload was sealed by the session cipher.
func NewEncrypted(msgID MsgID, topicID uint32, payload []byte, ttl uint32) *Envelope {
	return &Envelope{
		MsgID:     msgID,
		TopicID:   topicID,
		Timestamp: time.Now().UnixMilli(),
		TTL:       ttl,
		Flags:     FlagEncrypted,
		Payload:   clonePayload(payload),
	}
}

// NewSigned creates an envelope whose payload carries a signature.
func NewSigned(msgID MsgID, topicID uint32, payload []byte, ttl uint32) *Envelope {
	return &Envelope{
		MsgID:     msgID,
		TopicID:   topicID,
		Timestamp: time.Now().UnixMilli(),
		TTL:       ttl,
		Flags:     FlagSigned,
		Payload:   clonePayload(payload),
	}
}

// Validate checks the ACK invariants and the payload bound.
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil envelope", ErrInvalidEnvelope)
	}
	if e.IsAck {
		if e.AckForMsgID == uuid.Nil {
			return fmt.Errorf("%w: ack without ackForMsgId", ErrInvalidEnvelope)
		}
		if e.TTL != 0 {
			return fmt.Errorf("%w: ack with ttl %d", ErrInvalidEnvelope, e.TTL)
		}
	} else if e.AckForMsgID != uuid.Nil {
		return fmt.Errorf("%w: ackForMsgId set on non-ack envelope", ErrInvalidEnvelope)
	}
	if err := limits.ValidatePayload(e.Payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return nil
}

// DecrementTTL returns a copy with the TTL reduced by one, floored at zero.
func (e *Envelope) DecrementTTL() *Envelope {
	c := e.Clone()
	if c.TTL > 0 {
		c.TTL--
	}
	return c
}

// Clone returns a deep copy of the envelope.
func (e *Envelope) Clone() *Envelope {
	c := *e
	c.Payload = clonePayload(e.Payload)
	return &c
}

// WithPayload returns a copy carrying a different payload and flags.
func (e *Envelope) WithPayload(payload []byte, flags Flags) *Envelope {
	c := *e
	c.Payload = clonePayload(payload)
	c.Flags = flags
	return &c
}

// Equal reports whether two envelopes carry identical fields. Payloads are
// compared byte-wise, so nil and empty payloads are equal.
func (e *Envelope) Equal(other *Envelope) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.MsgID == other.MsgID &&
		e.TopicID == other.TopicID &&
		e.Timestamp == other.Timestamp &&
		e.TTL == other.TTL &&
		e.Flags == other.Flags &&
		bytes.Equal(e.Payload, other.Payload) &&
		e.IsAck == other.IsAck &&
		e.AckForMsgID == other.AckForMsgID
}

// IsExpired reports whether the hop budget is exhausted.
func (e *Envelope) IsExpired() bool { return e.TTL == 0 }

// IsEncrypted reports whether FlagEncrypted is set.
func (e *Envelope) IsEncrypted() bool { return e.Flags&FlagEncrypted != 0 }

// IsSigned reports whether FlagSigned is set.
func (e *Envelope) IsSigned() bool { return e.Flags&FlagSigned != 0 }

// IsUrgent reports whether FlagUrgent is set.
func (e *Envelope) IsUrgent() bool { return e.Flags&FlagUrgent != 0 }

// HasAckFor reports whether the envelope references an acknowledged message.
func (e *Envelope) HasAckFor() bool { return e.AckForMsgID != uuid.Nil }

// PayloadHex returns the payload as lowercase hex.
func (e *Envelope) PayloadHex() string { return hex.EncodeToString(e.Payload) }

// CreatedAt returns the creation timestamp as a time.Time.
func (e *Envelope) CreatedAt() time.Time { return time.UnixMilli(e.Timestamp) }

func clonePayload(p []byte) []byte {
	out := make([]byte, len(p))
	copy(out, p)
	return out
}
