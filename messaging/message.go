package messaging

import (
	"time"

	"github.com/opd-ai/meshcore/envelope"
)

// DeliveryStatus represents the delivery state of an outgoing message.
type DeliveryStatus uint8

const (
	// StatusSending means the chunks are being written to the link.
	StatusSending DeliveryStatus = iota
	// StatusSent means every chunk was handed to the link.
	StatusSent
	// StatusDelivered means an ACK for the message arrived.
	StatusDelivered
	// StatusFailed means the hand-off to the link failed.
	StatusFailed
)

// String returns the upper-case status name.
func (s DeliveryStatus) String() string {
	switch s {
	case StatusSending:
		return "SENDING"
	case StatusSent:
		return "SENT"
	case StatusDelivered:
		return "DELIVERED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s DeliveryStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// canTransition reports whether moving from s to next keeps the state machine monotonic.
func (s DeliveryStatus) canTransition(next DeliveryStatus) bool {
	switch s {
	case StatusSending:
		return next == StatusSent || next == StatusDelivered || next == StatusFailed
	case StatusSent:
		return next == StatusDelivered
	default:
		return false
	}
}

// StatusCallback is called after a record changes state. The record is a snapshot.
type StatusCallback func(rec OutgoingMessage)

// OutgoingMessage is the delivery record of one envelope sent to one peer.
type OutgoingMessage struct {
	MsgID       envelope.MsgID
	PeerID      string
	Envelope    *envelope.Envelope
	Status      DeliveryStatus
	CreatedAt   time.Time
	SentAt      time.Time
	DeliveredAt time.Time
	FailedAt    time.Time
}

// apply moves the record to next and stamps the matching timestamp.
// It returns false if the transition is not allowed.
func (m *OutgoingMessage) apply(next DeliveryStatus, now time.Time) bool {
	if !m.Status.canTransition(next) {
		return false
	}

	m.Status = next
	switch next {
	case StatusSent:
		m.SentAt = now
	case StatusDelivered:
		m.DeliveredAt = now
	case StatusFailed:
		m.FailedAt = now
	}
	return true
}
