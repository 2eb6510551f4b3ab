package fragment

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/meshcore/limits"
)

// HeaderSize is the encoded chunk header length.
const HeaderSize = limits.ChunkHeaderSize

// ErrInvalidChunk indicates a chunk header that violates index < total or total >= 1.
var ErrInvalidChunk = errors.New("invalid chunk")

// Chunk is one transport-sized fragment of an encoded envelope.
type Chunk struct {
	MsgSeq uint32
	Index  uint16
	Total  uint16
	Data   []byte
}

// Validate checks the header invariants.
func (c *Chunk) Validate() error {
	if c.Total == 0 {
		return fmt.Errorf("%w: total is zero", ErrInvalidChunk)
	}
	if c.Index >= c.Total {
		return fmt.Errorf("%w: index %d not below total %d", ErrInvalidChunk, c.Index, c.Total)
	}
	return nil
}

// Serialize converts the chunk to its wire form.
func (c *Chunk) Serialize() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, HeaderSize+len(c.Data))
	binary.LittleEndian.PutUint32(buf[0:4], c.MsgSeq)
	binary.LittleEndian.PutUint16(buf[4:6], c.Index)
	binary.LittleEndian.PutUint16(buf[6:8], c.Total)
	copy(buf[HeaderSize:], c.Data)

	return buf, nil
}

// ParseChunk parses a chunk from its wire form. The data is copied.
func ParseChunk(frame []byte) (*Chunk, error) {
	if len(frame) < HeaderSize {
		return nil, fmt.Errorf("%w: frame too short: %d bytes", ErrInvalidChunk, len(frame))
	}

	c := &Chunk{
		MsgSeq: binary.LittleEndian.Uint32(frame[0:4]),
		Index:  binary.LittleEndian.Uint16(frame[4:6]),
		Total:  binary.LittleEndian.Uint16(frame[6:8]),
		Data:   make([]byte, len(frame)-HeaderSize),
	}
	copy(c.Data, frame[HeaderSize:])

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// IsFirst reports whether this is the first chunk of its message.
func (c *Chunk) IsFirst() bool { return c.Index == 0 }

// IsLast reports whether this is the final chunk of its message.
func (c *Chunk) IsLast() bool { return c.Index == c.Total-1 }

// IsSingle reports whether the message fits in this one chunk.
func (c *Chunk) IsSingle() bool { return c.Total == 1 }

// Size returns the on-wire size of the chunk.
func (c *Chunk) Size() int { return HeaderSize + len(c.Data) }
