package fragment

import (
	"fmt"
	"sync/atomic"

	"github.com/opd-ai/meshcore/envelope"
	"github.com/opd-ai/meshcore/limits"
	"github.com/sirupsen/logrus"
)

// Chunker fragments encoded envelopes into chunks that fit a link MTU.
// It is safe for concurrent use.
type Chunker struct {
	seq atomic.Uint32
}

// NewChunker creates a Chunker whose first message uses msgSeq 0.
func NewChunker() *Chunker {
	return &Chunker{}
}

// Chunk encodes env and splits it into ceil(len/(mtu-8)) chunks sharing one
// msgSeq. The sequence counter advances once per call.
func (c *Chunker) Chunk(env *envelope.Envelope, mtu int) ([]*Chunk, error) {
	if err := limits.ValidateMTU(mtu); err != nil {
		return nil, err
	}

	frame, err := envelope.Encode(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	return c.split(frame, mtu, env.MsgID)
}

func (c *Chunker) split(frame []byte, mtu int, id envelope.MsgID) ([]*Chunk, error) {
	maxData := mtu - HeaderSize
	count := limits.ChunkCount(len(frame), mtu)
	if count > limits.MaxChunks {
		return nil, fmt.Errorf("%w: %d chunks needed at mtu %d", limits.ErrMessageTooLarge, count, mtu)
	}

	seq := c.seq.Add(1) - 1
	chunks := make([]*Chunk, 0, count)

	for i := 0; i < count; i++ {
		start := i * maxData
		end := start + maxData
		if end > len(frame) {
			end = len(frame)
		}
		chunks = append(chunks, &Chunk{
			MsgSeq: seq,
			Index:  uint16(i),
			Total:  uint16(count),
			Data:   frame[start:end],
		})
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Chunker.Chunk",
		"msg_id":    id.String(),
		"msg_seq":   seq,
		"frame_len": len(frame),
		"mtu":       mtu,
		"chunks":    count,
	}).Debug("Envelope fragmented")

	return chunks, nil
}

// CurrentSeq returns the msgSeq the next call to Chunk will use.
func (c *Chunker) CurrentSeq() uint32 {
	return c.seq.Load()
}

// Reset rewinds the sequence counter to zero.
func (c *Chunker) Reset() {
	c.seq.Store(0)
}
