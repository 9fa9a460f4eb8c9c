package assembly

import (
	"errors"
	"fmt"

	"github.com/1ureka/txbeam/internal/protocol"
)

var (
	ErrIncomplete       = errors.New("transfer incomplete")
	ErrProtocolMismatch = errors.New("chunk total disagrees with transfer")
)

// IncomingBuffer collects chunks of one transfer in any arrival order.
// It is owned by a single goroutine and needs no locking.
type IncomingBuffer struct {
	received map[uint32][]byte
	expected uint32
	known    bool
}

// NewIncomingBuffer creates an empty buffer. The expected total is taken from
// the first chunk added.
func NewIncomingBuffer() *IncomingBuffer {
	return &IncomingBuffer{received: make(map[uint32][]byte)}
}

// Add records a chunk. It returns false for a duplicate index, and
// ErrProtocolMismatch (leaving the buffer untouched) when the chunk's Total
// disagrees with the first chunk seen.
func (b *IncomingBuffer) Add(pkt *protocol.Packet) (bool, error) {
	if pkt.Type != protocol.TypeChunk {
		return false, fmt.Errorf("%w: type 0x%02x is not a chunk", protocol.ErrDecode, pkt.Type)
	}
	if pkt.Seq >= pkt.Total {
		return false, fmt.Errorf("%w: seq %d out of range (total %d)", protocol.ErrDecode, pkt.Seq, pkt.Total)
	}

	if !b.known {
		b.expected = pkt.Total
		b.known = true
	} else if pkt.Total != b.expected {
		return false, fmt.Errorf("%w: got %d, expected %d (seq %d)", ErrProtocolMismatch, pkt.Total, b.expected, pkt.Seq)
	}

	if _, dup := b.received[pkt.Seq]; dup {
		return false, nil
	}
	b.received[pkt.Seq] = pkt.Payload
	return true, nil
}

// Len returns the number of distinct chunks received.
func (b *IncomingBuffer) Len() int { return len(b.received) }

// Expected returns the total taken from the first chunk, or 0 before any chunk.
func (b *IncomingBuffer) Expected() uint32 { return b.expected }

// Complete reports whether every chunk of the transfer has been received.
func (b *IncomingBuffer) Complete() bool {
	return b.known && uint32(len(b.received)) == b.expected
}

// Fraction returns received/expected in [0, 1].
func (b *IncomingBuffer) Fraction() float64 {
	if !b.known || b.expected == 0 {
		return 0
	}
	return float64(len(b.received)) / float64(b.expected)
}

// Reassemble concatenates the chunks in ascending Seq order. It never returns
// partial data and does not modify the buffer, so it may be called repeatedly.
func (b *IncomingBuffer) Reassemble() ([]byte, error) {
	if !b.Complete() {
		return nil, fmt.Errorf("%w: %d of %d chunks", ErrIncomplete, len(b.received), b.expected)
	}

	size := 0
	for _, part := range b.received {
		size += len(part)
	}

	out := make([]byte, 0, size)
	for seq := uint32(0); seq < b.expected; seq++ {
		out = append(out, b.received[seq]...)
	}
	return out, nil
}
