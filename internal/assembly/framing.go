package assembly

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/1ureka/txbeam/internal/protocol"
)

var ErrSentinelCollision = errors.New("payload window collides with the end-of-message sentinel")

// Framing turns a payload into frames on the Sender side and frames back into
// a payload on the Receiver side. Both protocol variants implement it, so the
// session never branches on which one is in use.
type Framing interface {
	Name() string
	// Split returns the data frames followed by the terminal frame. No frame
	// exceeds mtu bytes.
	Split(payload []byte, mtu int) (frames [][]byte, end []byte, err error)
	NewCollector() Collector
}

// Collector accumulates inbound frames of one transfer.
type Collector interface {
	// Collect consumes one frame. A non-nil error means the frame was
	// discarded; the transfer may still complete.
	Collect(frame []byte) (done bool, err error)
	Progress() float64
	Payload() ([]byte, error)
}

// FramingByName resolves "sequenced" or "sentinel".
func FramingByName(name string) (Framing, error) {
	switch name {
	case "", Sequenced.Name():
		return Sequenced, nil
	case Sentinel.Name():
		return Sentinel, nil
	default:
		return nil, fmt.Errorf("unknown framing %q", name)
	}
}

// ---------------------------------------------------------------------------
// Sequenced: length-prefixed chunk packets plus an END packet.
// ---------------------------------------------------------------------------

// Sequenced is the default framing.
var Sequenced Framing = sequenced{}

type sequenced struct{}

func (sequenced) Name() string { return "sequenced" }

func (sequenced) Split(payload []byte, mtu int) ([][]byte, []byte, error) {
	size := protocol.MaxChunkSize(mtu)
	if size < 1 {
		return nil, nil, fmt.Errorf("%w: mtu %d cannot hold a %d byte header", ErrChunkSize, mtu, protocol.HeaderSize)
	}

	chunks, err := Chunk(payload, size)
	if err != nil {
		return nil, nil, err
	}

	frames := make([][]byte, len(chunks))
	for i, c := range chunks {
		frames[i] = protocol.Encode(c)
	}
	end := protocol.Encode(&protocol.Packet{Type: protocol.TypeEnd, Total: uint32(len(chunks))})
	return frames, end, nil
}

func (sequenced) NewCollector() Collector {
	return &sequencedCollector{buf: NewIncomingBuffer()}
}

type sequencedCollector struct {
	buf     *IncomingBuffer
	ended   bool
	endSize uint32
}

func (c *sequencedCollector) Collect(frame []byte) (bool, error) {
	pkt, err := protocol.Decode(frame)
	if err != nil {
		return false, err
	}

	// The end marker only announces the chunk count. On an unordered link it
	// can overtake the last chunks, so collection continues until the buffer
	// is complete.
	if pkt.Type == protocol.TypeEnd {
		if c.buf.Len() > 0 && pkt.Total != c.buf.Expected() {
			return false, fmt.Errorf("%w: end announces %d, expected %d", ErrProtocolMismatch, pkt.Total, c.buf.Expected())
		}
		c.ended = true
		c.endSize = pkt.Total
		return c.buf.Complete() || (pkt.Total == 0 && c.buf.Len() == 0), nil
	}

	if c.ended && pkt.Total != c.endSize {
		return false, fmt.Errorf("%w: got %d, end announced %d (seq %d)", ErrProtocolMismatch, pkt.Total, c.endSize, pkt.Seq)
	}
	if _, err := c.buf.Add(pkt); err != nil {
		return false, err
	}
	return c.buf.Complete(), nil
}

func (c *sequencedCollector) Progress() float64 { return c.buf.Fraction() }

func (c *sequencedCollector) Payload() ([]byte, error) {
	// An END announcing zero chunks with nothing buffered is a complete,
	// empty transfer.
	if c.ended && c.endSize == 0 && c.buf.Len() == 0 {
		return []byte{}, nil
	}
	return c.buf.Reassemble()
}

// ---------------------------------------------------------------------------
// Sentinel: raw payload windows terminated by "EOM". Kept for peers that
// predate the sequenced framing; it has no loss or duplicate detection.
// ---------------------------------------------------------------------------

// Sentinel is the legacy framing.
var Sentinel Framing = sentinel{}

const sentinelStep = 0.05

type sentinel struct{}

func (sentinel) Name() string { return "sentinel" }

func (sentinel) Split(payload []byte, mtu int) ([][]byte, []byte, error) {
	if mtu < 1 {
		return nil, nil, ErrChunkSize
	}

	var frames [][]byte
	for offset := 0; offset < len(payload); offset += mtu {
		end := min(offset+mtu, len(payload))
		window := bytes.Clone(payload[offset:end])
		if protocol.IsSentinel(window) {
			return nil, nil, fmt.Errorf("%w: window at offset %d", ErrSentinelCollision, offset)
		}
		frames = append(frames, window)
	}
	return frames, bytes.Clone(protocol.Sentinel), nil
}

func (sentinel) NewCollector() Collector { return &sentinelCollector{} }

type sentinelCollector struct {
	data     []byte
	progress float64
	ended    bool
}

func (c *sentinelCollector) Collect(frame []byte) (bool, error) {
	if protocol.IsSentinel(frame) {
		c.ended = true
		return true, nil
	}
	c.data = append(c.data, frame...)
	c.progress = min(c.progress+sentinelStep, 0.95)
	return false, nil
}

func (c *sentinelCollector) Progress() float64 { return c.progress }

func (c *sentinelCollector) Payload() ([]byte, error) {
	if !c.ended {
		return nil, fmt.Errorf("%w: no end-of-message sentinel", ErrIncomplete)
	}
	return append([]byte{}, c.data...), nil
}
