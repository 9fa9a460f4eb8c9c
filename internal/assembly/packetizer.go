// Package assembly splits payloads into sequenced chunks and merges received
// chunks back into the original payload. It knows nothing about transports.
package assembly

import (
	"errors"
	"fmt"
	"math"

	"github.com/1ureka/txbeam/internal/protocol"
)

var (
	ErrChunkSize = errors.New("chunk size must be at least 1 byte")
	ErrTooLarge  = errors.New("payload needs more chunks than the wire format can count")
)

// Chunk splits payload into ceil(len(payload)/maxChunkSize) chunk packets with
// strictly increasing Seq starting at 0. An empty payload yields no chunks.
// Chunk payloads are copies, so the caller may reuse payload afterwards.
func Chunk(payload []byte, maxChunkSize int) ([]*protocol.Packet, error) {
	if maxChunkSize < 1 {
		return nil, ErrChunkSize
	}
	if maxChunkSize > protocol.MaxPayloadLen {
		maxChunkSize = protocol.MaxPayloadLen
	}

	count := (len(payload) + maxChunkSize - 1) / maxChunkSize
	if uint64(count) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d chunks", ErrTooLarge, count)
	}

	chunks := make([]*protocol.Packet, 0, count)
	for offset := 0; offset < len(payload); offset += maxChunkSize {
		end := min(offset+maxChunkSize, len(payload))
		part := make([]byte, end-offset)
		copy(part, payload[offset:end])

		chunks = append(chunks, &protocol.Packet{
			Type:    protocol.TypeChunk,
			Seq:     uint32(len(chunks)),
			Total:   uint32(count),
			Payload: part,
		})
	}
	return chunks, nil
}
