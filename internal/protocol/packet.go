// Package protocol defines the frame format used to move a payload across a
// small-MTU notify channel.
package protocol

// Packet type constants.
const (
	TypeChunk uint8 = 0x01 // One sequenced fragment of the payload
	TypeEnd   uint8 = 0x02 // End-of-stream marker, sent after the last chunk
)

// HeaderSize is the fixed header size: Type(1) + Seq(4) + Total(4) + Length(2).
const HeaderSize = 11

// MaxPayloadLen is the largest payload the Length field can describe.
const MaxPayloadLen = 0xFFFF

// Packet is one frame on the wire. Every frame carries its own Seq and Total
// so it can be interpreted regardless of arrival order.
type Packet struct {
	Type    uint8  // TypeChunk or TypeEnd
	Seq     uint32 // 0-based chunk index, unused on TypeEnd
	Total   uint32 // number of chunks in the transfer
	Payload []byte // only used for TypeChunk
}

// MaxChunkSize returns the largest chunk payload that fits a frame of mtu
// bytes, or 0 when the mtu cannot hold a header plus one payload byte.
func MaxChunkSize(mtu int) int {
	n := mtu - HeaderSize
	if n < 1 {
		return 0
	}
	if n > MaxPayloadLen {
		return MaxPayloadLen
	}
	return n
}
