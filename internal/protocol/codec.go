package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrDecode is wrapped by every error returned from Decode.
var ErrDecode = errors.New("malformed frame")

// Encode serializes a Packet into a single frame.
func Encode(pkt *Packet) []byte {
	buf := make([]byte, HeaderSize+len(pkt.Payload))
	buf[0] = pkt.Type
	binary.BigEndian.PutUint32(buf[1:5], pkt.Seq)
	binary.BigEndian.PutUint32(buf[5:9], pkt.Total)
	binary.BigEndian.PutUint16(buf[9:11], uint16(len(pkt.Payload)))
	copy(buf[HeaderSize:], pkt.Payload)
	return buf
}

// Decode deserializes a frame into a Packet. The returned payload never
// aliases data.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes (need at least %d)", ErrDecode, len(data), HeaderSize)
	}

	pkt := &Packet{
		Type:  data[0],
		Seq:   binary.BigEndian.Uint32(data[1:5]),
		Total: binary.BigEndian.Uint32(data[5:9]),
	}
	length := int(binary.BigEndian.Uint16(data[9:11]))

	if rest := len(data) - HeaderSize; rest != length {
		return nil, fmt.Errorf("%w: length field says %d bytes, frame carries %d", ErrDecode, length, rest)
	}

	switch pkt.Type {
	case TypeChunk:
		if pkt.Seq >= pkt.Total {
			return nil, fmt.Errorf("%w: seq %d out of range (total %d)", ErrDecode, pkt.Seq, pkt.Total)
		}
	case TypeEnd:
		if length != 0 {
			return nil, fmt.Errorf("%w: end marker with %d payload bytes", ErrDecode, length)
		}
	default:
		return nil, fmt.Errorf("%w: unknown type 0x%02x", ErrDecode, pkt.Type)
	}

	if length > 0 {
		pkt.Payload = make([]byte, length)
		copy(pkt.Payload, data[HeaderSize:])
	}
	return pkt, nil
}
