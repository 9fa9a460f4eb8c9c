package protocol

import "bytes"

// Sentinel terminates a transfer in the legacy framing, where frames are raw
// windows of the payload with no header at all.
var Sentinel = []byte("EOM")

// IsSentinel reports whether frame is exactly the legacy end-of-message marker.
func IsSentinel(frame []byte) bool {
	return bytes.Equal(frame, Sentinel)
}
