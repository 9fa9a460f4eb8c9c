// Package rtclink is a link backend over WebRTC. A Peripheral advertises
// through a small WebSocket server that also carries the SDP/ICE exchange; a
// Central probes known peer URLs in place of a radio scan. Frames travel on a
// single pre-negotiated DataChannel whose buffered amount provides the
// backpressure signal.
package rtclink

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/txbeam/internal/util"
)

// DefaultICEServers are used for candidate gathering when none are given.
// No TURN: both devices are expected to share a network.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

const (
	highWaterMark = 256 * 1024 // report BufferFull above this many buffered bytes
	lowWaterMark  = 64 * 1024  // fire the ready callback once buffered bytes drop below this
)

// Control messages sent by the Central over the DataChannel as text.
const (
	ctrlSubscribe   = "subscribe"
	ctrlUnsubscribe = "unsubscribe"
)

// peer is one PeerConnection with its DataChannel.
type peer struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	opened    chan struct{}
	openOnce  sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

// newPeer creates a PeerConnection and a pre-negotiated DataChannel (ID 0).
// Both sides create the channel themselves, so OnDataChannel is never needed.
func newPeer(iceServers []string, ordered bool) (*peer, error) {
	if len(iceServers) == 0 {
		iceServers = DefaultICEServers
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	})
	if err != nil {
		return nil, err
	}

	negotiated := true
	id := uint16(0)
	dc, err := pc.CreateDataChannel("txbeam", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		pc.Close()
		return nil, err
	}

	p := &peer{
		pc:     pc,
		dc:     dc,
		opened: make(chan struct{}),
		closed: make(chan struct{}),
	}

	dc.OnOpen(func() {
		p.openOnce.Do(func() { close(p.opened) })
	})
	dc.OnClose(func() {
		util.LogDebug("DataChannel closed")
		p.markClosed()
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			p.markClosed()
		}
	})

	return p, nil
}

func (p *peer) markClosed() {
	p.closeOnce.Do(func() { close(p.closed) })
}

func (p *peer) close() error {
	p.markClosed()
	return p.pc.Close()
}
