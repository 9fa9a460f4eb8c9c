// Package link defines the capabilities a short-range radio must offer for a
// transfer session: advertise and scan, connect, subscribe to a notify
// channel, and send with backpressure.
//
// Implementations deliver callbacks asynchronously; a registered callback is
// never invoked from inside one of the implementation's own methods.
package link

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrUnavailable     = errors.New("radio unavailable")
	ErrPeerNotFound    = errors.New("peer not found")
	ErrChannelNotFound = errors.New("service or channel not found on peer")
	ErrSendRejected    = errors.New("send rejected by transport")
	// ErrPeerGone accompanies ErrSendRejected when the subscriber has
	// unsubscribed or disconnected.
	ErrPeerGone = errors.New("subscriber has left")
)

// Service identifies what a Sender advertises: the service the Receiver scans
// for and the data channel it subscribes to.
type Service struct {
	ID      uuid.UUID
	Channel uuid.UUID
}

// Advertisement is one discovery result.
type Advertisement struct {
	PeerID string
	Name   string
	RSSI   int // signal strength in dBm
}

// SendResult is the outcome of a Notify call that did not fail.
type SendResult int

const (
	Accepted   SendResult = iota // frame queued for delivery
	BufferFull                   // frame not queued; wait for OnReady before retrying
)

func (r SendResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case BufferFull:
		return "buffer full"
	default:
		return "unknown"
	}
}

// Peripheral is the Sender side of the radio.
type Peripheral interface {
	Advertise(svc Service) error
	StopAdvertise() error
	// OnSubscribe registers the callback fired when a peer subscribes to the
	// advertised data channel.
	OnSubscribe(fn func())
	// OnReady registers the callback fired when the outbound buffer has room
	// again after Notify returned BufferFull.
	OnReady(fn func())
	// Notify pushes one frame to the subscribed peer. A non-nil error is a
	// permanent refusal and wraps ErrSendRejected.
	Notify(frame []byte) (SendResult, error)
}

// Central is the Receiver side of the radio.
type Central interface {
	StartScan(serviceID uuid.UUID, fn func(Advertisement)) error
	StopScan() error
	Connect(ctx context.Context, peerID string) error
	DiscoverChannel(peerID string, svc Service) (Channel, error)
	Disconnect(peerID string) error
}

// Channel is a subscribable notify channel on a connected peer.
type Channel interface {
	Subscribe(fn func(frame []byte)) error
	Unsubscribe() error
}
