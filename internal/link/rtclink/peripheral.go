package rtclink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/txbeam/internal/link"
	"github.com/1ureka/txbeam/internal/util"
)

// DefaultListen is the advertising address used when none is configured.
const DefaultListen = ":7345"

const negotiateTimeout = 30 * time.Second

// PeripheralOptions configures the Sender side.
type PeripheralOptions struct {
	Name          string        // shown to scanners
	Listen        string        // signaling address, DefaultListen if empty
	ICEServers    []string      // DefaultICEServers if empty
	Ordered       bool          // in-order DataChannel delivery; needed by sentinel framing
	HangupTimeout time.Duration // how long Close waits for the peer to leave
}

// Peripheral is a link.Peripheral backed by a WebSocket advertiser and a
// WebRTC DataChannel.
type Peripheral struct {
	opts PeripheralOptions

	mu          sync.Mutex
	svc         link.Service
	advertising bool
	listener    net.Listener
	server      *http.Server
	onSubscribe func()
	onReady     func()
	peer        *peer
	subscribed  bool
	gone        bool
	full        bool
}

var _ link.Peripheral = (*Peripheral)(nil)

func NewPeripheral(opts PeripheralOptions) *Peripheral {
	if opts.Listen == "" {
		opts.Listen = DefaultListen
	}
	if opts.HangupTimeout == 0 {
		opts.HangupTimeout = 5 * time.Second
	}
	return &Peripheral{opts: opts}
}

// Advertise implements link.Peripheral by serving /ws on the listen address.
func (p *Peripheral) Advertise(svc link.Service) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.advertising {
		return nil
	}

	listener, err := net.Listen("tcp", p.opts.Listen)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %w", link.ErrUnavailable, p.opts.Listen, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", p.handleWS)
	server := &http.Server{Handler: mux}
	go func() {
		_ = server.Serve(listener)
	}()

	p.svc = svc
	p.advertising = true
	p.listener = listener
	p.server = server
	util.LogInfo("advertising %q on ws://%s/ws", p.opts.Name, listener.Addr())
	return nil
}

// Addr is the address the advertiser listens on, or nil before Advertise.
func (p *Peripheral) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// StopAdvertise implements link.Peripheral. An established DataChannel is
// not affected.
func (p *Peripheral) StopAdvertise() error {
	p.mu.Lock()
	server := p.server
	p.advertising = false
	p.server = nil
	p.listener = nil
	p.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Close()
}

// OnSubscribe implements link.Peripheral.
func (p *Peripheral) OnSubscribe(fn func()) {
	p.mu.Lock()
	p.onSubscribe = fn
	p.mu.Unlock()
}

// OnReady implements link.Peripheral.
func (p *Peripheral) OnReady(fn func()) {
	p.mu.Lock()
	p.onReady = fn
	p.mu.Unlock()
}

// Notify implements link.Peripheral.
func (p *Peripheral) Notify(frame []byte) (link.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.subscribed {
		if p.gone {
			return 0, fmt.Errorf("%w: %w", link.ErrSendRejected, link.ErrPeerGone)
		}
		return 0, fmt.Errorf("%w: no subscriber", link.ErrSendRejected)
	}

	dc := p.peer.dc
	if dc.BufferedAmount() > highWaterMark {
		p.full = true
		// The low-water callback may have fired before full was set.
		if dc.BufferedAmount() <= lowWaterMark {
			p.full = false
			p.fireReadyLocked()
		}
		return link.BufferFull, nil
	}

	if err := dc.Send(frame); err != nil {
		return 0, fmt.Errorf("%w: %w", link.ErrSendRejected, err)
	}
	return link.Accepted, nil
}

// Close waits up to HangupTimeout for the peer to disconnect so frames still
// buffered in the DataChannel are delivered, then closes the connection.
func (p *Peripheral) Close() error {
	err := p.StopAdvertise()

	p.mu.Lock()
	pr := p.peer
	p.mu.Unlock()
	if pr == nil {
		return err
	}

	select {
	case <-pr.closed:
	case <-time.After(p.opts.HangupTimeout):
		util.LogDebug("peer did not hang up within %s", p.opts.HangupTimeout)
	}
	return errors.Join(err, pr.close())
}

func (p *Peripheral) fireReadyLocked() {
	if fn := p.onReady; fn != nil {
		go fn()
	}
}

func (p *Peripheral) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			conn.Close()
			return
		}

		switch msg.Type {
		case msgProbe:
			p.mu.Lock()
			reply := message{Type: msgAdvert, Name: p.opts.Name, Service: p.svc.ID, Channel: p.svc.Channel}
			p.mu.Unlock()
			if err := conn.WriteJSON(reply); err != nil {
				conn.Close()
				return
			}

		case msgConnect:
			p.accept(r.Context(), conn, msg)
			return

		default:
			util.LogDebug("unexpected signaling message %q before connect", msg.Type)
		}
	}
}

// accept claims the peripheral for the requesting central and runs the
// exchange. Only one central is ever accepted.
func (p *Peripheral) accept(ctx context.Context, conn *websocket.Conn, req message) {
	refuse := func(reason string) {
		conn.WriteJSON(message{Type: msgError, Error: reason})
		conn.Close()
	}

	p.mu.Lock()
	if req.Service != p.svc.ID {
		p.mu.Unlock()
		refuse("unknown service")
		return
	}
	if p.peer != nil {
		p.mu.Unlock()
		refuse("already connected")
		return
	}
	pr, err := newPeer(p.opts.ICEServers, p.opts.Ordered)
	if err != nil {
		p.mu.Unlock()
		util.LogError("create peer connection: %v", err)
		refuse("internal error")
		return
	}
	p.peer = pr
	p.mu.Unlock()

	pr.dc.SetBufferedAmountLowThreshold(lowWaterMark)
	pr.dc.OnBufferedAmountLow(p.handleLow)
	pr.dc.OnMessage(p.handleControl)
	pr.dc.OnClose(func() {
		pr.markClosed()
		p.handleGone()
	})

	util.LogInfo("central connecting from %s", conn.RemoteAddr())
	ctx, cancel := context.WithTimeout(ctx, negotiateTimeout)
	defer cancel()
	if err := negotiate(ctx, conn, pr, true); err != nil {
		util.LogWarning("connection with central failed: %v", err)
		pr.close()
		p.mu.Lock()
		p.peer = nil
		p.mu.Unlock()
		return
	}
	util.LogInfo("DataChannel open")
}

func (p *Peripheral) handleControl(msg webrtc.DataChannelMessage) {
	if !msg.IsString {
		return
	}

	switch string(msg.Data) {
	case ctrlSubscribe:
		p.mu.Lock()
		if p.subscribed {
			p.mu.Unlock()
			return
		}
		p.subscribed = true
		p.gone = false
		fn := p.onSubscribe
		p.mu.Unlock()
		if fn != nil {
			go fn()
		}

	case ctrlUnsubscribe:
		p.handleGone()
	}
}

// handleGone marks the subscriber as departed and wakes a parked sender so
// its next Notify reports it.
func (p *Peripheral) handleGone() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.subscribed {
		return
	}
	p.subscribed = false
	p.gone = true
	if p.full {
		p.full = false
		p.fireReadyLocked()
	}
}

func (p *Peripheral) handleLow() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full {
		p.full = false
		p.fireReadyLocked()
	}
}
