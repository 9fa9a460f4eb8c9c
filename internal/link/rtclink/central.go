package rtclink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/txbeam/internal/link"
	"github.com/1ureka/txbeam/internal/util"
)

const (
	defaultProbeInterval = 500 * time.Millisecond
	probeTimeout         = 2 * time.Second
)

// CentralOptions configures the Receiver side.
type CentralOptions struct {
	Peers         []string // signaling URLs to probe, e.g. ws://10.0.0.5:7345/ws
	ICEServers    []string // DefaultICEServers if empty
	Ordered       bool     // must match the Peripheral
	ProbeInterval time.Duration
}

// Central is a link.Central that discovers peripherals by probing their
// signaling URLs. Each URL is a peer ID.
type Central struct {
	opts CentralOptions

	mu      sync.Mutex
	cancel  context.CancelFunc
	adverts map[string]message
	conns   map[string]*peer
}

var _ link.Central = (*Central)(nil)

func NewCentral(opts CentralOptions) *Central {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = defaultProbeInterval
	}
	return &Central{
		opts:    opts,
		adverts: make(map[string]message),
		conns:   make(map[string]*peer),
	}
}

// rssiFromRTT maps a probe round trip to a signal strength so the proximity
// gate can treat a slow peer like a distant one: -40 dBm at 0 ms, one dBm
// weaker per millisecond, never below -127 dBm.
func rssiFromRTT(rtt time.Duration) int {
	rssi := -40 - int(rtt/time.Millisecond)
	if rssi < -127 {
		return -127
	}
	return rssi
}

// StartScan implements link.Central. Every configured peer is probed
// repeatedly until StopScan; each answer advertising serviceID is reported.
func (c *Central) StartScan(serviceID uuid.UUID, fn func(link.Advertisement)) error {
	if len(c.opts.Peers) == 0 {
		return fmt.Errorf("%w: no peers to scan", link.ErrUnavailable)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = cancel
	c.mu.Unlock()

	for _, url := range c.opts.Peers {
		go c.scanPeer(ctx, url, serviceID, fn)
	}
	return nil
}

func (c *Central) scanPeer(ctx context.Context, url string, serviceID uuid.UUID, fn func(link.Advertisement)) {
	ticker := time.NewTicker(c.opts.ProbeInterval)
	defer ticker.Stop()

	for {
		adv, rtt, err := probe(ctx, url)
		switch {
		case err != nil:
			util.LogDebug("probe %s: %v", url, err)
		case adv.Service == serviceID:
			c.mu.Lock()
			c.adverts[url] = adv
			c.mu.Unlock()
			if ctx.Err() == nil {
				fn(link.Advertisement{PeerID: url, Name: adv.Name, RSSI: rssiFromRTT(rtt)})
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// probe asks url for its advertisement and measures the round trip.
func probe(ctx context.Context, url string) (message, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	conn, err := dial(ctx, url)
	if err != nil {
		return message{}, 0, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	start := time.Now()
	if err := conn.WriteJSON(message{Type: msgProbe}); err != nil {
		return message{}, 0, err
	}
	var reply message
	if err := conn.ReadJSON(&reply); err != nil {
		return message{}, 0, err
	}
	rtt := time.Since(start)
	if reply.Type != msgAdvert {
		return message{}, 0, fmt.Errorf("unexpected %q reply to probe", reply.Type)
	}
	return reply, rtt, nil
}

// StopScan implements link.Central.
func (c *Central) StopScan() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return nil
}

// Connect implements link.Central: it claims the peripheral at peerID and
// blocks until the DataChannel is open.
func (c *Central) Connect(ctx context.Context, peerID string) error {
	conn, err := dial(ctx, peerID)
	if err != nil {
		return fmt.Errorf("%w: %w", link.ErrPeerNotFound, err)
	}

	if err := conn.WriteJSON(message{Type: msgProbe}); err != nil {
		conn.Close()
		return err
	}
	var adv message
	if err := conn.ReadJSON(&adv); err != nil || adv.Type != msgAdvert {
		conn.Close()
		return fmt.Errorf("%w: %s did not advertise", link.ErrPeerNotFound, peerID)
	}
	c.mu.Lock()
	c.adverts[peerID] = adv
	c.mu.Unlock()

	p, err := newPeer(c.opts.ICEServers, c.opts.Ordered)
	if err != nil {
		conn.Close()
		return fmt.Errorf("create peer connection: %w", err)
	}
	if err := conn.WriteJSON(message{Type: msgConnect, Service: adv.Service, Channel: adv.Channel}); err != nil {
		conn.Close()
		p.close()
		return err
	}
	if err := negotiate(ctx, conn, p, false); err != nil {
		p.close()
		return err
	}

	c.mu.Lock()
	if old := c.conns[peerID]; old != nil {
		old.close()
	}
	c.conns[peerID] = p
	c.mu.Unlock()
	util.LogInfo("connected to %s (%s)", adv.Name, peerID)
	return nil
}

// DiscoverChannel implements link.Central.
func (c *Central) DiscoverChannel(peerID string, svc link.Service) (link.Channel, error) {
	c.mu.Lock()
	p, ok := c.conns[peerID]
	adv := c.adverts[peerID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s is not connected", link.ErrPeerNotFound, peerID)
	}
	if adv.Service != svc.ID || adv.Channel != svc.Channel {
		return nil, fmt.Errorf("%w: %s offers service %s channel %s", link.ErrChannelNotFound, peerID, adv.Service, adv.Channel)
	}
	return &channel{p: p}, nil
}

// Disconnect implements link.Central.
func (c *Central) Disconnect(peerID string) error {
	c.mu.Lock()
	p, ok := c.conns[peerID]
	delete(c.conns, peerID)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return p.close()
}

type channel struct {
	p *peer

	mu     sync.Mutex
	active bool
}

func (ch *channel) Subscribe(fn func([]byte)) error {
	ch.mu.Lock()
	ch.active = true
	ch.mu.Unlock()

	ch.p.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			return
		}
		ch.mu.Lock()
		active := ch.active
		ch.mu.Unlock()
		if active {
			fn(msg.Data)
		}
	})
	return ch.p.dc.SendText(ctrlSubscribe)
}

func (ch *channel) Unsubscribe() error {
	ch.mu.Lock()
	ch.active = false
	ch.mu.Unlock()

	if err := ch.p.dc.SendText(ctrlUnsubscribe); err != nil {
		util.LogDebug("send unsubscribe: %v", err)
	}
	return nil
}
