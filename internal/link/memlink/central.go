package memlink

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/1ureka/txbeam/internal/link"
)

// CentralOptions configures a simulated Receiver radio.
type CentralOptions struct {
	Unpowered bool // every operation fails with link.ErrUnavailable
}

// Central is an in-process link.Central.
type Central struct {
	air  *Air
	opts CentralOptions

	mu        sync.Mutex
	connected map[string]*Peripheral
}

var _ link.Central = (*Central)(nil)

// NewCentral creates a central on the given air.
func (a *Air) NewCentral(opts CentralOptions) *Central {
	return &Central{air: a, opts: opts, connected: make(map[string]*Peripheral)}
}

// StartScan implements link.Central. Peripherals already advertising are
// reported immediately; later ones as they start advertising.
func (c *Central) StartScan(serviceID uuid.UUID, fn func(link.Advertisement)) error {
	if c.opts.Unpowered {
		return link.ErrUnavailable
	}
	c.air.addScanner(c, scanner{serviceID: serviceID, fn: fn})
	return nil
}

// StopScan implements link.Central.
func (c *Central) StopScan() error {
	c.air.removeScanner(c)
	return nil
}

// Connect implements link.Central.
func (c *Central) Connect(ctx context.Context, peerID string) error {
	if c.opts.Unpowered {
		return link.ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p, ok := c.air.lookup(peerID)
	if !ok {
		return fmt.Errorf("%w: %s", link.ErrPeerNotFound, peerID)
	}
	if _, advertising := p.advertised(); !advertising {
		return fmt.Errorf("%w: %s is not advertising", link.ErrPeerNotFound, peerID)
	}

	c.mu.Lock()
	c.connected[peerID] = p
	c.mu.Unlock()
	return nil
}

// DiscoverChannel implements link.Central.
func (c *Central) DiscoverChannel(peerID string, svc link.Service) (link.Channel, error) {
	c.mu.Lock()
	p, ok := c.connected[peerID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s is not connected", link.ErrPeerNotFound, peerID)
	}

	p.mu.Lock()
	offered := p.svc
	p.mu.Unlock()
	if offered != svc {
		return nil, fmt.Errorf("%w: %s offers service %s channel %s", link.ErrChannelNotFound, peerID, offered.ID, offered.Channel)
	}
	return &channel{p: p}, nil
}

// Disconnect implements link.Central. Any subscription on the peer ends.
func (c *Central) Disconnect(peerID string) error {
	c.mu.Lock()
	p, ok := c.connected[peerID]
	delete(c.connected, peerID)
	c.mu.Unlock()

	if ok {
		p.unsubscribe()
	}
	return nil
}

type channel struct {
	p *Peripheral
}

func (ch *channel) Subscribe(fn func([]byte)) error { return ch.p.subscribe(fn) }

func (ch *channel) Unsubscribe() error {
	ch.p.unsubscribe()
	return nil
}
