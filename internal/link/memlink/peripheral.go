package memlink

import (
	"fmt"
	"sync"

	"github.com/1ureka/txbeam/internal/link"
)

// PeripheralOptions configures a simulated Sender radio.
type PeripheralOptions struct {
	RSSI      int              // signal strength seen by scanners, in dBm
	Capacity  int              // frames in flight before BufferFull (DefaultCapacity if 0)
	Unpowered bool             // every operation fails with link.ErrUnavailable
	Drop      func(i int) bool // silently lose the i-th accepted frame
}

// Peripheral is an in-process link.Peripheral.
type Peripheral struct {
	air  *Air
	name string
	opts PeripheralOptions

	mu          sync.Mutex
	svc         link.Service
	advertising bool
	onSubscribe func()
	onReady     func()
	sub         *subscription
	gone        bool
	inflight    int
	full        bool
	accepted    int
}

var _ link.Peripheral = (*Peripheral)(nil)

// subscription is one subscriber's delivery queue. Its pump goroutine is the
// only caller of fn, so frames arrive in notify order.
type subscription struct {
	fn    func([]byte)
	queue chan []byte
	done  chan struct{}
}

// NewPeripheral creates a peripheral registered under name.
func (a *Air) NewPeripheral(name string, opts PeripheralOptions) *Peripheral {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	p := &Peripheral{air: a, name: name, opts: opts}

	a.mu.Lock()
	a.peripherals[name] = p
	a.mu.Unlock()
	return p
}

func (p *Peripheral) advertisement() link.Advertisement {
	return link.Advertisement{PeerID: p.name, Name: p.name, RSSI: p.opts.RSSI}
}

func (p *Peripheral) advertised() (link.Service, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.svc, p.advertising
}

// Advertise implements link.Peripheral.
func (p *Peripheral) Advertise(svc link.Service) error {
	if p.opts.Unpowered {
		return link.ErrUnavailable
	}

	p.mu.Lock()
	p.svc = svc
	p.advertising = true
	p.mu.Unlock()

	p.air.announce(p, svc)
	return nil
}

// StopAdvertise implements link.Peripheral. An existing subscriber keeps
// receiving frames.
func (p *Peripheral) StopAdvertise() error {
	p.mu.Lock()
	p.advertising = false
	p.mu.Unlock()
	return nil
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
	if p.opts.Unpowered {
		return 0, fmt.Errorf("%w: %w", link.ErrSendRejected, link.ErrUnavailable)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sub == nil {
		if p.gone {
			return 0, fmt.Errorf("%w: %w", link.ErrSendRejected, link.ErrPeerGone)
		}
		return 0, fmt.Errorf("%w: no subscriber", link.ErrSendRejected)
	}
	if p.inflight >= p.opts.Capacity {
		p.full = true
		return link.BufferFull, nil
	}

	i := p.accepted
	p.accepted++
	if p.opts.Drop != nil && p.opts.Drop(i) {
		return link.Accepted, nil
	}

	p.inflight++
	p.sub.queue <- append([]byte(nil), frame...)
	return link.Accepted, nil
}

// Accepted returns how many frames Notify has accepted, dropped ones included.
func (p *Peripheral) Accepted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accepted
}

func (p *Peripheral) subscribe(fn func([]byte)) error {
	if p.opts.Unpowered {
		return link.ErrUnavailable
	}

	p.mu.Lock()
	if p.sub != nil {
		p.mu.Unlock()
		return fmt.Errorf("%s: channel already has a subscriber", p.name)
	}
	s := &subscription{
		fn:    fn,
		queue: make(chan []byte, p.opts.Capacity),
		done:  make(chan struct{}),
	}
	p.sub = s
	p.gone = false
	p.inflight = 0
	p.full = false
	notify := p.onSubscribe
	p.mu.Unlock()

	go p.pump(s)
	if notify != nil {
		go notify()
	}
	return nil
}

// unsubscribe ends the current subscription. A sender parked on BufferFull
// is woken so its next Notify reports the departure.
func (p *Peripheral) unsubscribe() {
	p.mu.Lock()
	if p.sub == nil {
		p.mu.Unlock()
		return
	}
	close(p.sub.done)
	p.sub = nil
	p.gone = true
	p.inflight = 0
	fire := p.full
	p.full = false
	ready := p.onReady
	p.mu.Unlock()

	if fire && ready != nil {
		go ready()
	}
}

// pump delivers queued frames to the subscriber and fires the ready callback
// once the queue drains after a BufferFull.
func (p *Peripheral) pump(s *subscription) {
	for {
		select {
		case frame := <-s.queue:
			select {
			case <-s.done:
				return
			default:
			}
			s.fn(frame)

			p.mu.Lock()
			if p.sub != s {
				p.mu.Unlock()
				return
			}
			p.inflight--
			fire := p.full && p.inflight == 0
			if fire {
				p.full = false
			}
			ready := p.onReady
			p.mu.Unlock()

			if fire && ready != nil {
				ready()
			}

		case <-s.done:
			return
		}
	}
}
