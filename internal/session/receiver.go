package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/1ureka/txbeam/internal/assembly"
	"github.com/1ureka/txbeam/internal/link"
	"github.com/1ureka/txbeam/internal/util"
)

// Receiver scans for a Sender, connects to the first one in range and
// collects its payload.
type Receiver struct {
	*machine
	opts    Options
	radio   link.Central
	payload chan []byte

	// loop-owned
	collector assembly.Collector
	discovery *time.Timer
	scanning  bool
	peer      string
	channel   link.Channel
}

func NewReceiver(radio link.Central, opts Options) *Receiver {
	opts = opts.withDefaults()
	r := &Receiver{
		opts:    opts,
		radio:   radio,
		payload: make(chan []byte, 1),
	}
	r.machine = newMachine(RoleReceiver, opts, r.teardown)
	return r
}

// Start begins scanning.
func (r *Receiver) Start(ctx context.Context) error {
	return r.start(ctx, r.begin)
}

// Payload yields the reassembled payload once on Success and is closed when
// the session ends.
func (r *Receiver) Payload() <-chan []byte { return r.payload }

func (r *Receiver) begin() {
	r.collector = r.opts.Framing.NewCollector()

	err := r.radio.StartScan(r.opts.Service.ID, func(adv link.Advertisement) {
		r.post(func() { r.onAdvertisement(adv) })
	})
	if err != nil {
		r.fail(fmt.Errorf("start scan: %w", err))
		return
	}
	r.scanning = true
	r.log.Infof("scanning for %s", r.opts.Service.ID)
	r.setState(Discovering)

	if d := r.opts.DiscoveryTimeout; d > 0 {
		r.discovery = time.AfterFunc(d, func() {
			r.post(func() {
				if r.current() == Discovering {
					r.fail(fmt.Errorf("%w within %s", ErrDiscoveryTimeout, d))
				}
			})
		})
	}
}

func (r *Receiver) onAdvertisement(adv link.Advertisement) {
	if r.current() != Discovering {
		return
	}
	if !r.opts.Proximity.Admit(adv.RSSI) {
		r.log.Debugf("ignoring %s (%s): %d dBm outside %s", adv.Name, adv.PeerID, adv.RSSI, r.opts.Proximity)
		return
	}
	r.log.Infof("found %s (%s) at %d dBm", adv.Name, adv.PeerID, adv.RSSI)
	r.stopScan()
	r.stopDiscoveryTimer()
	r.peer = adv.PeerID
	r.setState(Connecting)

	ctx, peer := r.ctx, adv.PeerID
	go func() {
		err := r.radio.Connect(ctx, peer)
		r.post(func() { r.onConnected(err) })
	}()
}

func (r *Receiver) onConnected(err error) {
	if r.current() != Connecting {
		return
	}
	if err != nil {
		r.fail(fmt.Errorf("connect %s: %w", r.peer, err))
		return
	}
	ch, err := r.radio.DiscoverChannel(r.peer, r.opts.Service)
	if err != nil {
		r.fail(fmt.Errorf("discover channel: %w", err))
		return
	}
	err = ch.Subscribe(func(frame []byte) {
		r.post(func() { r.onFrame(frame) })
	})
	if err != nil {
		r.fail(fmt.Errorf("subscribe: %w", err))
		return
	}
	r.channel = ch
	r.log.Infof("subscribed to %s", r.peer)
	r.setState(Ready)
	r.armStall()
}

func (r *Receiver) onFrame(frame []byte) {
	switch r.current() {
	case Ready:
		r.setState(Transferring)
	case Transferring:
	default:
		return
	}
	util.Stats.AddRecv(len(frame))
	r.touch()

	done, err := r.collector.Collect(frame)
	if err != nil {
		util.Stats.AddDropped()
		if errors.Is(err, ErrProtocolMismatch) {
			r.log.Warnf("discarding frame: %v", err)
		} else {
			r.log.Debugf("discarding frame: %v", err)
		}
		return
	}
	if !done {
		r.setProgress(r.collector.Progress())
		return
	}
	r.complete()
}

func (r *Receiver) complete() {
	r.unsubscribe()
	r.disconnect()

	payload, err := r.collector.Payload()
	if err != nil {
		r.fail(err)
		return
	}
	r.log.Infof("received %s", strings.TrimSpace(util.FormatBytes(float64(len(payload)))))
	r.payload <- payload
	r.succeed()
}

func (r *Receiver) teardown() {
	r.stopDiscoveryTimer()
	r.unsubscribe()
	r.disconnect()
	r.stopScan()
	close(r.payload)
}

func (r *Receiver) stopDiscoveryTimer() {
	if r.discovery != nil {
		r.discovery.Stop()
		r.discovery = nil
	}
}

func (r *Receiver) stopScan() {
	if !r.scanning {
		return
	}
	r.scanning = false
	if err := r.radio.StopScan(); err != nil {
		r.log.Warnf("stop scan: %v", err)
	}
}

func (r *Receiver) unsubscribe() {
	if r.channel == nil {
		return
	}
	ch := r.channel
	r.channel = nil
	if err := ch.Unsubscribe(); err != nil {
		r.log.Warnf("unsubscribe: %v", err)
	}
}

// disconnect drops the selected peer, including one whose connect is still
// in flight.
func (r *Receiver) disconnect() {
	if r.peer == "" {
		return
	}
	peer := r.peer
	r.peer = ""
	if err := r.radio.Disconnect(peer); err != nil {
		r.log.Debugf("disconnect %s: %v", peer, err)
	}
}
