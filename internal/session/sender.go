package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/1ureka/txbeam/internal/link"
	"github.com/1ureka/txbeam/internal/util"
)

// Sender advertises a service and pushes one payload to the first peer that
// subscribes.
type Sender struct {
	*machine
	opts  Options
	radio link.Peripheral

	// loop-owned
	prepared    *pendingTransfer
	pending     *pendingTransfer
	advertising bool
	parked      bool
}

// pendingTransfer is a payload split into frames plus the send cursor.
type pendingTransfer struct {
	frames [][]byte
	end    []byte
	cursor int
	size   int
}

func NewSender(radio link.Peripheral, opts Options) *Sender {
	opts = opts.withDefaults()
	s := &Sender{opts: opts, radio: radio}
	s.machine = newMachine(RoleSender, opts, s.teardown)
	return s
}

// Start copies and splits payload, then begins advertising. Split errors
// are returned before anything is advertised. A second call returns
// ErrAlreadyStarted and leaves the first payload in place.
func (s *Sender) Start(ctx context.Context, payload []byte) error {
	frames, end, err := s.opts.Framing.Split(payload, s.opts.MTU)
	if err != nil {
		return fmt.Errorf("prepare payload: %w", err)
	}
	prepared := &pendingTransfer{frames: frames, end: end, size: len(payload)}
	return s.start(ctx, func() { s.begin(prepared) })
}

func (s *Sender) begin(prepared *pendingTransfer) {
	s.prepared = prepared
	s.radio.OnSubscribe(func() { s.post(s.onSubscribed) })
	s.radio.OnReady(func() { s.post(s.onReady) })

	if err := s.radio.Advertise(s.opts.Service); err != nil {
		s.fail(fmt.Errorf("advertise: %w", err))
		return
	}
	s.advertising = true
	s.log.Infof("advertising %s (%d bytes, %d frames, %s framing)",
		s.opts.Service.ID, s.prepared.size, len(s.prepared.frames), s.opts.Framing.Name())
	s.setState(Discovering)
}

func (s *Sender) onSubscribed() {
	if s.current() != Discovering {
		s.log.Debugf("ignoring subscribe while %s", s.current())
		return
	}
	s.log.Infof("receiver subscribed")
	s.pending, s.prepared = s.prepared, nil
	s.setState(Ready)
	s.armStall()
	if len(s.pending.frames) > 0 {
		s.setState(Transferring)
	}
	s.pump()
}

func (s *Sender) onReady() {
	if !s.parked {
		return
	}
	s.parked = false
	s.touch()
	s.pump()
}

// pump pushes frames from the cursor until the link pushes back, the
// transfer completes or the send is rejected.
func (s *Sender) pump() {
	p := s.pending
	for p.cursor < len(p.frames) {
		if !s.push(p.frames[p.cursor], false) {
			return
		}
		p.cursor++
		if p.cursor < len(p.frames) {
			s.setProgress(float64(p.cursor) / float64(len(p.frames)))
		}
	}
	if s.push(p.end, true) {
		s.log.Infof("sent %s in %d frames", strings.TrimSpace(util.FormatBytes(float64(p.size))), len(p.frames))
		s.succeed()
	}
}

// push reports whether frame was accepted. On BufferFull the send loop parks
// until the link signals ready; on error the session fails. A sequenced
// Receiver hangs up as soon as it holds every chunk, so a departed
// subscriber when only the end marker is left still counts as delivered.
func (s *Sender) push(frame []byte, end bool) bool {
	res, err := s.radio.Notify(frame)
	if err != nil {
		if end && len(s.pending.frames) > 0 && errors.Is(err, link.ErrPeerGone) {
			s.log.Warnf("receiver left before the end marker; assuming it holds every chunk")
			return true
		}
		if !errors.Is(err, ErrSendRejected) {
			err = fmt.Errorf("%w: %w", ErrSendRejected, err)
		}
		s.fail(err)
		return false
	}
	if res == link.BufferFull {
		s.parked = true
		return false
	}
	util.Stats.AddSent(len(frame))
	s.touch()
	return true
}

func (s *Sender) teardown() {
	if !s.advertising {
		return
	}
	s.advertising = false
	if err := s.radio.StopAdvertise(); err != nil {
		s.log.Warnf("stop advertising: %v", err)
	}
}
