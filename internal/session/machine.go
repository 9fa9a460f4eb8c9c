// Package session implements the Sender and Receiver state machines that move
// one payload across a link.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/txbeam/internal/util"
)

// Session is the surface shared by *Sender and *Receiver.
type Session interface {
	ID() uuid.UUID
	Role() Role
	Status() State
	Progress() float64
	Err() error
	Snapshot() Update
	Done() <-chan struct{}
	Stop()
}

const eventQueueSize = 64

// machine owns the state of one session. Every mutation happens on the loop
// goroutine; transport callbacks and timers reach it through post.
type machine struct {
	id   uuid.UUID
	role Role
	log  util.Tagged

	onUpdate func(Update)
	teardown func()

	events chan func()
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	started  bool
	state    State
	progress float64
	err      error

	// loop-owned
	stallTimeout time.Duration
	stall        *time.Timer
	lastActivity time.Time
	finished     bool
}

func newMachine(role Role, opts Options, teardown func()) *machine {
	id := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	return &machine{
		id:           id,
		role:         role,
		log:          util.Tagged(id.String()[:8]),
		onUpdate:     opts.OnUpdate,
		teardown:     teardown,
		events:       make(chan func(), eventQueueSize),
		done:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		stallTimeout: opts.StallTimeout,
	}
}

func (m *machine) ID() uuid.UUID { return m.id }
func (m *machine) Role() Role    { return m.role }

func (m *machine) Status() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *machine) Progress() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.progress
}

// Err returns the error the session ended with, or nil.
func (m *machine) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

func (m *machine) Snapshot() Update {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *machine) snapshotLocked() Update {
	return Update{ID: m.id, Role: m.role, State: m.state, Progress: m.progress, Err: m.err}
}

// Done is closed once the session reaches a terminal state.
func (m *machine) Done() <-chan struct{} { return m.done }

// Stop cancels the session from any state. It tears down the link, marks the
// session Cancelled and returns after that has happened. Calling Stop on a
// finished session does nothing.
func (m *machine) Stop() {
	m.mu.Lock()
	if m.state.Terminal() {
		m.mu.Unlock()
		return
	}
	if !m.started {
		// Nothing is running yet; there is no link to tear down.
		m.started = true
		m.mu.Unlock()
		m.finish(Cancelled, ErrCancelled)
		return
	}
	m.mu.Unlock()

	ack := make(chan struct{})
	ok := m.post(func() {
		m.log.Infof("stopping")
		m.finish(Cancelled, ErrCancelled)
		close(ack)
	})
	if !ok {
		return
	}
	select {
	case <-ack:
	case <-m.done:
	}
}

// start launches the loop and queues first as its opening event. Cancelling
// ctx later behaves as Stop.
func (m *machine) start(ctx context.Context, first func()) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	go m.loop()
	m.post(first)

	go func() {
		select {
		case <-ctx.Done():
			m.Stop()
		case <-m.done:
		}
	}()
	return nil
}

func (m *machine) loop() {
	for {
		select {
		case fn := <-m.events:
			if m.finished {
				return
			}
			fn()
		case <-m.done:
			return
		}
	}
}

// post queues fn onto the loop. It returns false once the session has ended;
// events queued just before the end are dropped by the loop.
func (m *machine) post(fn func()) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.events <- fn:
		return true
	case <-m.done:
		return false
	}
}

// current is the state as seen by the loop.
func (m *machine) current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *machine) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.log.Debugf("%s -> %s", m.state, s)
	m.state = s
	u := m.snapshotLocked()
	m.mu.Unlock()
	m.emit(u)
}

// setProgress publishes p if it moves progress forward.
func (m *machine) setProgress(p float64) {
	m.mu.Lock()
	if p <= m.progress {
		m.mu.Unlock()
		return
	}
	if p > 1 {
		p = 1
	}
	m.progress = p
	u := m.snapshotLocked()
	m.mu.Unlock()
	m.emit(u)
}

func (m *machine) emit(u Update) {
	if m.onUpdate != nil {
		m.onUpdate(u)
	}
}

func (m *machine) succeed() {
	util.Stats.AddSucceeded()
	m.finish(Success, nil)
}

func (m *machine) fail(err error) {
	m.log.Errorf("transfer failed: %v", err)
	util.Stats.AddFailed()
	m.finish(Failure, err)
}

// finish tears the link down, then publishes the terminal state. It runs at
// most once.
func (m *machine) finish(s State, err error) {
	if m.finished {
		return
	}
	m.finished = true

	if m.stall != nil {
		m.stall.Stop()
	}
	if m.teardown != nil {
		m.teardown()
	}
	m.cancel()

	m.mu.Lock()
	m.log.Debugf("%s -> %s", m.state, s)
	m.state = s
	m.err = err
	if s == Success {
		m.progress = 1
	}
	u := m.snapshotLocked()
	m.mu.Unlock()

	m.emit(u)
	close(m.done)
}

// touch records transfer activity for the stall watchdog.
func (m *machine) touch() {
	m.lastActivity = time.Now()
}

// armStall starts the stall watchdog. It re-arms itself for the remaining
// idle budget until no activity was seen for a full StallTimeout.
func (m *machine) armStall() {
	if m.stallTimeout <= 0 || m.stall != nil {
		return
	}
	m.touch()
	m.stall = time.AfterFunc(m.stallTimeout, func() { m.post(m.checkStall) })
}

func (m *machine) checkStall() {
	idle := time.Since(m.lastActivity)
	if idle >= m.stallTimeout {
		m.fail(fmt.Errorf("%w: no activity for %s", ErrStalled, idle.Round(time.Millisecond)))
		return
	}
	m.stall.Reset(m.stallTimeout - idle)
}
