package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/txbeam/internal/link"
	"github.com/1ureka/txbeam/internal/session"
)

// fakePeripheral records every call and lets a test decide each Notify result.
type fakePeripheral struct {
	mu           sync.Mutex
	advertiseErr error
	advertised   int
	stopped      int
	onSubscribe  func()
	onReady      func()
	frames       [][]byte
	calls        int

	// result decides the outcome of the n-th Notify call (0-based). nil
	// accepts everything.
	result func(n int) (link.SendResult, error)
	// autoReady fires the ready callback shortly after every BufferFull.
	autoReady bool
}

func (p *fakePeripheral) Advertise(link.Service) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advertised++
	return p.advertiseErr
}

func (p *fakePeripheral) StopAdvertise() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped++
	return nil
}

func (p *fakePeripheral) OnSubscribe(fn func()) {
	p.mu.Lock()
	p.onSubscribe = fn
	p.mu.Unlock()
}

func (p *fakePeripheral) OnReady(fn func()) {
	p.mu.Lock()
	p.onReady = fn
	p.mu.Unlock()
}

func (p *fakePeripheral) Notify(frame []byte) (link.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.calls
	p.calls++
	if p.result != nil {
		res, err := p.result(n)
		if res == link.BufferFull && p.autoReady {
			go func() {
				time.Sleep(time.Millisecond)
				p.ready()
			}()
		}
		if err != nil || res != link.Accepted {
			return res, err
		}
	}
	p.frames = append(p.frames, append([]byte(nil), frame...))
	return link.Accepted, nil
}

func (p *fakePeripheral) subscribe() {
	p.mu.Lock()
	fn := p.onSubscribe
	p.mu.Unlock()
	go fn()
}

func (p *fakePeripheral) ready() {
	p.mu.Lock()
	fn := p.onReady
	p.mu.Unlock()
	go fn()
}

func (p *fakePeripheral) sent() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.frames...)
}

func (p *fakePeripheral) counts() (advertised, stopped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.advertised, p.stopped
}

// fakeCentral records every call; advertisements and frames are injected by
// the test.
type fakeCentral struct {
	mu          sync.Mutex
	scanErr     error
	connectErr  error
	discoverErr error
	scanFn      func(link.Advertisement)
	scans       int
	stopScans   int
	connects    []string
	disconnects []string
	channel     *fakeChannel
}

func newFakeCentral() *fakeCentral {
	return &fakeCentral{channel: &fakeChannel{}}
}

func (c *fakeCentral) StartScan(_ uuid.UUID, fn func(link.Advertisement)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scanErr != nil {
		return c.scanErr
	}
	c.scans++
	c.scanFn = fn
	return nil
}

func (c *fakeCentral) StopScan() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopScans++
	return nil
}

func (c *fakeCentral) Connect(_ context.Context, peerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects = append(c.connects, peerID)
	return c.connectErr
}

func (c *fakeCentral) DiscoverChannel(string, link.Service) (link.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.discoverErr != nil {
		return nil, c.discoverErr
	}
	return c.channel, nil
}

func (c *fakeCentral) Disconnect(peerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects = append(c.disconnects, peerID)
	return nil
}

func (c *fakeCentral) advertise(peerID string, rssi int) {
	c.mu.Lock()
	fn := c.scanFn
	c.mu.Unlock()
	fn(link.Advertisement{PeerID: peerID, Name: peerID, RSSI: rssi})
}

type centralCounts struct {
	scans, stopScans int
	connects         []string
	disconnects      []string
	unsubscribes     int
}

func (c *fakeCentral) counts() centralCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return centralCounts{
		scans:        c.scans,
		stopScans:    c.stopScans,
		connects:     append([]string(nil), c.connects...),
		disconnects:  append([]string(nil), c.disconnects...),
		unsubscribes: c.channel.unsubscribeCount(),
	}
}

type fakeChannel struct {
	mu           sync.Mutex
	fn           func([]byte)
	unsubscribes int
}

func (ch *fakeChannel) Subscribe(fn func([]byte)) error {
	ch.mu.Lock()
	ch.fn = fn
	ch.mu.Unlock()
	return nil
}

func (ch *fakeChannel) Unsubscribe() error {
	ch.mu.Lock()
	ch.unsubscribes++
	ch.mu.Unlock()
	return nil
}

func (ch *fakeChannel) deliver(frame []byte) {
	ch.mu.Lock()
	fn := ch.fn
	ch.mu.Unlock()
	fn(frame)
}

func (ch *fakeChannel) unsubscribeCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.unsubscribes
}

// recorder collects the updates of one session.
type recorder struct {
	mu      sync.Mutex
	updates []session.Update
}

func (r *recorder) record(u session.Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) all() []session.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Update(nil), r.updates...)
}

func (r *recorder) states() []session.State {
	var out []session.State
	for _, u := range r.all() {
		if len(out) == 0 || out[len(out)-1] != u.State {
			out = append(out, u.State)
		}
	}
	return out
}

// testOptions are fast-failing options that report into rec.
func testOptions(rec *recorder) session.Options {
	opts := session.DefaultOptions()
	opts.StallTimeout = 2 * time.Second
	opts.DiscoveryTimeout = 2 * time.Second
	if rec != nil {
		opts.OnUpdate = rec.record
	}
	return opts
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// waitDone waits for s to reach a terminal state.
func waitDone(t *testing.T, s session.Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("session still %s", s.Status())
	}
}

func makePayload(size int) []byte {
	out := make([]byte, size)
	for i := range out {
		out[i] = byte(i*7 + 3)
	}
	return out
}
