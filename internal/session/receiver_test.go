package session_test

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/1ureka/txbeam/internal/assembly"
	"github.com/1ureka/txbeam/internal/link"
	"github.com/1ureka/txbeam/internal/session"
)

// startReceiver starts a receiver on c and drives it to Ready through the
// peer "tx".
func startReceiver(t *testing.T, c *fakeCentral, opts session.Options) *session.Receiver {
	t.Helper()
	r := session.NewReceiver(c, opts)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "scanning", func() bool { return r.Status() == session.Discovering })
	c.advertise("tx", -50)
	waitFor(t, "subscription", func() bool { return r.Status() == session.Ready })
	return r
}

func split(t *testing.T, f assembly.Framing, payload []byte) ([][]byte, []byte) {
	t.Helper()
	frames, end, err := f.Split(payload, session.DefaultMTU)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	return frames, end
}

func TestReceiverProximityGate(t *testing.T) {
	c := newFakeCentral()
	r := session.NewReceiver(c, testOptions(nil))
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "scanning", func() bool { return r.Status() == session.Discovering })

	c.advertise("too-close", -10)
	c.advertise("too-far", -95)
	time.Sleep(20 * time.Millisecond)
	if r.Status() != session.Discovering {
		t.Fatalf("out of range peer was admitted: %s", r.Status())
	}

	c.advertise("good", -50)
	waitFor(t, "subscription", func() bool { return r.Status() == session.Ready })
	c.advertise("other", -40)
	time.Sleep(20 * time.Millisecond)

	got := c.counts()
	if !slices.Equal(got.connects, []string{"good"}) {
		t.Errorf("connects = %v, want [good]", got.connects)
	}
	if got.stopScans != 1 {
		t.Errorf("StopScan called %d times", got.stopScans)
	}
	r.Stop()
}

func TestReceiverOutOfOrder(t *testing.T) {
	rec := &recorder{}
	c := newFakeCentral()
	r := startReceiver(t, c, testOptions(rec))

	payload := makePayload(1000)
	frames, _ := split(t, assembly.Sequenced, payload)
	for i := len(frames) - 1; i >= 0; i-- {
		c.channel.deliver(frames[i])
	}
	waitDone(t, r)

	if r.Status() != session.Success {
		t.Fatalf("expected Success, got %s (%v)", r.Status(), r.Err())
	}
	got, ok := <-r.Payload()
	if !ok || !bytes.Equal(got, payload) {
		t.Error("payload mismatch")
	}
	if _, ok := <-r.Payload(); ok {
		t.Error("payload delivered twice")
	}

	last := 0.0
	for _, u := range rec.all() {
		if u.Progress < last {
			t.Errorf("progress fell from %.3f to %.3f", last, u.Progress)
		}
		last = u.Progress
	}
	want := []session.State{session.Discovering, session.Connecting, session.Ready, session.Transferring, session.Success}
	if got := rec.states(); !slices.Equal(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}

	counts := c.counts()
	if counts.unsubscribes != 1 || len(counts.disconnects) != 1 {
		t.Errorf("unsubscribes=%d disconnects=%v", counts.unsubscribes, counts.disconnects)
	}
}

// TestReceiverSkipsBadFrames verifies undecodable and mismatched frames are
// discarded without ending the transfer.
func TestReceiverSkipsBadFrames(t *testing.T) {
	c := newFakeCentral()
	r := startReceiver(t, c, testOptions(nil))

	payload := makePayload(500)
	frames, end := split(t, assembly.Sequenced, payload)
	other, _ := split(t, assembly.Sequenced, makePayload(2000))

	c.channel.deliver([]byte{0xFF, 0x00})
	c.channel.deliver(frames[0])
	c.channel.deliver(other[5])
	for _, f := range frames[1:] {
		c.channel.deliver(f)
	}
	c.channel.deliver(end)
	waitDone(t, r)

	if r.Status() != session.Success {
		t.Fatalf("expected Success, got %s (%v)", r.Status(), r.Err())
	}
	if got := <-r.Payload(); !bytes.Equal(got, payload) {
		t.Error("payload mismatch")
	}
}

func TestReceiverSentinel(t *testing.T) {
	c := newFakeCentral()
	opts := testOptions(nil)
	opts.Framing = assembly.Sentinel
	r := startReceiver(t, c, opts)

	payload := makePayload(700)
	frames, end := split(t, assembly.Sentinel, payload)
	for _, f := range frames {
		c.channel.deliver(f)
	}
	waitFor(t, "progress", func() bool { return r.Progress() > 0 })
	if p := r.Progress(); p > 0.95 {
		t.Errorf("progress %.2f before the sentinel", p)
	}
	c.channel.deliver(end)
	waitDone(t, r)

	if got := <-r.Payload(); !bytes.Equal(got, payload) {
		t.Error("payload mismatch")
	}
	if r.Progress() != 1 {
		t.Errorf("progress = %.2f after Success", r.Progress())
	}
}

// TestReceiverEarlyEnd verifies an END with chunks missing keeps the
// transfer open until the stall watchdog ends it, with no payload.
func TestReceiverEarlyEnd(t *testing.T) {
	opts := testOptions(nil)
	opts.StallTimeout = 50 * time.Millisecond
	c := newFakeCentral()
	r := startReceiver(t, c, opts)

	frames, end := split(t, assembly.Sequenced, makePayload(1000))
	c.channel.deliver(frames[0])
	c.channel.deliver(end)
	waitDone(t, r)

	if r.Status() != session.Failure || !errors.Is(r.Err(), session.ErrStalled) {
		t.Errorf("expected Failure with ErrStalled, got %s (%v)", r.Status(), r.Err())
	}
	if _, ok := <-r.Payload(); ok {
		t.Error("payload delivered on failure")
	}
}

// TestReceiverEndOvertakesLastChunk verifies a transfer succeeds when the
// END frame arrives before the last chunk.
func TestReceiverEndOvertakesLastChunk(t *testing.T) {
	c := newFakeCentral()
	r := startReceiver(t, c, testOptions(nil))

	payload := makePayload(1000)
	frames, end := split(t, assembly.Sequenced, payload)
	last := len(frames) - 1
	for _, f := range frames[:last] {
		c.channel.deliver(f)
	}
	c.channel.deliver(end)
	c.channel.deliver(frames[last])
	waitDone(t, r)

	if r.Status() != session.Success {
		t.Fatalf("expected Success, got %s (%v)", r.Status(), r.Err())
	}
	if got := <-r.Payload(); !bytes.Equal(got, payload) {
		t.Error("payload mismatch")
	}
}

// TestReceiverStopWhileTransferring verifies Stop tears the link down exactly
// once before reporting Cancelled, and later frames are ignored.
func TestReceiverStopWhileTransferring(t *testing.T) {
	c := newFakeCentral()
	r := startReceiver(t, c, testOptions(nil))

	frames, _ := split(t, assembly.Sequenced, makePayload(1000))
	c.channel.deliver(frames[0])
	waitFor(t, "transfer", func() bool { return r.Status() == session.Transferring })

	r.Stop()
	if r.Status() != session.Cancelled {
		t.Fatalf("status after Stop = %s", r.Status())
	}
	counts := c.counts()
	if counts.unsubscribes != 1 || len(counts.disconnects) != 1 || counts.stopScans != 1 {
		t.Errorf("teardown counts = %+v", counts)
	}

	progress := r.Progress()
	for _, f := range frames[1:] {
		c.channel.deliver(f)
	}
	r.Stop()
	time.Sleep(20 * time.Millisecond)

	if r.Status() != session.Cancelled || r.Progress() != progress {
		t.Errorf("session changed after Stop: %s %.2f", r.Status(), r.Progress())
	}
	if after := c.counts(); after.unsubscribes != 1 || len(after.disconnects) != 1 {
		t.Errorf("teardown repeated: %+v", after)
	}
	if _, ok := <-r.Payload(); ok {
		t.Error("payload delivered after Stop")
	}
}

func TestReceiverChannelNotFound(t *testing.T) {
	c := newFakeCentral()
	c.discoverErr = link.ErrChannelNotFound
	r := session.NewReceiver(c, testOptions(nil))
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "scanning", func() bool { return r.Status() == session.Discovering })
	c.advertise("tx", -50)
	waitDone(t, r)

	if !errors.Is(r.Err(), session.ErrChannelNotFound) {
		t.Errorf("expected ErrChannelNotFound, got %v", r.Err())
	}
	if got := c.counts().disconnects; len(got) != 1 {
		t.Errorf("disconnects = %v", got)
	}
}

func TestReceiverConnectFailure(t *testing.T) {
	c := newFakeCentral()
	c.connectErr = link.ErrPeerNotFound
	r := session.NewReceiver(c, testOptions(nil))
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "scanning", func() bool { return r.Status() == session.Discovering })
	c.advertise("tx", -50)
	waitDone(t, r)

	if r.Status() != session.Failure || !errors.Is(r.Err(), link.ErrPeerNotFound) {
		t.Errorf("expected Failure with ErrPeerNotFound, got %s (%v)", r.Status(), r.Err())
	}
}

func TestReceiverDiscoveryTimeout(t *testing.T) {
	opts := testOptions(nil)
	opts.DiscoveryTimeout = 30 * time.Millisecond
	c := newFakeCentral()
	r := session.NewReceiver(c, opts)
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, r)

	if !errors.Is(r.Err(), session.ErrDiscoveryTimeout) {
		t.Errorf("expected ErrDiscoveryTimeout, got %v", r.Err())
	}
	if got := c.counts().stopScans; got != 1 {
		t.Errorf("StopScan called %d times", got)
	}
	if label := r.Snapshot().Label(); label != "No sender found" {
		t.Errorf("label = %q", label)
	}
}

// TestReceiverStall verifies a lost chunk ends the transfer once the link
// goes quiet.
func TestReceiverStall(t *testing.T) {
	opts := testOptions(nil)
	opts.StallTimeout = 50 * time.Millisecond
	c := newFakeCentral()
	r := startReceiver(t, c, opts)

	frames, _ := split(t, assembly.Sequenced, makePayload(1000))
	for _, f := range frames[:len(frames)-1] {
		c.channel.deliver(f)
	}
	waitDone(t, r)

	if !errors.Is(r.Err(), session.ErrStalled) {
		t.Errorf("expected ErrStalled, got %s (%v)", r.Status(), r.Err())
	}
}

func TestReceiverScanUnavailable(t *testing.T) {
	c := newFakeCentral()
	c.scanErr = link.ErrUnavailable
	r := session.NewReceiver(c, testOptions(nil))
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, r)

	if !errors.Is(r.Err(), session.ErrTransportUnavailable) {
		t.Errorf("expected ErrTransportUnavailable, got %v", r.Err())
	}
}
