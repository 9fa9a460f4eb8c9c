package assembly_test

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/1ureka/txbeam/internal/assembly"
	"github.com/1ureka/txbeam/internal/protocol"
)

// collectAll feeds frames then end into a fresh collector and returns the
// reassembled payload.
func collectAll(t *testing.T, f assembly.Framing, frames [][]byte, end []byte) []byte {
	t.Helper()
	c := f.NewCollector()
	for i, frame := range frames {
		done, err := c.Collect(frame)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if done && f == assembly.Sentinel {
			t.Fatalf("sentinel collector finished early at frame %d", i)
		}
	}
	if done, err := c.Collect(end); !done || err != nil {
		t.Fatalf("end frame: done=%v err=%v", done, err)
	}
	got, err := c.Payload()
	if err != nil {
		t.Fatalf("Payload failed: %v", err)
	}
	return got
}

func TestFramingRoundTrip(t *testing.T) {
	for _, f := range []assembly.Framing{assembly.Sequenced, assembly.Sentinel} {
		for _, size := range []int{0, 1, 170, 171, 172, 1000, 3000} {
			payload := makeTestData(size, 0x11)

			frames, end, err := f.Split(payload, 182)
			if err != nil {
				t.Fatalf("%s/%d: Split failed: %v", f.Name(), size, err)
			}
			for i, frame := range frames {
				if len(frame) > 182 {
					t.Errorf("%s/%d: frame %d is %d bytes", f.Name(), size, i, len(frame))
				}
			}

			got := collectAll(t, f, frames, end)
			if !bytes.Equal(got, payload) {
				t.Errorf("%s/%d: payload mismatch", f.Name(), size)
			}
		}
	}
}

// TestSequencedOutOfOrder verifies the sequenced collector completes as soon
// as the last missing chunk arrives, before the END frame.
func TestSequencedOutOfOrder(t *testing.T) {
	payload := makeTestData(2000, 0x22)
	frames, _, err := assembly.Sequenced.Split(payload, 100)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	c := assembly.Sequenced.NewCollector()
	order := rand.Perm(len(frames))
	for i, idx := range order {
		done, err := c.Collect(frames[idx])
		if err != nil {
			t.Fatalf("Collect failed: %v", err)
		}
		if done != (i == len(order)-1) {
			t.Fatalf("done=%v after %d of %d frames", done, i+1, len(order))
		}
	}

	got, err := c.Payload()
	if err != nil {
		t.Fatalf("Payload failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("payload mismatch")
	}
}

// TestSequencedSkipsBadFrames verifies decode errors and mismatched totals
// are reported without poisoning the transfer.
func TestSequencedSkipsBadFrames(t *testing.T) {
	payload := makeTestData(500, 0x33)
	frames, end, _ := assembly.Sequenced.Split(payload, 182)

	c := assembly.Sequenced.NewCollector()
	if _, err := c.Collect([]byte{0x01, 0x02}); !errors.Is(err, protocol.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}

	for _, frame := range frames {
		if _, err := c.Collect(frame); err != nil {
			t.Fatalf("Collect failed: %v", err)
		}
	}

	stray := protocol.Encode(&protocol.Packet{Type: protocol.TypeChunk, Seq: 0, Total: 99, Payload: []byte("x")})
	if _, err := c.Collect(stray); !errors.Is(err, assembly.ErrProtocolMismatch) {
		t.Fatalf("expected ErrProtocolMismatch, got %v", err)
	}

	c.Collect(end)
	got, err := c.Payload()
	if err != nil {
		t.Fatalf("Payload failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("payload mismatch")
	}
}

// TestSequencedEarlyEnd verifies an END arriving with chunks missing does
// not finish collection and never yields partial data.
func TestSequencedEarlyEnd(t *testing.T) {
	frames, end, _ := assembly.Sequenced.Split(makeTestData(500, 1), 100)

	c := assembly.Sequenced.NewCollector()
	c.Collect(frames[0])
	if done, err := c.Collect(end); done || err != nil {
		t.Fatalf("END with chunks missing: done=%v err=%v", done, err)
	}
	if _, err := c.Payload(); !errors.Is(err, assembly.ErrIncomplete) {
		t.Errorf("expected ErrIncomplete, got %v", err)
	}
}

// TestSequencedEndOvertakesLastChunk verifies the transfer completes when the
// last chunk arrives after the END frame.
func TestSequencedEndOvertakesLastChunk(t *testing.T) {
	payload := makeTestData(1000, 0x44)
	frames, end, _ := assembly.Sequenced.Split(payload, 182)
	last := len(frames) - 1

	c := assembly.Sequenced.NewCollector()
	for _, f := range frames[:last] {
		if done, err := c.Collect(f); done || err != nil {
			t.Fatalf("Collect: done=%v err=%v", done, err)
		}
	}
	if done, err := c.Collect(end); done || err != nil {
		t.Fatalf("END before last chunk: done=%v err=%v", done, err)
	}
	if done, err := c.Collect(frames[last]); !done || err != nil {
		t.Fatalf("last chunk: done=%v err=%v", done, err)
	}

	got, err := c.Payload()
	if err != nil {
		t.Fatalf("Payload failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("payload mismatch")
	}
}

// TestSequencedEndTotalMismatch verifies an END disagreeing with the chunk
// count is discarded.
func TestSequencedEndTotalMismatch(t *testing.T) {
	frames, _, _ := assembly.Sequenced.Split(makeTestData(500, 2), 100)
	c := assembly.Sequenced.NewCollector()
	c.Collect(frames[0])

	bogus := protocol.Encode(&protocol.Packet{Type: protocol.TypeEnd, Total: uint32(len(frames) + 3)})
	if done, err := c.Collect(bogus); done || !errors.Is(err, assembly.ErrProtocolMismatch) {
		t.Errorf("expected ErrProtocolMismatch, got done=%v err=%v", done, err)
	}
}

func TestSequencedRejectsTinyMTU(t *testing.T) {
	if _, _, err := assembly.Sequenced.Split([]byte("abc"), protocol.HeaderSize); !errors.Is(err, assembly.ErrChunkSize) {
		t.Errorf("expected ErrChunkSize, got %v", err)
	}
}

func TestSentinelProgressCapped(t *testing.T) {
	c := assembly.Sentinel.NewCollector()
	for i := 0; i < 40; i++ {
		c.Collect([]byte{byte(i)})
		if p := c.Progress(); p > 0.95+1e-9 {
			t.Fatalf("progress %v exceeds 0.95", p)
		}
	}
	if p := c.Progress(); p < 0.95-1e-9 {
		t.Errorf("progress %v, want 0.95 after many frames", p)
	}
}

func TestSentinelCollision(t *testing.T) {
	_, _, err := assembly.Sentinel.Split([]byte("abcEOM"), 3)
	if !errors.Is(err, assembly.ErrSentinelCollision) {
		t.Errorf("expected ErrSentinelCollision, got %v", err)
	}

	if _, _, err := assembly.Sentinel.Split([]byte("abcEOM"), 4); err != nil {
		t.Errorf("unaligned EOM should not collide: %v", err)
	}
}

func TestSentinelPayloadWithoutEnd(t *testing.T) {
	c := assembly.Sentinel.NewCollector()
	c.Collect([]byte("abc"))
	if _, err := c.Payload(); !errors.Is(err, assembly.ErrIncomplete) {
		t.Errorf("expected ErrIncomplete, got %v", err)
	}
}

func TestFramingByName(t *testing.T) {
	for name, want := range map[string]assembly.Framing{
		"":          assembly.Sequenced,
		"sequenced": assembly.Sequenced,
		"sentinel":  assembly.Sentinel,
	} {
		got, err := assembly.FramingByName(name)
		if err != nil || got != want {
			t.Errorf("FramingByName(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := assembly.FramingByName("json"); err == nil {
		t.Error("expected error for unknown framing")
	}
}
