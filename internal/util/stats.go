package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global traffic counters
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide frame/transfer counter.
var Stats = &stats{}

type stats struct {
	FramesSent atomic.Int64 // frames accepted by the radio
	FramesRecv atomic.Int64 // frames delivered by the radio, malformed ones included
	BytesSent  atomic.Int64
	BytesRecv  atomic.Int64
	Dropped    atomic.Int64 // inbound frames discarded as malformed or mismatched
	Succeeded  atomic.Int64 // transfers that reached Success
	Failed     atomic.Int64 // transfers that reached Failure
}

func (s *stats) AddSent(n int) { s.FramesSent.Add(1); s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int) { s.FramesRecv.Add(1); s.BytesRecv.Add(int64(n)) }
func (s *stats) AddDropped()   { s.Dropped.Add(1) }
func (s *stats) AddSucceeded() { s.Succeeded.Add(1) }
func (s *stats) AddFailed()    { s.Failed.Add(1) }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	FramesSent, FramesRecv int64
	BytesSent, BytesRecv   int64
	Dropped                int64
	Succeeded, Failed      int64
}

// Snapshot reads every counter.
func (s *stats) Snapshot() Snapshot {
	return Snapshot{
		FramesSent: s.FramesSent.Load(),
		FramesRecv: s.FramesRecv.Load(),
		BytesSent:  s.BytesSent.Load(),
		BytesRecv:  s.BytesRecv.Load(),
		Dropped:    s.Dropped.Load(),
		Succeeded:  s.Succeeded.Load(),
		Failed:     s.Failed.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs link throughput every
// interval while there is traffic. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := Stats.Snapshot()
		for {
			select {
			case <-ticker.C:
				cur := Stats.Snapshot()
				secs := interval.Seconds()

				outS := float64(cur.BytesSent-prev.BytesSent) / secs
				inS := float64(cur.BytesRecv-prev.BytesRecv) / secs
				drops := cur.Dropped - prev.Dropped

				if outS > 0 || inS > 0 || drops > 0 {
					pterm.DefaultLogger.Info(formatStats(outS, inS, drops))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// FormatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func FormatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(outS, inS float64, drops int64) string {
	return fmt.Sprintf("Out: %s/s | In: %s/s | Dropped: %d",
		FormatBytes(outS),
		FormatBytes(inS),
		drops,
	)
}
