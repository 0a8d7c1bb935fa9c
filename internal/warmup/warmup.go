// Package warmup measures the frame rate and jitter of a live source from the
// arrival timestamps of its decoded frames.
package warmup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrNotEnoughFrames is returned when fewer than two frames arrived.
	ErrNotEnoughFrames = errors.New("warmup: not enough frames received")

	// ErrUnstable is returned alongside the statistics when the source rate is
	// not stable enough for steady consumption.
	ErrUnstable = errors.New("warmup: source FPS unstable")

	// ErrSourceClosed is returned when the frame channel closes early.
	ErrSourceClosed = errors.New("warmup: source closed during warm-up")
)

// Frame is the part of a decoded frame the statistics need.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
}

// Stats contains statistics collected during a warm-up window.
type Stats struct {
	FramesReceived int           // Number of frames received during warm-up
	Duration       time.Duration // Actual warm-up duration
	FPSMean        float64       // Mean FPS across all frames
	FPSStdDev      float64       // Standard deviation of instantaneous FPS
	FPSMin         float64       // Minimum instantaneous FPS
	FPSMax         float64       // Maximum instantaneous FPS
	IsStable       bool          // True if stddev < 15% of mean AND jitter < 20% of interval
	JitterMean     float64       // Average inter-frame interval variance (seconds)
	JitterStdDev   float64       // Standard deviation of jitter (seconds)
	JitterMax      float64       // Maximum jitter observed (seconds)
}

// Run consumes frames for duration and returns the measured statistics.
//
// Frames are only observed, never delivered anywhere. When the source turns
// out to be unstable the statistics are returned together with ErrUnstable so
// callers can still report them.
//
// Returns an error if:
//   - the channel closes during warm-up
//   - fewer than 2 frames are received
//   - ctx is cancelled before the window ends
func Run(ctx context.Context, frames <-chan Frame, duration time.Duration) (*Stats, error) {
	slog.Info("warmup: starting",
		"duration", duration,
	)

	start := time.Now()
	frameTimes := make([]time.Time, 0, 64)

	timer := time.NewTimer(duration)
	defer timer.Stop()

collect:
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("warmup: %w", ctx.Err())

		case <-timer.C:
			break collect

		case frame, ok := <-frames:
			if !ok {
				return nil, ErrSourceClosed
			}
			frameTimes = append(frameTimes, frame.Timestamp)

			slog.Debug("warmup: frame received",
				"seq", frame.Seq,
				"frames_collected", len(frameTimes),
			)
		}
	}

	if len(frameTimes) < 2 {
		return nil, fmt.Errorf("%w (got %d, need at least 2)", ErrNotEnoughFrames, len(frameTimes))
	}

	stats := CalculateFPSStats(frameTimes, time.Since(start))

	slog.Info("warmup: complete",
		"frames", stats.FramesReceived,
		"duration", stats.Duration,
		"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
		"fps_range", fmt.Sprintf("%.1f-%.1f", stats.FPSMin, stats.FPSMax),
		"jitter_mean", fmt.Sprintf("%.3fs", stats.JitterMean),
		"stable", stats.IsStable,
	)

	if !stats.IsStable {
		return stats, fmt.Errorf(
			"%w (mean=%.2f Hz, stddev=%.2f, jitter=%.3fs, threshold: FPS<15%%, jitter<20%%)",
			ErrUnstable,
			stats.FPSMean,
			stats.FPSStdDev,
			stats.JitterMean,
		)
	}

	return stats, nil
}
