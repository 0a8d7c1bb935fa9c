package mjpegcapture

import (
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/warmup"
)

// CalculateFPSStats calculates FPS and jitter statistics from frame arrival
// timestamps. A source is stable when the FPS stddev stays below 15% of the
// mean and the mean jitter below 20% of the expected interval.
//
// The implementation lives in internal/warmup; this wrapper exposes it with the
// public WarmupStats type.
func CalculateFPSStats(frameTimes []time.Time, totalDuration time.Duration) *WarmupStats {
	return fromInternalStats(warmup.CalculateFPSStats(frameTimes, totalDuration))
}

// OptimalSnapshotRate returns the snapshot rate (Hz) a consumer can sustain
// against the measured source: maxRate, or 90% of the source FPS when the
// source is slower.
func OptimalSnapshotRate(stats *WarmupStats, maxRate float64) float64 {
	if stats == nil {
		return maxRate
	}
	return warmup.OptimalRate(&warmup.Stats{FPSMean: stats.FPSMean}, maxRate)
}

func fromInternalStats(s *warmup.Stats) *WarmupStats {
	if s == nil {
		return nil
	}
	return &WarmupStats{
		FramesReceived: s.FramesReceived,
		Duration:       s.Duration,
		FPSMean:        s.FPSMean,
		FPSStdDev:      s.FPSStdDev,
		FPSMin:         s.FPSMin,
		FPSMax:         s.FPSMax,
		IsStable:       s.IsStable,
		JitterMean:     s.JitterMean,
		JitterStdDev:   s.JitterStdDev,
		JitterMax:      s.JitterMax,
	}
}

// ErrUnstableSource is returned by Capture.Warmup, together with the
// statistics, when the source FPS or jitter exceeds the stability thresholds.
var ErrUnstableSource = warmup.ErrUnstable
