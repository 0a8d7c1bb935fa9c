package mjpegcapture

import (
	"context"
	"time"
)

// SnapshotProvider defines the contract for on-demand frame acquisition
//
// Implementations must guarantee:
//   - RequestSnapshot() returns a frame decoded after the call was made
//   - Concurrent RequestSnapshot() calls each receive a distinct frame
//   - Close() is idempotent (safe to call multiple times)
//   - Stats() is thread-safe (can be called from any goroutine)
type SnapshotProvider interface {
	// RequestSnapshot blocks until the next frame is decoded and returns it.
	//
	// The returned Frame.Data is owned by the caller. If the connection fails
	// while the call waits, the error is returned (inspect it with KindOf);
	// the provider reconnects in the background and later calls succeed once
	// the source is back.
	//
	// Example:
	//   frame, err := provider.RequestSnapshot(ctx)
	//   if err != nil {
	//       log.Printf("snapshot failed (%s): %v", mjpegcapture.KindOf(err), err)
	//       return
	//   }
	//   os.WriteFile("snapshot.jpg", frame.Data, 0o644)
	RequestSnapshot(ctx context.Context) (Frame, error)

	// Stats returns current capture statistics.
	Stats() CaptureStats

	// Warmup measures source FPS stability over duration without consuming
	// snapshots.
	Warmup(ctx context.Context, duration time.Duration) (*WarmupStats, error)

	// Close stops the background reader. Pending and future RequestSnapshot
	// calls fail with ErrCaptureClosed.
	Close() error
}

var _ SnapshotProvider = (*Capture)(nil)
