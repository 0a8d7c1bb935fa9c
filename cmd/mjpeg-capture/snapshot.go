package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mjpegcapture "github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture"
)

var snapshotFlags struct {
	count     int
	interval  time.Duration
	outputDir string
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Take one or more snapshots from the stream",
	Long: `Open the stream, take snapshots at a fixed interval and optionally
save them to disk as frame_<seq>_<timestamp>.jpg.

Examples:
  # One snapshot, printed only
  mjpeg-capture snapshot --url http://192.168.1.50/video.mjpg

  # Ten snapshots, two seconds apart, saved to ./frames
  mjpeg-capture snapshot --url http://192.168.1.50/video.mjpg --count 10 --interval 2s --output ./frames

  # Until Ctrl+C
  mjpeg-capture snapshot --url http://192.168.1.50/video.mjpg --count 0`,
	RunE: runSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)

	snapshotCmd.Flags().IntVarP(&snapshotFlags.count, "count", "n", 1, "number of snapshots (0 = until interrupted)")
	snapshotCmd.Flags().DurationVarP(&snapshotFlags.interval, "interval", "i", time.Second, "pause between snapshots")
	snapshotCmd.Flags().StringVarP(&snapshotFlags.outputDir, "output", "o", "", "directory to save snapshots (optional)")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	if err := requireURL(); err != nil {
		return err
	}

	var saver *FrameSaver
	if snapshotFlags.outputDir != "" {
		var err error
		saver, err = NewFrameSaver(snapshotFlags.outputDir)
		if err != nil {
			return err
		}
		slog.Info("frame saving enabled", "directory", snapshotFlags.outputDir)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	capture, err := mjpegcapture.OpenCapture(ctx, sourceURL, credential(), captureConfig())
	if err != nil {
		return fmt.Errorf("open %s: %w", captureFlags.source, err)
	}
	defer capture.Close()

	out := cmd.OutOrStdout()
	taken, err := takeSnapshots(ctx, capture, snapshotFlags.count, snapshotFlags.interval, saver, out)

	printStats(out, "Final Statistics", capture.Stats())
	if saver != nil {
		saved, dropped := saver.Stats()
		fmt.Fprintf(out, "  Saved %d snapshots to %s (%d failed)\n", saved, snapshotFlags.outputDir, dropped)
	}

	if err != nil {
		return err
	}
	if taken == 0 {
		return errors.New("no snapshot taken")
	}
	return nil
}

// takeSnapshots requests count snapshots (0 = until ctx is done) with interval
// between them. Failed requests are logged and do not count. It returns the
// number of snapshots taken; the error is non-nil only when the provider can
// no longer serve.
func takeSnapshots(ctx context.Context, provider mjpegcapture.SnapshotProvider, count int, interval time.Duration, saver *FrameSaver, out io.Writer) (int, error) {
	taken := 0
	for attempt := 0; count == 0 || taken < count; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return taken, nil
			case <-time.After(interval):
			}
		}

		frame, err := provider.RequestSnapshot(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return taken, nil
		case errors.Is(err, mjpegcapture.ErrCaptureClosed), mjpegcapture.IsChannel(err):
			return taken, err
		default:
			slog.Warn("snapshot failed", "kind", mjpegcapture.KindOf(err), "error", err)
			continue
		}

		taken++
		printFrame(out, taken, frame)

		if saver != nil {
			path, err := saver.SaveFrame(frame)
			if err != nil {
				slog.Error("failed to save frame", "error", err, "seq", frame.Seq)
			} else {
				slog.Debug("frame saved", "path", path)
			}
		}
	}
	return taken, nil
}

// printFrame prints one compact line per snapshot.
func printFrame(out io.Writer, n int, frame mjpegcapture.Frame) {
	size := "?x?"
	if w, h, ok := dimensions(frame.Data); ok {
		size = fmt.Sprintf("%dx%d", w, h)
	}
	fmt.Fprintf(out, "[%s] Snapshot #%-4d | Seq: %-8d | Size: %7.1f KB | %-9s | Trace: %s\n",
		frame.Timestamp.Format("15:04:05.000"),
		n,
		frame.Seq,
		float64(len(frame.Data))/1024,
		size,
		frame.TraceID,
	)
}
