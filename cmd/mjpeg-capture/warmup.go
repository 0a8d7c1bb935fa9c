package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mjpegcapture "github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture"
)

var warmupFlags struct {
	duration time.Duration
	maxRate  float64
}

var warmupCmd = &cobra.Command{
	Use:   "warmup",
	Short: "Measure source FPS and jitter",
	Long: `Observe the stream for a while and report the source frame rate, its
variance and the inter-frame jitter, plus the snapshot rate a consumer can
sustain against it.

Examples:
  mjpeg-capture warmup --url http://192.168.1.50/video.mjpg
  mjpeg-capture warmup --url http://192.168.1.50/video.mjpg --duration 10s --max-rate 5`,
	RunE: runWarmup,
}

func init() {
	rootCmd.AddCommand(warmupCmd)

	warmupCmd.Flags().DurationVarP(&warmupFlags.duration, "duration", "d", 5*time.Second, "observation window")
	warmupCmd.Flags().Float64Var(&warmupFlags.maxRate, "max-rate", 2.0, "snapshot rate (Hz) the consumer wants at most")
}

func runWarmup(cmd *cobra.Command, args []string) error {
	if err := requireURL(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	capture, err := mjpegcapture.OpenCapture(ctx, sourceURL, credential(), captureConfig())
	if err != nil {
		return fmt.Errorf("open %s: %w", captureFlags.source, err)
	}
	defer capture.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Running warmup (%s) to measure stream stability...\n", warmupFlags.duration)

	stats, err := capture.Warmup(ctx, warmupFlags.duration)
	if err != nil && !errors.Is(err, mjpegcapture.ErrUnstableSource) {
		return fmt.Errorf("warmup failed: %w", err)
	}

	printWarmup(out, stats)
	if !stats.IsStable {
		fmt.Fprintln(out, "\n⚠️  WARNING: Stream is unstable (high FPS variance or jitter)")
	}
	fmt.Fprintf(out, "\nSuggested snapshot rate: %.2f Hz (requested at most %.2f Hz)\n",
		mjpegcapture.OptimalSnapshotRate(stats, warmupFlags.maxRate), warmupFlags.maxRate)
	return nil
}
