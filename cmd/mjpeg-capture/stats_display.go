package main

import (
	"fmt"
	"io"
	"time"

	mjpegcapture "github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture"
)

// printStats prints capture statistics as a box.
func printStats(w io.Writer, title string, stats mjpegcapture.CaptureStats) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╭─────────────────────────────────────────────────────────╮")
	fmt.Fprintf(w, "│ %s (Uptime: %s)\n", title, stats.Uptime.Round(time.Second))
	fmt.Fprintln(w, "├─────────────────────────────────────────────────────────┤")
	fmt.Fprintf(w, "│ Source:             %s\n", stats.SourceName)
	fmt.Fprintf(w, "│ Frames Decoded:     %6d frames\n", stats.FramesDecoded)
	fmt.Fprintf(w, "│ Frames Delivered:   %6d frames\n", stats.FramesDelivered)
	fmt.Fprintf(w, "│ Frames Dropped:     %6d frames (%.1f%%)\n", stats.FramesDropped, stats.DropRate)
	fmt.Fprintf(w, "│ Real FPS:           %6.2f fps\n", stats.FPSReal)
	fmt.Fprintf(w, "│ Latency:            %6d ms\n", stats.LatencyMS)
	fmt.Fprintf(w, "│ Bytes Read:         %6.2f MB\n", float64(stats.BytesRead)/1024/1024)
	fmt.Fprintf(w, "│ Reconnects:         %6d\n", stats.Reconnects)
	fmt.Fprintf(w, "│ Restarts:           %6d\n", stats.Restarts)
	fmt.Fprintf(w, "│ Connected:          %6v\n", stats.IsConnected)

	totalErrors := stats.ErrorsTransport + stats.ErrorsProtocol + stats.ErrorsTimeout +
		stats.ErrorsValidation + stats.ErrorsChannel
	if totalErrors > 0 {
		fmt.Fprintln(w, "├─────────────────────────────────────────────────────────┤")
		fmt.Fprintln(w, "│ Error Telemetry")
		fmt.Fprintln(w, "├─────────────────────────────────────────────────────────┤")
		fmt.Fprintf(w, "│ Transport Errors:   %6d\n", stats.ErrorsTransport)
		fmt.Fprintf(w, "│ Protocol Errors:    %6d\n", stats.ErrorsProtocol)
		fmt.Fprintf(w, "│ Timeout Errors:     %6d\n", stats.ErrorsTimeout)
		fmt.Fprintf(w, "│ Validation Errors:  %6d\n", stats.ErrorsValidation)
		fmt.Fprintf(w, "│ Channel Errors:     %6d\n", stats.ErrorsChannel)
	}
	fmt.Fprintln(w, "╰─────────────────────────────────────────────────────────╯")
}

// printWarmup prints warm-up statistics as a box.
func printWarmup(w io.Writer, stats *mjpegcapture.WarmupStats) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╭─────────────────────────────────────────────────────────╮")
	fmt.Fprintln(w, "│ Warmup Complete")
	fmt.Fprintln(w, "├─────────────────────────────────────────────────────────┤")
	fmt.Fprintf(w, "│ Frames Received:    %6d frames\n", stats.FramesReceived)
	fmt.Fprintf(w, "│ Duration:           %6.1f seconds\n", stats.Duration.Seconds())
	fmt.Fprintf(w, "│ FPS Mean:           %6.2f fps\n", stats.FPSMean)
	fmt.Fprintf(w, "│ FPS StdDev:         %6.2f fps\n", stats.FPSStdDev)
	fmt.Fprintf(w, "│ FPS Range:          %6.1f - %.1f fps\n", stats.FPSMin, stats.FPSMax)
	fmt.Fprintf(w, "│ Jitter Mean:        %6.3f s\n", stats.JitterMean)
	fmt.Fprintf(w, "│ Jitter Max:         %6.3f s\n", stats.JitterMax)
	fmt.Fprintf(w, "│ Stable:             %6v\n", stats.IsStable)
	fmt.Fprintln(w, "╰─────────────────────────────────────────────────────────╯")
}
