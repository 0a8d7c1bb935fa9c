package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	mjpegcapture "github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture"
)

const shutdownTimeout = 5 * time.Second

var serveFlags struct {
	listen        string
	snapshotRate  float64
	snapshotBurst int
	wsInterval    time.Duration
	statsInterval time.Duration
	mqttBroker    string
	mqttTopic     string
	mqttQoS       int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve snapshots, stats and metrics over HTTP",
	Long: `Keep one capture open and serve it over HTTP.

Endpoints:
  GET /snapshot   next frame as image/jpeg
  GET /stats      capture statistics as JSON
  GET /healthz    200 while the camera stream is open
  GET /metrics    Prometheus metrics
  GET /ws         websocket pushing one JPEG per --ws-interval

With --mqtt-broker every served snapshot is announced as a msgpack event on
"<mqtt-topic>/<source>/snapshot".

Examples:
  mjpeg-capture serve --url http://192.168.1.50/video.mjpg
  mjpeg-capture serve --url http://192.168.1.50/video.mjpg --listen :9090 --rate 2
  mjpeg-capture serve --url http://192.168.1.50/video.mjpg --mqtt-broker localhost:1883`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listen, "listen", "l", ":8080", "listen address")
	serveCmd.Flags().Float64Var(&serveFlags.snapshotRate, "rate", 5, "snapshots per second served on /snapshot (0 = unlimited)")
	serveCmd.Flags().IntVar(&serveFlags.snapshotBurst, "burst", 5, "snapshot burst allowance")
	serveCmd.Flags().DurationVar(&serveFlags.wsInterval, "ws-interval", time.Second, "interval between websocket frames")
	serveCmd.Flags().DurationVar(&serveFlags.statsInterval, "stats-interval", 30*time.Second, "interval between stats log lines (0 = off)")
	serveCmd.Flags().StringVar(&serveFlags.mqttBroker, "mqtt-broker", "", "MQTT broker host:port for snapshot events (optional)")
	serveCmd.Flags().StringVar(&serveFlags.mqttTopic, "mqtt-topic", "mjpeg", "MQTT topic prefix")
	serveCmd.Flags().IntVar(&serveFlags.mqttQoS, "mqtt-qos", 0, "MQTT QoS for snapshot events (0-2)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := requireURL(); err != nil {
		return err
	}
	if serveFlags.wsInterval <= 0 {
		return fmt.Errorf("--ws-interval must be > 0 (got %v)", serveFlags.wsInterval)
	}
	if serveFlags.mqttQoS < 0 || serveFlags.mqttQoS > 2 {
		return fmt.Errorf("--mqtt-qos must be 0, 1 or 2 (got %d)", serveFlags.mqttQoS)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := mjpegcapture.NewMetrics(registry)

	capture, err := mjpegcapture.OpenCapture(ctx, sourceURL, credential(), captureConfig(), mjpegcapture.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("open %s: %w", captureFlags.source, err)
	}
	defer capture.Close()

	var limiter *rate.Limiter
	if serveFlags.snapshotRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(serveFlags.snapshotRate), serveFlags.snapshotBurst)
	}

	handler := newSnapshotServer(capture, registry, limiter, serveFlags.wsInterval)

	if serveFlags.mqttBroker != "" {
		emitter := NewMQTTEmitter(serveFlags.mqttBroker, "mjpeg-capture-"+capture.Session().ID(), serveFlags.mqttTopic, byte(serveFlags.mqttQoS))
		if err := emitter.Connect(ctx); err != nil {
			return err
		}
		defer emitter.Disconnect()
		handler.events = emitter
	}

	httpServer := &http.Server{
		Addr:              serveFlags.listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting snapshot server", "address", serveFlags.listen, "source", captureFlags.source)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("initiating graceful shutdown", "timeout", shutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	if serveFlags.statsInterval > 0 {
		g.Go(func() error {
			logStats(gctx, capture, serveFlags.statsInterval)
			return nil
		})
	}

	err = g.Wait()
	printStats(cmd.OutOrStdout(), "Final Statistics", capture.Stats())
	return err
}

// logStats logs a one-line stats summary every interval until ctx is done.
func logStats(ctx context.Context, provider mjpegcapture.SnapshotProvider, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := provider.Stats()
			slog.Info("capture stats",
				"source", stats.SourceName,
				"connected", stats.IsConnected,
				"fps", fmt.Sprintf("%.2f", stats.FPSReal),
				"decoded", stats.FramesDecoded,
				"delivered", stats.FramesDelivered,
				"dropped", stats.FramesDropped,
				"reconnects", stats.Reconnects,
				"restarts", stats.Restarts,
			)
		}
	}
}
