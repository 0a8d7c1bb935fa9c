package mjpegcapture

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes capture telemetry to Prometheus.
//
// Metrics:
//   - mjpeg_capture_frames_decoded_total: Frames parsed off the wire by source
//   - mjpeg_capture_frames_delivered_total: Frames handed to snapshot callers
//   - mjpeg_capture_frames_dropped_total: Frames decoded while nobody was waiting
//   - mjpeg_capture_frame_bytes: JPEG payload size distribution
//   - mjpeg_capture_read_errors_total: Read and connect failures by source and kind
//   - mjpeg_capture_reconnects_total: Reconnection attempts
//   - mjpeg_capture_restarts_total: Reader restarts triggered by snapshot callers
//   - mjpeg_capture_connected: 1 while a stream is open
//   - mjpeg_capture_snapshot_wait_seconds: Time RequestSnapshot callers waited
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	framesDecoded   *prometheus.CounterVec
	framesDelivered *prometheus.CounterVec
	framesDropped   *prometheus.CounterVec
	frameBytes      *prometheus.HistogramVec
	readErrors      *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
	restarts        *prometheus.CounterVec
	connected       *prometheus.GaugeVec
	snapshotWait    *prometheus.HistogramVec
}

// NewMetrics creates the capture metrics and registers them with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	const (
		namespace = "mjpeg"
		subsystem = "capture"
	)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	m := &Metrics{
		framesDecoded:   counter("frames_decoded_total", "Total number of frames parsed off the wire", "source"),
		framesDelivered: counter("frames_delivered_total", "Total number of frames handed to snapshot callers", "source"),
		framesDropped:   counter("frames_dropped_total", "Total number of frames decoded with no pending snapshot request", "source"),
		readErrors:      counter("read_errors_total", "Total number of read and connect failures", "source", "kind"),
		reconnects:      counter("reconnects_total", "Total number of reconnection attempts", "source"),
		restarts:        counter("restarts_total", "Total number of reader restarts", "source"),

		frameBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frame_bytes",
			Help:      "JPEG payload size in bytes",
			Buckets:   prometheus.ExponentialBuckets(4<<10, 2, 10), // 4 KiB .. 2 MiB
		}, []string{"source"}),

		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connected",
			Help:      "Whether a stream is currently open (1) or not (0)",
		}, []string{"source"}),

		snapshotWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "snapshot_wait_seconds",
			Help:      "Time RequestSnapshot callers waited for a frame",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source", "result"}),
	}

	registerer.MustRegister(
		m.framesDecoded,
		m.framesDelivered,
		m.framesDropped,
		m.frameBytes,
		m.readErrors,
		m.reconnects,
		m.restarts,
		m.connected,
		m.snapshotWait,
	)

	return m
}

func (m *Metrics) recordDecoded(source string, size int) {
	if m == nil {
		return
	}
	m.framesDecoded.WithLabelValues(source).Inc()
	m.frameBytes.WithLabelValues(source).Observe(float64(size))
}

func (m *Metrics) recordDelivered(source string) {
	if m == nil {
		return
	}
	m.framesDelivered.WithLabelValues(source).Inc()
}

func (m *Metrics) recordDropped(source string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(source).Inc()
}

func (m *Metrics) recordError(source string, kind ErrorKind) {
	if m == nil {
		return
	}
	m.readErrors.WithLabelValues(source, kind.String()).Inc()
}

func (m *Metrics) recordReconnect(source string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(source).Inc()
}

func (m *Metrics) recordRestart(source string) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(source).Inc()
}

func (m *Metrics) setConnected(source string, connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	m.connected.WithLabelValues(source).Set(v)
}

func (m *Metrics) observeSnapshot(source string, wait time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}
	m.snapshotWait.WithLabelValues(source, result).Observe(wait.Seconds())
}
