package mjpegcapture

import "time"

// Frame is one decoded JPEG image with metadata
type Frame struct {
	// Seq is the monotonic sequence number of the frame within its Capture
	Seq uint64
	// Timestamp is when the frame finished decoding
	Timestamp time.Time
	// Data contains the JPEG bytes exactly as received. The caller owns it.
	Data []byte
	// SourceName identifies the source (Config.SourceName)
	SourceName string
	// SessionID identifies the Session the frame was read on
	SessionID string
	// TraceID is a unique identifier for distributed tracing
	TraceID string
}

// CaptureStats contains current capture statistics
type CaptureStats struct {
	// FramesDecoded is the total number of frames parsed off the wire
	FramesDecoded uint64 `json:"frames_decoded"`
	// FramesDelivered is the number of frames handed to RequestSnapshot callers
	FramesDelivered uint64 `json:"frames_delivered"`
	// FramesDropped is the number of frames decoded while nobody was waiting
	FramesDropped uint64 `json:"frames_dropped"`
	// DropRate is the percentage of decoded frames dropped (0-100)
	DropRate float64 `json:"drop_rate"`
	// FPSReal is the measured decode rate since the capture started
	FPSReal float64 `json:"fps_real"`
	// LatencyMS is the time since the last decoded frame in milliseconds
	LatencyMS int64 `json:"latency_ms"`
	// BytesRead is the total bytes read from the network
	BytesRead uint64 `json:"bytes_read"`
	// Reconnects is the number of reconnection attempts
	Reconnects uint64 `json:"reconnects"`
	// Restarts is the number of times an exited reader was restarted
	Restarts uint64 `json:"restarts"`
	// IsConnected indicates if a stream is currently open
	IsConnected bool `json:"connected"`
	// SourceName identifies the source
	SourceName string `json:"source"`
	// SessionID identifies the Session
	SessionID string `json:"session_id"`
	// Uptime is the time since the capture started
	Uptime time.Duration `json:"uptime_ns"`

	// Error telemetry by kind
	ErrorsTransport  uint64 `json:"errors_transport"`
	ErrorsProtocol   uint64 `json:"errors_protocol"`
	ErrorsTimeout    uint64 `json:"errors_timeout"`
	ErrorsValidation uint64 `json:"errors_validation"`
	ErrorsChannel    uint64 `json:"errors_channel"`
}

// WarmupStats contains statistics collected during a warm-up window
type WarmupStats struct {
	// FramesReceived is the number of frames decoded during warm-up
	FramesReceived int
	// Duration is the actual warm-up duration
	Duration time.Duration
	// FPSMean is the mean FPS across all frames
	FPSMean float64
	// FPSStdDev is the standard deviation of instantaneous FPS
	FPSStdDev float64
	// FPSMin is the minimum instantaneous FPS
	FPSMin float64
	// FPSMax is the maximum instantaneous FPS
	FPSMax float64
	// IsStable is true if stddev < 15% of mean AND jitter < 20% of the interval
	IsStable bool
	// JitterMean is the average inter-frame interval variance (seconds)
	JitterMean float64
	// JitterStdDev is the standard deviation of jitter (seconds)
	JitterStdDev float64
	// JitterMax is the maximum jitter observed (seconds)
	JitterMax float64
}
