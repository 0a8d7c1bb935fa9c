package mjpegcapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/multipart"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/rendezvous"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/warmup"
)

// stopTimeout bounds how long Close waits for the background reader.
const stopTimeout = 3 * time.Second

// Capture keeps one background reader attached to a Session and serves
// RequestSnapshot calls from it.
//
// The reader decodes frames continuously. A frame whose record started while a
// caller was already waiting is handed to that caller; any other frame is
// dropped. A snapshot is therefore always a frame read entirely after the
// request was made; a request arriving mid-record waits for the next one.
type Capture struct {
	session Session
	cfg     Config
	metrics *Metrics

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool // termination flag, never reset

	// Current reader generation. A new slot is created per (re)start.
	mu     sync.Mutex
	slot   *rendezvous.Slot[Frame]
	parser *multipart.Parser // used by one reader goroutine at a time

	observersMu sync.Mutex
	observers   map[chan<- warmup.Frame]struct{}

	// Statistics (atomic for thread-safety)
	seq             atomic.Uint64
	framesDecoded   atomic.Uint64
	framesDelivered atomic.Uint64
	framesDropped   atomic.Uint64
	bytesRead       atomic.Uint64
	reconnects      uint64
	restarts        atomic.Uint64
	errorCounts     [KindChannel + 1]atomic.Uint64
	connected       atomic.Bool
	started         time.Time
	lastFrameAt     atomic.Int64 // unix nanoseconds
}

// CaptureOption configures a Capture.
type CaptureOption func(*Capture)

// WithMetrics records capture telemetry in m.
func WithMetrics(m *Metrics) CaptureOption {
	return func(c *Capture) { c.metrics = m }
}

// NewCapture validates cfg, connects to the session target and starts the
// background reader.
//
// The first connect is not retried: its error is returned and nothing keeps
// running.
func NewCapture(session Session, cfg Config, opts ...CaptureOption) (*Capture, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if session.client == nil {
		return nil, &Error{Kind: KindValidation, Op: "connect", Err: errors.New("session was not opened by a Pool")}
	}

	c := &Capture{
		session:   session,
		cfg:       cfg,
		parser:    multipart.NewParser(cfg.parserOptions()),
		observers: make(map[chan<- warmup.Frame]struct{}),
		started:   time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.mu.Lock()
	err := c.start(c.ctx)
	c.mu.Unlock()
	if err != nil {
		c.cancel()
		return nil, err
	}

	slog.Info("mjpeg-capture: capture started",
		"session_id", session.id,
		"url", session.url,
		"source", cfg.SourceName,
		"header_skip", c.parser.Options().HeaderSkip,
		"read_timeout", cfg.ReadTimeout,
		"reconnect_delay", cfg.ReconnectDelay,
	)

	return c, nil
}

// OpenCapture validates rawURL with a Pool and starts a Capture on the
// resulting Session. A failed validation returns before any background work
// starts.
func OpenCapture(ctx context.Context, rawURL string, cred Credential, cfg Config, opts ...CaptureOption) (*Capture, error) {
	session, err := NewPool(WithConfig(cfg)).Open(ctx, rawURL, cred)
	if err != nil {
		return nil, err
	}
	return NewCapture(session, cfg, opts...)
}

// Session returns the session the capture reads from.
func (c *Capture) Session() Session { return c.session }

// RequestSnapshot blocks until the background reader decodes the next frame
// and returns it. If the reader fails while the call waits, the read error is
// returned instead.
//
// If the reader has exited, RequestSnapshot restarts it, at most
// Config.MaxRestarts times, and the whole call is bounded by
// Config.SnapshotTimeout. Exhausting the restarts yields a KindChannel error
// wrapping ErrRestartsExhausted and the last cause.
//
// Concurrent callers are served one at a time in arrival order, each with its
// own frame.
func (c *Capture) RequestSnapshot(ctx context.Context) (Frame, error) {
	if c.closed.Load() {
		return Frame{}, ErrCaptureClosed
	}

	parent := ctx
	if c.cfg.SnapshotTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.SnapshotTimeout)
		defer cancel()
	}

	start := time.Now()
	frame, err := c.requestSnapshot(ctx, parent)
	c.metrics.observeSnapshot(c.cfg.SourceName, time.Since(start), err)

	if err != nil {
		slog.Debug("mjpeg-capture: snapshot failed",
			"session_id", c.session.id,
			"wait", time.Since(start),
			"error", err,
		)
	}
	return frame, err
}

func (c *Capture) requestSnapshot(ctx, parent context.Context) (Frame, error) {
	attempts := 0
	for {
		slot := c.currentSlot()
		frame, err := slot.Request(ctx)

		switch {
		case err == nil:
			return frame, nil
		case c.closed.Load():
			return Frame{}, ErrCaptureClosed
		case parent.Err() != nil:
			return Frame{}, parent.Err()
		case ctx.Err() != nil:
			return Frame{}, &Error{
				Kind: KindTimeout,
				Op:   "snapshot",
				URL:  c.session.url,
				Err:  fmt.Errorf("no frame within %v: %w", c.cfg.SnapshotTimeout, ctx.Err()),
			}
		case !errors.Is(err, rendezvous.ErrProducerGone):
			// Read error delivered by the reader.
			return Frame{}, err
		}

		if attempts >= c.cfg.MaxRestarts {
			c.recordError(KindChannel)
			return Frame{}, &Error{
				Kind: KindChannel,
				Op:   "snapshot",
				URL:  c.session.url,
				Err:  fmt.Errorf("%w (%d attempts): %w", ErrRestartsExhausted, attempts, err),
			}
		}

		if attempts > 0 {
			select {
			case <-time.After(c.cfg.ReconnectDelay):
			case <-ctx.Done():
				continue // reported by the next Request
			}
		}
		attempts++
		c.restart(ctx, slot)
	}
}

// Close sets the termination flag, stops the background reader and fails
// pending and future RequestSnapshot calls with ErrCaptureClosed.
//
// Idempotent - safe to call multiple times.
func (c *Capture) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	slog.Info("mjpeg-capture: stopping capture", "session_id", c.session.id)

	c.cancel()

	c.mu.Lock()
	slot := c.slot
	c.mu.Unlock()
	slot.Close(ErrCaptureClosed)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Debug("mjpeg-capture: reader stopped cleanly")
	case <-time.After(stopTimeout):
		slog.Warn("mjpeg-capture: stop timeout exceeded, reader may still be running")
	}

	stats := c.Stats()
	slog.Info("mjpeg-capture: capture stopped",
		"session_id", c.session.id,
		"frames_decoded", stats.FramesDecoded,
		"frames_delivered", stats.FramesDelivered,
		"reconnects", stats.Reconnects,
		"restarts", stats.Restarts,
		"uptime", stats.Uptime,
	)

	return nil
}

// Stats returns current capture statistics.
//
// Thread-safe - uses atomic operations for counters.
func (c *Capture) Stats() CaptureStats {
	decoded := c.framesDecoded.Load()
	dropped := c.framesDropped.Load()
	uptime := time.Since(c.started)

	var fpsReal float64
	if s := uptime.Seconds(); s > 0 {
		fpsReal = float64(decoded) / s
	}

	var dropRate float64
	if decoded > 0 {
		dropRate = float64(dropped) / float64(decoded) * 100.0
	}

	var latencyMS int64
	if last := c.lastFrameAt.Load(); last != 0 {
		latencyMS = time.Since(time.Unix(0, last)).Milliseconds()
	}

	return CaptureStats{
		FramesDecoded:    decoded,
		FramesDelivered:  c.framesDelivered.Load(),
		FramesDropped:    dropped,
		DropRate:         dropRate,
		FPSReal:          fpsReal,
		LatencyMS:        latencyMS,
		BytesRead:        c.bytesRead.Load(),
		Reconnects:       atomic.LoadUint64(&c.reconnects),
		Restarts:         c.restarts.Load(),
		IsConnected:      c.connected.Load(),
		SourceName:       c.cfg.SourceName,
		SessionID:        c.session.id,
		Uptime:           uptime,
		ErrorsTransport:  c.errorCounts[KindTransport].Load(),
		ErrorsProtocol:   c.errorCounts[KindProtocol].Load(),
		ErrorsTimeout:    c.errorCounts[KindTimeout].Load(),
		ErrorsValidation: c.errorCounts[KindValidation].Load(),
		ErrorsChannel:    c.errorCounts[KindChannel].Load(),
	}
}

// Warmup observes decoded frames for duration and reports the source FPS and
// jitter. It does not consume snapshots: frames keep flowing to
// RequestSnapshot callers during the window.
//
// When the source is unstable the statistics are returned together with an
// error.
func (c *Capture) Warmup(ctx context.Context, duration time.Duration) (*WarmupStats, error) {
	if c.closed.Load() {
		return nil, ErrCaptureClosed
	}

	ch := make(chan warmup.Frame, 256)
	c.observersMu.Lock()
	c.observers[ch] = struct{}{}
	c.observersMu.Unlock()

	defer func() {
		c.observersMu.Lock()
		delete(c.observers, ch)
		c.observersMu.Unlock()
	}()

	stats, err := warmup.Run(ctx, ch, duration)
	return fromInternalStats(stats), err
}

func (c *Capture) currentSlot() *rendezvous.Slot[Frame] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot
}

func (c *Capture) recordError(kind ErrorKind) {
	if kind < 0 || int(kind) >= len(c.errorCounts) {
		kind = KindTransport
	}
	c.errorCounts[kind].Add(1)
	c.metrics.recordError(c.cfg.SourceName, kind)
}

func (c *Capture) setConnected(connected bool) {
	c.connected.Store(connected)
	c.metrics.setConnected(c.cfg.SourceName, connected)
}

func (c *Capture) notifyObservers(f warmup.Frame) {
	c.observersMu.Lock()
	defer c.observersMu.Unlock()
	for ch := range c.observers {
		select {
		case ch <- f:
		default:
		}
	}
}
