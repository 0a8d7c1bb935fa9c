package mjpegcapture

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/mjpegtest"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/rendezvous"
)

func newTestCapture(t *testing.T, srv *mjpegtest.Server, cfg Config, opts ...CaptureOption) *Capture {
	t.Helper()
	c, err := OpenCapture(context.Background(), srv.URL, NoCredential(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// waitForWaiter polls until a RequestSnapshot call has registered demand.
func waitForWaiter(t *testing.T, c *Capture) {
	t.Helper()
	require.Eventually(t, func() bool { return c.currentSlot().HasWaiter() }, 2*time.Second, time.Millisecond)
}

func readerExited(c *Capture) bool {
	select {
	case <-c.currentSlot().Done():
		return true
	default:
		return false
	}
}

func TestCapture_RequestSnapshot(t *testing.T) {
	srv := newTestServer(t, 10*time.Millisecond)
	c := newTestCapture(t, srv, testConfig())

	frame, err := c.RequestSnapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []byte{0xFF, 0xD8}, frame.Data[:2])
	assert.NotZero(t, frame.Seq)
	assert.False(t, frame.Timestamp.IsZero())
	assert.Equal(t, c.Session().ID(), frame.SessionID)
	assert.Equal(t, "test-cam", frame.SourceName)
	assert.NotEmpty(t, frame.TraceID)

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.FramesDelivered)
	assert.GreaterOrEqual(t, stats.FramesDecoded, stats.FramesDelivered)
	assert.Greater(t, stats.BytesRead, uint64(0))
	assert.True(t, stats.IsConnected)
	assert.Equal(t, c.Session().ID(), stats.SessionID)
}

// TestCapture_NoStaleFrames verifies frames decoded without a pending request
// are dropped rather than served later.
func TestCapture_NoStaleFrames(t *testing.T) {
	srv := newTestServer(t, 5*time.Millisecond)
	c := newTestCapture(t, srv, testConfig())
	ctx := context.Background()

	first, err := c.RequestSnapshot(ctx)
	require.NoError(t, err)

	dropped := c.Stats().FramesDropped
	require.Eventually(t, func() bool { return c.Stats().FramesDropped >= dropped+3 }, 2*time.Second, time.Millisecond)

	second, err := c.RequestSnapshot(ctx)
	require.NoError(t, err)

	assert.True(t, second.Timestamp.After(first.Timestamp))
	assert.Greater(t, second.Seq, first.Seq+3)
	assert.Greater(t, mjpegtest.SeqOf(second.Data), mjpegtest.SeqOf(first.Data))
}

// TestCapture_MidRecordRequestSkipsRecord requests while the reader is blocked
// inside a record: that record started before the request, so the caller gets
// the one after it.
func TestCapture_MidRecordRequestSkipsRecord(t *testing.T) {
	srv := newTestServer(t, 200*time.Millisecond)
	c := newTestCapture(t, srv, testConfig())

	require.Eventually(t, func() bool { return c.Stats().FramesDecoded >= 1 }, 2*time.Second, time.Millisecond)
	decoded := c.Stats().FramesDecoded

	frame, err := c.RequestSnapshot(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, frame.Seq, decoded+2, "the record in progress at request time must not be served")
	assert.GreaterOrEqual(t, c.Stats().FramesDropped, decoded+1)
}

// TestCapture_ConcurrentSnapshots runs N simultaneous requests against one
// capture: every caller gets its own frame and nobody stalls.
func TestCapture_ConcurrentSnapshots(t *testing.T) {
	const callers = 8

	srv := newTestServer(t, 5*time.Millisecond)
	c := newTestCapture(t, srv, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		mu   sync.Mutex
		seqs = make(map[uint64]int)
		wire = make(map[int]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			frame, err := c.RequestSnapshot(ctx)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			seqs[frame.Seq]++
			wire[mjpegtest.SeqOf(frame.Data)] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seqs, callers, "each caller must receive a distinct frame")
	assert.Len(t, wire, callers)
	assert.EqualValues(t, callers, c.Stats().FramesDelivered)
}

// TestCapture_ReconnectRecovery cuts the connection mid-stream and verifies a
// later snapshot succeeds on the new connection.
func TestCapture_ReconnectRecovery(t *testing.T) {
	srv := newTestServer(t, 10*time.Millisecond)
	srv.DropAfter(3)
	c := newTestCapture(t, srv, testConfig())

	require.Eventually(t, func() bool { return c.Stats().Reconnects >= 1 }, 3*time.Second, 5*time.Millisecond)
	srv.DropAfter(0)

	// Backoff (20ms) plus one connect, with generous slack for slow CI.
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := c.RequestSnapshot(ctx)
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)

	stats := c.Stats()
	assert.GreaterOrEqual(t, srv.Connections(), int64(3))
	assert.Greater(t, stats.ErrorsTransport, uint64(0))
}

// TestCapture_ReadErrorReachesWaiter verifies the caller waiting when the
// connection breaks receives the transport error.
func TestCapture_ReadErrorReachesWaiter(t *testing.T) {
	srv := newTestServer(t, 200*time.Millisecond)
	srv.DropAfter(1)
	c := newTestCapture(t, srv, testConfig())

	// Frame 1 arrives at ~200ms, the drop at ~400ms.
	require.Eventually(t, func() bool { return c.Stats().FramesDecoded >= 1 }, 2*time.Second, time.Millisecond)

	_, err := c.RequestSnapshot(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransport(err), "want KindTransport, got %s: %v", KindOf(err), err)
}

func TestCapture_ReadTimeoutReachesWaiter(t *testing.T) {
	srv := newTestServer(t, 300*time.Millisecond)
	cfg := testConfig()
	cfg.ReadTimeout = 100 * time.Millisecond
	c := newTestCapture(t, srv, cfg)

	_, err := c.RequestSnapshot(context.Background())
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "want KindTimeout, got %s: %v", KindOf(err), err)

	require.Eventually(t, func() bool { return c.Stats().ErrorsTimeout >= 1 }, time.Second, time.Millisecond)
}

func TestCapture_Close(t *testing.T) {
	srv := newTestServer(t, time.Second)
	cfg := testConfig()
	cfg.ReadTimeout = 2 * time.Second
	c := newTestCapture(t, srv, cfg)

	errc := make(chan error, 1)
	go func() {
		_, err := c.RequestSnapshot(context.Background())
		errc <- err
	}()
	waitForWaiter(t, c)

	start := time.Now()
	require.NoError(t, c.Close())
	assert.Less(t, time.Since(start), time.Second, "close must not wait for the read deadline")

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrCaptureClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending RequestSnapshot did not return after Close")
	}

	_, err := c.RequestSnapshot(context.Background())
	assert.ErrorIs(t, err, ErrCaptureClosed)
	_, err = c.Warmup(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, ErrCaptureClosed)

	assert.NoError(t, c.Close(), "Close must be idempotent")
	assert.False(t, c.Stats().IsConnected)
}

func TestCapture_CallerContext(t *testing.T) {
	srv := newTestServer(t, time.Second)
	cfg := testConfig()
	cfg.ReadTimeout = 2 * time.Second
	c := newTestCapture(t, srv, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.RequestSnapshot(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, KindUnknown, KindOf(err), "caller cancellation is not a capture failure")
	assert.False(t, c.currentSlot().HasWaiter(), "demand must be withdrawn")
}

func TestCapture_SnapshotTimeout(t *testing.T) {
	srv := newTestServer(t, time.Second)
	cfg := testConfig()
	cfg.ReadTimeout = 2 * time.Second
	cfg.SnapshotTimeout = 50 * time.Millisecond
	c := newTestCapture(t, srv, cfg)

	_, err := c.RequestSnapshot(context.Background())
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestCapture_RestartsExhausted stops the server so the reader gives up, then
// verifies RequestSnapshot restarts it a bounded number of times and reports a
// channel error instead of retrying forever.
func TestCapture_RestartsExhausted(t *testing.T) {
	srv := mjpegtest.NewServer(10 * time.Millisecond)
	cfg := testConfig()
	cfg.ReconnectMaxRetries = 1
	cfg.MaxRestarts = 2
	c := newTestCapture(t, srv, cfg)

	srv.Close()
	require.Eventually(t, func() bool { return readerExited(c) }, 3*time.Second, 5*time.Millisecond)

	start := time.Now()
	_, err := c.RequestSnapshot(context.Background())
	require.Error(t, err)

	assert.True(t, IsChannel(err), "want KindChannel, got %s: %v", KindOf(err), err)
	assert.ErrorIs(t, err, ErrRestartsExhausted)
	assert.ErrorIs(t, err, rendezvous.ErrProducerGone)
	assert.Less(t, time.Since(start), 2*time.Second)

	stats := c.Stats()
	assert.EqualValues(t, 2, stats.Restarts)
	assert.EqualValues(t, 1, stats.ErrorsChannel)
	assert.False(t, stats.IsConnected)
}

// TestCapture_RestartRecovers lets the reader exit while the server answers
// 503, then verifies the next snapshot restarts it once the server is back.
func TestCapture_RestartRecovers(t *testing.T) {
	srv := newTestServer(t, 10*time.Millisecond)
	srv.DropAfter(2)
	cfg := testConfig()
	cfg.ReconnectMaxRetries = 1
	c := newTestCapture(t, srv, cfg)
	srv.SetStatus(http.StatusServiceUnavailable)

	require.Eventually(t, func() bool { return readerExited(c) }, 3*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, c.Stats().ErrorsValidation, uint64(1))

	srv.SetStatus(http.StatusOK)
	frame, err := c.RequestSnapshot(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, frame.Data)
	assert.EqualValues(t, 1, c.Stats().Restarts)
}

func TestCapture_MaxRestartsZero(t *testing.T) {
	srv := mjpegtest.NewServer(10 * time.Millisecond)
	cfg := testConfig()
	cfg.ReconnectMaxRetries = 1
	cfg.MaxRestarts = 0
	c := newTestCapture(t, srv, cfg)

	srv.Close()
	require.Eventually(t, func() bool { return readerExited(c) }, 3*time.Second, 5*time.Millisecond)

	_, err := c.RequestSnapshot(context.Background())
	assert.True(t, IsChannel(err))
	assert.EqualValues(t, 0, c.Stats().Restarts)
}

func TestCapture_Warmup(t *testing.T) {
	srv := newTestServer(t, 20*time.Millisecond)
	c := newTestCapture(t, srv, testConfig())

	stats, err := c.Warmup(context.Background(), 400*time.Millisecond)
	if err != nil {
		// Timer jitter on a loaded machine may flag the source as unstable;
		// the statistics are still reported.
		require.NotNil(t, stats, "unexpected warmup error: %v", err)
	}
	require.NotNil(t, stats)
	assert.GreaterOrEqual(t, stats.FramesReceived, 5)
	assert.Greater(t, stats.FPSMean, 0.0)
	assert.EqualValues(t, 0, c.Stats().FramesDelivered, "warmup must not consume snapshots")
}

func TestCapture_Metrics(t *testing.T) {
	srv := newTestServer(t, 10*time.Millisecond)
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	c := newTestCapture(t, srv, testConfig(), WithMetrics(m))

	_, err := c.RequestSnapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDelivered.WithLabelValues("test-cam")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connected.WithLabelValues("test-cam")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.framesDecoded.WithLabelValues("test-cam")), 1.0)

	count, err := testutil.GatherAndCount(registry, "mjpeg_capture_snapshot_wait_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.recordDecoded("x", 10)
		m.recordDelivered("x")
		m.recordDropped("x")
		m.recordError("x", KindTimeout)
		m.recordReconnect("x")
		m.recordRestart("x")
		m.setConnected("x", true)
		m.observeSnapshot("x", time.Second, errors.New("boom"))
	})
}

func TestNewCapture_Validation(t *testing.T) {
	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig()
		cfg.ReconnectDelay = 0
		_, err := NewCapture(Session{}, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reconnect delay")
	})

	t.Run("zero session", func(t *testing.T) {
		_, err := NewCapture(Session{}, testConfig())
		require.Error(t, err)
		assert.True(t, IsValidation(err))
	})

	t.Run("server gone before first connect", func(t *testing.T) {
		srv := mjpegtest.NewServer(10 * time.Millisecond)
		session, err := NewPool(WithConfig(testConfig())).Open(context.Background(), srv.URL, NoCredential())
		require.NoError(t, err)
		srv.Close()

		c, err := NewCapture(session, testConfig())
		require.Error(t, err, "the first connect is not retried")
		assert.Nil(t, c)
		assert.True(t, IsTransport(err))
	})
}
