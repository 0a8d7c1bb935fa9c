package main

import (
	"context"
	"sync"
	"time"

	mjpegcapture "github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/mjpegtest"
)

// fakeProvider serves FakeJPEG frames, or the queued errors first.
type fakeProvider struct {
	mu        sync.Mutex
	seq       uint64
	errs      []error
	connected bool
	closed    bool
	requests  int
}

var _ mjpegcapture.SnapshotProvider = (*fakeProvider)(nil)

func newFakeProvider(errs ...error) *fakeProvider {
	return &fakeProvider{errs: errs, connected: true}
}

func (p *fakeProvider) RequestSnapshot(ctx context.Context) (mjpegcapture.Frame, error) {
	if err := ctx.Err(); err != nil {
		return mjpegcapture.Frame{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests++

	if p.closed {
		return mjpegcapture.Frame{}, mjpegcapture.ErrCaptureClosed
	}
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return mjpegcapture.Frame{}, err
	}

	p.seq++
	return mjpegcapture.Frame{
		Seq:        p.seq,
		Timestamp:  time.Now(),
		Data:       mjpegtest.FakeJPEG(int(p.seq), 128),
		SourceName: "fake-cam",
		TraceID:    "trace-" + time.Now().Format("150405.000000"),
	}, nil
}

func (p *fakeProvider) Stats() mjpegcapture.CaptureStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return mjpegcapture.CaptureStats{
		FramesDecoded:   p.seq,
		FramesDelivered: p.seq,
		IsConnected:     p.connected,
		SourceName:      "fake-cam",
	}
}

func (p *fakeProvider) Warmup(ctx context.Context, d time.Duration) (*mjpegcapture.WarmupStats, error) {
	return &mjpegcapture.WarmupStats{FramesReceived: 10, Duration: d, FPSMean: 10, IsStable: true}, nil
}

func (p *fakeProvider) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *fakeProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}
