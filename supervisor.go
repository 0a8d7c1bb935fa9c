package mjpegcapture

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/reconnect"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/rendezvous"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/warmup"
)

// start connects once and launches a reader generation with a fresh slot.
// On failure the new slot is closed with the cause, so waiting callers see the
// reader as gone. Caller must hold c.mu.
func (c *Capture) start(ctx context.Context) error {
	slot := rendezvous.New[Frame]()
	c.slot = slot

	stream, err := c.connect(ctx)
	if err != nil {
		slot.Close(err)
		return err
	}

	c.wg.Add(1)
	go c.run(slot, stream)
	return nil
}

// restart replaces the reader whose slot is dead, unless another caller
// already did. Caller must not hold c.mu.
func (c *Capture) restart(ctx context.Context, dead *rendezvous.Slot[Frame]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() || c.slot != dead {
		return
	}

	n := c.restarts.Add(1)
	c.metrics.recordRestart(c.cfg.SourceName)

	slog.Info("mjpeg-capture: restarting reader",
		"session_id", c.session.id,
		"restart", n,
		"max_restarts", c.cfg.MaxRestarts,
	)

	if err := c.start(ctx); err != nil {
		slog.Warn("mjpeg-capture: reader restart failed",
			"session_id", c.session.id,
			"restart", n,
			"kind", KindOf(err),
			"error", err,
		)
	}
}

// connect opens a stream whose lifetime is bound to the capture, while ctx
// only bounds the connect itself.
func (c *Capture) connect(ctx context.Context) (*Stream, error) {
	streamCtx, release := context.WithCancel(c.ctx)
	stop := context.AfterFunc(ctx, release)

	stream, err := c.session.open(streamCtx, c.parser, c.cfg.ReadTimeout, &c.bytesRead)
	if !stop() {
		// ctx ended while connecting.
		if stream != nil {
			_ = stream.Close()
		}
		release()
		if err == nil {
			err = &Error{Kind: KindTransport, Op: "connect", URL: c.session.url, Err: context.Cause(ctx)}
		}
		return nil, err
	}
	if err != nil {
		release()
		c.recordError(KindOf(err))
		return nil, err
	}

	stream.release = release
	c.setConnected(true)
	return stream, nil
}

// run is the reader loop of one generation. It owns stream and is the only
// writer of slot.
func (c *Capture) run(slot *rendezvous.Slot[Frame], stream *Stream) {
	var exitErr error
	defer func() {
		if stream != nil {
			_ = stream.Close()
		}
		c.setConnected(false)
		slot.Close(exitErr)
		c.wg.Done()
	}()

	state := &reconnect.State{Reconnects: &c.reconnects}

	for {
		if c.closed.Load() {
			exitErr = ErrCaptureClosed
			return
		}

		// Only demand registered before the record starts may receive it.
		mark := slot.Mark()
		err := stream.ReadFrame(c.ctx)
		if err == nil {
			c.handleFrame(slot, stream, mark)
			continue
		}

		if c.closed.Load() || c.ctx.Err() != nil {
			exitErr = ErrCaptureClosed
			return
		}

		kind := KindOf(err)
		c.recordError(kind)
		slog.Warn("mjpeg-capture: read failed, reconnecting",
			"session_id", c.session.id,
			"source", c.cfg.SourceName,
			"kind", kind,
			"error", err,
			"reconnect_delay", c.cfg.ReconnectDelay,
		)

		// The caller waiting right now gets the error; later callers get the
		// first frame after the reconnect.
		slot.Deliver(rendezvous.Result[Frame]{Err: err})

		_ = stream.Close()
		stream = nil
		c.setConnected(false)

		err = reconnect.Run(c.ctx, func(ctx context.Context) error {
			c.metrics.recordReconnect(c.cfg.SourceName)
			s, err := c.connect(ctx)
			if err != nil {
				return err
			}
			stream = s
			return nil
		}, c.cfg.reconnectConfig(), state)

		if err != nil {
			if c.ctx.Err() != nil {
				exitErr = ErrCaptureClosed
				return
			}
			slog.Error("mjpeg-capture: reader stopped after reconnection failure",
				"session_id", c.session.id,
				"source", c.cfg.SourceName,
				"error", err,
			)
			exitErr = err
			return
		}
	}
}

// handleFrame publishes a decoded frame: observers always see it, a caller
// that was already waiting when the record started receives it, otherwise it
// is dropped and the buffer reused.
func (c *Capture) handleFrame(slot *rendezvous.Slot[Frame], stream *Stream, mark uint64) {
	now := time.Now()
	seq := c.seq.Add(1)

	c.framesDecoded.Add(1)
	c.lastFrameAt.Store(now.UnixNano())
	c.metrics.recordDecoded(c.cfg.SourceName, len(stream.Frame()))
	c.notifyObservers(warmup.Frame{Seq: seq, Timestamp: now})

	if !slot.WaitingSince(mark) {
		c.framesDropped.Add(1)
		c.metrics.recordDropped(c.cfg.SourceName)
		return
	}

	frame := Frame{
		Seq:        seq,
		Timestamp:  now,
		Data:       stream.TakeFrame(),
		SourceName: c.cfg.SourceName,
		SessionID:  c.session.id,
		TraceID:    uuid.NewString(),
	}

	if slot.DeliverSince(mark, rendezvous.Result[Frame]{Value: frame}) {
		c.framesDelivered.Add(1)
		c.metrics.recordDelivered(c.cfg.SourceName)
		slog.Debug("mjpeg-capture: frame delivered",
			"seq", seq,
			"bytes", len(frame.Data),
			"trace_id", frame.TraceID,
		)
		return
	}

	// The caller gave up between WaitingSince and DeliverSince.
	c.framesDropped.Add(1)
	c.metrics.recordDropped(c.cfg.SourceName)
}
