package mjpegcapture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/multipart"
)

const readBufferSize = 64 << 10

// Stream is one live MJPEG connection. ReadFrame advances it by exactly one
// record; TakeFrame moves the decoded JPEG out.
//
// A Stream is not safe for concurrent ReadFrame calls. Close may be called
// from any goroutine.
type Stream struct {
	sessionID   string
	url         string
	body        io.ReadCloser
	br          *bufio.Reader
	parser      *multipart.Parser
	readTimeout time.Duration

	bytesRead atomic.Uint64
	shared    *atomic.Uint64 // optional counter owned by a Capture
	release   context.CancelFunc
	closed    atomic.Bool

	mu    sync.Mutex
	cause error // why a read context closed the stream, if it did
}

func newStream(s Session, body io.ReadCloser, parser *multipart.Parser, readTimeout time.Duration, shared *atomic.Uint64) *Stream {
	st := &Stream{
		sessionID:   s.id,
		url:         s.url,
		body:        body,
		parser:      parser,
		readTimeout: readTimeout,
		shared:      shared,
	}
	st.br = bufio.NewReaderSize(&countingReader{r: body, s: st}, readBufferSize)
	return st
}

// ReadFrame reads the next record. The whole record must arrive within the
// stream's read timeout; on expiry the connection is closed and a KindTimeout
// error returned. Any failure leaves the Stream unusable: open a new one.
func (s *Stream) ReadFrame(ctx context.Context) error {
	if s.closed.Load() {
		return s.closedErr()
	}

	readCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.readTimeout > 0 {
		readCtx, cancel = context.WithTimeoutCause(ctx, s.readTimeout,
			fmt.Errorf("frame read exceeded %v: %w", s.readTimeout, context.DeadlineExceeded))
	}
	defer cancel()

	// Closing the body is the only way to interrupt a blocked read.
	stop := context.AfterFunc(readCtx, func() { s.expire(context.Cause(readCtx)) })
	err := s.parser.ReadFrame(s.br)
	stop()

	if err == nil {
		// If the deadline fired right after the record completed, the frame is
		// still good; the next read reports the deadline.
		return nil
	}

	if readCtx.Err() != nil {
		cause := context.Cause(readCtx)
		return &Error{Kind: classify(cause), Op: "read", URL: s.url, Err: cause}
	}

	_ = s.Close()
	return &Error{Kind: classify(err), Op: "read", URL: s.url, Err: err}
}

// TakeFrame moves the JPEG decoded by the last successful ReadFrame out of the
// stream. The caller owns the returned slice; nothing inside the stream keeps
// a reference to it. It returns nil when no frame is pending.
func (s *Stream) TakeFrame() []byte {
	jpeg := s.parser.Take()
	if len(jpeg) == 0 {
		return nil
	}
	return jpeg
}

// Frame returns the JPEG decoded by the last successful ReadFrame without
// moving it out. The slice is only valid until the next ReadFrame.
func (s *Stream) Frame() []byte { return s.parser.Frame() }

// BytesRead returns the number of bytes received on this stream.
func (s *Stream) BytesRead() uint64 { return s.bytesRead.Load() }

// SessionID returns the ID of the Session the stream was opened from.
func (s *Stream) SessionID() string { return s.sessionID }

// Close closes the connection. Idempotent.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.body.Close()
	if s.release != nil {
		s.release()
	}
	return err
}

// expire closes the stream on behalf of a read context that ended.
func (s *Stream) expire(cause error) {
	s.mu.Lock()
	if s.cause == nil {
		s.cause = cause
	}
	s.mu.Unlock()
	_ = s.Close()
}

// closedErr reports a read on a closed stream, classified by what closed it.
func (s *Stream) closedErr() error {
	s.mu.Lock()
	cause := s.cause
	s.mu.Unlock()

	if cause == nil {
		return &Error{Kind: KindTransport, Op: "read", URL: s.url, Err: ErrStreamClosed}
	}
	return &Error{Kind: classify(cause), Op: "read", URL: s.url, Err: fmt.Errorf("%w: %w", ErrStreamClosed, cause)}
}

type countingReader struct {
	r io.Reader
	s *Stream
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.s.bytesRead.Add(uint64(n))
		if c.s.shared != nil {
			c.s.shared.Add(uint64(n))
		}
	}
	return n, err
}
