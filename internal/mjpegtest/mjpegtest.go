// Package mjpegtest produces synthetic MJPEG multipart streams for tests.
package mjpegtest

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"
)

// Boundary is the multipart boundary used by the encoder.
const Boundary = "frame"

// WriteRecord writes one record in the layout the parser expects:
// "--frame\r\n", "Content-Type: image/jpeg\r\n", "Content-Length: <n>\r\n", "\r\n", payload.
// The "Content-Length: " prefix is exactly 16 bytes.
func WriteRecord(w io.Writer, jpeg []byte) error {
	_, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, len(jpeg))
	if err != nil {
		return err
	}
	_, err = w.Write(jpeg)
	return err
}

// Encode returns the concatenated records for frames.
func Encode(frames ...[]byte) []byte {
	var buf bytes.Buffer
	for _, f := range frames {
		_ = WriteRecord(&buf, f)
	}
	return buf.Bytes()
}

// FakeJPEG returns a payload that starts with SOI and ends with EOI so it looks
// like a JPEG in hex dumps. The body encodes seq so frames are distinguishable.
func FakeJPEG(seq int, size int) []byte {
	if size < 8 {
		size = 8
	}
	b := make([]byte, size)
	b[0], b[1] = 0xFF, 0xD8
	b[len(b)-2], b[len(b)-1] = 0xFF, 0xD9
	for i := 2; i < len(b)-2; i++ {
		b[i] = byte(seq + i)
	}
	// Sequence number in the first body bytes (big endian).
	b[2] = byte(seq >> 24)
	b[3] = byte(seq >> 16)
	b[4] = byte(seq >> 8)
	b[5] = byte(seq)
	return b
}

// SeqOf extracts the sequence number written by FakeJPEG.
func SeqOf(jpeg []byte) int {
	if len(jpeg) < 6 {
		return -1
	}
	return int(jpeg[2])<<24 | int(jpeg[3])<<16 | int(jpeg[4])<<8 | int(jpeg[5])
}

// Server is an httptest server that streams FakeJPEG frames at a fixed interval
// until the client goes away or the connection is dropped.
type Server struct {
	*httptest.Server

	// Interval between frames.
	Interval time.Duration

	mu          sync.Mutex
	status      int
	trailing    bool
	dropAfter   int // frames before the connection is cut, 0 = never
	connections int64
	requests    int64
	seq         int64
	authHeader  string
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewServer starts a Server streaming one frame every interval.
func NewServer(interval time.Duration) *Server {
	s := &Server{
		Interval: interval,
		status:   http.StatusOK,
		stop:     make(chan struct{}),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// SetStatus makes subsequent requests fail with code when code is not 2xx.
func (s *Server) SetStatus(code int) {
	s.mu.Lock()
	s.status = code
	s.mu.Unlock()
}

// SetTrailingCRLF appends CR LF after each payload of subsequent connections,
// like most camera firmware does.
func (s *Server) SetTrailingCRLF(on bool) {
	s.mu.Lock()
	s.trailing = on
	s.mu.Unlock()
}

// DropAfter cuts every subsequent connection after n frames. Zero disables it.
func (s *Server) DropAfter(n int) {
	s.mu.Lock()
	s.dropAfter = n
	s.mu.Unlock()
}

// Requests returns the number of requests received.
func (s *Server) Requests() int64 { return atomic.LoadInt64(&s.requests) }

// Connections returns the number of streaming responses started.
func (s *Server) Connections() int64 { return atomic.LoadInt64(&s.connections) }

// AuthHeader returns the Authorization header of the last request.
func (s *Server) AuthHeader() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authHeader
}

// Close stops streaming handlers and shuts the server down.
func (s *Server) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.Server.CloseClientConnections()
	s.Server.Close()
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.requests, 1)

	s.mu.Lock()
	status := s.status
	dropAfter := s.dropAfter
	trailing := s.trailing
	s.authHeader = r.Header.Get("Authorization")
	s.mu.Unlock()

	if status < 200 || status > 299 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	atomic.AddInt64(&s.connections, 1)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+Boundary)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	sent := 0
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if dropAfter > 0 && sent >= dropAfter {
				hijackAndClose(w)
				return
			}
			seq := int(atomic.AddInt64(&s.seq, 1))
			if err := WriteRecord(w, FakeJPEG(seq, 64+seq%32)); err != nil {
				return
			}
			if trailing {
				if _, err := io.WriteString(w, "\r\n"); err != nil {
					return
				}
			}
			flusher.Flush()
			sent++
		}
	}
}

// hijackAndClose drops the TCP connection without finishing the chunked body,
// which the client observes as an unexpected EOF.
func hijackAndClose(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	_ = conn.Close()
}
