package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	mjpegcapture "github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture"
)

const wsWriteTimeout = 5 * time.Second

// snapshotServer exposes a SnapshotProvider over HTTP:
//
//	GET /snapshot  next frame as image/jpeg (rate limited)
//	GET /stats     CaptureStats as JSON
//	GET /healthz   200 while a stream is open, 503 otherwise
//	GET /metrics   Prometheus exposition
//	GET /ws        websocket pushing one binary JPEG message per interval
type snapshotServer struct {
	provider   mjpegcapture.SnapshotProvider
	limiter    *rate.Limiter
	wsInterval time.Duration
	upgrader   websocket.Upgrader
	mux        *http.ServeMux

	// events, when set, is told about every snapshot served.
	events eventPublisher
}

// newSnapshotServer wires the routes. A nil limiter disables rate limiting; a
// nil gatherer leaves /metrics unmounted.
func newSnapshotServer(provider mjpegcapture.SnapshotProvider, gatherer prometheus.Gatherer, limiter *rate.Limiter, wsInterval time.Duration) *snapshotServer {
	s := &snapshotServer{
		provider:   provider,
		limiter:    limiter,
		wsInterval: wsInterval,
		mux:        http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /snapshot", s.handleSnapshot)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /ws", s.handleWebsocket)
	if gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorHandling:     promhttp.ContinueOnError,
		}))
	}
	return s
}

func (s *snapshotServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *snapshotServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "snapshot rate exceeded", http.StatusTooManyRequests)
		return
	}

	frame, err := s.provider.RequestSnapshot(r.Context())
	if err != nil {
		if r.Context().Err() != nil {
			return // client went away
		}
		slog.Warn("snapshot request failed",
			"remote", r.RemoteAddr,
			"kind", mjpegcapture.KindOf(err),
			"error", err,
		)
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	h := w.Header()
	h.Set("Content-Type", "image/jpeg")
	h.Set("Content-Length", strconv.Itoa(len(frame.Data)))
	h.Set("Cache-Control", "no-store")
	h.Set("X-Frame-Seq", strconv.FormatUint(frame.Seq, 10))
	h.Set("X-Frame-Timestamp", frame.Timestamp.UTC().Format(time.RFC3339Nano))
	h.Set("X-Trace-Id", frame.TraceID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(frame.Data)

	s.publish(frame)
}

func (s *snapshotServer) publish(frame mjpegcapture.Frame) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishSnapshot(frame); err != nil {
		slog.Warn("failed to publish snapshot event", "seq", frame.Seq, "error", err)
	}
}

func (s *snapshotServer) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.provider.Stats()); err != nil {
		slog.Debug("failed to encode stats", "error", err)
	}
}

func (s *snapshotServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.provider.Stats().IsConnected {
		http.Error(w, "disconnected", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

// wsError is sent as a text message when a snapshot fails.
type wsError struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *snapshotServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The hijacked connection no longer cancels r.Context(); a read error
	// (close frame or dropped peer) does.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	slog.Info("websocket client connected", "remote", r.RemoteAddr)
	defer slog.Info("websocket client disconnected", "remote", r.RemoteAddr)

	ticker := time.NewTicker(s.wsInterval)
	defer ticker.Stop()

	for {
		frame, err := s.provider.RequestSnapshot(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if werr := conn.WriteJSON(wsError{Error: err.Error(), Kind: mjpegcapture.KindOf(err).String()}); werr != nil {
				return
			}
			if errors.Is(err, mjpegcapture.ErrCaptureClosed) {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "capture closed"),
					time.Now().Add(wsWriteTimeout))
				return
			}
		default:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame.Data); err != nil {
				return
			}
			s.publish(frame)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// statusFor maps a snapshot error onto an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, mjpegcapture.ErrCaptureClosed) {
		return http.StatusServiceUnavailable
	}
	switch mjpegcapture.KindOf(err) {
	case mjpegcapture.KindTimeout:
		return http.StatusGatewayTimeout
	case mjpegcapture.KindChannel:
		return http.StatusServiceUnavailable
	case mjpegcapture.KindTransport, mjpegcapture.KindProtocol, mjpegcapture.KindValidation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
