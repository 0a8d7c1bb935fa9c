// Package mjpegcapture provides on-demand JPEG snapshots from MJPEG-over-HTTP
// cameras.
//
// A background reader keeps one HTTP connection open, decodes the
// multipart/x-mixed-replace stream frame by frame, reconnects transparently
// when the connection fails, and hands the next decoded frame to whoever asks
// for one. Frames nobody asked for are dropped, so a snapshot is never older
// than the request.
//
// # Quick Start
//
//	cfg := mjpegcapture.DefaultConfig()
//	cfg.SourceName = "door-cam"
//
//	capture, err := mjpegcapture.OpenCapture(ctx,
//	    "http://192.168.1.50/video.mjpg",
//	    mjpegcapture.BasicCredential("admin", "secret"),
//	    cfg,
//	)
//	if err != nil {
//	    log.Fatal(err) // e.g. KindValidation on HTTP 401/404
//	}
//	defer capture.Close()
//
//	frame, err := capture.RequestSnapshot(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.WriteFile("snapshot.jpg", frame.Data, 0o644)
//
// # Pool, Session and Stream
//
// Pool.Open validates a URL with one non-streaming GET and returns a Session.
// A non-2xx status is returned at once as a KindValidation error and nothing is
// left running. Sessions are small values; each can open independent Streams:
//
//	pool := mjpegcapture.NewPool()
//	session, err := pool.Open(ctx, url, mjpegcapture.NoCredential())
//	stream, err := session.Stream(ctx)
//	defer stream.Close()
//
//	for {
//	    if err := stream.ReadFrame(ctx); err != nil {
//	        return err
//	    }
//	    jpeg := stream.TakeFrame() // caller owns the bytes
//	}
//
// # Wire Format
//
// Each record is a boundary line, a MIME line, Config.HeaderSkip header bytes
// (16 for "Content-Length: "), a decimal length line ending in CR LF, a CR LF
// pair and exactly length bytes of JPEG. Producers that end every payload with
// an extra CR LF need Config.SkipBlankLines.
//
// # Error Handling and Reconnection
//
// Errors are *Error values classified by ErrorKind:
//
//   - KindTransport: connection refused or reset, short read
//   - KindProtocol: malformed record (bad length line, oversize frame)
//   - KindTimeout: a single frame read exceeded Config.ReadTimeout (1s)
//   - KindValidation: non-2xx status
//   - KindChannel: the reader exited and could not be restarted
//
// A read failure is returned to the caller waiting at that moment and the
// reader reconnects after Config.ReconnectDelay (1s), indefinitely by default.
// If the reader ever exits, RequestSnapshot restarts it up to
// Config.MaxRestarts times within Config.SnapshotTimeout.
//
// # Concurrency
//
// Concurrent RequestSnapshot calls are served one at a time in arrival order
// and each receives its own frame. Stats, Warmup and Close are safe to call
// from any goroutine.
//
// # Telemetry
//
// Stats returns counters (frames decoded, delivered and dropped, reconnects,
// errors by kind). NewMetrics registers the same information with Prometheus;
// pass it with WithMetrics.
package mjpegcapture
