package mjpegcapture

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/multipart"
)

// ErrorKind classifies failures so callers can decide what to do about them.
type ErrorKind int

const (
	// KindUnknown is returned by KindOf for errors not produced by this package.
	KindUnknown ErrorKind = iota
	// KindTransport indicates an I/O failure: connection refused or reset, short read.
	KindTransport
	// KindProtocol indicates a record that violates the multipart framing.
	KindProtocol
	// KindTimeout indicates a single frame read exceeded its deadline.
	KindTimeout
	// KindValidation indicates the server answered with a non-2xx status.
	KindValidation
	// KindChannel indicates the background reader went away and could not be restarted.
	KindChannel
)

// String returns a human-readable string representation of the error kind
func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	case KindValidation:
		return "validation"
	case KindChannel:
		return "channel"
	default:
		return "unknown"
	}
}

var (
	// ErrCaptureClosed is returned by RequestSnapshot after Close.
	ErrCaptureClosed = errors.New("mjpeg-capture: capture closed")

	// ErrRestartsExhausted is wrapped by the KindChannel error returned when the
	// background reader could not be restarted within MaxRestarts attempts.
	ErrRestartsExhausted = errors.New("mjpeg-capture: reader restarts exhausted")

	// ErrStreamClosed is wrapped when reading from a closed or expired Stream.
	ErrStreamClosed = errors.New("mjpeg-capture: stream closed")
)

// Error is the error type returned by Pool, Session, Stream and Capture.
type Error struct {
	Kind       ErrorKind
	Op         string // "open", "connect", "read" or "snapshot"
	URL        string // never contains credentials
	StatusCode int    // set for KindValidation
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("mjpeg-capture: %s %s", e.Op, e.URL)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": unexpected status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (%s): %v", e.Kind, e.Err)
	} else {
		msg += fmt.Sprintf(" (%s)", e.Kind)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsTransport reports whether err is a KindTransport error.
func IsTransport(err error) bool { return KindOf(err) == KindTransport }

// IsProtocol reports whether err is a KindProtocol error.
func IsProtocol(err error) bool { return KindOf(err) == KindProtocol }

// IsTimeout reports whether err is a KindTimeout error.
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

// IsValidation reports whether err is a KindValidation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsChannel reports whether err is a KindChannel error.
func IsChannel(err error) bool { return KindOf(err) == KindChannel }

// classify maps parser, context and network errors onto an ErrorKind.
//
// Priority: an existing *Error keeps its kind, then framing violations, then
// deadlines, and everything else is transport.
func classify(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	var syntaxErr *multipart.SyntaxError
	if errors.As(err, &syntaxErr) {
		return KindProtocol
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	return KindTransport
}
