package mjpegcapture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/multipart"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"unexpected eof", fmt.Errorf("read payload: %w", io.ErrUnexpectedEOF), KindTransport},
		{"connection reset", &net.OpError{Op: "read", Err: errors.New("connection reset by peer")}, KindTransport},
		{"syntax error", fmt.Errorf("wrap: %w", &multipart.SyntaxError{Field: "length", Err: multipart.ErrInvalidUTF8}), KindProtocol},
		{"deadline", fmt.Errorf("frame read exceeded 1s: %w", context.DeadlineExceeded), KindTimeout},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, KindTimeout},
		{"existing kind", fmt.Errorf("wrap: %w", &Error{Kind: KindValidation}), KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(ErrCaptureClosed))

	err := fmt.Errorf("snapshot: %w", &Error{Kind: KindChannel, Op: "snapshot", Err: ErrRestartsExhausted})
	assert.Equal(t, KindChannel, KindOf(err))
	assert.True(t, IsChannel(err))
	assert.False(t, IsTransport(err))
	assert.ErrorIs(t, err, ErrRestartsExhausted)
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "validation",
			err:  &Error{Kind: KindValidation, Op: "open", URL: "http://cam/video", StatusCode: 404, Err: errors.New(`server answered "404 Not Found"`)},
			want: `mjpeg-capture: open http://cam/video: unexpected status 404 (validation): server answered "404 Not Found"`,
		},
		{
			name: "timeout",
			err:  &Error{Kind: KindTimeout, Op: "read", URL: "http://cam/video", Err: context.DeadlineExceeded},
			want: "mjpeg-capture: read http://cam/video (timeout): context deadline exceeded",
		},
		{
			name: "no cause",
			err:  &Error{Kind: KindTransport, Op: "read", URL: "http://cam/video"},
			want: "mjpeg-capture: read http://cam/video (transport)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorKind_String(t *testing.T) {
	kinds := map[ErrorKind]string{
		KindUnknown:    "unknown",
		KindTransport:  "transport",
		KindProtocol:   "protocol",
		KindTimeout:    "timeout",
		KindValidation: "validation",
		KindChannel:    "channel",
		ErrorKind(99):  "unknown",
	}
	for kind, want := range kinds {
		assert.Equal(t, want, kind.String())
	}
}
