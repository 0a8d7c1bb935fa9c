package mjpegcapture

import (
	"errors"
	"fmt"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/multipart"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/reconnect"
)

// Config tunes parsing, deadlines and the reconnect behaviour.
type Config struct {
	// HeaderSkip is the number of header bytes between the MIME line and the
	// length digits (16 for a "Content-Length: " header, 0 when the digits
	// follow the MIME line directly).
	HeaderSkip int
	// SkipBlankLines tolerates empty lines in front of a boundary, as sent by
	// producers that terminate each payload with CR LF.
	SkipBlankLines bool
	// MaxFrameSize rejects records advertising a larger payload.
	MaxFrameSize int

	// ReadTimeout bounds a single frame read.
	ReadTimeout time.Duration
	// ConnectTimeout bounds dialing and waiting for response headers.
	ConnectTimeout time.Duration

	// ReconnectDelay is the wait before each reconnect attempt.
	ReconnectDelay time.Duration
	// ReconnectMaxDelay caps the backoff. Equal to ReconnectDelay gives a fixed interval.
	ReconnectMaxDelay time.Duration
	// ReconnectMaxRetries stops the background reader after that many failed
	// reconnects in a row (0 = keep trying until Close).
	ReconnectMaxRetries int

	// MaxRestarts bounds how many times RequestSnapshot restarts a background
	// reader that has exited.
	MaxRestarts int
	// SnapshotTimeout bounds a whole RequestSnapshot call (0 = only the caller's ctx).
	SnapshotTimeout time.Duration

	// SourceName identifies the source in logs, frames and metrics (e.g., "door-cam").
	SourceName string
}

// DefaultConfig returns the defaults: 16 byte header skip, 1s read deadline,
// fixed 1s reconnect interval retried until Close, 3 restarts within 10s.
func DefaultConfig() Config {
	return Config{
		HeaderSkip:          multipart.DefaultHeaderSkip,
		SkipBlankLines:      false,
		MaxFrameSize:        multipart.DefaultMaxFrameSize,
		ReadTimeout:         1 * time.Second,
		ConnectTimeout:      5 * time.Second,
		ReconnectDelay:      1 * time.Second,
		ReconnectMaxDelay:   1 * time.Second,
		ReconnectMaxRetries: 0,
		MaxRestarts:         3,
		SnapshotTimeout:     10 * time.Second,
		SourceName:          "mjpeg",
	}
}

// Validate checks the configuration (fail-fast principle).
func (c Config) Validate() error {
	var errs []error

	if c.HeaderSkip < 0 {
		errs = append(errs, fmt.Errorf("header skip must be >= 0 (got %d)", c.HeaderSkip))
	}
	if c.MaxFrameSize < 0 {
		errs = append(errs, fmt.Errorf("max frame size must be >= 0 (got %d)", c.MaxFrameSize))
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("read timeout must be > 0 (got %v)", c.ReadTimeout))
	}
	if c.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("connect timeout must be >= 0 (got %v)", c.ConnectTimeout))
	}
	if c.ReconnectDelay <= 0 {
		errs = append(errs, fmt.Errorf("reconnect delay must be > 0 (got %v)", c.ReconnectDelay))
	}
	if c.ReconnectMaxDelay != 0 && c.ReconnectMaxDelay < c.ReconnectDelay {
		errs = append(errs, fmt.Errorf("reconnect max delay %v is below reconnect delay %v", c.ReconnectMaxDelay, c.ReconnectDelay))
	}
	if c.ReconnectMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("reconnect max retries must be >= 0 (got %d)", c.ReconnectMaxRetries))
	}
	if c.MaxRestarts < 0 {
		errs = append(errs, fmt.Errorf("max restarts must be >= 0 (got %d)", c.MaxRestarts))
	}
	if c.SnapshotTimeout < 0 {
		errs = append(errs, fmt.Errorf("snapshot timeout must be >= 0 (got %v)", c.SnapshotTimeout))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("mjpeg-capture: invalid config: %w", err)
	}
	return nil
}

func (c Config) parserOptions() multipart.Options {
	skip := c.HeaderSkip
	if skip == 0 {
		skip = multipart.NoHeaderSkip
	}
	return multipart.Options{
		HeaderSkip:     skip,
		MaxFrameSize:   c.MaxFrameSize,
		SkipBlankLines: c.SkipBlankLines,
	}
}

func (c Config) reconnectConfig() reconnect.Config {
	return reconnect.Config{
		MaxRetries:    c.ReconnectMaxRetries,
		RetryDelay:    c.ReconnectDelay,
		MaxRetryDelay: c.ReconnectMaxDelay,
	}
}
