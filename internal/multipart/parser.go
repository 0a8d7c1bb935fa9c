package multipart

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"
)

const (
	// DefaultHeaderSkip is the number of header bytes between the MIME line and
	// the length digits. It matches the "Content-Length: " prefix emitted by
	// common MJPEG producers.
	DefaultHeaderSkip = 16

	// NoHeaderSkip, as Options.HeaderSkip, selects producers that put the
	// length digits right after the MIME line.
	NoHeaderSkip = -1

	// DefaultMaxFrameSize bounds the advertised payload length (16 MiB).
	DefaultMaxFrameSize = 16 << 20

	// maxLineLength bounds a single header line so a producer that never sends
	// a line feed cannot grow the scratch buffers without limit.
	maxLineLength = 4096

	// lengthTrailer is the CR LF that terminates the length line and is not part
	// of the number.
	lengthTrailer = 2
)

var (
	// ErrShortLengthLine is returned when the length line is too short to hold
	// a digit plus its CR LF trailer.
	ErrShortLengthLine = errors.New("length line too short")

	// ErrInvalidUTF8 is returned when the length line is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("length line is not valid UTF-8")

	// ErrFrameTooLarge is returned when the advertised length exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("advertised frame length exceeds limit")

	// ErrLineTooLong is returned when a header line exceeds maxLineLength bytes.
	ErrLineTooLong = errors.New("header line too long")
)

// SyntaxError reports a record that violates the wire grammar. I/O failures are
// never wrapped in a SyntaxError, which lets callers tell a broken producer
// apart from a broken connection.
type SyntaxError struct {
	Field string // "boundary", "mime" or "length"
	Line  string // offending line, truncated for logging
	Err   error
}

func (e *SyntaxError) Error() string {
	if e.Line == "" {
		return fmt.Sprintf("multipart: invalid %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("multipart: invalid %s %q: %v", e.Field, e.Line, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// Options tunes the parser for a producer's header layout.
type Options struct {
	// HeaderSkip is the fixed number of bytes consumed verbatim after the MIME
	// line. Zero selects DefaultHeaderSkip; NoHeaderSkip consumes nothing.
	HeaderSkip int
	// MaxFrameSize caps the advertised payload length. Zero selects DefaultMaxFrameSize.
	MaxFrameSize int
	// SkipBlankLines ignores empty lines in front of a boundary line. Producers
	// that terminate each payload with CR LF need this.
	SkipBlankLines bool
}

func (o Options) withDefaults() Options {
	switch {
	case o.HeaderSkip == 0:
		o.HeaderSkip = DefaultHeaderSkip
	case o.HeaderSkip < 0:
		o.HeaderSkip = 0
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	return o
}

// Parser decodes one MJPEG multipart record per ReadFrame call.
//
// Record layout:
//
//	<boundary line>\n
//	<mime line>\n
//	<HeaderSkip bytes>
//	<decimal length>\r\n
//	\r\n
//	<length bytes of JPEG>
//
// The scratch buffers are reused across calls and are cleared before each parse.
// A Parser is not safe for concurrent use.
type Parser struct {
	opts Options

	boundary []byte
	mime     []byte
	length   []byte
	pair     [2]byte
	jpeg     []byte
}

// NewParser returns a Parser with the given options.
func NewParser(opts Options) *Parser {
	return &Parser{
		opts:     opts.withDefaults(),
		boundary: make([]byte, 0, 32),
		mime:     make([]byte, 0, 32),
		length:   make([]byte, 0, 8),
	}
}

// Options returns the effective options.
func (p *Parser) Options() Options { return p.opts }

// ReadFrame consumes exactly one record from r. On success Frame holds the
// payload and len(Frame()) equals the advertised length. On failure the payload
// buffer is empty and the error is either a *SyntaxError or an I/O error.
func (p *Parser) ReadFrame(r *bufio.Reader) error {
	p.jpeg = p.jpeg[:0]

	var err error
	if err = p.readBoundary(r); err != nil {
		return err
	}

	p.mime, err = readLine(r, p.mime[:0])
	if err != nil {
		return lineError("mime", p.mime, err)
	}

	if _, err := r.Discard(p.opts.HeaderSkip); err != nil {
		return fmt.Errorf("multipart: skip %d header bytes: %w", p.opts.HeaderSkip, unexpected(err))
	}

	p.length, err = readLine(r, p.length[:0])
	if err != nil {
		return lineError("length", p.length, err)
	}

	n, err := p.parseLength()
	if err != nil {
		return err
	}

	if _, err := io.ReadFull(r, p.pair[:]); err != nil {
		return fmt.Errorf("multipart: read header separator: %w", unexpected(err))
	}

	p.jpeg = grow(p.jpeg, n)
	if _, err := io.ReadFull(r, p.jpeg); err != nil {
		p.jpeg = p.jpeg[:0]
		return fmt.Errorf("multipart: read %d byte payload: %w", n, unexpected(err))
	}

	return nil
}

// Frame returns the payload decoded by the last successful ReadFrame. The slice
// is owned by the parser and is overwritten by the next call.
func (p *Parser) Frame() []byte { return p.jpeg }

// Take moves the payload out of the parser. The caller owns the returned slice;
// the parser allocates a fresh buffer on the next ReadFrame.
func (p *Parser) Take() []byte {
	jpeg := p.jpeg
	p.jpeg = nil
	return jpeg
}

func (p *Parser) readBoundary(r *bufio.Reader) error {
	for {
		var err error
		p.boundary, err = readLine(r, p.boundary[:0])
		if err != nil {
			if errors.Is(err, io.EOF) && len(p.boundary) == 0 {
				// Clean end of stream between records.
				return fmt.Errorf("multipart: read boundary line: %w", io.EOF)
			}
			return lineError("boundary", p.boundary, err)
		}
		if p.opts.SkipBlankLines && isBlank(p.boundary) {
			continue
		}
		return nil
	}
}

func (p *Parser) parseLength() (int, error) {
	line := p.length
	if len(line) <= lengthTrailer {
		return 0, &SyntaxError{Field: "length", Line: printable(line), Err: ErrShortLengthLine}
	}
	digits := line[:len(line)-lengthTrailer]
	if !utf8.Valid(digits) {
		return 0, &SyntaxError{Field: "length", Line: printable(line), Err: ErrInvalidUTF8}
	}
	n, err := strconv.ParseUint(string(digits), 10, 63)
	if err != nil {
		return 0, &SyntaxError{Field: "length", Line: printable(line), Err: err}
	}
	if n > uint64(p.opts.MaxFrameSize) {
		return 0, &SyntaxError{
			Field: "length",
			Line:  printable(line),
			Err:   fmt.Errorf("%w (%d > %d)", ErrFrameTooLarge, n, p.opts.MaxFrameSize),
		}
	}
	return int(n), nil
}

// readLine appends bytes up to and including the next line feed to buf.
func readLine(r *bufio.Reader, buf []byte) ([]byte, error) {
	for {
		chunk, err := r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > maxLineLength {
			return buf[:0], ErrLineTooLong
		}
		switch {
		case err == nil:
			return buf, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return buf, err
		}
	}
}

func lineError(field string, line []byte, err error) error {
	if errors.Is(err, ErrLineTooLong) {
		return &SyntaxError{Field: field, Err: err}
	}
	return fmt.Errorf("multipart: read %s line: %w", field, unexpected(err))
}

// unexpected turns a bare EOF inside a record into io.ErrUnexpectedEOF.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func grow(buf []byte, n int) []byte {
	if cap(buf) >= n {
		return buf[:n]
	}
	return make([]byte, n)
}

func isBlank(line []byte) bool {
	switch len(line) {
	case 1:
		return line[0] == '\n'
	case 2:
		return line[0] == '\r' && line[1] == '\n'
	}
	return false
}

func printable(line []byte) string {
	const limit = 32
	if len(line) > limit {
		line = line[:limit]
	}
	return string(line)
}
