package mjpegcapture

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/multipart"
)

// Pool validates MJPEG endpoints and hands out Sessions that share one HTTP
// client. A Pool is safe for concurrent use.
type Pool struct {
	client *http.Client
	cfg    Config
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithHTTPClient uses client for every request made by the pool and its
// sessions. The client must not set an overall Timeout, since that would also
// bound the lifetime of a stream.
func WithHTTPClient(client *http.Client) PoolOption {
	return func(p *Pool) { p.client = client }
}

// WithConfig sets the parser settings and deadlines used by Session.Stream
// and the connect timeout of the default HTTP client.
func WithConfig(cfg Config) PoolOption {
	return func(p *Pool) { p.cfg = cfg }
}

// NewPool creates a Pool. Without WithHTTPClient the pool uses a client whose
// dial and response-header timeouts are Config.ConnectTimeout.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = newHTTPClient(p.cfg.ConnectTimeout)
	}
	return p
}

// Config returns the pool configuration.
func (p *Pool) Config() Config { return p.cfg }

// Open performs one non-streaming GET against rawURL with cred applied and
// returns a Session once the server answers with a 2xx status.
//
// A non-2xx answer is returned immediately as a KindValidation error carrying
// the status code. Open never retries and starts no background work, so a
// failed validation leaves nothing running.
//
// User info embedded in rawURL is used as the credential when cred is
// NoCredential, and is stripped from the URL either way.
func (p *Pool) Open(ctx context.Context, rawURL string, cred Credential) (Session, error) {
	if err := p.cfg.Validate(); err != nil {
		return Session{}, err
	}

	s, err := p.newSession(rawURL, cred)
	if err != nil {
		return Session{}, err
	}

	start := time.Now()
	resp, err := s.connect(ctx, "open")
	if err != nil {
		slog.Warn("mjpeg-capture: validation failed",
			"url", s.url,
			"credential", s.cred,
			"kind", KindOf(err),
			"error", err,
		)
		return Session{}, err
	}
	// Only the status matters; the stream itself is opened later.
	_ = resp.Body.Close()

	slog.Info("mjpeg-capture: session opened",
		"session_id", s.id,
		"url", s.url,
		"credential", s.cred,
		"status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"),
		"latency", time.Since(start),
	)

	return s, nil
}

// Stream opens a stream to rawURL without the validation round trip of Open.
// A non-2xx answer still fails, since its body is not an MJPEG stream.
func (p *Pool) Stream(ctx context.Context, rawURL string, cred Credential) (*Stream, error) {
	s, err := p.newSession(rawURL, cred)
	if err != nil {
		return nil, err
	}
	return s.Stream(ctx)
}

func (p *Pool) newSession(rawURL string, cred Credential) (Session, error) {
	target, cred, err := resolveTarget(rawURL, cred)
	if err != nil {
		return Session{}, &Error{Kind: KindValidation, Op: "open", URL: redact(rawURL), Err: err}
	}
	return Session{
		id:     uuid.NewString(),
		url:    target,
		cred:   cred,
		client: p.client,
		cfg:    p.cfg,
	}, nil
}

// Session is a validated target: URL, credential and the pool's HTTP client.
// It is a small value; copies share the client and each can open its own
// Stream to the same target.
type Session struct {
	id     string
	url    string
	cred   Credential
	client *http.Client
	cfg    Config
}

// ID returns the session identifier used in logs and frames.
func (s Session) ID() string { return s.id }

// URL returns the target URL without credentials.
func (s Session) URL() string { return s.url }

// Credential returns the credential applied to requests.
func (s Session) Credential() Credential { return s.cred }

// Stream opens an independent streaming connection to the session target.
//
// ctx bounds the whole life of the stream, not just the connect: cancelling it
// closes the connection.
func (s Session) Stream(ctx context.Context) (*Stream, error) {
	return s.open(ctx, multipart.NewParser(s.cfg.parserOptions()), s.cfg.ReadTimeout, nil)
}

func (s Session) open(ctx context.Context, parser *multipart.Parser, readTimeout time.Duration, counter *atomic.Uint64) (*Stream, error) {
	resp, err := s.connect(ctx, "connect")
	if err != nil {
		return nil, err
	}
	return newStream(s, resp.Body, parser, readTimeout, counter), nil
}

// connect sends the GET and checks the status. On success the caller owns
// resp.Body.
func (s Session) connect(ctx context.Context, op string) (*http.Response, error) {
	if s.client == nil {
		return nil, &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf("session was not opened by a Pool")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Op: op, URL: s.url, Err: err}
	}
	s.cred.Apply(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: classify(err), Op: op, URL: s.url, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, &Error{
			Kind:       KindValidation,
			Op:         op,
			URL:        s.url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("server answered %q", resp.Status),
		}
	}

	return resp, nil
}

// resolveTarget parses rawURL, moves any user info into the credential and
// returns the URL without it.
func resolveTarget(rawURL string, cred Credential) (string, Credential, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", cred, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", cred, fmt.Errorf("unsupported scheme %q (must be http or https)", u.Scheme)
	}
	if u.Host == "" {
		return "", cred, fmt.Errorf("missing host in %q", u.Redacted())
	}
	if u.User != nil {
		if cred.Kind() == CredentialNone {
			cred = CredentialFromUserinfo(u.User)
		}
		u.User = nil
	}
	return u.String(), cred, nil
}

func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}

func newHTTPClient(connectTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if connectTimeout > 0 {
		transport.DialContext = (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext
		transport.ResponseHeaderTimeout = connectTimeout
	}
	return &http.Client{Transport: transport}
}
