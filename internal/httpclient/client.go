// Package httpclient provides the single process-wide HTTP session used
// for both the REST-ish Twitch endpoints and the GraphQL client.
//
// It reproduces the retry/timeout semantics of the mining core's original
// HTTP client: quality-scaled timeouts, a persistent cookie jar pruned and
// saved on Close, and a retry loop built on the shared backoff primitive.
// Construction is a plain *http.Client rather than the teacher's SSRF-
// guarding SaferClient — the teacher blocks requests to private/loopback
// IPs, which is backwards here: the session's own Proxy setting is a
// user-supplied address that is frequently a private host (a home LAN
// proxy, a sidecar on localhost), so blocking it would break the one
// feature it exists to serve.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dropsminer/core/internal/backoff"
	dmerrors "github.com/dropsminer/core/internal/errors"
	"github.com/dropsminer/core/internal/logger"
)

// Session owns the process-wide HTTP client, its cookie jar, and the
// connection-quality-scaled timeouts. Construct one per process; all
// requests flow through Do.
type Session struct {
	mu        sync.Mutex
	client    *http.Client
	jar       *PersistentJar
	jarPath   string
	userAgent string
	quality   int
}

// Config configures a new Session.
type Config struct {
	// ConnectionQuality is clamped to [1,6]; it scales both the connect
	// and total timeouts (5*q and 10*q seconds respectively).
	ConnectionQuality int
	UserAgent         string
	CookieJarPath     string
	Proxy             *url.URL
}

// NewSession builds a Session and loads any previously persisted cookie
// jar from cfg.CookieJarPath (a missing file is not an error).
func NewSession(cfg Config) (*Session, error) {
	quality := cfg.ConnectionQuality
	if quality < 1 {
		quality = 1
	} else if quality > 6 {
		quality = 6
	}

	jar := NewPersistentJar()
	if cfg.CookieJarPath != "" {
		if err := jar.Load(cfg.CookieJarPath); err != nil {
			return nil, err
		}
	}

	total := time.Duration(10*quality) * time.Second
	connect := time.Duration(5*quality) * time.Second
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connect}).DialContext
	if cfg.Proxy != nil {
		transport.Proxy = http.ProxyURL(cfg.Proxy)
	}
	client := &http.Client{
		Timeout:   total,
		Jar:       jar,
		Transport: transport,
	}

	return &Session{
		client:    client,
		jar:       jar,
		jarPath:   cfg.CookieJarPath,
		userAgent: cfg.UserAgent,
		quality:   quality,
	}, nil
}

// Jar exposes the session's persistent cookie jar, e.g. so auth can read
// the "unique_id"/"auth-token" cookies set by the platform.
func (s *Session) Jar() *PersistentJar { return s.jar }

// Request is the subset of http.Request fields a caller configures; the
// retry loop owns Context, URL construction, and body re-sending.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// Do issues method/url with the given body/headers, retrying on transient
// failure with the shared backoff primitive (capped at 3 minutes), per
// the mining core's HTTP retry policy:
//
//   - status < 500 is success: the body is pre-read and the response is
//     returned with Body replaced by a buffer so callers can read it
//     after this call returns.
//   - a TLS certificate verification failure is fatal and is not retried.
//   - connection/timeout/transport errors and status >= 500 count a
//     step and retry; the caller is only logged at Warn from the 2nd
//     attempt onward to avoid noise on quick transient blips.
//   - if invalidateAfter is set and now plus the session's total timeout
//     would land at or after it, ErrInvalidRequest is returned instead of
//     retrying further.
func (s *Session) Do(ctx context.Context, req Request, invalidateAfter *time.Time) (*http.Response, error) {
	b := backoff.New(backoff.WithMaximum(3 * 60))
	sessionTotal := time.Duration(10*s.quality) * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return nil, dmerrors.Wrap(dmerrors.ErrExitRequested, "http request cancelled")
		}
		if invalidateAfter != nil && !time.Now().Add(sessionTotal).Before(*invalidateAfter) {
			return nil, dmerrors.Wrap(dmerrors.ErrInvalidRequest, "request would expire before completing")
		}

		resp, err := s.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		if isTLSFailure(err) {
			return nil, dmerrors.Wrapf(err, "TLS verification failed for %s", req.URL)
		}
		if !isRetryable(err) {
			return nil, dmerrors.Wrapf(err, "request to %s failed", req.URL)
		}

		delay := b.Next()
		if b.Exp() >= 1 {
			logger.Warnw("retrying request after transient failure",
				"url", req.URL, "delay_s", delay, "error", err.Error())
		}

		select {
		case <-ctx.Done():
			return nil, dmerrors.Wrap(dmerrors.ErrExitRequested, "http request cancelled during backoff")
		case <-time.After(time.Duration(delay * float64(time.Second))):
		}
	}
}

// statusError signals a >=500 response that should be retried.
type statusError struct{ status int }

func (e *statusError) Error() string { return "server error" }

func (s *Session) attempt(ctx context.Context, req Request) (*http.Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, dmerrors.Wrap(err, "build request")
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if s.userAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, &statusError{status: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, dmerrors.Wrap(err, "read response body")
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}

func isTLSFailure(err error) bool {
	var unknownAuthority x509.UnknownAuthorityError
	var certInvalid x509.CertificateInvalidError
	var hostnameErr x509.HostnameError
	return errors.As(err, &unknownAuthority) ||
		errors.As(err, &certInvalid) ||
		errors.As(err, &hostnameErr) ||
		isTLSRecordError(err)
}

func isTLSRecordError(err error) bool {
	var recordHeaderErr tls.RecordHeaderError
	return errors.As(err, &recordHeaderErr)
}

func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return false
}

// Close prunes empty cookie entries, persists the jar, and releases idle
// connections.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.jarPath != "" {
		if err := s.jar.Save(s.jarPath); err != nil {
			return err
		}
	}
	s.client.CloseIdleConnections()
	return nil
}
