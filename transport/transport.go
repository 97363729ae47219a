// Package transport implements the byte-range capable HTTP client used by
// every Worker (§4.1). It owns retry/backoff, proxy dialing (http, https,
// socks5, socks4) and user-agent rotation; it never touches job state.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"idm/internal"
)

// BackoffConfig controls the exponential-backoff-with-jitter retry schedule
// shared by Transport.RangeRequest and Worker's segment retry loop (§4.1, §4.3).
type BackoffConfig struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64 // fraction of delay, e.g. 0.2 = +/-20%
	MaxAttempts int
}

// DefaultBackoffConfig matches §4.3: 250ms base, doubling, capped at 30s,
// +/-20% jitter, 10 attempts.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:        250 * time.Millisecond,
		Cap:         30 * time.Second,
		Jitter:      0.2,
		MaxAttempts: 10,
	}
}

// Delay returns the backoff delay before the given 0-indexed attempt.
func (b BackoffConfig) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if d > float64(b.Cap) {
		d = float64(b.Cap)
	}
	jitter := d * b.Jitter * (rand.Float64()*2 - 1)
	d += jitter
	if d < 0 {
		d = float64(b.Base)
	}
	return time.Duration(d)
}

// defaultUserAgents rotates when a server responds 403, mirroring the
// teacher's anti-blocking behavior generalized to any origin.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// Config configures a Transport.
type Config struct {
	ConnectTimeout  time.Duration
	IdleReadTimeout time.Duration
	ProxyURL        string // "" | http(s)://... | socks5://... | socks4://...
	Backoff         BackoffConfig
}

// Transport issues range-aware HTTP requests with retry/backoff and proxy
// support (§4.1).
type Transport struct {
	client       *http.Client
	backoff      BackoffConfig
	mu           sync.RWMutex
	userAgentIdx int
}

// New builds a Transport from Config, wiring a SOCKS4/5 or plain HTTP(S)
// proxy dialer into the transport's DialContext.
func New(cfg Config) (*Transport, error) {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}

	rt := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.IdleReadTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: false},
	}

	if cfg.ProxyURL != "" {
		if err := configureProxy(rt, cfg.ProxyURL, dialer); err != nil {
			return nil, fmt.Errorf("configure proxy: %w", err)
		}
	}

	backoff := cfg.Backoff
	if backoff.MaxAttempts == 0 {
		backoff = DefaultBackoffConfig()
	}

	return &Transport{
		client: &http.Client{
			Transport: rt,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		backoff: backoff,
	}, nil
}

func configureProxy(rt *http.Transport, proxyURL string, dialer *net.Dialer) error {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		rt.Proxy = http.ProxyURL(u)
	case "socks5":
		var auth *proxy.Auth
		if u.User != nil {
			pw, _ := u.User.Password()
			auth = &proxy.Auth{User: u.User.Username(), Password: pw}
		}
		d, err := proxy.SOCKS5("tcp", u.Host, auth, dialer)
		if err != nil {
			return fmt.Errorf("socks5 dialer: %w", err)
		}
		rt.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return d.Dial(network, addr)
		}
	case "socks4", "socks4a":
		d := &socks4Dialer{addr: u.Host, forward: dialer, use4a: u.Scheme == "socks4a"}
		rt.DialContext = d.DialContext
	default:
		return fmt.Errorf("unsupported proxy scheme: %s", u.Scheme)
	}
	return nil
}

// RotateUserAgent advances to the next user-agent string in the rotation.
func (t *Transport) RotateUserAgent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.userAgentIdx = (t.userAgentIdx + 1) % len(defaultUserAgents)
}

func (t *Transport) currentUserAgent() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return defaultUserAgents[t.userAgentIdx]
}

// RangeRequest issues a ranged GET for [start,end) and returns the open
// response body on success (206 or, for unranged resources, 200). The
// caller owns resp.Body and must close it.
func (t *Transport) RangeRequest(ctx context.Context, rawURL string, start, end int64, headers map[string]string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < t.backoff.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(t.backoff.Delay(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := t.doRangeRequest(ctx, rawURL, start, end, headers)
		if err == nil {
			return resp, nil
		}

		engErr, ok := err.(*internal.EngineError)
		if ok && engErr.HTTPStatus == http.StatusForbidden {
			t.RotateUserAgent()
		}
		if !ok || !engErr.Retryable() {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("range request failed after %d attempts: %w", t.backoff.MaxAttempts, lastErr)
}

func (t *Transport) doRangeRequest(ctx context.Context, rawURL string, start, end int64, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, internal.NewEngineError(internal.ErrTransportFatal, err.Error())
	}

	req.Header.Set("User-Agent", t.currentUserAgent())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if end > 0 || start > 0 {
		if end > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if isRetryableNetErr(err) {
			return nil, internal.NewTransportError(internal.ErrTransportRetryable, 0, err.Error())
		}
		return nil, internal.NewTransportError(internal.ErrTransportFatal, 0, err.Error())
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
		return resp, nil
	case http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		return nil, internal.NewRangeRejectedError(rawURL)
	default:
		resp.Body.Close()
		return nil, internal.NewTransportError(internal.ErrTransportFatal, resp.StatusCode, resp.Status)
	}
}

// Head issues a HEAD request, used by Probe (§4.6).
func (t *Transport) Head(ctx context.Context, rawURL string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, internal.NewEngineError(internal.ErrTransportFatal, err.Error())
	}
	req.Header.Set("User-Agent", t.currentUserAgent())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		if isRetryableNetErr(err) {
			return nil, internal.NewTransportError(internal.ErrTransportRetryable, 0, err.Error())
		}
		return nil, internal.NewTransportError(internal.ErrTransportFatal, 0, err.Error())
	}
	return resp, nil
}

// Fetch issues a plain GET, used to download HLS/DASH playlists and
// fragments (§4.8) where no byte-range is meaningful.
func (t *Transport) Fetch(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	resp, err := t.RangeRequest(ctx, rawURL, 0, 0, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func isRetryableNetErr(err error) bool {
	s := strings.ToLower(err.Error())
	for _, pat := range []string{
		"timeout", "connection refused", "connection reset", "no such host",
		"network is unreachable", "temporary failure", "i/o timeout",
		"context deadline exceeded", "eof",
	} {
		if strings.Contains(s, pat) {
			return true
		}
	}
	return false
}
