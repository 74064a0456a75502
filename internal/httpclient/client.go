// Package httpclient provides the rate-limited HTTP client shared by all
// source adapters. Every outbound request flows through one Client so that
// per-host token buckets, retries, proxy rotation, and 429 accounting stay
// in one place.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"citescout/internal/config"
	"citescout/internal/logging"
)

// ErrorKind classifies request failures for retry decisions.
type ErrorKind int

const (
	KindTransient   ErrorKind = iota // network errors, 5xx: retry
	KindRateLimited                  // 429: retry with backoff, signal pressure
	KindNotFound                     // 404: no result, not a failure
	KindPermanent                    // 4xx other than 404/429: do not retry
)

// RequestError carries the failure classification alongside the cause.
type RequestError struct {
	Kind       ErrorKind
	StatusCode int
	URL        string
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("request to %s failed with status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// ErrMaxRetriesExceeded indicates all retry attempts failed.
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

// IsNotFound reports whether err is a 404 classification.
func IsNotFound(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Kind == KindNotFound
}

// IsRateLimited reports whether err is a 429 classification.
func IsRateLimited(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Kind == KindRateLimited
}

// PressureSignaler receives a signal for every 429 observed, carrying both
// the adapter the request was for and the proxy (or "direct") it went
// through, and advises the client on which proxy to use next.
type PressureSignaler interface {
	Signal429(adapter, proxy string)
	HealthyProxy(proxies []string) string
}

// userAgents is the rotation pool. Real browser strings keep HTML sources
// from serving bot pages.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:128.0) Gecko/20100101 Firefox/128.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:128.0) Gecko/20100101 Firefox/128.0",
}

// Client is the shared rate-limited HTTP client.
type Client struct {
	cfg      config.HTTPConfig
	signaler PressureSignaler

	mu       sync.Mutex
	limiters map[string]*rate.Limiter // adapter name -> token bucket
	clients  map[string]*http.Client  // proxy key -> transport
	proxyIdx int
	uaIdx    int

	rng *rand.Rand
}

// New creates a Client. signaler may be nil when no pressure tracking is
// wanted (tests, one-shot lookups).
func New(cfg config.HTTPConfig, signaler PressureSignaler) *Client {
	c := &Client{
		cfg:      cfg,
		signaler: signaler,
		limiters: make(map[string]*rate.Limiter),
		clients:  make(map[string]*http.Client),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	c.clients["direct"] = &http.Client{Timeout: cfg.Timeout}
	for _, p := range cfg.Proxies {
		if hc, err := proxyClient(p, cfg.Timeout); err == nil {
			c.clients[p] = hc
		} else {
			logging.HTTP("Skipping unparseable proxy %q: %v", p, err)
		}
	}
	return c
}

// RegisterLimiter installs a token bucket for an adapter. rps of 0 means
// unlimited.
func (c *Client) RegisterLimiter(adapter string, rps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rps <= 0 {
		delete(c.limiters, adapter)
		return
	}
	burst := int(math.Ceil(rps))
	if burst < 1 {
		burst = 1
	}
	c.limiters[adapter] = rate.NewLimiter(rate.Limit(rps), burst)
}

// HasProxies reports whether at least one usable proxy is configured.
func (c *Client) HasProxies() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients) > 1
}

// ProxyKeys returns the usable proxy keys, "direct" excluded.
func (c *Client) ProxyKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.clients))
	for k := range c.clients {
		if k != "direct" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Request describes one outbound call.
type Request struct {
	Adapter string // limiter key, e.g. "crossref"
	Method  string // default GET
	URL     string
	Header  http.Header
	Body    io.Reader

	// ProxyKey pins the request to a specific proxy ("direct" or an entry
	// from ProxyKeys). Empty rotates round-robin.
	ProxyKey string

	// NoRetry disables the retry loop (liveness probes).
	NoRetry bool
}

// Do performs the request with rate limiting and retries, returning the
// response body. Bodies are fully read so connections can be reused.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	maxAttempts := c.cfg.MaxRetries + 1
	if req.NoRetry {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := c.wait(ctx, req.Adapter); err != nil {
			return nil, err
		}

		body, err := c.doOnce(ctx, req)
		if err == nil {
			if attempt > 0 {
				logging.HTTP("Retry succeeded for %s on attempt %d", req.URL, attempt+1)
			}
			return body, nil
		}
		lastErr = err

		var re *RequestError
		if errors.As(err, &re) {
			switch re.Kind {
			case KindNotFound, KindPermanent:
				return nil, err
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt < maxAttempts-1 {
			backoff := c.backoff(attempt)
			logging.HTTPDebug("Attempt %d/%d for %s failed (%v), retrying in %v",
				attempt+1, maxAttempts, req.URL, err, backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, fmt.Errorf("%w for %s: %w", ErrMaxRetriesExceeded, req.URL, lastErr)
}

// GetJSON is a convenience wrapper that sets JSON accept headers.
func (c *Client) GetJSON(ctx context.Context, adapter, rawURL string) ([]byte, error) {
	h := http.Header{}
	h.Set("Accept", "application/json")
	return c.Do(ctx, Request{Adapter: adapter, URL: rawURL, Header: h})
}

func (c *Client) wait(ctx context.Context, adapter string) error {
	c.mu.Lock()
	lim := c.limiters[adapter]
	c.mu.Unlock()
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

func (c *Client) doOnce(ctx context.Context, req Request) ([]byte, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, req.Body)
	if err != nil {
		return nil, &RequestError{Kind: KindPermanent, URL: req.URL, Err: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.nextUserAgent())
	}

	key, hc := c.pickClient(req.ProxyKey)
	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, &RequestError{Kind: KindTransient, URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 10<<20))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if c.signaler != nil {
			c.signaler.Signal429(req.Adapter, key)
		}
		logging.HTTP("429 from %s via %s", hostOf(req.URL), key)
		return nil, &RequestError{
			Kind: KindRateLimited, StatusCode: resp.StatusCode, URL: req.URL,
			Err: fmt.Errorf("rate limited (retry-after %s)", resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &RequestError{
			Kind: KindNotFound, StatusCode: resp.StatusCode, URL: req.URL,
			Err: errors.New("not found"),
		}
	case resp.StatusCode >= 500:
		return nil, &RequestError{
			Kind: KindTransient, StatusCode: resp.StatusCode, URL: req.URL,
			Err: fmt.Errorf("server error: %s", strconv.Itoa(resp.StatusCode)),
		}
	case resp.StatusCode >= 400:
		return nil, &RequestError{
			Kind: KindPermanent, StatusCode: resp.StatusCode, URL: req.URL,
			Err: fmt.Errorf("client error: %s", strconv.Itoa(resp.StatusCode)),
		}
	}
	if readErr != nil {
		return nil, &RequestError{Kind: KindTransient, URL: req.URL, Err: readErr}
	}
	return body, nil
}

// backoff computes initial * 2^attempt with ±25% jitter, capped at MaxDelay.
func (c *Client) backoff(attempt int) time.Duration {
	d := float64(c.cfg.InitialDelay) * math.Pow(2, float64(attempt))
	if max := float64(c.cfg.MaxDelay); d > max {
		d = max
	}
	c.mu.Lock()
	jitter := 0.75 + c.rng.Float64()*0.5
	c.mu.Unlock()
	return time.Duration(d * jitter)
}

func (c *Client) nextUserAgent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ua := userAgents[c.uaIdx%len(userAgents)]
	c.uaIdx++
	return ua
}

func (c *Client) pickClient(pin string) (string, *http.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pin != "" {
		if hc, ok := c.clients[pin]; ok {
			return pin, hc
		}
	}
	if len(c.clients) == 1 {
		return "direct", c.clients["direct"]
	}

	// Direct is only used when pinned or alone. The signaler steers around
	// degraded proxies; without one, fall back to round-robin.
	keys := make([]string, 0, len(c.clients)-1)
	for k := range c.clients {
		if k != "direct" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if c.signaler != nil {
		if k := c.signaler.HealthyProxy(keys); k != "" {
			return k, c.clients[k]
		}
	}
	key := keys[c.proxyIdx%len(keys)]
	c.proxyIdx++
	return key, c.clients[key]
}

// proxyClient builds an http.Client tunneling through host:port[:user:pass].
func proxyClient(spec string, timeout time.Duration) (*http.Client, error) {
	parts := strings.Split(spec, ":")
	var proxyURL *url.URL
	switch len(parts) {
	case 2:
		proxyURL = &url.URL{Scheme: "http", Host: spec}
	case 4:
		proxyURL = &url.URL{
			Scheme: "http",
			Host:   parts[0] + ":" + parts[1],
			User:   url.UserPassword(parts[2], parts[3]),
		}
	default:
		return nil, fmt.Errorf("expected host:port or host:port:user:pass, got %d segments", len(parts))
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}, nil
}

func hostOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		return u.Host
	}
	return rawURL
}
