package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// ErrorKind classifies a fetch failure after the retry budget is exhausted.
type ErrorKind string

const (
	KindTimeout ErrorKind = "timeout"
	KindHTTP    ErrorKind = "http_error"
	KindNetwork ErrorKind = "network_error"
)

// Error is the terminal failure of a Fetch call.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	URL        string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config controls retry behaviour and request shaping.
type Config struct {
	Timeout    time.Duration
	MaxRetries int
	UserAgent  string
	// PerHostInterval is the minimum spacing between requests to the same
	// host, shared across concurrent workers.
	PerHostInterval time.Duration
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// DefaultConfig returns the fetch defaults: 15s timeout, 2 retries,
// browser-like User-Agent, one request per host every 2s.
func DefaultConfig() Config {
	return Config{
		Timeout:         15 * time.Second,
		MaxRetries:      2,
		UserAgent:       defaultUserAgent,
		PerHostInterval: 2 * time.Second,
	}
}

// Fetcher retrieves page content with bounded retries and per-host rate
// limiting. It holds no product state; failures surface as *Error.
type Fetcher struct {
	client *http.Client
	cfg    Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Fetcher{
		client:   &http.Client{Timeout: cfg.Timeout},
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Fetch retrieves the page at rawURL. Transient failures (timeout, 5xx,
// connection reset) are retried with exponential backoff up to MaxRetries;
// 4xx responses fail the attempt immediately.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, URL: rawURL, Err: err}
	}

	if err := f.limiter(parsed.Host).Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTimeout, URL: rawURL, Err: err}
	}

	var body []byte
	operation := func() error {
		var err error
		body, err = f.doRequest(ctx, rawURL)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newBackOff(), uint64(f.cfg.MaxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		var fe *Error
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, &Error{Kind: KindNetwork, URL: rawURL, Err: err}
	}
	return body, nil
}

// doRequest performs one attempt. Failures that must not be retried are
// wrapped in backoff.Permanent.
func (f *Fetcher) doRequest(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(&Error{Kind: KindNetwork, URL: rawURL, Err: err})
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return nil, &Error{Kind: KindTimeout, URL: rawURL, Err: err}
		}
		return nil, &Error{Kind: KindNetwork, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, &Error{Kind: KindHTTP, StatusCode: resp.StatusCode, URL: rawURL}
	case resp.StatusCode >= 400:
		return nil, backoff.Permanent(&Error{Kind: KindHTTP, StatusCode: resp.StatusCode, URL: rawURL})
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, URL: rawURL, Err: err}
	}
	return body, nil
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	return b
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		if f.cfg.PerHostInterval <= 0 {
			l = rate.NewLimiter(rate.Inf, 1)
		} else {
			l = rate.NewLimiter(rate.Every(f.cfg.PerHostInterval), 1)
		}
		f.limiters[host] = l
	}
	return l
}
