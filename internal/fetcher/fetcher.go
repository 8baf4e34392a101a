package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/comfforts/logger"
	"golang.org/x/time/rate"

	"github.com/hankgalt/catalog-crawl/pkg/domain"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultMaxRetries = 3
	DefaultBackoff    = time.Second
	DefaultUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultAccept     = "application/json, text/plain, */*"
)

const (
	ERR_ENDPOINT_REQUIRED = "fetcher: endpoint is required"
	ERR_TRANSIENT_STATUS  = "fetcher: transient status"
	ERR_PERMANENT_STATUS  = "fetcher: permanent status"
	ERR_INVALID_BODY      = "fetcher: invalid response body"
)

var (
	ErrEndpointRequired = errors.New(ERR_ENDPOINT_REQUIRED)
	ErrTransientStatus  = errors.New(ERR_TRANSIENT_STATUS)
	ErrPermanentStatus  = errors.New(ERR_PERMANENT_STATUS)
	ErrInvalidBody      = errors.New(ERR_INVALID_BODY)
)

// TransientStatuses are retried with backoff; every other non-200 status fails at once.
var TransientStatuses = domain.NewSet(
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
)

// Options configure a Fetcher.
type Options struct {
	Endpoint          string        // e.g. https://api.example.com/products/{}
	MaxRetries        int           // total attempts per ID
	Backoff           time.Duration // wait = Backoff * attempt
	Timeout           time.Duration
	Headers           map[string]string
	RequestsPerSecond float64 // static cap, 0 disables
	// OnRetry, if set, observes every wait between attempts.
	OnRetry func(id domain.ProductID, attempt int, wait time.Duration, err error)
}

// Fetcher performs single product lookups with bounded retries.
// A Fetcher is safe for concurrent use; all callers share one http.Client.
type Fetcher struct {
	client     *http.Client
	endpoint   string
	maxRetries int
	backoff    time.Duration
	headers    http.Header
	limiter    *rate.Limiter
	onRetry    func(id domain.ProductID, attempt int, wait time.Duration, err error)
}

// NewHTTPClient returns the shared client used by all fetch workers.
func NewHTTPClient(timeout time.Duration, maxConns int) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxConns <= 0 {
		maxConns = 10
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConns = maxConns * 2
	tr.MaxIdleConnsPerHost = maxConns
	return &http.Client{Timeout: timeout, Transport: tr}
}

// New creates a Fetcher. A nil client gets a default one with the configured timeout.
func New(client *http.Client, opts Options) (*Fetcher, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, ErrEndpointRequired
	}
	if client == nil {
		client = NewHTTPClient(opts.Timeout, 0)
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}

	h := http.Header{}
	h.Set("User-Agent", DefaultUserAgent)
	h.Set("Accept", DefaultAccept)
	if u, err := url.Parse(opts.Endpoint); err == nil && u.Host != "" {
		h.Set("Referer", u.Scheme+"://"+u.Host+"/")
	}
	for k, v := range opts.Headers {
		h.Set(k, v)
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &Fetcher{
		client:     client,
		endpoint:   opts.Endpoint,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		headers:    h,
		limiter:    limiter,
		onRetry:    opts.OnRetry,
	}, nil
}

// URL builds the lookup URL for id.
func (f *Fetcher) URL(id domain.ProductID) string {
	esc := url.PathEscape(string(id))
	switch {
	case strings.Contains(f.endpoint, "{}"):
		return strings.Replace(f.endpoint, "{}", esc, 1)
	case strings.Contains(f.endpoint, "%s"):
		return fmt.Sprintf(f.endpoint, esc)
	default:
		return strings.TrimRight(f.endpoint, "/") + "/" + esc
	}
}

// Fetch looks up one product. Failures never escape as errors:
// every failure mode, including cancellation, reduces to (nil, false).
func (f *Fetcher) Fetch(ctx context.Context, id domain.ProductID) (domain.RawRecord, bool) {
	l, err := logger.LoggerFromContext(ctx)
	if err != nil {
		l = logger.GetSlogLogger()
	}

	var (
		raw     domain.RawRecord
		attempt int
	)
	op := func() error {
		attempt++
		rec, err := f.get(ctx, id)
		if err != nil {
			return err
		}
		raw = rec
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(&linearBackOff{base: f.backoff}, uint64(f.maxRetries-1)), ctx)
	notify := func(err error, wait time.Duration) {
		l.Debug("fetcher: retrying", "product-id", id, "attempt", attempt, "wait", wait, "error", err.Error())
		if f.onRetry != nil {
			f.onRetry(id, attempt, wait, err)
		}
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		l.Debug("fetcher: failed", "product-id", id, "attempts", attempt, "error", err.Error())
		return nil, false
	}
	return raw, true
}

// get performs one attempt. Non-retryable failures are wrapped as permanent.
func (f *Fetcher) get(ctx context.Context, id domain.ProductID) (domain.RawRecord, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(id), nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header = f.headers.Clone()

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		// transport failure, retried under the same budget
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusOK {
		var raw domain.RawRecord
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrInvalidBody, err.Error()))
		}
		return raw, nil
	}

	if TransientStatuses.Has(resp.StatusCode) {
		return nil, fmt.Errorf("%w: %d", ErrTransientStatus, resp.StatusCode)
	}
	return nil, backoff.Permanent(fmt.Errorf("%w: %d", ErrPermanentStatus, resp.StatusCode))
}

// linearBackOff waits base * attempt before each retry.
type linearBackOff struct {
	base    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.base * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() { b.attempt = 0 }
