// Package xero is a client for the Xero accounting api. It holds no
// token state: every call is given the Conn of the session it is made
// for.
package xero

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rorycl/xeroinvoiceserver/apierror"
	"github.com/rorycl/xeroinvoiceserver/metrics"
	"golang.org/x/time/rate"
)

// BaseURL is the Xero accounting api root
const BaseURL = "https://api.xero.com/api.xro/2.0"

// DefaultTimeout bounds each api call
const DefaultTimeout = 10 * time.Second

// CallsPerMinute is Xero's per tenant rate limit
// see https://developer.xero.com/documentation/guides/oauth2/limits/
const CallsPerMinute = 60

// DefaultMaxTries is the number of attempts made for idempotent reads
const DefaultMaxTries = 3

// Conn is the session-scoped context of a call: a valid access token
// and the tenant the call acts on
type Conn struct {
	AccessToken string
	TenantID    string
}

func (c Conn) check() error {
	if c.AccessToken == "" {
		return apierror.New(apierror.Unauthenticated, "no access token")
	}
	if c.TenantID == "" {
		return apierror.New(apierror.NoTenantConnected, "no tenant selected")
	}
	return nil
}

// Client calls the Xero accounting api
type Client struct {
	baseURL    string
	httpClient *http.Client
	perMinute  int
	burst      int
	limiters   sync.Map // tenant id -> *rate.Limiter
	maxTries   uint
	initialGap time.Duration
	metrics    *metrics.Metrics
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL points the client at another api root, for tests
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout sets the per call timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRateLimit sets the per tenant limit in calls per minute and the
// allowed burst
func WithRateLimit(perMinute, burst int) Option {
	return func(c *Client) {
		c.perMinute = perMinute
		c.burst = burst
	}
}

// WithRetries sets the attempts made for reads and the first backoff
// interval
func WithRetries(maxTries uint, initial time.Duration) Option {
	return func(c *Client) {
		c.maxTries = maxTries
		c.initialGap = initial
	}
}

// WithMetrics records each call
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient returns a Client for the Xero api
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    BaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		perMinute:  CallsPerMinute,
		burst:      5,
		maxTries:   DefaultMaxTries,
		initialGap: 500 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// limiter returns (and lazily creates) the token bucket of a tenant
func (c *Client) limiter(tenantID string) *rate.Limiter {
	if v, ok := c.limiters.Load(tenantID); ok {
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(rate.Limit(float64(c.perMinute)/60), c.burst)
	v, _ := c.limiters.LoadOrStore(tenantID, lim)
	return v.(*rate.Limiter)
}

// get performs an idempotent read, retrying with exponential backoff
// when Xero is unavailable or slow
func (c *Client) get(ctx context.Context, conn Conn, endpoint string, query url.Values, out any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialGap

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.do(ctx, conn, http.MethodGet, endpoint, query, nil, out)
		if err == nil || retryable(err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.maxTries))
	return err
}

// create performs a single, never retried, PUT
func (c *Client) create(ctx context.Context, conn Conn, endpoint string, in, out any) error {
	return c.do(ctx, conn, http.MethodPut, endpoint, nil, in, out)
}

func retryable(err error) bool {
	k := apierror.KindOf(err)
	return k == apierror.UpstreamUnavailable || k == apierror.UpstreamTimeout
}

// do makes one call against endpoint, encoding in as the json body and
// decoding the response into out
func (c *Client) do(ctx context.Context, conn Conn, method, endpoint string, query url.Values, in, out any) error {
	if err := conn.check(); err != nil {
		return err
	}

	lim := c.limiter(conn.TenantID)
	if !lim.Allow() {
		c.metrics.RateLimitWait(endpoint)
		if err := lim.Wait(ctx); err != nil {
			return apierror.Wrap(apierror.UpstreamUnavailable, err, "rate limit wait abandoned")
		}
	}

	u := c.baseURL + "/" + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s body: %w", endpoint, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+conn.AccessToken)
	req.Header.Set("xero-tenant-id", conn.TenantID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveUpstream(endpoint, method, 0, time.Since(start))
		return transportError(err, endpoint)
	}
	defer resp.Body.Close()
	c.metrics.ObserveUpstream(endpoint, method, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp, endpoint)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apierror.Wrap(apierror.UpstreamUnavailable, err, fmt.Sprintf("%s response not decodable", endpoint))
	}
	return nil
}

func transportError(err error, endpoint string) error {
	msg := fmt.Sprintf("xero %s call failed", endpoint)
	if errors.Is(err, context.DeadlineExceeded) {
		return apierror.Wrap(apierror.UpstreamTimeout, err, msg)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return apierror.Wrap(apierror.UpstreamTimeout, err, msg)
	}
	return apierror.Wrap(apierror.UpstreamUnavailable, err, msg)
}
