package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ClientOptions tune the HTTP client of one upstream. Each upstream gets its
// own Client so its breaker only reflects that upstream's health.
type ClientOptions struct {
	Name            string
	Timeout         time.Duration
	RequestsPerSec  float64
	Burst           int
	MaxRetryElapsed time.Duration
	UserAgent       string
	// BreakerFailures is the consecutive failure count that opens the breaker.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// HTTPStatusError represents an unexpected upstream status code.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Response is a fully read upstream response.
type Response struct {
	Body        []byte
	ContentType string
}

// Client performs rate limited GET requests with retries behind a circuit breaker.
type Client struct {
	opts    ClientOptions
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// NewClient constructs a Client, filling defaults for unset options.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.MaxRetryElapsed <= 0 {
		opts.MaxRetryElapsed = 15 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 60 * time.Second
	}
	if opts.Name == "" {
		opts.Name = "upstream"
	}

	log := logger.With().Str("component", "http_client").Str("upstream", opts.Name).Logger()

	settings := gobreaker.Settings{
		Name:     opts.Name,
		Interval: 60 * time.Second,
		Timeout:  opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		IsSuccessful: countsAsHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}

	return &Client{
		opts:    opts,
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSec), opts.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  log,
	}
}

// Get fetches url. 4xx responses are not retried.
func (c *Client) Get(ctx context.Context, url string, header http.Header) (Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("rate limiter: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.getWithRetry(ctx, url, header)
	})
	if err != nil {
		return Response{}, err
	}
	return out.(Response), nil
}

func (c *Client) getWithRetry(ctx context.Context, url string, header http.Header) (Response, error) {
	var result Response
	operation := func() error {
		resp, err := c.do(ctx, url, header)
		if err != nil {
			return err
		}
		result = resp
		return nil
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = 200 * time.Millisecond
	strategy.MaxElapsedTime = c.opts.MaxRetryElapsed

	notify := func(err error, wait time.Duration) {
		c.logger.Debug().Err(err).Dur("wait", wait).Str("url", url).Msg("retrying upstream request")
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(strategy, ctx), notify); err != nil {
		return Response{}, err
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, url string, header http.Header) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{}, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, Body: truncate(strings.TrimSpace(string(body)), 200)}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return Response{}, backoff.Permanent(statusErr)
		}
		return Response{}, statusErr
	}

	return Response{Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}

// countsAsHealthy decides what the breaker treats as a working upstream.
// A 4xx is about one resource and a cancelled or expired caller context is
// about the caller, so neither counts toward opening the breaker.
func countsAsHealthy(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 && statusErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
