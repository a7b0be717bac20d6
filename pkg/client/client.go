// Package client provides the HTTP executor with shared auth headers,
// retry with exponential backoff, and an optional request log.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/codemao-client/pkg/apierr"
	"github.com/Sternrassler/codemao-client/pkg/auth"
	"github.com/Sternrassler/codemao-client/pkg/logging"
	"github.com/Sternrassler/codemao-client/pkg/requestlog"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for request execution.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codemao_requests_total",
		Help: "Total request attempts by method and status",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "codemao_request_duration_seconds",
		Help:    "Logical request duration in seconds, retries included",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method"})
)

// HeaderRequestID identifies one logical call across its attempts.
const HeaderRequestID = "X-Request-ID"

const contentTypeOctetStream = "application/octet-stream"

// Config holds the client configuration.
type Config struct {
	// BaseURL is prepended to relative endpoints.
	BaseURL string

	// Headers seeds the shared header set when Auth is nil.
	Headers map[string]string

	// Timeout is the default per-attempt timeout.
	Timeout time.Duration

	// Retry
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration

	// RateLimit caps outgoing attempts per second. Zero disables it.
	RateLimit float64

	// Auth is the shared header state. Optional.
	Auth *auth.State

	// RequestLog receives terminal responses. Optional.
	RequestLog requestlog.Sink

	// HTTPClient is the underlying transport. Optional.
	HTTPClient *http.Client
}

// DefaultConfig returns the default configuration for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:    baseURL,
		Timeout:    10 * time.Second,
		MaxRetries: DefaultMaxAttempts,
		Backoff:    DefaultBackoff,
		MaxBackoff: DefaultMaxBackoff,
	}
}

// Client executes requests against a single base URL.
type Client struct {
	rest    *resty.Client
	auth    *auth.State
	limiter *rate.Limiter
	policy  RetryPolicy
	sleep   sleepFunc
	reqLog  requestlog.Sink
	config  Config
	logger  zerolog.Logger
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("base url must be an absolute http(s) url (got %q)", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}

	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("max_retries must be >= 1 (got %d)", cfg.MaxRetries)
	}

	if cfg.Backoff < 0 || cfg.MaxBackoff < 0 {
		return nil, fmt.Errorf("backoff must be >= 0")
	}

	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("rate_limit must be >= 0 (got %v)", cfg.RateLimit)
	}

	logger := logging.NewLogger("codemao-client")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	rest := resty.NewWithClient(httpClient).
		SetRetryCount(0).
		SetLogger(restyLogger{logger: logger})

	state := cfg.Auth
	if state == nil {
		state = auth.NewState(cfg.Headers)
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := int(math.Ceil(cfg.RateLimit))
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	logger.Info().
		Str("base_url", cfg.BaseURL).
		Int("max_retries", cfg.MaxRetries).
		Dur("timeout", cfg.Timeout).
		Bool("request_log", cfg.RequestLog != nil).
		Msg("Client created")

	return &Client{
		rest:    rest,
		auth:    state,
		limiter: limiter,
		policy: RetryPolicy{
			MaxAttempts: cfg.MaxRetries,
			Backoff:     ExponentialBackoff(cfg.Backoff, cfg.MaxBackoff),
		},
		sleep:  sleepContext,
		reqLog: cfg.RequestLog,
		config: cfg,
		logger: logger,
	}, nil
}

// Auth returns the shared header state.
func (c *Client) Auth() *auth.State {
	return c.auth
}

// Execute performs one logical call with retry. Any non-2xx status and any
// transport failure is retried; cancellation of ctx is not.
func (c *Client) Execute(ctx context.Context, spec RequestSpec) (*Response, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	method := spec.method()
	target := c.resolve(spec.Endpoint)

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = c.config.Timeout
	}

	policy := c.policy
	if spec.Retries > 0 {
		policy.MaxAttempts = spec.Retries
	}

	headers := c.buildHeaders(spec)
	requestID := headers.Get(HeaderRequestID)

	logger := c.logger.With().
		Str("method", method).
		Str("endpoint", spec.Endpoint).
		Str("request_id", requestID).
		Logger()

	logger.Debug().Str("url", target).Int("max_attempts", policy.MaxAttempts).Msg("Executing request")

	start := time.Now()
	var last *Response

	attempts, err := policy.do(ctx, c.sleep, logger, func(n int) error {
		last = nil

		resp, err := c.send(ctx, method, target, headers, spec, timeout)
		if err != nil {
			requestsTotal.WithLabelValues(method, "error").Inc()
			logger.Debug().Err(err).Int("attempt", n+1).Msg("Attempt failed")
			return err
		}

		resp.RequestID = requestID
		last = resp
		requestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

		if !resp.IsSuccess() {
			return &apierr.Error{
				Kind:       apierr.KindHTTPStatus,
				StatusCode: resp.StatusCode,
				Message:    method + " " + spec.Endpoint,
				Body:       string(resp.Body),
			}
		}
		return nil
	})

	elapsed := time.Since(start)
	requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())

	if last != nil {
		last.Attempts = attempts
		last.Elapsed = elapsed
		if !spec.NoLog {
			c.writeLog(last, headers)
		}
	}

	if err != nil {
		return nil, err
	}

	logger.Debug().
		Int("status", last.StatusCode).
		Int("attempts", attempts).
		Dur("elapsed", elapsed).
		Msg("Request completed")

	return last, nil
}

// send issues exactly one attempt.
func (c *Client) send(ctx context.Context, method, target string, headers http.Header, spec RequestSpec, timeout time.Duration) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, apierr.Wrap(apierr.KindTransport, err, "rate limiter")
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := c.rest.R().
		SetContext(attemptCtx).
		SetHeaderMultiValues(headers)

	if len(spec.Query) > 0 {
		req.SetQueryParamsFromValues(spec.Query)
	}

	switch {
	case len(spec.Files) > 0:
		for _, part := range spec.Files {
			req.SetMultipartField(part.Field, part.Field, contentTypeOctetStream, bytes.NewReader(part.Content))
		}
	case spec.Body != nil:
		req.SetBody(spec.Body)
	}

	resp, err := req.Execute(method, target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Without a *url.Error the request never reached the transport.
		var urlErr *url.Error
		if !errors.As(err, &urlErr) && (resp == nil || resp.RawResponse == nil) {
			return nil, apierr.Wrap(apierr.KindInvalidRequest, err, "%s %s", method, target)
		}
		return nil, apierr.Wrap(apierr.KindTransport, err, "%s %s", method, target)
	}

	return &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
		Method:     method,
		URL:        resp.Request.RawRequest.URL.String(),
	}, nil
}

// buildHeaders merges the shared header snapshot with per-call overrides.
func (c *Client) buildHeaders(spec RequestSpec) http.Header {
	headers := c.auth.Headers()
	for key, value := range spec.Headers {
		headers.Set(key, value)
	}
	if headers.Get(HeaderRequestID) == "" {
		headers.Set(HeaderRequestID, uuid.NewString())
	}
	if len(spec.Files) > 0 {
		headers.Del("Content-Type")
	}
	return headers
}

func (c *Client) resolve(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if endpoint == "" {
		return c.config.BaseURL
	}
	return strings.TrimRight(c.config.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
}

func (c *Client) writeLog(resp *Response, reqHeaders http.Header) {
	if c.reqLog == nil {
		return
	}
	err := c.reqLog.Write(requestlog.Record{
		Time:            time.Now(),
		Method:          resp.Method,
		URL:             resp.URL,
		Status:          resp.StatusCode,
		RequestHeaders:  reqHeaders,
		ResponseHeaders: resp.Header,
		Body:            resp.Body,
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("request_id", resp.RequestID).Msg("Failed to write request log")
	}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) (*Response, error) {
	return c.Execute(ctx, RequestSpec{Endpoint: endpoint, Method: http.MethodGet, Query: query})
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Execute(ctx, RequestSpec{Endpoint: endpoint, Method: http.MethodPost, Body: body})
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Execute(ctx, RequestSpec{Endpoint: endpoint, Method: http.MethodPut, Body: body})
}

// Patch performs a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Execute(ctx, RequestSpec{Endpoint: endpoint, Method: http.MethodPatch, Body: body})
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, endpoint string) (*Response, error) {
	return c.Execute(ctx, RequestSpec{Endpoint: endpoint, Method: http.MethodDelete})
}

// Close releases the request log.
func (c *Client) Close() error {
	if c.reqLog == nil {
		return nil
	}
	if err := c.reqLog.Close(); err != nil {
		return fmt.Errorf("close request log: %w", err)
	}
	return nil
}

// restyLogger routes resty's internal messages into zerolog.
type restyLogger struct {
	logger zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...any) { l.logger.Error().Msgf(format, v...) }
func (l restyLogger) Warnf(format string, v ...any)  { l.logger.Warn().Msgf(format, v...) }
func (l restyLogger) Debugf(format string, v ...any) { l.logger.Debug().Msgf(format, v...) }
