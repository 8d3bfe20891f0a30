package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// maxErrorBody bounds how much of a failed response ends up in an error message
const maxErrorBody = 512

// HTTPConfig configures the HTTP client
type HTTPConfig struct {
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	EnableHTTP2         bool          `mapstructure:"enable_http2"`
	InsecureSkipVerify  bool          `mapstructure:"insecure_skip_verify"`
	UserAgent           string        `mapstructure:"user_agent"`

	// RateLimit is requests per second (0 = unlimited)
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`

	CircuitBreakerEnabled bool                 `mapstructure:"circuit_breaker_enabled"`
	CircuitBreaker        CircuitBreakerConfig `mapstructure:"-"`
}

// DefaultHTTPConfig returns the default client configuration
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		RequestTimeout:        30 * time.Second,
		EnableHTTP2:           true,
		UserAgent:             "interlink/1.0",
		CircuitBreakerEnabled: true,
		CircuitBreaker:        DefaultCircuitBreakerConfig(),
	}
}

// Request is an outbound call. Body is sent verbatim.
type Request struct {
	Method      string
	URL         string
	Body        []byte
	ContentType string
	Headers     map[string]string
}

// Response is a fully read response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTTPStats holds client counters
type HTTPStats struct {
	TotalRequests  int64               `json:"total_requests"`
	FailedRequests int64               `json:"failed_requests"`
	CircuitBreaker CircuitBreakerState `json:"circuit_breaker"`
}

// HTTPClient wraps net/http with rate limiting, a circuit breaker and
// status-code classification into typed errors.
type HTTPClient struct {
	config         *HTTPConfig
	logger         *zap.Logger
	httpClient     *http.Client
	circuitBreaker *CircuitBreaker
	rateLimiter    RateLimiter

	totalRequests  int64
	failedRequests int64
}

// NewHTTPClient creates a new HTTP client
func NewHTTPClient(config *HTTPConfig, logger *zap.Logger) *HTTPClient {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.InsecureSkipVerify, //nolint:gosec // opt-in for test systems
			MinVersion:         tls.VersionTLS12,
		},
	}

	if config.EnableHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	client := &HTTPClient{
		config: config,
		logger: logger.With(zap.String("component", "http_client")),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   config.RequestTimeout,
		},
	}

	if config.RateLimit > 0 {
		client.rateLimiter = NewRateLimiter(config.RateLimit, config.RateBurst)
	}
	if config.CircuitBreakerEnabled {
		client.circuitBreaker = NewCircuitBreaker(config.CircuitBreaker, logger)
	}
	return client
}

// HTTP returns the underlying client. Wrapping its transport (e.g. with
// NewOAuth2Transport) affects every subsequent call.
func (c *HTTPClient) HTTP() *http.Client {
	return c.httpClient
}

// Do performs req and returns the response. Non-2xx responses are returned
// together with a typed error from StatusError.
func (c *HTTPClient) Do(ctx context.Context, req *Request) (*Response, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "rate limiter wait cancelled")
		}
	}

	var resp *Response
	call := func() error {
		var err error
		resp, err = c.do(ctx, req)
		return err
	}

	var err error
	if c.circuitBreaker != nil {
		err = c.circuitBreaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		atomic.AddInt64(&c.failedRequests, 1)
	}
	return resp, err
}

func (c *HTTPClient) do(ctx context.Context, r *Request) (*Response, error) {
	atomic.AddInt64(&c.totalRequests, 1)

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid request")
	}
	if r.ContentType != "" {
		req.Header.Set("Content-Type", r.ContentType)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTimeout, fmt.Sprintf("%s %s", r.Method, r.URL))
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, fmt.Sprintf("%s %s", r.Method, r.URL))
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to read response body")
	}

	c.logger.Debug("http request",
		zap.String("method", r.Method),
		zap.String("url", r.URL),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}
	return resp, StatusError(r.Method, r.URL, resp)
}

// DoJSON sends in as a JSON body (when non-nil) and decodes the response into out (when non-nil).
func (c *HTTPClient) DoJSON(ctx context.Context, method, url string, in, out interface{}, headers map[string]string) (*Response, error) {
	req := &Request{Method: method, URL: url, Headers: map[string]string{"Accept": "application/json"}}
	for k, v := range headers {
		req.Headers[k] = v
	}
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "failed to encode request body")
		}
		req.Body = data
		req.ContentType = "application/json"
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return resp, err
	}
	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return resp, errors.Wrap(err, errors.ErrorTypeMalformedPayload, "failed to decode response body")
		}
	}
	return resp, nil
}

// StatusError classifies a response. 2xx is success. Throttling and server
// errors are retryable, everything else is a permanent rejection.
func StatusError(method, url string, resp *Response) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}

	snippet := string(resp.Body)
	if len(snippet) > maxErrorBody {
		snippet = snippet[:maxErrorBody]
	}
	msg := fmt.Sprintf("%s %s returned %d", method, url, code)

	var errType errors.ErrorType
	switch {
	case code == http.StatusNotFound:
		errType = errors.ErrorTypeNotFound
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		errType = errors.ErrorTypeConfig
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		errType = errors.ErrorTypeTimeout
	case code == http.StatusTooManyRequests || code >= 500:
		errType = errors.ErrorTypeConnectivity
	default:
		errType = errors.ErrorTypeValidation
	}
	return errors.New(errType, msg).
		WithDetail("status", code).
		WithDetail("body", snippet)
}

// GetStats returns current client statistics
func (c *HTTPClient) GetStats() HTTPStats {
	stats := HTTPStats{
		TotalRequests:  atomic.LoadInt64(&c.totalRequests),
		FailedRequests: atomic.LoadInt64(&c.failedRequests),
	}
	if c.circuitBreaker != nil {
		stats.CircuitBreaker = c.circuitBreaker.GetState()
	}
	return stats
}

// Close releases idle connections
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
