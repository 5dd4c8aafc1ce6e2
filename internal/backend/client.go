// Package backend is the console's client for the storefront REST API. It
// decodes the {status, data, message} envelope, normalizes every failure into
// a banner-ready error, retries reads and guards all calls with a shared
// circuit breaker.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/console/internal/config"
	"github.com/pitabwire/console/internal/observability"
	"github.com/pitabwire/console/model"
)

// StatusSuccess is the envelope status of a successful call.
const StatusSuccess = "SUCCESS"

const maxResponseBytes = 10 << 20

// Envelope is the response body shape used by every backend endpoint.
type Envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Request describes one backend call.
type Request struct {
	// Operation names the call for metrics and spans, e.g. "product.list".
	Operation string
	Method    string
	// Path is the request path with ids already substituted.
	Path string
	// Body is JSON-encoded when Submission is nil.
	Body       any
	Submission *model.Submission
	// Anonymous calls carry no bearer token (login).
	Anonymous bool
}

// Client calls the backend on behalf of a session.
type Client struct {
	baseURL   string
	loginPath string
	http      *http.Client
	breaker   *CircuitBreaker
	retry     config.RetryConfig
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMetrics records backend calls and breaker state.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger used for retries and breaker transitions.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a backend client from configuration.
func NewClient(cfg config.BackendConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	loginPath := cfg.LoginPath
	if loginPath == "" {
		loginPath = "/auth/login"
	}
	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		loginPath: loginPath,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		breaker: NewCircuitBreaker(
			cfg.CircuitBreaker.FailureThreshold,
			cfg.CircuitBreaker.SuccessThreshold,
			cfg.CircuitBreaker.Timeout,
		),
		retry:  cfg.Retry,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker.OnStateChange(func(s BreakerState) {
		c.metrics.SetBackendCircuitBreakerState(float64(s))
		if s == BreakerOpen {
			c.logger.Warn("backend circuit breaker opened")
		} else {
			c.logger.Info("backend circuit breaker state changed", zap.String("state", s.String()))
		}
	})
	return c
}

// Breaker exposes the shared circuit breaker.
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

// HealthCheck reports the backend as unhealthy while the breaker is open.
func (c *Client) HealthCheck(_ context.Context) error {
	if c.breaker.State() == BreakerOpen {
		return ErrBreakerOpen
	}
	return nil
}

// Do executes req and returns the envelope's data on success. Every failure
// is an *model.ErrorEnvelope, except cancellation of ctx which is returned
// wrapped so callers can tell it apart with errors.Is.
func (c *Client) Do(ctx context.Context, sctx *model.SessionContext, req Request) (data json.RawMessage, err error) {
	if !req.Anonymous {
		if sctx == nil || sctx.Token == "" || sctx.Expired(c.now()) {
			return nil, model.NewSessionExpiredError()
		}
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, fmt.Errorf("backend: encode %s: %w", req.Operation, err)
	}

	if ce := c.logger.Check(zap.DebugLevel, "backend request"); ce != nil {
		ce.Write(requestFields(req)...)
	}

	ctx, span := observability.StartBackendSpan(ctx, req.Operation, req.Method)
	defer func() { observability.EndSpanWithError(span, err) }()

	maxAttempts := 1
	if req.Method == http.MethodGet && c.retry.MaxAttempts > 1 {
		maxAttempts = c.retry.MaxAttempts
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			c.metrics.RecordBackendRetry(req.Operation)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("backend: %s: %w", req.Operation, ctx.Err())
			case <-time.After(calculateBackoff(c.retry, attempt)):
			}
		}

		var retryable bool
		data, retryable, err = c.once(ctx, sctx, req, body, contentType)
		if err == nil || !retryable || attempt == maxAttempts-1 {
			return data, err
		}
		c.logger.Debug("retrying backend call",
			zap.String("operation", req.Operation),
			zap.Int("attempt", attempt+1),
			zap.Int("max", maxAttempts),
			zap.Error(err),
		)
	}
	return data, err
}

// once performs a single HTTP round trip with circuit breaker protection.
// The bool result reports whether the failure may be retried.
func (c *Client) once(
	ctx context.Context,
	sctx *model.SessionContext,
	req Request,
	body []byte,
	contentType string,
) (json.RawMessage, bool, error) {
	ticket, err := c.breaker.Allow()
	if err != nil {
		return nil, false, model.NewBackendUnavailableError()
	}
	result := outcomeNeutral
	defer func() { c.breaker.Done(ticket, result) }()

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, rdr)
	if err != nil {
		return nil, false, fmt.Errorf("backend: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if !req.Anonymous && sctx != nil {
		httpReq.Header.Set("Authorization", "Bearer "+sanitizeHeader(sctx.Token))
	}
	if id := correlationID(ctx, sctx); id != "" {
		httpReq.Header.Set("X-Correlation-Id", sanitizeHeader(id))
	}
	observability.InjectTraceHeaders(ctx, httpReq.Header)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.metrics.RecordBackendRequest(req.Operation, 0, time.Since(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				result = outcomeFailure
				return nil, false, model.NewBackendTimeoutError()
			}
			// Caller went away; not a backend failure.
			return nil, false, fmt.Errorf("backend: %s: %w", req.Operation, ctxErr)
		}
		result = outcomeFailure
		if isConnectionError(err) {
			return nil, true, model.NewBackendUnavailableError()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, true, model.NewBackendTimeoutError()
		}
		return nil, true, fmt.Errorf("backend: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.metrics.RecordBackendRequest(req.Operation, resp.StatusCode, time.Since(start))
	if err != nil {
		result = outcomeFailure
		return nil, true, fmt.Errorf("backend: read response: %w", err)
	}

	// 4xx are not infrastructure failures and leave the breaker alone.
	if isServerError(resp.StatusCode) {
		result = outcomeFailure
	} else if !isClientError(resp.StatusCode) {
		result = outcomeSuccess
	}

	env, decodeErr := decodeEnvelope(raw)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if isServerError(resp.StatusCode) {
			c.logger.Warn("backend server error",
				zap.String("operation", req.Operation),
				zap.Int("status", resp.StatusCode),
				zap.String("message", env.Message),
			)
		}
		return nil, isRetryableStatus(resp.StatusCode), statusError(resp.StatusCode, env.Message)
	}
	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 {
		return nil, false, nil
	}
	if decodeErr != nil {
		return nil, false, model.NewBackendRejectedError("The backend returned an unreadable response")
	}
	if !strings.EqualFold(env.Status, StatusSuccess) {
		return nil, false, model.NewBackendRejectedError(env.Message)
	}
	return env.Data, false, nil
}

func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if len(bytes.TrimSpace(raw)) == 0 {
		return env, nil
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func encodeBody(req Request) ([]byte, string, error) {
	if req.Submission != nil {
		if req.Submission.HasFiles() {
			return encodeMultipart(*req.Submission)
		}
		b, err := json.Marshal(req.Submission.Fields)
		return b, "application/json", err
	}
	if req.Body == nil {
		return nil, "", nil
	}
	b, err := json.Marshal(req.Body)
	return b, "application/json", err
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.BackoffMax {
			delay = cfg.BackoffMax
			break
		}
	}
	return delay
}

// requestFields describes req for debug logs with credentials and other
// sensitive fields redacted.
func requestFields(req Request) []zap.Field {
	fields := []zap.Field{
		zap.String("operation", req.Operation),
		zap.String("method", req.Method),
		zap.String("path", req.Path),
	}
	switch {
	case req.Submission != nil:
		fields = append(fields,
			zap.Any("fields", observability.RedactBody(req.Submission.Fields, nil)),
			zap.Int("files", len(req.Submission.Files)),
		)
	case req.Body != nil:
		raw, err := json.Marshal(req.Body)
		if err != nil {
			break
		}
		var body map[string]any
		if json.Unmarshal(raw, &body) == nil {
			fields = append(fields, zap.Any("body", observability.RedactBody(body, nil)))
		}
	}
	return fields
}

// correlationID prefers the id of the request that started the call. Screens
// outlive requests, so their session carries none.
func correlationID(ctx context.Context, sctx *model.SessionContext) string {
	if id := observability.CorrelationIDFromContext(ctx); id != "" {
		return id
	}
	if sctx != nil {
		return sctx.CorrelationID
	}
	return ""
}
