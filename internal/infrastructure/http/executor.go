package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"3tcapital/ms_facturacion_pe/internal/core/audit"
	"3tcapital/ms_facturacion_pe/internal/core/gateway"
	ctxutil "3tcapital/ms_facturacion_pe/internal/infrastructure/context"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/metrics"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/ratelimit"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/security"
)

// CancelledMessage is the error_message recorded for calls aborted by the caller.
const CancelledMessage = "cancelled"

const maxResponseSize = 10 << 20

// CallInfo identifies who triggered a call.
type CallInfo struct {
	CorrelationID string
	Caller        string
}

// RateKey is the limiter bucket of an endpoint.
func RateKey(t gateway.ServiceType, endpoint string) string {
	return string(t) + ":" + endpoint
}

// Executor dispatches payloads to a service endpoint with rate limiting,
// retries and decoding. It never writes audit entries; the returned Result
// carries everything the caller needs to record one.
type Executor struct {
	client   *http.Client
	timeouts gateway.TimeoutConfig
	limiter  *ratelimit.Manager
	breaker  *CircuitBreaker
	metrics  *metrics.Metrics
	log      *slog.Logger
	sleep    func(context.Context, time.Duration) error
	jitter   func(time.Duration) time.Duration
	now      func() time.Time
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithLimiter sets the rate limit manager. Defaults to ratelimit.Default().
func WithLimiter(m *ratelimit.Manager) ExecutorOption {
	return func(e *Executor) { e.limiter = m }
}

// WithBreaker protects dispatch with a circuit breaker.
func WithBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) { e.breaker = cb }
}

// WithMetrics records retries and limiter denials.
func WithMetrics(m *metrics.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithHTTPClient replaces the pooled client built from the timeouts.
func WithHTTPClient(c *http.Client) ExecutorOption {
	return func(e *Executor) { e.client = c }
}

// WithSleeper replaces the context-aware sleep used for backoff and limiter waits.
func WithSleeper(fn func(context.Context, time.Duration) error) ExecutorOption {
	return func(e *Executor) { e.sleep = fn }
}

// WithJitter replaces the full-jitter draw.
func WithJitter(fn func(time.Duration) time.Duration) ExecutorOption {
	return func(e *Executor) { e.jitter = fn }
}

// NewExecutor creates an executor owning its own HTTP client.
func NewExecutor(timeouts gateway.TimeoutConfig, log *slog.Logger, opts ...ExecutorOption) *Executor {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	e := &Executor{
		timeouts: timeouts,
		limiter:  ratelimit.Default(),
		log:      log,
		sleep:    sleepContext,
		jitter:   fullJitter,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = NewClient(ClientConfig{ConnectTimeout: timeouts.Connect, ReadTimeout: timeouts.Read})
	}
	return e
}

// Timeouts returns the resolved timeouts.
func (e *Executor) Timeouts() gateway.TimeoutConfig {
	return e.timeouts
}

// Close releases idle sockets.
func (e *Executor) Close() {
	e.client.CloseIdleConnections()
}

// Send runs one call against the named endpoint. The Result is always non-nil.
func (e *Executor) Send(ctx context.Context, snap *gateway.Snapshot, endpointName string, payload map[string]any, info CallInfo) (*gateway.Result, error) {
	start := e.now()
	res := &gateway.Result{Status: audit.StatusFailed}
	defer func() { res.Duration = e.now().Sub(start) }()

	ep, ok := snap.Endpoint(endpointName)
	if !ok {
		res.Trail = append(res.Trail, fmt.Sprintf("endpoint %s desconocido", endpointName))
		return res, &gateway.EndpointUnknownError{Service: snap.Type(), Name: endpointName}
	}
	res.Endpoint = &ep
	res.Method = ep.Method
	res.URL = snap.URL(ep)

	if info.CorrelationID == "" {
		info.CorrelationID = ctxutil.GetCorrelationID(ctx)
	}
	if info.CorrelationID == "" {
		info.CorrelationID = uuid.NewString()
	}

	body, err := encodePayload(payload)
	if err != nil {
		res.Trail = append(res.Trail, "encode: "+err.Error())
		return res, fmt.Errorf("encode payload: %w", err)
	}

	send := func() (*gateway.Result, error) {
		if err := e.admit(ctx, snap, ep); err != nil {
			if ctx.Err() != nil {
				return e.cancelled(res, ctx.Err())
			}
			res.Status = audit.StatusRateLimited
			res.Trail = append(res.Trail, err.Error())
			return res, err
		}
		return e.dispatch(ctx, snap, ep, body, info, res)
	}

	if e.breaker == nil {
		return send()
	}

	// An open breaker rejects before the limiter is consulted.
	var sendErr error
	brkErr := e.breaker.Execute(func() error {
		_, sendErr = send()
		switch {
		case ctx.Err() != nil, res.Attempts == 0:
			return errNotCounted
		case countsAgainstBreaker(sendErr):
			return sendErr
		}
		return nil
	})
	if errors.Is(brkErr, gateway.ErrCircuitOpen) && sendErr == nil && res.Attempts == 0 {
		res.Trail = append(res.Trail, gateway.ErrCircuitOpen.Error())
		e.log.Warn("provider_circuit_open",
			"correlation_id", info.CorrelationID,
			"service", snap.Type(),
			"endpoint", ep.Name,
		)
		return res, brkErr
	}
	return res, sendErr
}

func countsAgainstBreaker(err error) bool {
	return errors.Is(err, gateway.ErrTransport) || errors.Is(err, gateway.ErrHTTPServer)
}

// admit consults the limiter, waiting at most once.
func (e *Executor) admit(ctx context.Context, snap *gateway.Snapshot, ep gateway.Endpoint) error {
	limit := ep.Limit()
	if limit == nil || e.limiter == nil {
		return nil
	}

	key := RateKey(snap.Type(), ep.Name)
	ok, wait := e.limiter.Check(key, limit)
	if ok {
		return nil
	}

	e.metrics.IncRateLimitDenial(string(snap.Type()), ep.Name)
	e.log.Info("rate limit reached, waiting for next window",
		"service", snap.Type(),
		"endpoint", ep.Name,
		"wait", wait,
	)
	if err := e.sleep(ctx, wait); err != nil {
		return err
	}

	ok, wait = e.limiter.Check(key, limit)
	if ok {
		return nil
	}
	e.metrics.IncRateLimitDenial(string(snap.Type()), ep.Name)
	return &gateway.RateLimitedError{Service: snap.Type(), Endpoint: ep.Name, Wait: wait}
}

type attemptOutcome struct {
	statusCode int
	header     http.Header
	body       []byte
	err        error
}

func (e *Executor) dispatch(ctx context.Context, snap *gateway.Snapshot, ep gateway.Endpoint, body []byte, info CallInfo, res *gateway.Result) (*gateway.Result, error) {
	maxAttempts := e.timeouts.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		out := e.attempt(ctx, snap, res.Method, res.URL, body, info)

		var delay time.Duration
		if out.err != nil {
			if ctx.Err() != nil {
				return e.cancelled(res, ctx.Err())
			}
			res.Trail = append(res.Trail, fmt.Sprintf("attempt %d: %v", attempt, out.err))
			if attempt >= maxAttempts {
				res.Status = audit.StatusTimeout
				return res, &gateway.TransportError{Attempts: attempt, Err: out.err}
			}
			delay = e.jitter(backoffBound(attempt))
		} else {
			res.StatusCode = out.statusCode
			res.Response = decodeBody(out.body, out.statusCode)

			switch {
			case out.statusCode >= 200 && out.statusCode < 300:
				if res.Response.Success() {
					res.Status = audit.StatusSuccess
				} else {
					res.Status = audit.StatusFailed
					res.Trail = append(res.Trail, fmt.Sprintf("attempt %d: success=false", attempt))
				}
				return res, nil
			case retryableStatus(out.statusCode):
				res.Trail = append(res.Trail, fmt.Sprintf("attempt %d: HTTP %d", attempt, out.statusCode))
				if attempt >= maxAttempts {
					res.Status = audit.StatusFailed
					return res, &gateway.HTTPError{StatusCode: out.statusCode, Body: res.Response}
				}
				delay = e.jitter(backoffBound(attempt))
				if ra := parseRetryAfter(out.header.Get("Retry-After"), e.now()); ra > 0 {
					delay = ra
				}
			default:
				res.Status = audit.StatusFailed
				res.Trail = append(res.Trail, fmt.Sprintf("attempt %d: HTTP %d", attempt, out.statusCode))
				return res, &gateway.HTTPError{StatusCode: out.statusCode, Body: res.Response}
			}
		}

		e.metrics.IncRetry(string(snap.Type()), res.Endpoint.Name)
		e.log.Warn("provider_retry",
			"correlation_id", info.CorrelationID,
			"service", snap.Type(),
			"endpoint", res.Endpoint.Name,
			"attempt", attempt,
			"delay", delay,
		)
		if err := e.sleep(ctx, delay); err != nil {
			return e.cancelled(res, err)
		}
	}
}

func (e *Executor) attempt(ctx context.Context, snap *gateway.Snapshot, method, url string, body []byte, info CallInfo) attemptOutcome {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeouts.Connect+e.timeouts.Read)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, method, url, bytes.NewReader(body))
	if err != nil {
		return attemptOutcome{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-ID", info.CorrelationID)
	if auth := snap.AuthorizationHeader(); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	e.log.Info("provider_request",
		"correlation_id", info.CorrelationID,
		"service", snap.Type(),
		"method", method,
		"url", security.SanitizeURL(url),
		"called_from", info.Caller,
	)
	e.log.Debug("provider_request_headers", "headers", security.SanitizeHeaders(req.Header))

	started := e.now()
	resp, err := e.client.Do(req)
	if err != nil {
		e.log.Error("provider_request_failed",
			"correlation_id", info.CorrelationID,
			"service", snap.Type(),
			"url", security.SanitizeURL(url),
			"duration_ms", e.now().Sub(started).Milliseconds(),
			"error", err.Error(),
		)
		return attemptOutcome{err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return attemptOutcome{err: fmt.Errorf("read response: %w", err)}
	}

	attrs := []any{
		"correlation_id", info.CorrelationID,
		"service", snap.Type(),
		"url", security.SanitizeURL(url),
		"status", resp.StatusCode,
		"response_size_bytes", len(raw),
		"duration_ms", e.now().Sub(started).Milliseconds(),
	}
	switch {
	case resp.StatusCode >= 500:
		e.log.Error("provider_response", attrs...)
	case resp.StatusCode >= 400:
		e.log.Warn("provider_response", attrs...)
	default:
		e.log.Info("provider_response", attrs...)
	}

	return attemptOutcome{statusCode: resp.StatusCode, header: resp.Header, body: raw}
}

func (e *Executor) cancelled(res *gateway.Result, err error) (*gateway.Result, error) {
	res.Status = audit.StatusFailed
	res.Trail = []string{CancelledMessage}
	return res, err
}

// encodePayload serializes without HTML escaping. Map keys are sorted by encoding/json.
func encodePayload(payload map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// decodeBody parses a JSON object, wrapping anything else as {raw_body, status_code}.
func decodeBody(raw []byte, statusCode int) gateway.Response {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return gateway.Response{}
	}

	var out map[string]any
	if err := json.Unmarshal(trimmed, &out); err != nil || out == nil {
		return gateway.Response{
			"raw_body":    string(raw),
			"status_code": statusCode,
		}
	}
	return gateway.Response(out)
}
