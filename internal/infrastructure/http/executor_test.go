package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"3tcapital/ms_facturacion_pe/internal/core/audit"
	"3tcapital/ms_facturacion_pe/internal/core/gateway"
	ctxutil "3tcapital/ms_facturacion_pe/internal/infrastructure/context"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/metrics"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/ratelimit"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func intPtr(n int) *int { return &n }

func newSnapshot(baseURL string, scheme gateway.AuthScheme, limit *int) *gateway.Snapshot {
	return gateway.NewSnapshot(
		gateway.Service{ID: 1, Type: gateway.ServiceMigo, BaseURL: baseURL + "/", AuthToken: "tok-123", AuthScheme: scheme, IsActive: true},
		[]gateway.Endpoint{
			{ID: 11, ServiceID: 1, Name: "consultar_ruc", Path: "/api/v1/ruc", Method: "post", RateLimitPerMinute: limit, IsActive: true},
			{ID: 12, ServiceID: 1, Name: "inactivo", Path: "/x", IsActive: false},
		},
	)
}

func newTestExecutor(retries int, opts ...ExecutorOption) (*Executor, *sleepRecorder) {
	sleeper := &sleepRecorder{}
	base := []ExecutorOption{
		WithLimiter(ratelimit.NewManager()),
		WithSleeper(sleeper.Sleep),
		WithJitter(func(bound time.Duration) time.Duration { return bound }),
	}
	timeouts := gateway.TimeoutConfig{Connect: time.Second, Read: 2 * time.Second, MaxRetries: retries}
	return NewExecutor(timeouts, nil, append(base, opts...)...), sleeper
}

func TestSend_Success(t *testing.T) {
	var gotReq *http.Request
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"nombre_o_razon_social":"ACME S.A.C."}`))
	}))
	defer server.Close()

	exec, sleeper := newTestExecutor(3)
	defer exec.Close()

	ctx := ctxutil.WithCorrelationID(context.Background(), "corr-1")
	res, err := exec.Send(ctx, newSnapshot(server.URL, gateway.AuthBearer, nil), "consultar_ruc",
		map[string]any{"ruc": "20100070970", "nota": "a&b<c>"}, CallInfo{Caller: "test"})

	require.NoError(t, err)
	assert.Equal(t, audit.StatusSuccess, res.Status)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "ACME S.A.C.", res.Response.String("nombre_o_razon_social"))
	assert.Equal(t, http.MethodPost, res.Method)
	assert.Equal(t, server.URL+"/api/v1/ruc", res.URL)
	require.NotNil(t, res.Endpoint)
	assert.Equal(t, int64(11), res.Endpoint.ID)
	assert.Empty(t, res.Trail)
	assert.Empty(t, sleeper.Delays())

	assert.Equal(t, "/api/v1/ruc", gotReq.URL.Path)
	assert.Equal(t, "application/json", gotReq.Header.Get("Content-Type"))
	assert.Equal(t, "application/json", gotReq.Header.Get("Accept"))
	assert.Equal(t, "Bearer tok-123", gotReq.Header.Get("Authorization"))
	assert.Equal(t, "corr-1", gotReq.Header.Get("X-Correlation-ID"))
	assert.JSONEq(t, `{"nota":"a&b<c>","ruc":"20100070970"}`, string(gotBody))
	assert.Contains(t, string(gotBody), "a&b<c>", "payload must not be HTML-escaped")
}

func TestSend_AuthSchemes(t *testing.T) {
	tests := []struct {
		scheme   gateway.AuthScheme
		expected string
	}{
		{gateway.AuthBearer, "Bearer tok-123"},
		{gateway.AuthToken, "Token tok-123"},
		{gateway.AuthNone, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.scheme), func(t *testing.T) {
			var got string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Get("Authorization")
				_, _ = w.Write([]byte(`{}`))
			}))
			defer server.Close()

			exec, _ := newTestExecutor(0)
			_, err := exec.Send(context.Background(), newSnapshot(server.URL, tt.scheme, nil), "consultar_ruc", map[string]any{}, CallInfo{})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSend_GeneratesCorrelationID(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Correlation-ID")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	exec, _ := newTestExecutor(0)
	_, err := exec.Send(context.Background(), newSnapshot(server.URL, gateway.AuthBearer, nil), "consultar_ruc", nil, CallInfo{})
	require.NoError(t, err)
	assert.Len(t, got, 36)
}

func TestSend_UnknownEndpoint(t *testing.T) {
	exec, _ := newTestExecutor(0)

	res, err := exec.Send(context.Background(), newSnapshot("http://127.0.0.1:1", gateway.AuthBearer, nil), "inactivo", nil, CallInfo{})

	require.ErrorIs(t, err, gateway.ErrEndpointUnknown)
	assert.Equal(t, audit.StatusFailed, res.Status)
	assert.Nil(t, res.Endpoint)
	assert.Zero(t, res.Attempts)
}

func TestSend_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":"El campo serie es inválido"}`))
	}))
	defer server.Close()

	exec, sleeper := newTestExecutor(3)
	res, err := exec.Send(context.Background(), newSnapshot(server.URL, gateway.AuthBearer, nil), "consultar_ruc", nil, CallInfo{})

	var httpErr *gateway.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.ErrorIs(t, err, gateway.ErrHTTPClient)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, audit.StatusFailed, res.Status)
	assert.Equal(t, "El campo serie es inválido", res.Response.String("errors"))
	assert.Equal(t, []string{"attempt 1: HTTP 400"}, res.Trail)
	assert.Empty(t, sleeper.Delays())
}

func TestSend_ServerErrorRetriedThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"aceptada_por_sunat":true}`))
	}))
	defer server.Close()

	m := metrics.New()
	exec, sleeper := newTestExecutor(3, WithMetrics(m))
	res, err := exec.Send(context.Background(), newSnapshot(server.URL, gateway.AuthBearer, nil), "consultar_ruc", nil, CallInfo{})

	require.NoError(t, err)
	assert.Equal(t, audit.StatusSuccess, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []string{"attempt 1: HTTP 502", "attempt 2: HTTP 502"}, res.Trail)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, sleeper.Delays())
}

func TestSend_ServerErrorExhausted(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer server.Close()

	exec, _ := newTestExecutor(2)
	res, err := exec.Send(context.Background(), newSnapshot(server.URL, gateway.AuthBearer, nil), "consultar_ruc", nil, CallInfo{})

	require.ErrorIs(t, err, gateway.ErrHTTPServer)
	assert.Equal(t, int32(3), hits.Load(), "max_retries counts retries after the first attempt")
	assert.Equal(t, audit.StatusFailed, res.Status)
	assert.Equal(t, "internal error", res.Response.String("raw_body"))
	assert.Equal(t, http.StatusInternalServerError, res.Response["status_code"])
	assert.Equal(t, "attempt 1: HTTP 500; attempt 2: HTTP 500; attempt 3: HTTP 500", res.ErrorMessage())
}

func TestSend_TooManyRequestsHonorsRetryAfter(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	exec, sleeper := newTestExecutor(3)
	res, err := exec.Send(context.Background(), newSnapshot(server.URL, gateway.AuthBearer, nil), "consultar_ruc", nil, CallInfo{})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []time.Duration{7 * time.Second}, sleeper.Delays())
}

func TestSend_TransportErrorExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	exec, sleeper := newTestExecutor(2)
	res, err := exec.Send(context.Background(), newSnapshot(url, gateway.AuthBearer, nil), "consultar_ruc", nil, CallInfo{})

	var transportErr *gateway.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, 3, transportErr.Attempts)
	assert.Equal(t, audit.StatusTimeout, res.Status)
	assert.Len(t, res.Trail, 3)
	assert.Contains(t, res.Trail[0], "attempt 1:")
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, sleeper.Delays())
}

func TestSend_ReadTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	timeouts := gateway.TimeoutConfig{Connect: 50 * time.Millisecond, Read: 50 * time.Millisecond, MaxRetries: 0}
	exec := NewExecutor(timeouts, nil, WithLimiter(ratelimit.NewManager()))

	res, err := exec.Send(context.Background(), newSnapshot(server.URL, gateway.AuthBearer, nil), "consultar_ruc", nil, CallInfo{})

	require.ErrorIs(t, err, gateway.ErrTransport)
	assert.Equal(t, audit.StatusTimeout, res.Status)
	assert.Equal(t, 1, res.Attempts)
}

func TestSend_SuccessFalseIsFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"No existe RUC"}`))
	}))
	defer server.Close()

	exec, _ := newTestExecutor(0)
	res, err := exec.Send(context.Background(), newSnapshot(server.URL, gateway.AuthBearer, nil), "consultar_ruc", nil, CallInfo{})

	require.NoError(t, err)
	assert.Equal(t, audit.StatusFailed, res.Status)
	assert.True(t, res.Response.IndicatesNotFound())
}

func TestSend_RateLimitWaitsOnceThenAdmits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	now := time.Date(2026, 1, 29, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	limiter := ratelimit.NewManagerWithClock(clock)

	var waited []time.Duration
	sleeper := func(ctx context.Context, d time.Duration) error {
		waited = append(waited, d)
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
		return nil
	}

	exec := NewExecutor(gateway.TimeoutConfig{Connect: time.Second, Read: time.Second}, nil,
		WithLimiter(limiter), WithSleeper(sleeper))
	snap := newSnapshot(server.URL, gateway.AuthBearer, intPtr(1))

	_, err := exec.Send(context.Background(), snap, "consultar_ruc", nil, CallInfo{})
	require.NoError(t, err)

	res, err := exec.Send(context.Background(), snap, "consultar_ruc", nil, CallInfo{})
	require.NoError(t, err)
	assert.Equal(t, audit.StatusSuccess, res.Status)
	assert.Equal(t, []time.Duration{60 * time.Second}, waited)
}

func TestSend_RateLimitedAfterSecondDenial(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	m := metrics.New()
	exec, sleeper := newTestExecutor(0, WithMetrics(m))
	snap := newSnapshot(server.URL, gateway.AuthBearer, intPtr(2))

	for i := 0; i < 2; i++ {
		_, err := exec.Send(context.Background(), snap, "consultar_ruc", nil, CallInfo{})
		require.NoError(t, err)
	}

	// The sleeper does not advance time, so the window is still full on recheck.
	res, err := exec.Send(context.Background(), snap, "consultar_ruc", nil, CallInfo{})

	var rlErr *gateway.RateLimitedError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, "consultar_ruc", rlErr.Endpoint)
	assert.Equal(t, audit.StatusRateLimited, res.Status)
	assert.Zero(t, res.Attempts)
	assert.Equal(t, int32(2), hits.Load())
	assert.Len(t, sleeper.Delays(), 1)
}

func TestSend_CancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sleeper := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	exec := NewExecutor(gateway.TimeoutConfig{Connect: time.Second, Read: time.Second, MaxRetries: 3}, nil,
		WithLimiter(ratelimit.NewManager()), WithSleeper(sleeper))

	res, err := exec.Send(ctx, newSnapshot(server.URL, gateway.AuthBearer, nil), "consultar_ruc", nil, CallInfo{})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, audit.StatusFailed, res.Status)
	assert.Equal(t, CancelledMessage, res.ErrorMessage())
}

func TestSend_CircuitOpenFailsFast(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cb := NewCircuitBreaker(1, 0.5, time.Hour)
	exec, _ := newTestExecutor(0, WithBreaker(cb))
	snap := newSnapshot(server.URL, gateway.AuthBearer, nil)

	_, err := exec.Send(context.Background(), snap, "consultar_ruc", nil, CallInfo{})
	require.ErrorIs(t, err, gateway.ErrHTTPServer)
	require.Equal(t, CircuitBreakerOpen, cb.State())

	res, err := exec.Send(context.Background(), snap, "consultar_ruc", nil, CallInfo{})
	require.ErrorIs(t, err, gateway.ErrCircuitOpen)
	assert.Equal(t, audit.StatusFailed, res.Status)
	assert.Zero(t, res.Attempts)
	assert.Equal(t, int32(1), hits.Load())
}

func TestSend_ClientErrorsDoNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cb := NewCircuitBreaker(1, 0.5, time.Hour)
	exec, _ := newTestExecutor(0, WithBreaker(cb))

	_, err := exec.Send(context.Background(), newSnapshot(server.URL, gateway.AuthBearer, nil), "consultar_ruc", nil, CallInfo{})
	require.ErrorIs(t, err, gateway.ErrHTTPClient)
	assert.Equal(t, CircuitBreakerClosed, cb.State())
}

func TestSend_OpenBreakerKeepsRateLimitSlots(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	limiter := ratelimit.NewManager()
	cb := NewCircuitBreaker(1, 0.5, time.Hour)
	exec, _ := newTestExecutor(0, WithLimiter(limiter), WithBreaker(cb))
	snap := newSnapshot(server.URL, gateway.AuthBearer, intPtr(5))

	_, err := exec.Send(context.Background(), snap, "consultar_ruc", nil, CallInfo{})
	require.ErrorIs(t, err, gateway.ErrHTTPServer)
	require.Equal(t, CircuitBreakerOpen, cb.State())

	for i := 0; i < 3; i++ {
		_, err := exec.Send(context.Background(), snap, "consultar_ruc", nil, CallInfo{})
		require.ErrorIs(t, err, gateway.ErrCircuitOpen)
	}

	used, _ := limiter.Usage(RateKey(gateway.ServiceMigo, "consultar_ruc"))
	assert.Equal(t, 1, used, "rejected calls must not consume the window")
}

func TestSend_CancellationsDoNotCloseHalfOpenBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	now := time.Date(2026, 1, 29, 10, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, 0.5, time.Minute)
	cb.now = func() time.Time { return now }
	exec, _ := newTestExecutor(0, WithBreaker(cb))
	snap := newSnapshot(server.URL, gateway.AuthBearer, nil)

	_, err := exec.Send(context.Background(), snap, "consultar_ruc", nil, CallInfo{})
	require.ErrorIs(t, err, gateway.ErrHTTPServer)
	require.Equal(t, CircuitBreakerOpen, cb.State())

	now = now.Add(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		res, err := exec.Send(ctx, snap, "consultar_ruc", nil, CallInfo{})
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, CancelledMessage, res.ErrorMessage())
	}

	assert.Equal(t, CircuitBreakerHalfOpen, cb.State())
	assert.Zero(t, cb.Stats().SuccessCount)
}

func TestDecodeBody(t *testing.T) {
	assert.Equal(t, gateway.Response{}, decodeBody(nil, 204))
	assert.Equal(t, gateway.Response{"a": "b"}, decodeBody([]byte(` {"a":"b"} `), 200))
	assert.Equal(t, gateway.Response{"raw_body": "[1,2]", "status_code": 200}, decodeBody([]byte("[1,2]"), 200))
	assert.Equal(t, gateway.Response{"raw_body": "null", "status_code": 200}, decodeBody([]byte("null"), 200))
}

func TestEncodePayload(t *testing.T) {
	raw, err := encodePayload(map[string]any{"b": "ñ&", "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":"ñ&"}`, string(raw))

	_, err = encodePayload(map[string]any{"bad": make(chan int)})
	assert.Error(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
}

func TestRateKey(t *testing.T) {
	assert.Equal(t, "MIGO:consultar_ruc", RateKey(gateway.ServiceMigo, "consultar_ruc"))
	assert.True(t, errors.Is(&gateway.RateLimitedError{}, gateway.ErrRateLimited))
}
