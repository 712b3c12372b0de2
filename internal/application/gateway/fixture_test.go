package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"3tcapital/ms_facturacion_pe/internal/core/gateway"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/cache"
	infrahttp "3tcapital/ms_facturacion_pe/internal/infrastructure/http"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/ratelimit"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/workpool"
	"3tcapital/ms_facturacion_pe/internal/testutil"
)

const (
	nubefactToken = "nf-secret-token-123"
	migoToken     = "migo-secret-token-456"
)

// fakeRemote is a provider double that records every request it receives.
type fakeRemote struct {
	srv  *httptest.Server
	hits atomic.Int32

	mu       sync.Mutex
	handler  http.HandlerFunc
	bodies   []map[string]any
	headers  []http.Header
	inflight int
	peak     int
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	r := &fakeRemote{handler: func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}}
	r.srv = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *fakeRemote) serve(w http.ResponseWriter, req *http.Request) {
	r.hits.Add(1)

	var body map[string]any
	_ = json.NewDecoder(req.Body).Decode(&body)

	r.mu.Lock()
	r.bodies = append(r.bodies, body)
	r.headers = append(r.headers, req.Header.Clone())
	r.inflight++
	if r.inflight > r.peak {
		r.peak = r.inflight
	}
	h := r.handler
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inflight--
		r.mu.Unlock()
	}()

	// Handlers read the decoded body through the request context.
	h(w, req.WithContext(context.WithValue(req.Context(), bodyKey{}, body)))
}

type bodyKey struct{}

func requestBody(r *http.Request) map[string]any {
	b, _ := r.Context().Value(bodyKey{}).(map[string]any)
	return b
}

func (r *fakeRemote) setHandler(h http.HandlerFunc) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

func (r *fakeRemote) lastBody() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.bodies) == 0 {
		return nil
	}
	return r.bodies[len(r.bodies)-1]
}

func (r *fakeRemote) lastHeader() http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.headers) == 0 {
		return nil
	}
	return r.headers[len(r.headers)-1]
}

func (r *fakeRemote) peakConcurrency() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type fixture struct {
	nubefact *fakeRemote
	migo     *fakeRemote
	repo     *testutil.MockRegistryRepository
	audit    *testutil.MemoryAuditRepository
	negative *cache.MemoryNegativeCache
	limiter  *ratelimit.Manager
	pool     *workpool.Pool
	factory  *Factory
}

type fixtureOptions struct {
	migoRateLimit int
	batchSize     int
	pooled        bool
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()

	f := &fixture{
		nubefact: newFakeRemote(t),
		migo:     newFakeRemote(t),
		repo:     &testutil.MockRegistryRepository{},
		audit:    testutil.NewMemoryAuditRepository(),
		negative: cache.NewMemoryNegativeCache(nil),
	}

	err := Seed(context.Background(), f.repo, []ServiceSeed{
		{Type: gateway.ServiceNubefact, Name: "NubeFact", BaseURL: f.nubefact.srv.URL, Token: nubefactToken, AuthScheme: "token"},
		{Type: gateway.ServiceMigo, Name: "Migo", BaseURL: f.migo.srv.URL, Token: migoToken, AuthScheme: "bearer", RateLimit: opts.migoRateLimit},
	}, testutil.NewNullLogger())
	require.NoError(t, err)

	fixed := time.Date(2026, 1, 29, 10, 0, 0, 0, time.UTC)
	f.limiter = ratelimit.NewManagerWithClock(func() time.Time { return fixed })

	if opts.pooled {
		f.pool = workpool.New(2, 32, testutil.NewNullLogger())
		f.pool.Start()
		t.Cleanup(f.pool.Stop)
	}

	f.factory = NewFactory(Deps{
		Registry:        NewRegistry(f.repo, cache.NewSnapshotCache(time.Minute), testutil.NewNullLogger()),
		AuditRepository: f.audit,
		NegativeCache:   f.negative,
		Limiter:         f.limiter,
		Pool:            f.pool,
		Logger:          testutil.NewNullLogger(),
		MasivoBatchSize: opts.batchSize,
		Timeouts: func(gateway.ServiceType) gateway.TimeoutConfig {
			return gateway.TimeoutConfig{Connect: time.Second, Read: 2 * time.Second, MaxRetries: 0}
		},
		ExecutorOptions: []infrahttp.ExecutorOption{
			infrahttp.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
			infrahttp.WithJitter(func(d time.Duration) time.Duration { return d }),
		},
	})
	return f
}

func (f *fixture) open(t *testing.T, st gateway.ServiceType, opts ...ClientOption) *Client {
	t.Helper()
	c, err := f.factory.Open(context.Background(), st, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func (f *fixture) openAsync(t *testing.T, st gateway.ServiceType, opts ...ClientOption) *AsyncClient {
	t.Helper()
	c, err := f.factory.OpenAsync(context.Background(), st, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func facturaValida() map[string]any {
	return map[string]any{
		"tipo_de_comprobante":         1,
		"serie":                       "F001",
		"numero":                      91431,
		"sunat_transaction":           1,
		"cliente_tipo_de_documento":   "6",
		"cliente_numero_de_documento": "20600695771",
		"cliente_denominacion":        "COMERCIAL ANDINA S.A.C.",
		"cliente_direccion":           "AV. AREQUIPA 123 - LIMA",
		"fecha_de_emision":            time.Date(2026, 1, 29, 15, 4, 5, 0, time.UTC),
		"moneda":                      1,
		"porcentaje_de_igv":           18,
		"total_gravada":               1440,
		"total_igv":                   259.2,
		"total":                       1699.2,
		"items": []any{
			map[string]any{
				"unidad_de_medida": "NIU",
				"codigo":           "SRV-01",
				"descripcion":      "Servicio de consultoría",
				"cantidad":         1,
				"valor_unitario":   1440,
				"precio_unitario":  1699.2,
				"subtotal":         1440,
				"tipo_de_igv":      1,
				"igv":              259.2,
				"total":            1699.2,
			},
		},
	}
}
