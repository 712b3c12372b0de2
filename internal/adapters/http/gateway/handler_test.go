package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	appaudit "3tcapital/ms_facturacion_pe/internal/application/audit"
	appgateway "3tcapital/ms_facturacion_pe/internal/application/gateway"
	coreaudit "3tcapital/ms_facturacion_pe/internal/core/audit"
	"3tcapital/ms_facturacion_pe/internal/core/gateway"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/cache"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/http/middleware"
	"3tcapital/ms_facturacion_pe/internal/testutil"
)

type testEnv struct {
	router   http.Handler
	audit    *testutil.MemoryAuditRepository
	negative *cache.MemoryNegativeCache
	migoHits *atomic.Int32
}

func newTestEnv(t *testing.T, nubefact, migo http.HandlerFunc) *testEnv {
	t.Helper()

	var migoHits atomic.Int32
	nubefactSrv := httptest.NewServer(nubefact)
	t.Cleanup(nubefactSrv.Close)
	migoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		migoHits.Add(1)
		migo(w, r)
	}))
	t.Cleanup(migoSrv.Close)

	repo := &testutil.MockRegistryRepository{}
	err := appgateway.Seed(context.Background(), repo, []appgateway.ServiceSeed{
		{Type: gateway.ServiceNubefact, Name: "NubeFact", BaseURL: nubefactSrv.URL, Token: "nf-token", AuthScheme: "token"},
		{Type: gateway.ServiceMigo, Name: "Migo", BaseURL: migoSrv.URL, Token: "migo-token"},
	}, testutil.NewNullLogger())
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	auditRepo := testutil.NewMemoryAuditRepository()
	negative := cache.NewMemoryNegativeCache(nil)
	factory := appgateway.NewFactory(appgateway.Deps{
		Registry:        appgateway.NewRegistry(repo, cache.NewSnapshotCache(time.Minute), testutil.NewNullLogger()),
		AuditRepository: auditRepo,
		NegativeCache:   negative,
		Logger:          testutil.NewNullLogger(),
		Timeouts: func(gateway.ServiceType) gateway.TimeoutConfig {
			return gateway.TimeoutConfig{Connect: time.Second, Read: 2 * time.Second}
		},
	})

	h := NewHandler(factory, appaudit.NewQuery(auditRepo), time.Minute, testutil.NewNullLogger())
	r := chi.NewRouter()
	r.Use(middleware.Correlation, middleware.Caller)
	r.Route("/v1", h.Mount)

	return &testEnv{router: r, audit: auditRepo, negative: negative, migoHits: &migoHits}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func respond(status int, body any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func migoEcho(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	out := map[string]any{"success": true}
	for k, v := range body {
		out[k] = v
	}
	respond(http.StatusOK, out)(w, r)
}

func facturaJSON() map[string]any {
	return map[string]any{
		"tipo_de_comprobante":         1,
		"serie":                       "f001",
		"numero":                      91431,
		"sunat_transaction":           1,
		"cliente_tipo_de_documento":   "6",
		"cliente_numero_de_documento": "20600695771",
		"cliente_denominacion":        "COMERCIAL ANDINA S.A.C.",
		"fecha_de_emision":            "2026-01-29",
		"moneda":                      1,
		"porcentaje_de_igv":           18,
		"total_gravada":               1440,
		"total_igv":                   259.2,
		"total":                       1699.2,
		"items": []any{
			map[string]any{
				"unidad_de_medida": "NIU",
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

func TestHandler_ConsultarRUC(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		headers        map[string]string
		expectedStatus int
		expectedCaller string
		expectedHits   int32
	}{
		{
			name:           "success attributed to the route",
			path:           "/v1/ruc/20600695771",
			expectedStatus: http.StatusOK,
			expectedCaller: "http:consultar_ruc",
			expectedHits:   1,
		},
		{
			name:           "explicit caller header wins",
			path:           "/v1/ruc/20600695771",
			headers:        map[string]string{middleware.CallerHeader: "ms-ventas"},
			expectedStatus: http.StatusOK,
			expectedCaller: "ms-ventas",
			expectedHits:   1,
		},
		{
			name:           "invalid ruc is rejected before the remote",
			path:           "/v1/ruc/123",
			expectedStatus: http.StatusUnprocessableEntity,
			expectedCaller: "http:consultar_ruc",
			expectedHits:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, respond(http.StatusOK, nil), migoEcho)

			w := env.do(testutil.CreateRequest(http.MethodGet, tt.path, nil, tt.headers))
			if w.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if got := env.migoHits.Load(); got != tt.expectedHits {
				t.Errorf("expected %d remote hits, got %d", tt.expectedHits, got)
			}

			logs := env.audit.Logs()
			if len(logs) != 1 {
				t.Fatalf("expected 1 audit entry, got %d", len(logs))
			}
			if logs[0].CalledFrom != tt.expectedCaller {
				t.Errorf("expected caller %q, got %q", tt.expectedCaller, logs[0].CalledFrom)
			}

			if w.Code == http.StatusOK {
				var body map[string]any
				testutil.ReadJSONResponse(t, w, &body)
				if body["ruc"] != "20600695771" {
					t.Errorf("expected ruc echoed by the remote, got %v", body["ruc"])
				}
			} else {
				body := testutil.ReadErrorResponse(t, w)
				if body["field"] != "ruc" {
					t.Errorf("expected field ruc, got %v", body["field"])
				}
			}
		})
	}
}

func TestHandler_ConsultarDNI_NotFound(t *testing.T) {
	env := newTestEnv(t, respond(http.StatusOK, nil), respond(http.StatusNotFound, map[string]any{"message": "no encontrado"}))

	w := env.do(testutil.CreateRequest(http.MethodGet, "/v1/dni/12345678", nil, nil))

	var body map[string]any
	testutil.ReadJSONResponse(t, w, &body)
	if body["success"] != false || body["invalid_dni"] != true {
		t.Errorf("expected a synthetic invalid answer, got %v", body)
	}
	if _, ok := env.negative.Get(context.Background(), gateway.ServiceMigo, gateway.KindDNIInvalid, "12345678"); !ok {
		t.Error("expected the DNI to be remembered as invalid")
	}
}

func TestHandler_GenerarComprobante(t *testing.T) {
	var received atomic.Value
	nubefact := func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		received.Store(body)
		respond(http.StatusOK, map[string]any{"aceptada_por_sunat": true, "serie": body["serie"]})(w, r)
	}
	env := newTestEnv(t, nubefact, migoEcho)

	w := env.do(testutil.CreateRequest(http.MethodPost, "/v1/comprobantes", facturaJSON(), map[string]string{
		middleware.CorrelationHeader: "corr-fac-1",
	}))

	var body map[string]any
	testutil.ReadJSONResponse(t, w, &body)
	if body["aceptada_por_sunat"] != true {
		t.Errorf("expected remote body, got %v", body)
	}
	if got := w.Header().Get(middleware.CorrelationHeader); got != "corr-fac-1" {
		t.Errorf("expected correlation header echoed, got %q", got)
	}

	sent, _ := received.Load().(map[string]any)
	if sent == nil {
		t.Fatal("remote never received the document")
	}
	checks := map[string]any{
		"serie":            "F001",
		"numero":           "91431",
		"fecha_de_emision": "29-01-2026",
		"total":            "1699.20",
		"operacion":        "generar_comprobante",
	}
	for field, want := range checks {
		if sent[field] != want {
			t.Errorf("expected %s=%v on the wire, got %v", field, want, sent[field])
		}
	}

	logs := env.audit.Logs()
	if len(logs) != 1 || logs[0].CorrelationID != "corr-fac-1" {
		t.Fatalf("expected one audit entry under corr-fac-1, got %+v", logs)
	}
}

func TestHandler_RequestErrors(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		expectedStatus int
	}{
		{"malformed json", http.MethodPost, "/v1/comprobantes", "{", http.StatusBadRequest},
		{"invalid numero", http.MethodPost, "/v1/comprobantes/consulta", `{"tipo":"1","serie":"F001","numero":"abc"}`, http.StatusUnprocessableEntity},
		{"short motivo", http.MethodPost, "/v1/comprobantes/anulacion", `{"tipo":"1","serie":"F001","numero":"12","motivo":"x"}`, http.StatusUnprocessableEntity},
		{"empty masivo", http.MethodPost, "/v1/ruc/masivo", `{"rucs":[]}`, http.StatusBadRequest},
		{"negative batch size", http.MethodPost, "/v1/ruc/masivo", `{"rucs":["20600695771"],"batch_size":-1}`, http.StatusBadRequest},
		{"bad audit limit", http.MethodGet, "/v1/audit?limit=abc", "", http.StatusBadRequest},
		{"unknown cache kind", http.MethodDelete, "/v1/negative-cache/foo/20600695771", "", http.StatusUnprocessableEntity},
		{"unknown service refresh", http.MethodPost, "/v1/registry/sunat/refresh", "", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, respond(http.StatusOK, nil), migoEcho)

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			w := env.do(req)
			if w.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			body := testutil.ReadErrorResponse(t, w)
			if body["message"] == "" {
				t.Error("expected an error message")
			}
		})
	}
}

func TestHandler_RemoteFailure(t *testing.T) {
	env := newTestEnv(t, respond(http.StatusInternalServerError, map[string]any{"errors": "caído"}), migoEcho)

	w := env.do(testutil.CreateRequest(http.MethodPost, "/v1/comprobantes/consulta",
		map[string]string{"tipo": "1", "serie": "F001", "numero": "12"}, nil))
	var body map[string]any
	testutil.ReadJSONStatus(t, w, http.StatusBadGateway, &body)
	if body["message"] != "Error del Servicio Remoto" {
		t.Errorf("unexpected message %v", body["message"])
	}

	logs := env.audit.Logs()
	if len(logs) != 1 || logs[0].Status != coreaudit.StatusFailed {
		t.Fatalf("expected one FAILED audit entry, got %+v", logs)
	}
}

func TestHandler_ConsultarRUCMasivo(t *testing.T) {
	env := newTestEnv(t, respond(http.StatusOK, nil), migoEcho)

	rucs := []string{"20600695771", "123", "20100070970"}
	w := env.do(testutil.CreateRequest(http.MethodPost, "/v1/ruc/masivo", MasivoRequest{RUCs: rucs, BatchSize: 2}, nil))

	var resp MasivoResponse
	testutil.ReadJSONResponse(t, w, &resp)
	if resp.Total != 3 || resp.Fallidos != 1 {
		t.Errorf("expected 3 results with 1 failure, got total=%d fallidos=%d", resp.Total, resp.Fallidos)
	}
	if resp.Batch == "" {
		t.Fatal("expected a batch reference")
	}
	for i, r := range resp.Resultados {
		if r.RUC != rucs[i] {
			t.Errorf("result %d: expected %s, got %s", i, rucs[i], r.RUC)
		}
	}
	if resp.Resultados[1].Error == "" {
		t.Error("expected the invalid RUC to carry an error")
	}

	for _, l := range env.audit.Logs() {
		if l.BatchRequest != resp.Batch {
			t.Errorf("expected every entry tagged %s, got %q", resp.Batch, l.BatchRequest)
		}
	}
}

func TestHandler_MasivoTooManyRUCs(t *testing.T) {
	env := newTestEnv(t, respond(http.StatusOK, nil), migoEcho)

	rucs := make([]string, MaxMasivoRUCs+1)
	for i := range rucs {
		rucs[i] = "20600695771"
	}
	w := env.do(testutil.CreateRequest(http.MethodPost, "/v1/ruc/masivo", MasivoRequest{RUCs: rucs}, nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if env.migoHits.Load() != 0 {
		t.Error("expected no remote calls")
	}
}

func TestHandler_ListAudit(t *testing.T) {
	env := newTestEnv(t, respond(http.StatusOK, nil), migoEcho)

	env.do(testutil.CreateRequest(http.MethodGet, "/v1/ruc/20600695771", nil, map[string]string{middleware.CorrelationHeader: "corr-a"}))
	env.do(testutil.CreateRequest(http.MethodGet, "/v1/dni/12345678", nil, map[string]string{middleware.CorrelationHeader: "corr-b"}))

	tests := []struct {
		name          string
		path          string
		expectedTotal int
	}{
		{"trail by correlation id", "/v1/audit?correlation_id=corr-a", 1},
		{"recent entries", "/v1/audit", 2},
		{"recent with limit", "/v1/audit?limit=1", 1},
		{"filtered by status", "/v1/audit?status=failed", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(testutil.CreateRequest(http.MethodGet, tt.path, nil, nil))

			var body struct {
				Total     int               `json:"total"`
				Registros []CallLogResponse `json:"registros"`
			}
			testutil.ReadJSONResponse(t, w, &body)
			if body.Total != tt.expectedTotal || len(body.Registros) != tt.expectedTotal {
				t.Errorf("expected %d entries, got total=%d len=%d", tt.expectedTotal, body.Total, len(body.Registros))
			}
		})
	}
}

func TestHandler_InvalidateNegative(t *testing.T) {
	env := newTestEnv(t, respond(http.StatusOK, nil), respond(http.StatusNotFound, nil))

	env.do(testutil.CreateRequest(http.MethodGet, "/v1/ruc/20600695771", nil, nil))
	env.do(testutil.CreateRequest(http.MethodGet, "/v1/ruc/20600695771", nil, nil))
	if got := env.migoHits.Load(); got != 1 {
		t.Fatalf("expected the second lookup to be served from the negative cache, got %d hits", got)
	}

	w := env.do(testutil.CreateRequest(http.MethodDelete, "/v1/negative-cache/RUC_INVALID/20600695771", nil, nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", w.Code)
	}

	env.do(testutil.CreateRequest(http.MethodGet, "/v1/ruc/20600695771", nil, nil))
	if got := env.migoHits.Load(); got != 2 {
		t.Errorf("expected a fresh remote lookup after invalidation, got %d hits", got)
	}
}

func TestHandler_RefreshRegistry(t *testing.T) {
	env := newTestEnv(t, respond(http.StatusOK, nil), migoEcho)

	w := env.do(testutil.CreateRequest(http.MethodPost, "/v1/registry/migo/refresh", nil, nil))

	var body map[string]any
	testutil.ReadJSONResponse(t, w, &body)
	if body["service_type"] != "MIGO" {
		t.Errorf("expected MIGO, got %v", body["service_type"])
	}
	endpoints, _ := body["endpoints"].([]any)
	if len(endpoints) != 2 {
		t.Errorf("expected 2 endpoints, got %v", body["endpoints"])
	}
}
