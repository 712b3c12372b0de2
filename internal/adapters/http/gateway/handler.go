package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	appaudit "3tcapital/ms_facturacion_pe/internal/application/audit"
	appgateway "3tcapital/ms_facturacion_pe/internal/application/gateway"
	coreaudit "3tcapital/ms_facturacion_pe/internal/core/audit"
	"3tcapital/ms_facturacion_pe/internal/core/comprobante"
	"3tcapital/ms_facturacion_pe/internal/core/gateway"
	ctxutil "3tcapital/ms_facturacion_pe/internal/infrastructure/context"
	httperrors "3tcapital/ms_facturacion_pe/internal/infrastructure/http"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/http/middleware"
)

// MaxMasivoRUCs bounds one bulk lookup request.
const MaxMasivoRUCs = 1000

const validationTitle = "Error de Validación"

// Handler exposes the gateway façade over HTTP.
type Handler struct {
	factory       *appgateway.Factory
	audit         *appaudit.Query
	log           *slog.Logger
	masivoTimeout time.Duration
}

// NewHandler creates a gateway HTTP handler. masivoTimeout bounds bulk lookups;
// zero leaves them under the server's regular timeouts.
func NewHandler(factory *appgateway.Factory, audit *appaudit.Query, masivoTimeout time.Duration, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		factory:       factory,
		audit:         audit,
		log:           log,
		masivoTimeout: masivoTimeout,
	}
}

// Mount registers the gateway routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/comprobantes", h.GenerarComprobante)
	r.Post("/comprobantes/consulta", h.ConsultarComprobante)
	r.Post("/comprobantes/anulacion", h.AnularComprobante)
	r.Get("/ruc/{ruc}", h.ConsultarRUC)
	r.Get("/dni/{dni}", h.ConsultarDNI)
	r.With(middleware.ExtendedTimeout(h.masivoTimeout)).Post("/ruc/masivo", h.ConsultarRUCMasivo)
	r.Get("/audit", h.ListAudit)
	r.Delete("/negative-cache/{kind}/{document}", h.InvalidateNegative)
	r.Post("/registry/{service}/refresh", h.RefreshRegistry)
}

// GenerarComprobante handles POST /comprobantes.
func (h *Handler) GenerarComprobante(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if !h.decode(w, r, &payload) {
		return
	}
	h.call(w, r, "generar_comprobante", gateway.ServiceNubefact, func(c *appgateway.Client, r *http.Request) (any, error) {
		return c.GenerarComprobante(r.Context(), payload)
	})
}

// ConsultarComprobante handles POST /comprobantes/consulta.
func (h *Handler) ConsultarComprobante(w http.ResponseWriter, r *http.Request) {
	var q comprobante.Consulta
	if !h.decode(w, r, &q) {
		return
	}
	h.call(w, r, "consultar_comprobante", gateway.ServiceNubefact, func(c *appgateway.Client, r *http.Request) (any, error) {
		return c.ConsultarComprobante(r.Context(), q)
	})
}

// AnularComprobante handles POST /comprobantes/anulacion.
func (h *Handler) AnularComprobante(w http.ResponseWriter, r *http.Request) {
	var a comprobante.Anulacion
	if !h.decode(w, r, &a) {
		return
	}
	h.call(w, r, "anular_comprobante", gateway.ServiceNubefact, func(c *appgateway.Client, r *http.Request) (any, error) {
		return c.AnularComprobante(r.Context(), a)
	})
}

// ConsultarRUC handles GET /ruc/{ruc}.
func (h *Handler) ConsultarRUC(w http.ResponseWriter, r *http.Request) {
	ruc := chi.URLParam(r, "ruc")
	h.call(w, r, "consultar_ruc", gateway.ServiceMigo, func(c *appgateway.Client, r *http.Request) (any, error) {
		return c.ConsultarRUC(r.Context(), ruc)
	})
}

// ConsultarDNI handles GET /dni/{dni}.
func (h *Handler) ConsultarDNI(w http.ResponseWriter, r *http.Request) {
	dni := chi.URLParam(r, "dni")
	h.call(w, r, "consultar_dni", gateway.ServiceMigo, func(c *appgateway.Client, r *http.Request) (any, error) {
		return c.ConsultarDNI(r.Context(), dni)
	})
}

// MasivoRequest is the body of a bulk RUC lookup.
type MasivoRequest struct {
	RUCs      []string `json:"rucs"`
	BatchSize int      `json:"batch_size,omitempty"`
}

// MasivoResponse summarizes a bulk RUC lookup.
type MasivoResponse struct {
	Batch      string                    `json:"batch"`
	Total      int                       `json:"total"`
	Fallidos   int                       `json:"fallidos"`
	Resultados []appgateway.MasivoResult `json:"resultados"`
}

// ConsultarRUCMasivo handles POST /ruc/masivo.
func (h *Handler) ConsultarRUCMasivo(w http.ResponseWriter, r *http.Request) {
	var req MasivoRequest
	if !h.decode(w, r, &req) {
		return
	}
	switch {
	case len(req.RUCs) == 0:
		httperrors.WriteError(w, http.StatusBadRequest, validationTitle, []string{"rucs es requerido"}, h.log)
		return
	case len(req.RUCs) > MaxMasivoRUCs:
		httperrors.WriteError(w, http.StatusBadRequest, validationTitle,
			[]string{fmt.Sprintf("rucs admite como máximo %d elementos", MaxMasivoRUCs)}, h.log)
		return
	case req.BatchSize < 0:
		httperrors.WriteError(w, http.StatusBadRequest, validationTitle, []string{"batch_size no puede ser negativo"}, h.log)
		return
	}

	batch := uuid.NewString()
	h.call(w, r, "consultar_ruc_masivo", gateway.ServiceMigo, func(c *appgateway.Client, r *http.Request) (any, error) {
		results, err := c.ConsultarRUCMasivo(r.Context(), req.RUCs, req.BatchSize)
		if err != nil {
			return nil, err
		}
		resp := MasivoResponse{Batch: batch, Total: len(results), Resultados: results}
		for _, res := range results {
			if res.Err != nil {
				resp.Fallidos++
			}
		}
		return resp, nil
	}, appgateway.WithBatchRequest(batch))
}

// CallLogResponse is the wire form of one audit entry.
type CallLogResponse struct {
	ID            int64           `json:"id"`
	ServiceType   string          `json:"service_type"`
	EndpointName  string          `json:"endpoint_name"`
	BatchRequest  string          `json:"batch_request,omitempty"`
	Status        string          `json:"status"`
	RequestMethod string          `json:"request_method,omitempty"`
	RequestURL    string          `json:"request_url,omitempty"`
	RequestData   json.RawMessage `json:"request_data,omitempty"`
	ResponseData  json.RawMessage `json:"response_data,omitempty"`
	ResponseCode  *int            `json:"response_code,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	DurationMs    int64           `json:"duration_ms"`
	Attempts      int             `json:"attempts"`
	CalledFrom    string          `json:"called_from"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func toCallLogResponse(l coreaudit.CallLog) CallLogResponse {
	return CallLogResponse{
		ID:            l.ID,
		ServiceType:   l.ServiceType,
		EndpointName:  l.EndpointName,
		BatchRequest:  l.BatchRequest,
		Status:        string(l.Status),
		RequestMethod: l.RequestMethod,
		RequestURL:    l.RequestURL,
		RequestData:   l.RequestData,
		ResponseData:  l.ResponseData,
		ResponseCode:  l.ResponseCode,
		ErrorMessage:  l.ErrorMessage,
		DurationMs:    l.DurationMs,
		Attempts:      l.Attempts,
		CalledFrom:    l.CalledFrom,
		CorrelationID: l.CorrelationID,
		CreatedAt:     l.CreatedAt,
	}
}

// ListAudit handles GET /audit. With correlation_id it returns that trail;
// otherwise the newest entries filtered by service_type, status and limit.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var (
		logs []coreaudit.CallLog
		err  error
	)
	if id := query.Get("correlation_id"); id != "" {
		logs, err = h.audit.Trail(r.Context(), id)
	} else {
		filter := coreaudit.Filter{
			ServiceType: query.Get("service_type"),
			Status:      coreaudit.Status(strings.ToUpper(query.Get("status"))),
		}
		if raw := query.Get("limit"); raw != "" {
			limit, convErr := strconv.Atoi(raw)
			if convErr != nil {
				httperrors.WriteError(w, http.StatusBadRequest, validationTitle, []string{"limit debe ser un entero"}, h.log)
				return
			}
			filter.Limit = limit
		}
		logs, err = h.audit.Recent(r.Context(), filter)
	}
	if errors.Is(err, appaudit.ErrAuditDisabled) {
		httperrors.WriteError(w, http.StatusServiceUnavailable, "Servicio No Disponible", []string{err.Error()}, h.log)
		return
	}
	if err != nil {
		h.log.Error("failed to query call logs", "error", err)
		httperrors.WriteGatewayError(w, err, h.log)
		return
	}

	out := make([]CallLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, toCallLogResponse(l))
	}
	httperrors.WriteJSON(w, http.StatusOK, map[string]any{
		"total":     len(out),
		"registros": out,
	}, h.log)
}

// InvalidateNegative handles DELETE /negative-cache/{kind}/{document}.
func (h *Handler) InvalidateNegative(w http.ResponseWriter, r *http.Request) {
	kind := gateway.NegativeKind(strings.ToLower(chi.URLParam(r, "kind")))
	document := chi.URLParam(r, "document")

	if err := h.factory.InvalidateNegative(r.Context(), gateway.ServiceMigo, kind, document); err != nil {
		httperrors.WriteGatewayError(w, err, h.log)
		return
	}
	h.log.Info("negative cache entry invalidated", "kind", kind, "document", document)
	w.WriteHeader(http.StatusNoContent)
}

// RefreshRegistry handles POST /registry/{service}/refresh.
func (h *Handler) RefreshRegistry(w http.ResponseWriter, r *http.Request) {
	t := gateway.ServiceType(strings.ToUpper(chi.URLParam(r, "service")))

	snap, err := h.factory.Registry().Refresh(r.Context(), t)
	if err != nil {
		httperrors.WriteGatewayError(w, err, h.log)
		return
	}
	svc := snap.Service()
	httperrors.WriteJSON(w, http.StatusOK, map[string]any{
		"service_type": svc.Type,
		"service_id":   svc.ID,
		"endpoints":    snap.EndpointNames(),
		"loaded_at":    snap.LoadedAt(),
	}, h.log)
}

// call opens a client for t, runs fn and writes its result. Requests without
// an explicit caller are attributed to the route.
func (h *Handler) call(w http.ResponseWriter, r *http.Request, route string, t gateway.ServiceType,
	fn func(*appgateway.Client, *http.Request) (any, error), opts ...appgateway.ClientOption) {
	ctx := r.Context()
	if ctxutil.GetCaller(ctx) == "" {
		r = r.WithContext(ctxutil.WithCaller(ctx, "http:"+route))
	}

	var result any
	err := h.factory.With(r.Context(), t, func(c *appgateway.Client) error {
		var err error
		result, err = fn(c, r)
		return err
	}, opts...)
	if err != nil {
		h.log.Warn("gateway call failed",
			"route", route,
			"service_type", t,
			"correlation_id", ctxutil.GetCorrelationID(r.Context()),
			"error", err,
		)
		httperrors.WriteGatewayError(w, err, h.log)
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, result, h.log)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		httperrors.WriteError(w, http.StatusBadRequest, validationTitle,
			[]string{"el cuerpo de la solicitud no es un JSON válido"}, h.log)
		return false
	}
	return true
}
