package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	appaudit "3tcapital/ms_facturacion_pe/internal/application/audit"
	coreaudit "3tcapital/ms_facturacion_pe/internal/core/audit"
	"3tcapital/ms_facturacion_pe/internal/core/gateway"
	ctxutil "3tcapital/ms_facturacion_pe/internal/infrastructure/context"
	infrahttp "3tcapital/ms_facturacion_pe/internal/infrastructure/http"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/metrics"
)

// BatchKey is the request_data key carrying the batch tag of a masivo run.
const BatchKey = "_batch"

// pipeline is the validate, rate check, dispatch, decode and audit sequence
// shared by the sync and async clients.
type pipeline struct {
	snap     *gateway.Snapshot
	exec     *infrahttp.Executor
	audit    *appaudit.Logger
	negative gateway.NegativeCache
	metrics  *metrics.Metrics
	log      *slog.Logger

	caller        string // explicit caller, wins over everything else
	defaultCaller string
	batch         string

	masivoBatchSize int
	masivoRPS       float64
}

// validator turns a raw payload into the wire payload.
type validator func() (map[string]any, error)

// call runs one audited gateway call. raw is what the caller handed in; it is
// recorded when validation rejects it.
func (p *pipeline) call(ctx context.Context, site, endpoint string, raw map[string]any, validate validator) (*gateway.Result, error) {
	start := time.Now()
	ctx, correlationID := withCorrelation(ctx)
	caller := p.callerFor(ctx, site)

	payload := raw
	if validate != nil {
		var err error
		payload, err = validate()
		if err != nil {
			res := p.rejected(endpoint, start)
			p.record(ctx, res, raw, err, caller, correlationID)
			return res, err
		}
	}

	res, err := p.exec.Send(ctx, p.snap, endpoint, payload, infrahttp.CallInfo{
		CorrelationID: correlationID,
		Caller:        caller,
	})
	p.record(ctx, res, payload, err, caller, correlationID)
	return res, err
}

// rejected describes a call that never left the process.
func (p *pipeline) rejected(endpoint string, start time.Time) *gateway.Result {
	res := &gateway.Result{Status: coreaudit.StatusValidationError, Duration: time.Since(start)}
	if ep, ok := p.snap.Endpoint(endpoint); ok {
		res.Endpoint = &ep
		res.Method = ep.Method
		res.URL = p.snap.URL(ep)
	}
	return res
}

func (p *pipeline) record(ctx context.Context, res *gateway.Result, request map[string]any, err error, caller, correlationID string) {
	svc := p.snap.Service()

	f := appaudit.Fields{
		ServiceID:     svc.ID,
		ServiceType:   svc.Type,
		BatchRequest:  p.batch,
		Status:        res.Status,
		Method:        res.Method,
		URL:           res.URL,
		Request:       p.auditRequest(request),
		Response:      res.Response,
		ResponseCode:  res.StatusCode,
		ErrorMessage:  errorMessage(res, err),
		Duration:      res.Duration,
		Attempts:      res.Attempts,
		CalledFrom:    caller,
		CorrelationID: correlationID,
		Secrets:       []string{svc.AuthToken},
	}
	if res.Endpoint != nil {
		id := res.Endpoint.ID
		f.EndpointID = &id
		f.EndpointName = res.Endpoint.Name
	}
	p.audit.Record(ctx, f)

	endpointLabel := f.EndpointName
	if endpointLabel == "" {
		endpointLabel = "unknown"
	}
	p.metrics.ObserveCall(string(svc.Type), endpointLabel, string(res.Status), res.Duration)
}

func (p *pipeline) auditRequest(request map[string]any) map[string]any {
	if p.batch == "" {
		return request
	}
	out := make(map[string]any, len(request)+1)
	for k, v := range request {
		out[k] = v
	}
	out[BatchKey] = p.batch
	return out
}

func (p *pipeline) callerFor(ctx context.Context, site string) string {
	if p.caller != "" {
		return p.caller
	}
	if c := ctxutil.GetCaller(ctx); c != "" {
		return c
	}
	if site != "" {
		return site
	}
	return p.defaultCaller
}

// lookup runs an identity lookup with the negative cache in front of it.
func (p *pipeline) lookup(ctx context.Context, site string, kind identityKind, document string) (gateway.Response, error) {
	document = strings.TrimSpace(document)

	if p.negative != nil {
		if entry, ok := p.negative.Get(ctx, p.snap.Type(), kind.negative, document); ok {
			p.metrics.IncNegativeCacheHit(string(kind.negative))
			p.log.Debug("negative_cache_hit",
				"service_type", p.snap.Type(),
				"kind", kind.negative,
				"reason", entry.Reason,
			)
			resp := kind.invalid(nil, document, entry.Reason)
			resp["cached"] = true
			return resp, nil
		}
	}

	raw := map[string]any{kind.field: document}
	res, err := p.call(ctx, site, kind.endpoint, raw, func() (map[string]any, error) {
		if err := kind.validate(document); err != nil {
			return nil, err
		}
		return raw, nil
	})
	if res.Status == coreaudit.StatusValidationError {
		return nil, err
	}

	if notFound(res) {
		if p.negative != nil {
			p.negative.Set(ctx, p.snap.Type(), kind.negative, document, kind.reason, 0)
		}
		return kind.invalid(res.Response, document, kind.reason), nil
	}
	return res.Response, err
}

func notFound(res *gateway.Result) bool {
	if res.StatusCode == 404 {
		return true
	}
	return res.Status != coreaudit.StatusSuccess && res.StatusCode > 0 && res.Response.IndicatesNotFound()
}

func errorMessage(res *gateway.Result, err error) string {
	if msg := res.ErrorMessage(); msg != "" {
		return msg
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

func withCorrelation(ctx context.Context) (context.Context, string) {
	if id := ctxutil.GetCorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return ctxutil.WithCorrelationID(ctx, id), id
}

// responseOf returns the decoded body of a result, keeping the error.
func responseOf(res *gateway.Result, err error) (gateway.Response, error) {
	if res == nil || (err != nil && errors.Is(err, gateway.ErrValidation)) {
		return nil, err
	}
	return res.Response, err
}
