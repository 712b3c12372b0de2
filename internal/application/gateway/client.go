package gateway

import (
	"context"
	"sync/atomic"

	"3tcapital/ms_facturacion_pe/internal/core/comprobante"
	"3tcapital/ms_facturacion_pe/internal/core/gateway"
)

// Endpoint names the operations are bound to.
const (
	EndpointGenerarComprobante   = "generar_comprobante"
	EndpointConsultarComprobante = "consultar_comprobante"
	EndpointAnularComprobante    = "anular_comprobante"
	EndpointConsultarRUC         = "consultar_ruc"
	EndpointConsultarDNI         = "consultar_dni"
)

type identityKind struct {
	endpoint string
	field    string
	flag     string
	negative gateway.NegativeKind
	reason   string
	validate func(string) error
}

var (
	rucLookup = identityKind{
		endpoint: EndpointConsultarRUC,
		field:    "ruc",
		flag:     "invalid_ruc",
		negative: gateway.KindRUCInvalid,
		reason:   gateway.ReasonRUCNotFound,
		validate: comprobante.ValidateRUC,
	}
	dniLookup = identityKind{
		endpoint: EndpointConsultarDNI,
		field:    "dni",
		flag:     "invalid_dni",
		negative: gateway.KindDNIInvalid,
		reason:   gateway.ReasonDNINotFound,
		validate: comprobante.ValidateDNI,
	}
)

// invalid builds the synthetic answer for a document the remote does not know.
// The remote body, if any, is kept.
func (k identityKind) invalid(remote gateway.Response, document, reason string) gateway.Response {
	out := make(gateway.Response, len(remote)+4)
	for key, v := range remote {
		out[key] = v
	}
	out["success"] = false
	out[k.flag] = true
	out["invalid_reason"] = reason
	out[k.field] = document
	return out
}

// ClientOption customizes one client instance.
type ClientOption func(*pipeline)

// WithCaller sets the called_from label recorded for every call of the client.
func WithCaller(caller string) ClientOption {
	return func(p *pipeline) { p.caller = caller }
}

// WithBatchRequest tags every call of the client with a batch request reference.
func WithBatchRequest(batch string) ClientOption {
	return func(p *pipeline) { p.batch = batch }
}

// Client is the blocking gateway façade bound to one service snapshot.
// It owns its HTTP client; Close releases it.
type Client struct {
	p      *pipeline
	closed atomic.Bool
}

// Snapshot returns the registry snapshot the client was opened with.
func (c *Client) Snapshot() *gateway.Snapshot {
	return c.p.snap
}

// Close releases idle sockets. Later calls fail with gateway.ErrClientClosed.
func (c *Client) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.p.exec.Close()
	}
}

func (c *Client) guard() error {
	if c.closed.Load() {
		return gateway.ErrClientClosed
	}
	return nil
}

// GenerarComprobante validates and emits a document.
func (c *Client) GenerarComprobante(ctx context.Context, payload map[string]any) (gateway.Response, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	return c.p.generar(ctx, callSite(1), payload)
}

// ConsultarComprobante queries the state of an issued document.
func (c *Client) ConsultarComprobante(ctx context.Context, q comprobante.Consulta) (gateway.Response, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	return c.p.consultar(ctx, callSite(1), q)
}

// AnularComprobante requests the voiding of an issued document.
func (c *Client) AnularComprobante(ctx context.Context, a comprobante.Anulacion) (gateway.Response, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	return c.p.anular(ctx, callSite(1), a)
}

// ConsultarRUC looks up a taxpayer. Unknown RUCs yield a synthetic invalid
// response with a nil error and are remembered in the negative cache.
func (c *Client) ConsultarRUC(ctx context.Context, ruc string) (gateway.Response, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	return c.p.lookup(ctx, callSite(1), rucLookup, ruc)
}

// ConsultarDNI looks up a national ID.
func (c *Client) ConsultarDNI(ctx context.Context, dni string) (gateway.Response, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	return c.p.lookup(ctx, callSite(1), dniLookup, dni)
}

// ConsultarRUCMasivo looks up many RUCs with at most batchSize in flight.
// Results are index-aligned with rucs; one failure does not stop the rest.
func (c *Client) ConsultarRUCMasivo(ctx context.Context, rucs []string, batchSize int) ([]MasivoResult, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	return c.p.masivo(ctx, callSite(1), rucs, batchSize), nil
}

func (p *pipeline) generar(ctx context.Context, site string, payload map[string]any) (gateway.Response, error) {
	return responseOf(p.call(ctx, site, EndpointGenerarComprobante, payload, func() (map[string]any, error) {
		return comprobante.ValidateGenerar(payload)
	}))
}

func (p *pipeline) consultar(ctx context.Context, site string, q comprobante.Consulta) (gateway.Response, error) {
	raw := map[string]any{"tipo": q.Tipo, "serie": q.Serie, "numero": q.Numero}
	return responseOf(p.call(ctx, site, EndpointConsultarComprobante, raw, func() (map[string]any, error) {
		return comprobante.ValidateConsulta(q)
	}))
}

func (p *pipeline) anular(ctx context.Context, site string, a comprobante.Anulacion) (gateway.Response, error) {
	raw := map[string]any{"tipo": a.Tipo, "serie": a.Serie, "numero": a.Numero, "motivo": a.Motivo}
	return responseOf(p.call(ctx, site, EndpointAnularComprobante, raw, func() (map[string]any, error) {
		return comprobante.ValidateAnulacion(a)
	}))
}
