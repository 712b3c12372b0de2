package gateway

import (
	"strings"
	"time"

	"3tcapital/ms_facturacion_pe/internal/core/audit"
)

// Response is a decoded JSON body from a remote service.
type Response map[string]any

// Success reports whether the body does not explicitly carry success=false.
func (r Response) Success() bool {
	if v, ok := r["success"]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return true
}

// String returns the string value of a key, or "" if absent or not a string.
func (r Response) String(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// Bool returns the boolean value of a key.
func (r Response) Bool(key string) bool {
	v, _ := r[key].(bool)
	return v
}

// Clone makes a shallow copy.
func (r Response) Clone() Response {
	out := make(Response, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// IndicatesNotFound reports whether an identity lookup answer says the document
// does not exist or the taxpayer is "no habido".
func (r Response) IndicatesNotFound() bool {
	for _, key := range []string{"message", "mensaje", "error", "estado_del_contribuyente", "condicion_de_domicilio"} {
		text := strings.ToLower(r.String(key))
		if strings.Contains(text, "no existe") || strings.Contains(text, "no habido") {
			return true
		}
	}
	return false
}

// Result is the outcome of one executor call. It is returned even when the call
// fails so the caller can audit what was attempted.
type Result struct {
	Response   Response
	StatusCode int
	Status     audit.Status
	Attempts   int
	Duration   time.Duration

	Endpoint *Endpoint // nil when the endpoint name was unknown
	Method   string
	URL      string
	Trail    []string // one line per failed attempt, "attempt N: ..."
}

// ErrorMessage joins the attempt trail.
func (r *Result) ErrorMessage() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.Trail, "; ")
}
