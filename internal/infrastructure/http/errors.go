package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"3tcapital/ms_facturacion_pe/internal/core/gateway"
)

// ErrorResponse represents a standardized error response format.
type ErrorResponse struct {
	Message string   `json:"message"`
	Errors  []string `json:"errors"`
	Field   string   `json:"field,omitempty"`
}

// WriteError writes a standardized JSON error response to the HTTP response writer.
func WriteError(w http.ResponseWriter, statusCode int, message string, errs []string, log *slog.Logger) {
	writeErrorResponse(w, statusCode, ErrorResponse{Message: message, Errors: errs}, log)
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, statusCode int, v any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil && log != nil {
		log.Error("failed to encode response", "error", err)
	}
}

// WriteGatewayError maps a gateway failure to its HTTP status and body.
func WriteGatewayError(w http.ResponseWriter, err error, log *slog.Logger) {
	status := StatusForError(err)
	resp := ErrorResponse{Message: messageForStatus(status), Errors: []string{err.Error()}}

	var verr *gateway.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	writeErrorResponse(w, status, resp, log)
}

// StatusForError picks the inbound status code for a gateway failure.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, gateway.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, gateway.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, gateway.ErrServiceNotConfigured), errors.Is(err, gateway.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, gateway.ErrTransport):
		return http.StatusGatewayTimeout
	case errors.Is(err, gateway.ErrHTTPClient), errors.Is(err, gateway.ErrHTTPServer):
		return http.StatusBadGateway
	case errors.Is(err, gateway.ErrEndpointUnknown):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func messageForStatus(status int) string {
	switch status {
	case http.StatusUnprocessableEntity:
		return "Error de Validación"
	case http.StatusTooManyRequests:
		return "Límite de Solicitudes Excedido"
	case http.StatusServiceUnavailable:
		return "Servicio No Disponible"
	case http.StatusGatewayTimeout:
		return "Tiempo de Espera Agotado"
	case http.StatusBadGateway:
		return "Error del Servicio Remoto"
	case http.StatusNotImplemented:
		return "Operación No Configurada"
	default:
		return "Error Interno"
	}
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, response ErrorResponse, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		// Status is already written; nothing else to send.
		if log != nil {
			log.Error("failed to encode error response", "error", err)
		}
	}
}
