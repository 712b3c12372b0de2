package gateway

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrServiceNotConfigured = errors.New("servicio no configurado")
	ErrEndpointUnknown      = errors.New("endpoint desconocido")
	ErrValidation           = errors.New("error de validación")
	ErrRateLimited          = errors.New("límite de solicitudes excedido")
	ErrTransport            = errors.New("error de transporte")
	ErrHTTPClient           = errors.New("el servicio remoto rechazó la solicitud")
	ErrHTTPServer           = errors.New("error en el servicio remoto")
	ErrCircuitOpen          = errors.New("circuit breaker abierto")
	ErrClientClosed         = errors.New("cliente cerrado")
)

// ServiceNotConfiguredError reports that no active service row exists for a type.
type ServiceNotConfiguredError struct {
	Type ServiceType
}

func (e *ServiceNotConfiguredError) Error() string {
	return fmt.Sprintf("servicio %s no configurado o inactivo", e.Type)
}

func (e *ServiceNotConfiguredError) Is(target error) bool {
	return target == ErrServiceNotConfigured
}

// EndpointUnknownError reports an endpoint name missing from the snapshot.
type EndpointUnknownError struct {
	Service ServiceType
	Name    string
}

func (e *EndpointUnknownError) Error() string {
	return fmt.Sprintf("endpoint %q no configurado para el servicio %s", e.Name, e.Service)
}

func (e *EndpointUnknownError) Is(target error) bool {
	return target == ErrEndpointUnknown
}

// ValidationError names the offending field and carries a human readable message.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RateLimitedError is returned after two consecutive denials within one call.
type RateLimitedError struct {
	Service  ServiceType
	Endpoint string
	Wait     time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("límite de solicitudes excedido para %s/%s, reintente en %.1fs", e.Service, e.Endpoint, e.Wait.Seconds())
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// TransportError wraps the last connect/read failure after retries are exhausted.
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("error de transporte tras %d intentos: %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// HTTPError is a non-2xx answer from the remote service. Body holds the decoded response.
type HTTPError struct {
	StatusCode int
	Body       Response
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

func (e *HTTPError) Is(target error) bool {
	if e.StatusCode >= 500 {
		return target == ErrHTTPServer
	}
	return target == ErrHTTPClient
}
