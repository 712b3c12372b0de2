package gateway

import (
	"strings"
	"time"
)

// ServiceType identifies a remote provider reached through the gateway.
type ServiceType string

const (
	ServiceNubefact ServiceType = "NUBEFACT"
	ServiceMigo     ServiceType = "MIGO"
)

// AuthScheme selects how the service token is presented in the Authorization header.
type AuthScheme string

const (
	AuthBearer AuthScheme = "bearer"
	AuthToken  AuthScheme = "token"
	AuthNone   AuthScheme = "none"
)

// ParseAuthScheme maps a stored scheme to a known value. Unknown values resolve to bearer.
func ParseAuthScheme(raw string) AuthScheme {
	switch AuthScheme(strings.ToLower(strings.TrimSpace(raw))) {
	case AuthToken:
		return AuthToken
	case AuthNone:
		return AuthNone
	default:
		return AuthBearer
	}
}

// Service is the persisted configuration of a remote provider.
type Service struct {
	ID         int64
	Type       ServiceType
	Name       string
	BaseURL    string
	AuthToken  string
	AuthScheme AuthScheme
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Endpoint is a named route within a service.
type Endpoint struct {
	ID                 int64
	ServiceID          int64
	Name               string
	Path               string
	Method             string
	RateLimitPerMinute *int
	IsActive           bool
}

// Limit returns the per-minute cap, or nil when the endpoint is unlimited.
func (e Endpoint) Limit() *int {
	if e.RateLimitPerMinute == nil || *e.RateLimitPerMinute <= 0 {
		return nil
	}
	return e.RateLimitPerMinute
}

// SanitizeToken strips whitespace and CR/LF from a stored token. A leading
// "Bearer" word is kept, separated by a single space.
func SanitizeToken(token string) string {
	fields := strings.Fields(token)
	if len(fields) >= 2 && strings.EqualFold(fields[0], "bearer") {
		return "Bearer " + strings.Join(fields[1:], "")
	}
	return strings.Join(fields, "")
}
