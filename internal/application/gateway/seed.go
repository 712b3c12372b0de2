package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"3tcapital/ms_facturacion_pe/internal/core/gateway"
)

// ServiceSeed describes a registry row written at boot.
type ServiceSeed struct {
	Type       gateway.ServiceType
	Name       string
	BaseURL    string
	Token      string
	AuthScheme string
	RateLimit  int // per endpoint and minute, 0 for unlimited
}

// DefaultEndpoints returns the routes every service type is seeded with.
func DefaultEndpoints(t gateway.ServiceType) []gateway.Endpoint {
	switch t {
	case gateway.ServiceNubefact:
		return []gateway.Endpoint{
			{Name: EndpointGenerarComprobante, Path: "/", Method: http.MethodPost, IsActive: true},
			{Name: EndpointConsultarComprobante, Path: "/", Method: http.MethodPost, IsActive: true},
			{Name: EndpointAnularComprobante, Path: "/", Method: http.MethodPost, IsActive: true},
		}
	case gateway.ServiceMigo:
		return []gateway.Endpoint{
			{Name: EndpointConsultarRUC, Path: "/api/v1/ruc", Method: http.MethodPost, IsActive: true},
			{Name: EndpointConsultarDNI, Path: "/api/v1/dni", Method: http.MethodPost, IsActive: true},
		}
	}
	return nil
}

// Seed upserts each service and its default endpoints. Seeds without a base
// URL are skipped.
func Seed(ctx context.Context, repo gateway.Repository, seeds []ServiceSeed, log *slog.Logger) error {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	for _, s := range seeds {
		if s.BaseURL == "" {
			continue
		}
		id, err := repo.SaveService(ctx, gateway.Service{
			Type:       s.Type,
			Name:       s.Name,
			BaseURL:    s.BaseURL,
			AuthToken:  s.Token,
			AuthScheme: gateway.ParseAuthScheme(s.AuthScheme),
			IsActive:   true,
		})
		if err != nil {
			return fmt.Errorf("seed service %s: %w", s.Type, err)
		}

		endpoints := DefaultEndpoints(s.Type)
		for _, ep := range endpoints {
			ep.ServiceID = id
			if s.RateLimit > 0 {
				limit := s.RateLimit
				ep.RateLimitPerMinute = &limit
			}
			if _, err := repo.SaveEndpoint(ctx, ep); err != nil {
				return fmt.Errorf("seed endpoint %s/%s: %w", s.Type, ep.Name, err)
			}
		}

		log.Info("registry seeded",
			"service_type", s.Type,
			"service_id", id,
			"endpoints", len(endpoints),
		)
	}
	return nil
}
