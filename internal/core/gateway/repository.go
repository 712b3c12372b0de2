package gateway

import "context"

// Repository defines persistence operations for services and endpoints.
type Repository interface {
	// FindActiveService returns the active service for a type.
	// Returns nil if none is active.
	FindActiveService(ctx context.Context, serviceType ServiceType) (*Service, error)

	// FindEndpoints lists every endpoint of a service, active or not.
	FindEndpoints(ctx context.Context, serviceID int64) ([]Endpoint, error)

	// SaveService inserts or updates a service identified by type and name.
	SaveService(ctx context.Context, svc Service) (int64, error)

	// SaveEndpoint inserts or updates an endpoint identified by service and name.
	SaveEndpoint(ctx context.Context, ep Endpoint) (int64, error)
}
