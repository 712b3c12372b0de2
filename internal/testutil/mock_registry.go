package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"3tcapital/ms_facturacion_pe/internal/core/gateway"
)

// MockRegistryRepository is an in-memory gateway.Repository. The Func fields,
// when set, override the stored rows.
type MockRegistryRepository struct {
	FindActiveServiceFunc func(ctx context.Context, t gateway.ServiceType) (*gateway.Service, error)
	FindEndpointsFunc     func(ctx context.Context, serviceID int64) ([]gateway.Endpoint, error)

	mu        sync.Mutex
	services  []gateway.Service
	endpoints []gateway.Endpoint
	nextID    int64

	// ServiceLoads counts FindActiveService calls.
	ServiceLoads atomic.Int32
}

var _ gateway.Repository = (*MockRegistryRepository)(nil)

// NewMockRegistryRepository seeds a repository with one active service and its endpoints.
// Endpoint ServiceIDs are filled in from the service.
func NewMockRegistryRepository(svc gateway.Service, endpoints ...gateway.Endpoint) *MockRegistryRepository {
	r := &MockRegistryRepository{nextID: 100}
	if svc.ID == 0 {
		svc.ID = 1
	}
	r.services = append(r.services, svc)
	for i, ep := range endpoints {
		ep.ServiceID = svc.ID
		if ep.ID == 0 {
			ep.ID = int64(10 + i)
		}
		r.endpoints = append(r.endpoints, ep)
	}
	return r
}

func (r *MockRegistryRepository) FindActiveService(ctx context.Context, t gateway.ServiceType) (*gateway.Service, error) {
	r.ServiceLoads.Add(1)
	if r.FindActiveServiceFunc != nil {
		return r.FindActiveServiceFunc(ctx, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, svc := range r.services {
		if svc.Type == t && svc.IsActive {
			s := svc
			return &s, nil
		}
	}
	return nil, nil
}

func (r *MockRegistryRepository) FindEndpoints(ctx context.Context, serviceID int64) ([]gateway.Endpoint, error) {
	if r.FindEndpointsFunc != nil {
		return r.FindEndpointsFunc(ctx, serviceID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var out []gateway.Endpoint
	for _, ep := range r.endpoints {
		if ep.ServiceID == serviceID {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (r *MockRegistryRepository) SaveService(_ context.Context, svc gateway.Service) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.services {
		if existing.Type == svc.Type {
			svc.ID = existing.ID
			r.services[i] = svc
			return svc.ID, nil
		}
	}
	r.nextID++
	svc.ID = r.nextID
	r.services = append(r.services, svc)
	return svc.ID, nil
}

func (r *MockRegistryRepository) SaveEndpoint(_ context.Context, ep gateway.Endpoint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.endpoints {
		if existing.ServiceID == ep.ServiceID && existing.Name == ep.Name {
			ep.ID = existing.ID
			r.endpoints[i] = ep
			return ep.ID, nil
		}
	}
	r.nextID++
	ep.ID = r.nextID
	r.endpoints = append(r.endpoints, ep)
	return ep.ID, nil
}

// Services returns a copy of the stored services.
func (r *MockRegistryRepository) Services() []gateway.Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]gateway.Service(nil), r.services...)
}

// Endpoints returns a copy of the stored endpoints.
func (r *MockRegistryRepository) Endpoints() []gateway.Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]gateway.Endpoint(nil), r.endpoints...)
}
