package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"3tcapital/ms_facturacion_pe/internal/core/gateway"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/cache"
)

// loadTimeout bounds a shared registry load independently of its callers.
const loadTimeout = 10 * time.Second

// Registry loads service snapshots from persistent storage.
// Concurrent loads of one service type share a single query.
type Registry struct {
	repo  gateway.Repository
	cache *cache.SnapshotCache
	group singleflight.Group
	log   *slog.Logger
}

// NewRegistry creates a registry. A nil cache loads from the repository every time.
func NewRegistry(repo gateway.Repository, snapshots *cache.SnapshotCache, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Registry{repo: repo, cache: snapshots, log: log}
}

// Load returns the active snapshot of a service type.
func (r *Registry) Load(ctx context.Context, t gateway.ServiceType) (*gateway.Snapshot, error) {
	if r.cache != nil {
		if snap, ok := r.cache.Get(t); ok {
			return snap, nil
		}
	}

	// The flight outlives any single caller; each caller stops waiting on its own ctx.
	ch := r.group.DoChan(string(t), func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return r.load(loadCtx, t)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			r.log.Debug("registry load shared", "service_type", t)
		}
		return res.Val.(*gateway.Snapshot), nil
	}
}

// Refresh drops any cached snapshot and reloads it.
func (r *Registry) Refresh(ctx context.Context, t gateway.ServiceType) (*gateway.Snapshot, error) {
	if r.cache != nil {
		r.cache.Invalidate(t)
	}
	r.group.Forget(string(t))
	return r.Load(ctx, t)
}

func (r *Registry) load(ctx context.Context, t gateway.ServiceType) (*gateway.Snapshot, error) {
	svc, err := r.repo.FindActiveService(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("find active service %s: %w", t, err)
	}
	if svc == nil {
		return nil, &gateway.ServiceNotConfiguredError{Type: t}
	}

	endpoints, err := r.repo.FindEndpoints(ctx, svc.ID)
	if err != nil {
		return nil, fmt.Errorf("find endpoints of %s: %w", t, err)
	}

	snap := gateway.NewSnapshot(*svc, endpoints)
	if r.cache != nil {
		r.cache.Set(t, snap)
	}
	r.log.Info("registry loaded",
		"service_type", t,
		"service_id", svc.ID,
		"endpoints", len(snap.EndpointNames()),
	)
	return snap, nil
}
