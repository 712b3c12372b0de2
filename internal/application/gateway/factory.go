package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	appaudit "3tcapital/ms_facturacion_pe/internal/application/audit"
	coreaudit "3tcapital/ms_facturacion_pe/internal/core/audit"
	"3tcapital/ms_facturacion_pe/internal/core/gateway"
	infrahttp "3tcapital/ms_facturacion_pe/internal/infrastructure/http"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/metrics"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/ratelimit"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/workpool"
)

// TimeoutResolver yields the timeouts of a service type.
type TimeoutResolver func(gateway.ServiceType) gateway.TimeoutConfig

// Deps wires a Factory.
type Deps struct {
	Registry        *Registry
	AuditRepository coreaudit.Repository
	AuditOptions    []appaudit.Option
	// SyncAuditPooled routes audit writes of the blocking client through Pool too.
	SyncAuditPooled bool
	NegativeCache   gateway.NegativeCache
	Metrics         *metrics.Metrics
	Limiter         *ratelimit.Manager
	Breakers        *infrahttp.BreakerSet
	Timeouts        TimeoutResolver
	// Pool runs blocking store work of the async client. Nil runs it inline.
	Pool            *workpool.Pool
	Logger          *slog.Logger
	DefaultCaller   string
	MasivoBatchSize int
	MasivoRPS       float64
	ExecutorOptions []infrahttp.ExecutorOption
}

// Factory opens gateway clients. It is safe for concurrent use and holds no
// per-call state; every client owns its own HTTP client.
type Factory struct {
	deps       Deps
	syncAudit  *appaudit.Logger
	asyncAudit *appaudit.Logger
	log        *slog.Logger
}

// NewFactory creates a factory.
func NewFactory(deps Deps) *Factory {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Timeouts == nil {
		deps.Timeouts = func(gateway.ServiceType) gateway.TimeoutConfig { return gateway.DefaultTimeoutConfig() }
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.Default()
	}
	if deps.DefaultCaller == "" {
		deps.DefaultCaller = appaudit.UnknownCaller
	}

	pooled := append(append([]appaudit.Option{}, deps.AuditOptions...), appaudit.WithPool(deps.Pool))
	f := &Factory{
		deps:       deps,
		asyncAudit: appaudit.NewLogger(deps.AuditRepository, deps.Logger, pooled...),
		log:        deps.Logger,
	}
	if deps.SyncAuditPooled && deps.Pool != nil {
		f.syncAudit = f.asyncAudit
	} else {
		f.syncAudit = appaudit.NewLogger(deps.AuditRepository, deps.Logger, deps.AuditOptions...)
	}
	if deps.Pool == nil {
		f.asyncAudit = f.syncAudit
	}
	return f
}

// Registry exposes the registry the factory loads snapshots from.
func (f *Factory) Registry() *Registry {
	return f.deps.Registry
}

// AuditLogger returns the logger used by blocking clients.
func (f *Factory) AuditLogger() *appaudit.Logger {
	return f.syncAudit
}

// Open loads the active snapshot of t and returns a blocking client.
func (f *Factory) Open(ctx context.Context, t gateway.ServiceType, opts ...ClientOption) (*Client, error) {
	snap, err := f.deps.Registry.Load(ctx, t)
	if err != nil {
		return nil, err
	}
	return &Client{p: f.pipeline(snap, f.syncAudit, opts)}, nil
}

// With opens a client, runs fn and closes the client whatever fn returns.
func (f *Factory) With(ctx context.Context, t gateway.ServiceType, fn func(*Client) error, opts ...ClientOption) error {
	c, err := f.Open(ctx, t, opts...)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

// OpenAsync returns a client whose calls run in the background. The registry
// query runs on the worker pool.
func (f *Factory) OpenAsync(ctx context.Context, t gateway.ServiceType, opts ...ClientOption) (*AsyncClient, error) {
	snap, err := onPool(ctx, f.deps.Pool, func(ctx context.Context) (*gateway.Snapshot, error) {
		return f.deps.Registry.Load(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	return &AsyncClient{p: f.pipeline(snap, f.asyncAudit, opts)}, nil
}

// WithAsync opens an async client, runs fn and closes the client once every
// call it started has finished.
func (f *Factory) WithAsync(ctx context.Context, t gateway.ServiceType, fn func(*AsyncClient) error, opts ...ClientOption) error {
	c, err := f.OpenAsync(ctx, t, opts...)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

// InvalidateNegative forgets a cached negative lookup.
func (f *Factory) InvalidateNegative(ctx context.Context, t gateway.ServiceType, kind gateway.NegativeKind, document string) error {
	if kind != gateway.KindRUCInvalid && kind != gateway.KindDNIInvalid {
		return gateway.NewValidationError("kind", fmt.Sprintf("tipo de caché desconocido: %s", kind))
	}
	if f.deps.NegativeCache != nil {
		f.deps.NegativeCache.Invalidate(ctx, t, kind, document)
	}
	return nil
}

func (f *Factory) pipeline(snap *gateway.Snapshot, audit *appaudit.Logger, opts []ClientOption) *pipeline {
	t := snap.Type()

	execOpts := []infrahttp.ExecutorOption{
		infrahttp.WithLimiter(f.deps.Limiter),
		infrahttp.WithMetrics(f.deps.Metrics),
	}
	if cb := f.deps.Breakers.For(t); cb != nil {
		execOpts = append(execOpts, infrahttp.WithBreaker(cb))
	}
	execOpts = append(execOpts, f.deps.ExecutorOptions...)

	p := &pipeline{
		snap:            snap,
		exec:            infrahttp.NewExecutor(f.deps.Timeouts(t), f.log, execOpts...),
		audit:           audit,
		negative:        f.deps.NegativeCache,
		metrics:         f.deps.Metrics,
		log:             f.log,
		defaultCaller:   f.deps.DefaultCaller,
		masivoBatchSize: f.deps.MasivoBatchSize,
		masivoRPS:       f.deps.MasivoRPS,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// onPool runs fn on the worker pool and waits for its result. A nil pool runs fn inline.
func onPool[T any](ctx context.Context, pool *workpool.Pool, fn func(context.Context) (T, error)) (T, error) {
	if pool == nil {
		return fn(ctx)
	}

	type outcome struct {
		val T
		err error
	}
	ch := make(chan outcome, 1)
	err := pool.Submit(ctx, func() {
		v, err := fn(ctx)
		ch <- outcome{v, err}
	})
	if errors.Is(err, workpool.ErrPoolStopped) {
		return fn(ctx)
	}
	if err != nil {
		var zero T
		return zero, err
	}

	select {
	case out := <-ch:
		return out.val, out.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
