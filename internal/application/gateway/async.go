package gateway

import (
	"context"
	"sync"

	"3tcapital/ms_facturacion_pe/internal/core/comprobante"
	"3tcapital/ms_facturacion_pe/internal/core/gateway"
)

// Future is the pending result of a background call.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func resolved[T any](val T, err error) *Future[T] {
	f := newFuture[T]()
	f.resolve(val, err)
	return f
}

func (f *Future[T]) resolve(val T, err error) {
	f.val, f.err = val, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the call finishes or ctx ends. Giving up on the wait does
// not cancel the call.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// AsyncClient runs the same pipeline as Client without blocking the caller.
// Close waits for every call already started.
type AsyncClient struct {
	p        *pipeline
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// Snapshot returns the registry snapshot the client was opened with.
func (c *AsyncClient) Snapshot() *gateway.Snapshot {
	return c.p.snap
}

// Close waits for in-flight calls and releases the HTTP client.
func (c *AsyncClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.inflight.Wait()
	c.p.exec.Close()
}

func goAsync[T any](ctx context.Context, c *AsyncClient, fn func(context.Context) (T, error)) *Future[T] {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		var zero T
		return resolved(zero, gateway.ErrClientClosed)
	}
	c.inflight.Add(1)
	c.mu.Unlock()

	f := newFuture[T]()
	go func() {
		defer c.inflight.Done()
		f.resolve(fn(ctx))
	}()
	return f
}

// GenerarComprobante validates and emits a document in the background.
func (c *AsyncClient) GenerarComprobante(ctx context.Context, payload map[string]any) *Future[gateway.Response] {
	site := callSite(1)
	return goAsync(ctx, c, func(ctx context.Context) (gateway.Response, error) {
		return c.p.generar(ctx, site, payload)
	})
}

// ConsultarComprobante queries an issued document in the background.
func (c *AsyncClient) ConsultarComprobante(ctx context.Context, q comprobante.Consulta) *Future[gateway.Response] {
	site := callSite(1)
	return goAsync(ctx, c, func(ctx context.Context) (gateway.Response, error) {
		return c.p.consultar(ctx, site, q)
	})
}

// AnularComprobante requests a voiding in the background.
func (c *AsyncClient) AnularComprobante(ctx context.Context, a comprobante.Anulacion) *Future[gateway.Response] {
	site := callSite(1)
	return goAsync(ctx, c, func(ctx context.Context) (gateway.Response, error) {
		return c.p.anular(ctx, site, a)
	})
}

// ConsultarRUC looks up a taxpayer in the background.
func (c *AsyncClient) ConsultarRUC(ctx context.Context, ruc string) *Future[gateway.Response] {
	site := callSite(1)
	return goAsync(ctx, c, func(ctx context.Context) (gateway.Response, error) {
		return c.p.lookup(ctx, site, rucLookup, ruc)
	})
}

// ConsultarDNI looks up a national ID in the background.
func (c *AsyncClient) ConsultarDNI(ctx context.Context, dni string) *Future[gateway.Response] {
	site := callSite(1)
	return goAsync(ctx, c, func(ctx context.Context) (gateway.Response, error) {
		return c.p.lookup(ctx, site, dniLookup, dni)
	})
}

// ConsultarRUCMasivo runs a bulk lookup in the background.
func (c *AsyncClient) ConsultarRUCMasivo(ctx context.Context, rucs []string, batchSize int) *Future[[]MasivoResult] {
	site := callSite(1)
	return goAsync(ctx, c, func(ctx context.Context) ([]MasivoResult, error) {
		return c.p.masivo(ctx, site, rucs, batchSize), nil
	})
}
