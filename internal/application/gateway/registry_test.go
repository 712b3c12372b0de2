package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"3tcapital/ms_facturacion_pe/internal/core/gateway"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/cache"
	"3tcapital/ms_facturacion_pe/internal/testutil"
)

func migoRepo() *testutil.MockRegistryRepository {
	return testutil.NewMockRegistryRepository(
		gateway.Service{ID: 7, Type: gateway.ServiceMigo, Name: "Migo", BaseURL: "https://api.migo.pe/", AuthToken: "tok", IsActive: true},
		gateway.Endpoint{Name: EndpointConsultarRUC, Path: "/api/v1/ruc", Method: "POST", IsActive: true},
		gateway.Endpoint{Name: EndpointConsultarDNI, Path: "/api/v1/dni", Method: "POST", IsActive: false},
	)
}

func TestRegistry_Load(t *testing.T) {
	repo := migoRepo()
	reg := NewRegistry(repo, cache.NewSnapshotCache(time.Minute), testutil.NewNullLogger())

	snap, err := reg.Load(context.Background(), gateway.ServiceMigo)
	require.NoError(t, err)
	assert.Equal(t, int64(7), snap.Service().ID)
	assert.Equal(t, []string{EndpointConsultarRUC}, snap.EndpointNames())

	ep, ok := snap.Endpoint(EndpointConsultarRUC)
	require.True(t, ok)
	assert.Equal(t, "https://api.migo.pe/api/v1/ruc", snap.URL(ep))

	again, err := reg.Load(context.Background(), gateway.ServiceMigo)
	require.NoError(t, err)
	assert.Same(t, snap, again)
	assert.Equal(t, int32(1), repo.ServiceLoads.Load())

	refreshed, err := reg.Refresh(context.Background(), gateway.ServiceMigo)
	require.NoError(t, err)
	assert.NotSame(t, snap, refreshed)
	assert.Equal(t, int32(2), repo.ServiceLoads.Load())
}

func TestRegistry_LoadWithoutCache(t *testing.T) {
	repo := migoRepo()
	reg := NewRegistry(repo, nil, nil)

	for i := 0; i < 3; i++ {
		_, err := reg.Load(context.Background(), gateway.ServiceMigo)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), repo.ServiceLoads.Load())
}

func TestRegistry_ConcurrentLoadsShareQuery(t *testing.T) {
	repo := migoRepo()
	release := make(chan struct{})
	repo.FindActiveServiceFunc = func(context.Context, gateway.ServiceType) (*gateway.Service, error) {
		<-release
		return &gateway.Service{ID: 7, Type: gateway.ServiceMigo, BaseURL: "https://api.migo.pe", IsActive: true}, nil
	}
	reg := NewRegistry(repo, nil, testutil.NewNullLogger())

	const callers = 10
	snaps := make([]*gateway.Snapshot, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := reg.Load(context.Background(), gateway.ServiceMigo)
			assert.NoError(t, err)
			snaps[i] = snap
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), repo.ServiceLoads.Load())
	for _, s := range snaps[1:] {
		assert.Same(t, snaps[0], s)
	}
}

func TestRegistry_SharedLoadIgnoresFirstCallerDeadline(t *testing.T) {
	repo := migoRepo()
	repo.FindActiveServiceFunc = func(ctx context.Context, _ gateway.ServiceType) (*gateway.Service, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
		return &gateway.Service{ID: 7, Type: gateway.ServiceMigo, BaseURL: "https://api.migo.pe", IsActive: true}, nil
	}
	reg := NewRegistry(repo, nil, testutil.NewNullLogger())

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	var shortErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, shortErr = reg.Load(short, gateway.ServiceMigo)
	}()

	time.Sleep(5 * time.Millisecond)
	snap, err := reg.Load(context.Background(), gateway.ServiceMigo)
	wg.Wait()

	require.NoError(t, err, "a patient caller must not inherit another caller's deadline")
	assert.Equal(t, int64(7), snap.Service().ID)
	require.ErrorIs(t, shortErr, context.DeadlineExceeded)
	assert.Equal(t, int32(1), repo.ServiceLoads.Load())
}

func TestRegistry_Errors(t *testing.T) {
	t.Run("servicio ausente", func(t *testing.T) {
		reg := NewRegistry(migoRepo(), nil, nil)
		_, err := reg.Load(context.Background(), gateway.ServiceNubefact)
		require.ErrorIs(t, err, gateway.ErrServiceNotConfigured)

		var nc *gateway.ServiceNotConfiguredError
		require.ErrorAs(t, err, &nc)
		assert.Equal(t, gateway.ServiceNubefact, nc.Type)
	})

	t.Run("servicio inactivo", func(t *testing.T) {
		repo := testutil.NewMockRegistryRepository(gateway.Service{Type: gateway.ServiceMigo, IsActive: false})
		_, err := NewRegistry(repo, nil, nil).Load(context.Background(), gateway.ServiceMigo)
		require.ErrorIs(t, err, gateway.ErrServiceNotConfigured)
	})

	t.Run("fallo del repositorio", func(t *testing.T) {
		boom := errors.New("connection refused")
		repo := migoRepo()
		repo.FindEndpointsFunc = func(context.Context, int64) ([]gateway.Endpoint, error) { return nil, boom }

		snapshots := cache.NewSnapshotCache(time.Minute)
		_, err := NewRegistry(repo, snapshots, nil).Load(context.Background(), gateway.ServiceMigo)
		require.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "find endpoints of MIGO")

		_, cached := snapshots.Get(gateway.ServiceMigo)
		assert.False(t, cached, "failed loads are not cached")
	})
}
