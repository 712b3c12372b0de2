package health

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	corehealth "3tcapital/ms_facturacion_pe/internal/core/health"
)

const defaultProbeTimeout = 2 * time.Second

// Metadata contains immutable metadata about the running service.
type Metadata struct {
	Service     string
	Version     string
	Environment string
}

// Probe checks one dependency. Check returns nil when it is reachable.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Service exposes health-check use cases to adapters.
type Service struct {
	meta         Metadata
	startedAt    time.Time
	probes       []Probe
	probeTimeout time.Duration
}

func NewService(meta Metadata, probes ...Probe) *Service {
	return &Service{
		meta:         meta,
		startedAt:    time.Now().UTC(),
		probes:       probes,
		probeTimeout: defaultProbeTimeout,
	}
}

// Status returns the current availability snapshot. Probes run concurrently,
// each bounded by its own timeout; one failing probe marks the service DOWN.
func (s *Service) Status(ctx context.Context) corehealth.Status {
	uptime := time.Since(s.startedAt)
	status := corehealth.Status{
		Service:     s.meta.Service,
		Version:     s.meta.Version,
		Environment: s.meta.Environment,
		Status:      corehealth.StatusUp,
		StartedAt:   s.startedAt,
		Uptime:      uptime.String(),
		UptimeSecs:  int64(uptime.Seconds()),
	}
	if len(s.probes) == 0 {
		return status
	}

	deps := make([]corehealth.Dependency, len(s.probes))
	var g errgroup.Group
	for i, p := range s.probes {
		g.Go(func() error {
			deps[i] = s.run(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	for _, d := range deps {
		if d.Status != corehealth.StatusUp {
			status.Status = corehealth.StatusDown
		}
	}
	status.Dependencies = deps
	return status
}

func (s *Service) run(ctx context.Context, p Probe) corehealth.Dependency {
	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	start := time.Now()
	err := p.Check(ctx)
	dep := corehealth.Dependency{
		Name:      p.Name,
		Status:    corehealth.StatusUp,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		dep.Status = corehealth.StatusDown
		dep.Error = err.Error()
	}
	return dep
}
