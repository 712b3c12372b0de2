package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"3tcapital/ms_facturacion_pe/internal/core/gateway"
)

// DefaultMasivoBatchSize bounds bulk lookups when neither the caller nor the
// configuration sets a size.
const DefaultMasivoBatchSize = 10

// MasivoResult is the outcome of one RUC in a bulk lookup.
type MasivoResult struct {
	RUC      string           `json:"ruc"`
	Response gateway.Response `json:"response,omitempty"`
	Error    string           `json:"error,omitempty"`
	Err      error            `json:"-"`
}

func (p *pipeline) masivo(ctx context.Context, site string, rucs []string, batchSize int) []MasivoResult {
	results := make([]MasivoResult, len(rucs))
	if len(rucs) == 0 {
		return results
	}

	if batchSize <= 0 {
		batchSize = p.masivoBatchSize
	}
	if batchSize <= 0 {
		batchSize = DefaultMasivoBatchSize
	}

	run := *p
	if run.batch == "" {
		run.batch = uuid.NewString()
	}
	ctx, _ = withCorrelation(ctx)

	var pacer *rate.Limiter
	if p.masivoRPS > 0 {
		pacer = rate.NewLimiter(rate.Limit(p.masivoRPS), 1)
	}

	p.log.Info("masivo_started",
		"batch", run.batch,
		"count", len(rucs),
		"batch_size", batchSize,
	)

	sem := semaphore.NewWeighted(int64(batchSize))
	var wg sync.WaitGroup
	for i, ruc := range rucs {
		results[i].RUC = ruc
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i].fail(err)
			continue
		}

		wg.Add(1)
		go func(i int, ruc string) {
			defer wg.Done()
			defer sem.Release(1)

			if pacer != nil {
				if err := pacer.Wait(ctx); err != nil {
					results[i].fail(err)
					return
				}
			}

			resp, err := run.lookup(ctx, site, rucLookup, ruc)
			results[i].Response = resp
			if err != nil {
				results[i].fail(err)
			}
		}(i, ruc)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	p.log.Info("masivo_finished", "batch", run.batch, "count", len(rucs), "failed", failed)
	return results
}

func (r *MasivoResult) fail(err error) {
	r.Err = err
	r.Error = err.Error()
}
