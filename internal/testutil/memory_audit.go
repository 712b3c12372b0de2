package testutil

import (
	"context"
	"sync"
	"time"

	"3tcapital/ms_facturacion_pe/internal/core/audit"
)

// MemoryAuditRepository stores call logs in memory.
type MemoryAuditRepository struct {
	// SaveErr, when set, is returned by Save and nothing is stored.
	SaveErr error
	// SaveDelay blocks Save, for exercising asynchronous writes.
	SaveDelay time.Duration

	mu     sync.Mutex
	logs   []audit.CallLog
	nextID int64
	saved  chan struct{}
}

var _ audit.Repository = (*MemoryAuditRepository)(nil)

// NewMemoryAuditRepository creates an empty repository.
func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{saved: make(chan struct{}, 1024)}
}

func (r *MemoryAuditRepository) Save(ctx context.Context, log audit.CallLog) error {
	if r.SaveDelay > 0 {
		select {
		case <-time.After(r.SaveDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.SaveErr != nil {
		return r.SaveErr
	}

	r.mu.Lock()
	r.nextID++
	log.ID = r.nextID
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	r.logs = append(r.logs, log)
	r.mu.Unlock()

	select {
	case r.saved <- struct{}{}:
	default:
	}
	return nil
}

func (r *MemoryAuditRepository) FindByCorrelationID(_ context.Context, correlationID string) ([]audit.CallLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []audit.CallLog
	for _, l := range r.logs {
		if l.CorrelationID == correlationID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *MemoryAuditRepository) ListRecent(_ context.Context, filter audit.Filter) ([]audit.CallLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []audit.CallLog
	for i := len(r.logs) - 1; i >= 0; i-- {
		l := r.logs[i]
		if filter.ServiceType != "" && l.ServiceType != filter.ServiceType {
			continue
		}
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		out = append(out, l)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Logs returns a copy of every stored entry in insertion order.
func (r *MemoryAuditRepository) Logs() []audit.CallLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.CallLog(nil), r.logs...)
}

// WaitFor blocks until at least n entries are stored or timeout elapses.
func (r *MemoryAuditRepository) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		r.mu.Lock()
		count := len(r.logs)
		r.mu.Unlock()
		if count >= n {
			return true
		}
		select {
		case <-r.saved:
		case <-deadline:
			return false
		}
	}
}
