package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	coreaudit "3tcapital/ms_facturacion_pe/internal/core/audit"
	"3tcapital/ms_facturacion_pe/internal/core/gateway"
)

const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 500
)

// ErrAuditDisabled is returned by queries when no repository is configured.
var ErrAuditDisabled = errors.New("auditoría deshabilitada")

// Query reads persisted call logs.
type Query struct {
	repo coreaudit.Repository
}

// NewQuery creates a query service. A nil repository answers ErrAuditDisabled.
func NewQuery(repo coreaudit.Repository) *Query {
	return &Query{repo: repo}
}

// Trail returns every entry written under one correlation id, oldest first.
func (q *Query) Trail(ctx context.Context, correlationID string) ([]coreaudit.CallLog, error) {
	if q.repo == nil {
		return nil, ErrAuditDisabled
	}
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return nil, gateway.NewValidationError("correlation_id", "correlation_id es requerido")
	}

	logs, err := q.repo.FindByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, fmt.Errorf("find call logs by correlation id: %w", err)
	}
	return logs, nil
}

// Recent lists the newest entries. The limit is clamped to MaxRecentLimit.
func (q *Query) Recent(ctx context.Context, filter coreaudit.Filter) ([]coreaudit.CallLog, error) {
	if q.repo == nil {
		return nil, ErrAuditDisabled
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultRecentLimit
	case filter.Limit > MaxRecentLimit:
		filter.Limit = MaxRecentLimit
	}
	filter.ServiceType = strings.ToUpper(strings.TrimSpace(filter.ServiceType))

	logs, err := q.repo.ListRecent(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list recent call logs: %w", err)
	}
	return logs, nil
}
