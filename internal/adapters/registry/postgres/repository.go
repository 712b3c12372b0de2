package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"3tcapital/ms_facturacion_pe/internal/core/gateway"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// ErrActiveServiceExists is returned when an upsert would leave two active
// services of the same type.
var ErrActiveServiceExists = errors.New("ya existe un servicio activo para el tipo")

// Repository implements gateway.Repository on database/sql.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new PostgreSQL registry repository.
func NewRepository(db *sql.DB) gateway.Repository {
	return &Repository{db: db}
}

// FindActiveService returns the active service for a type, or nil if none is active.
func (r *Repository) FindActiveService(ctx context.Context, serviceType gateway.ServiceType) (*gateway.Service, error) {
	query := `
		SELECT id, service_type, name, base_url, auth_token, auth_scheme, is_active, created_at, updated_at
		FROM gateway_services
		WHERE service_type = $1 AND is_active
		ORDER BY id
		LIMIT 1
	`

	var (
		svc    gateway.Service
		kind   string
		scheme string
	)
	err := r.db.QueryRowContext(ctx, query, string(serviceType)).Scan(
		&svc.ID,
		&kind,
		&svc.Name,
		&svc.BaseURL,
		&svc.AuthToken,
		&scheme,
		&svc.IsActive,
		&svc.CreatedAt,
		&svc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active service: %w", err)
	}

	svc.Type = gateway.ServiceType(kind)
	svc.AuthScheme = gateway.ParseAuthScheme(scheme)
	return &svc, nil
}

// FindEndpoints lists every endpoint of a service.
func (r *Repository) FindEndpoints(ctx context.Context, serviceID int64) ([]gateway.Endpoint, error) {
	query := `
		SELECT id, service_id, name, path, method, rate_limit_per_minute, is_active
		FROM gateway_endpoints
		WHERE service_id = $1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, serviceID)
	if err != nil {
		return nil, fmt.Errorf("query endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []gateway.Endpoint
	for rows.Next() {
		var (
			ep    gateway.Endpoint
			limit sql.NullInt32
		)
		if err := rows.Scan(&ep.ID, &ep.ServiceID, &ep.Name, &ep.Path, &ep.Method, &limit, &ep.IsActive); err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		if limit.Valid {
			n := int(limit.Int32)
			ep.RateLimitPerMinute = &n
		}
		endpoints = append(endpoints, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate endpoints: %w", err)
	}
	return endpoints, nil
}

// SaveService inserts or updates a service identified by type and name.
func (r *Repository) SaveService(ctx context.Context, svc gateway.Service) (int64, error) {
	query := `
		INSERT INTO gateway_services (service_type, name, base_url, auth_token, auth_scheme, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (service_type, name) DO UPDATE SET
			base_url = EXCLUDED.base_url,
			auth_token = EXCLUDED.auth_token,
			auth_scheme = EXCLUDED.auth_scheme,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING id
	`

	scheme := svc.AuthScheme
	if scheme == "" {
		scheme = gateway.AuthBearer
	}

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		string(svc.Type),
		svc.Name,
		svc.BaseURL,
		svc.AuthToken,
		string(scheme),
		svc.IsActive,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w %s", ErrActiveServiceExists, svc.Type)
		}
		return 0, fmt.Errorf("save service: %w", err)
	}
	return id, nil
}

// SaveEndpoint inserts or updates an endpoint identified by service and name.
func (r *Repository) SaveEndpoint(ctx context.Context, ep gateway.Endpoint) (int64, error) {
	query := `
		INSERT INTO gateway_endpoints (service_id, name, path, method, rate_limit_per_minute, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (service_id, name) DO UPDATE SET
			path = EXCLUDED.path,
			method = EXCLUDED.method,
			rate_limit_per_minute = EXCLUDED.rate_limit_per_minute,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING id
	`

	var limit sql.NullInt32
	if l := ep.Limit(); l != nil {
		limit = sql.NullInt32{Int32: int32(*l), Valid: true}
	}

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		ep.ServiceID,
		ep.Name,
		ep.Path,
		ep.Method,
		limit,
		ep.IsActive,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save endpoint %s: %w", ep.Name, err)
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
