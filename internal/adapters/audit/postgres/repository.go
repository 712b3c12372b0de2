package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"3tcapital/ms_facturacion_pe/internal/core/audit"
)

// Querier is the slice of pgxpool.Pool the repository uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository implements the audit.Repository interface using PostgreSQL.
type Repository struct {
	db  Querier
	log *slog.Logger
}

// NewRepository creates a new PostgreSQL audit repository.
func NewRepository(db Querier) audit.Repository {
	return &Repository{db: db}
}

// NewRepositoryWithLogger creates a new PostgreSQL audit repository with logging.
func NewRepositoryWithLogger(db Querier, log *slog.Logger) audit.Repository {
	return &Repository{db: db, log: log}
}

const insertCallLog = `
	INSERT INTO gateway_call_logs (
		service_id, service_type, endpoint_id, endpoint_name, batch_request,
		status, request_method, request_url, request_data, response_data,
		response_code, error_message, duration_ms, attempts, called_from,
		correlation_id
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
`

const selectCallLogs = `
	SELECT id, service_id, service_type, endpoint_id, endpoint_name, batch_request,
	       status, request_method, request_url, request_data, response_data,
	       response_code, error_message, duration_ms, attempts, called_from,
	       correlation_id, created_at
	FROM gateway_call_logs
`

// Save persists one call log entry.
func (r *Repository) Save(ctx context.Context, log audit.CallLog) error {
	_, err := r.db.Exec(ctx, insertCallLog,
		log.ServiceID,
		log.ServiceType,
		log.EndpointID,
		log.EndpointName,
		log.BatchRequest,
		string(log.Status),
		log.RequestMethod,
		log.RequestURL,
		jsonArg(log.RequestData),
		jsonArg(log.ResponseData),
		log.ResponseCode,
		log.ErrorMessage,
		log.DurationMs,
		log.Attempts,
		log.CalledFrom,
		log.CorrelationID,
	)
	if err != nil {
		if r.log != nil {
			r.log.Error("Failed to insert call log into database",
				"correlation_id", log.CorrelationID,
				"service_type", log.ServiceType,
				"endpoint", log.EndpointName,
				"status", log.Status,
				"error", err,
			)
		}
		return fmt.Errorf("insert call log: %w", err)
	}

	if r.log != nil {
		r.log.Debug("Call log saved",
			"correlation_id", log.CorrelationID,
			"service_type", log.ServiceType,
			"endpoint", log.EndpointName,
			"status", log.Status,
		)
	}
	return nil
}

// FindByCorrelationID retrieves all call logs with the given correlation ID, oldest first.
func (r *Repository) FindByCorrelationID(ctx context.Context, correlationID string) ([]audit.CallLog, error) {
	query := selectCallLogs + `
	WHERE correlation_id = $1
	ORDER BY created_at ASC, id ASC
	`
	return r.query(ctx, query, correlationID)
}

// ListRecent returns the newest entries matching the filter.
func (r *Repository) ListRecent(ctx context.Context, filter audit.Filter) ([]audit.CallLog, error) {
	var (
		conds []string
		args  []any
	)
	if filter.ServiceType != "" {
		args = append(args, filter.ServiceType)
		conds = append(conds, fmt.Sprintf("service_type = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	query := selectCallLogs
	if len(conds) > 0 {
		query += "\tWHERE " + strings.Join(conds, " AND ") + "\n"
	}
	query += "\tORDER BY created_at DESC, id DESC\n"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf("\tLIMIT $%d\n", len(args))
	}
	return r.query(ctx, query, args...)
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]audit.CallLog, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query call logs: %w", err)
	}
	defer rows.Close()

	var logs []audit.CallLog
	for rows.Next() {
		var (
			log      audit.CallLog
			status   string
			request  []byte
			response []byte
		)
		err := rows.Scan(
			&log.ID,
			&log.ServiceID,
			&log.ServiceType,
			&log.EndpointID,
			&log.EndpointName,
			&log.BatchRequest,
			&status,
			&log.RequestMethod,
			&log.RequestURL,
			&request,
			&response,
			&log.ResponseCode,
			&log.ErrorMessage,
			&log.DurationMs,
			&log.Attempts,
			&log.CalledFrom,
			&log.CorrelationID,
			&log.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan call log: %w", err)
		}
		log.Status = audit.Status(status)
		log.RequestData = rawJSON(request)
		log.ResponseData = rawJSON(response)
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return logs, nil
}

// jsonArg maps an empty document to SQL NULL.
func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}
