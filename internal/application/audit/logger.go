package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	coreaudit "3tcapital/ms_facturacion_pe/internal/core/audit"
	"3tcapital/ms_facturacion_pe/internal/core/gateway"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/security"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/workpool"
)

// UnknownCaller is recorded when no caller label was supplied.
const UnknownCaller = "unknown"

const (
	defaultMaxBodySize = 100 * 1024
	defaultSaveTimeout = 10 * time.Second
	maxCallerLength    = 255
)

// Fields is everything known about one gateway call when it finishes.
type Fields struct {
	ServiceID     int64
	ServiceType   gateway.ServiceType
	EndpointID    *int64
	EndpointName  string
	BatchRequest  string
	Status        coreaudit.Status
	Method        string
	URL           string
	Request       map[string]any
	Response      map[string]any
	ResponseCode  int // 0 when no response arrived
	ErrorMessage  string
	Duration      time.Duration
	Attempts      int
	CalledFrom    string
	CorrelationID string

	// Secrets are scrubbed from every persisted field, typically the service token.
	Secrets []string
}

// Logger turns call outcomes into audit entries and persists them.
// Persistence failures are logged and never reach the caller.
type Logger struct {
	repo        coreaudit.Repository
	pool        *workpool.Pool
	log         *slog.Logger
	maxBodySize int
	saveTimeout time.Duration
}

// Option customizes a Logger.
type Option func(*Logger)

// WithPool routes writes through a worker pool instead of the caller's goroutine.
func WithPool(p *workpool.Pool) Option {
	return func(l *Logger) { l.pool = p }
}

// WithMaxBodySize bounds the serialized request and response documents.
func WithMaxBodySize(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.maxBodySize = n
		}
	}
}

// WithSaveTimeout bounds one repository write.
func WithSaveTimeout(d time.Duration) Option {
	return func(l *Logger) {
		if d > 0 {
			l.saveTimeout = d
		}
	}
}

// NewLogger creates a logger. A nil repository disables persistence.
func NewLogger(repo coreaudit.Repository, log *slog.Logger, opts ...Option) *Logger {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	l := &Logger{
		repo:        repo,
		log:         log,
		maxBodySize: defaultMaxBodySize,
		saveTimeout: defaultSaveTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Pooled reports whether writes are dispatched to a worker pool.
func (l *Logger) Pooled() bool {
	return l.pool != nil
}

// Build renders the entry that Record would persist. It is deterministic:
// equal Fields yield equal entries.
func (l *Logger) Build(f Fields) coreaudit.CallLog {
	entry := coreaudit.CallLog{
		ServiceID:     f.ServiceID,
		ServiceType:   string(f.ServiceType),
		EndpointID:    f.EndpointID,
		EndpointName:  f.EndpointName,
		BatchRequest:  f.BatchRequest,
		Status:        f.Status,
		RequestMethod: f.Method,
		RequestURL:    security.SanitizeURL(f.URL),
		Attempts:      f.Attempts,
		CalledFrom:    truncateRunes(callerOrUnknown(f.CalledFrom), maxCallerLength),
		CorrelationID: f.CorrelationID,
		DurationMs:    max(f.Duration.Milliseconds(), 0),
	}

	if f.ResponseCode > 0 {
		code := f.ResponseCode
		entry.ResponseCode = &code
	}

	entry.ErrorMessage = truncateRunes(security.RedactText(f.ErrorMessage, f.Secrets...), coreaudit.MaxErrorMessageLength)

	response := f.Response
	if f.Status == coreaudit.StatusFailed && strings.Contains(entry.ErrorMessage, "404") {
		response = annotateNotFound(response)
	}

	entry.RequestData = l.document(f.Request, f.Secrets)
	entry.ResponseData = l.document(response, f.Secrets)
	return entry
}

// Record builds and persists one entry. It never fails and never panics.
func (l *Logger) Record(ctx context.Context, f Fields) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("audit_record_panic", "panic", fmt.Sprint(r), "correlation_id", f.CorrelationID)
		}
	}()

	if l.repo == nil {
		return
	}
	entry := l.Build(f)

	// The write outlives the caller's cancellation: a cancelled call still gets its entry.
	saveCtx := context.WithoutCancel(ctx)

	if l.pool != nil {
		err := l.pool.TrySubmit(func() { l.save(saveCtx, entry) })
		if err == nil {
			return
		}
		l.log.Warn("audit_pool_unavailable", "error", err, "correlation_id", entry.CorrelationID)
	}
	l.save(saveCtx, entry)
}

func (l *Logger) save(ctx context.Context, entry coreaudit.CallLog) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("audit_save_panic", "panic", fmt.Sprint(r), "correlation_id", entry.CorrelationID)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, l.saveTimeout)
	defer cancel()

	if err := l.repo.Save(ctx, entry); err != nil {
		l.log.Error("audit_write_failed",
			"correlation_id", entry.CorrelationID,
			"service_type", entry.ServiceType,
			"endpoint", entry.EndpointName,
			"status", entry.Status,
			"error", err,
		)
	}
}

func (l *Logger) document(m map[string]any, secrets []string) json.RawMessage {
	if m == nil {
		return nil
	}
	raw, err := json.Marshal(security.RedactPayload(m, secrets...))
	if err != nil {
		raw, _ = json.Marshal(map[string]any{"_unserializable": security.RedactText(fmt.Sprint(m), secrets...)})
	}
	return security.BoundJSON(raw, l.maxBodySize)
}

func annotateNotFound(response map[string]any) map[string]any {
	out := make(map[string]any, len(response)+2)
	for k, v := range response {
		out[k] = v
	}
	out["invalid_ruc"] = true
	out["invalid_reason"] = gateway.ReasonRUCNotFound
	return out
}

func callerOrUnknown(caller string) string {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return UnknownCaller
	}
	return caller
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
