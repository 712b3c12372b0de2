package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Status is the final outcome of a gateway call.
type Status string

const (
	StatusSuccess         Status = "SUCCESS"
	StatusFailed          Status = "FAILED"
	StatusTimeout         Status = "TIMEOUT"
	StatusRateLimited     Status = "RATE_LIMITED"
	StatusValidationError Status = "VALIDATION_ERROR"
)

// MaxErrorMessageLength bounds the persisted error text, in runes.
const MaxErrorMessageLength = 500

// CallLog is one append-only record of an outbound gateway call.
// Exactly one is written per façade call, whatever the outcome.
type CallLog struct {
	ID            int64
	ServiceID     int64
	ServiceType   string
	EndpointID    *int64 // nil when the endpoint lookup failed
	EndpointName  string
	BatchRequest  string
	Status        Status
	RequestMethod string
	RequestURL    string
	RequestData   json.RawMessage
	ResponseData  json.RawMessage
	ResponseCode  *int
	ErrorMessage  string
	DurationMs    int64
	Attempts      int
	CalledFrom    string
	CorrelationID string
	CreatedAt     time.Time
}

// Filter narrows ListRecent queries. Zero values are ignored.
type Filter struct {
	ServiceType string
	Status      Status
	Limit       int
}

// Repository defines the contract for persisting and retrieving call logs.
type Repository interface {
	// Save persists a call log entry.
	Save(ctx context.Context, log CallLog) error

	// FindByCorrelationID retrieves all call logs associated with a correlation ID.
	FindByCorrelationID(ctx context.Context, correlationID string) ([]CallLog, error)

	// ListRecent returns the newest entries matching the filter.
	ListRecent(ctx context.Context, filter Filter) ([]CallLog, error)
}
