package gateway

import (
	"context"
	"time"
)

// NegativeKind classifies a negative-cache entry.
type NegativeKind string

const (
	KindRUCInvalid NegativeKind = "ruc_invalid"
	KindDNIInvalid NegativeKind = "dni_invalid"
)

// Reasons stored with negative-cache entries.
const (
	ReasonRUCNotFound = "RUC_NO_EXISTE_SUNAT"
	ReasonDNINotFound = "DNI_NO_EXISTE_RENIEC"
)

// NegativeEntry is a cached "not found / invalid" lookup result.
type NegativeEntry struct {
	Reason     string    `json:"reason"`
	InsertedAt time.Time `json:"inserted_at"`
}

// NegativeCache suppresses repeated identity lookups that already failed.
// Implementations degrade to a miss on backend failures.
type NegativeCache interface {
	Get(ctx context.Context, service ServiceType, kind NegativeKind, document string) (NegativeEntry, bool)
	// Set stores an entry. A zero ttl uses the default for the kind.
	Set(ctx context.Context, service ServiceType, kind NegativeKind, document, reason string, ttl time.Duration)
	Invalidate(ctx context.Context, service ServiceType, kind NegativeKind, document string)
	Clear(ctx context.Context)
}
