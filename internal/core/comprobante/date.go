package comprobante

import (
	"fmt"
	"strings"
	"time"

	"3tcapital/ms_facturacion_pe/internal/core/gateway"
)

// DateLayout is the canonical wire format for document dates.
const DateLayout = "02-01-2006"

var acceptedDateLayouts = []string{
	DateLayout,
	"2006-01-02",
	time.RFC3339,
}

// NormalizeDate converts DD-MM-YYYY, YYYY-MM-DD or a time.Time to DD-MM-YYYY.
// Normalizing an already normalized value returns it unchanged.
func NormalizeDate(v any) (string, error) {
	t, err := parseDate("fecha", v)
	if err != nil {
		return "", err
	}
	return t.Format(DateLayout), nil
}

func parseDate(field string, v any) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		if d.IsZero() {
			return time.Time{}, gateway.NewValidationError(field, fmt.Sprintf("%s es requerido", field))
		}
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC), nil
	case *time.Time:
		if d == nil {
			return time.Time{}, gateway.NewValidationError(field, fmt.Sprintf("%s es requerido", field))
		}
		return parseDate(field, *d)
	case string:
		raw := strings.TrimSpace(d)
		if raw == "" {
			return time.Time{}, gateway.NewValidationError(field, fmt.Sprintf("%s es requerido", field))
		}
		for _, layout := range acceptedDateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
			}
		}
	}
	return time.Time{}, gateway.NewValidationError(field, fmt.Sprintf("%s debe tener formato DD-MM-YYYY o YYYY-MM-DD", field))
}
