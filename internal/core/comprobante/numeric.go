package comprobante

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"3tcapital/ms_facturacion_pe/internal/core/gateway"
)

// integerFields are identifiers that travel as integer strings.
var integerFields = map[string]bool{
	"tipo_de_comprobante": true,
	"numero":              true,
	"sunat_transaction":   true,
}

var plainDecimal = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// StringifyNumeric coerces a numeric value to its canonical string form.
// Plain decimal strings are kept (trimmed); any other accepted spelling, such as
// exponent form, is re-rendered. Amounts render with at least two decimals;
// identifier fields render as integers.
func StringifyNumeric(field string, v any) (string, error) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return "", gateway.NewValidationError(field, fmt.Sprintf("%s es requerido", field))
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return "", notNumeric(field)
		}
		if integerFields[field] && !d.IsInteger() {
			return "", gateway.NewValidationError(field, fmt.Sprintf("%s debe ser un número entero", field))
		}
		if plainDecimal.MatchString(s) {
			return s, nil
		}
		if integerFields[field] {
			return d.String(), nil
		}
		return formatAmount(d), nil
	}

	d, err := toDecimal(field, v)
	if err != nil {
		return "", err
	}

	if integerFields[field] {
		if !d.IsInteger() {
			return "", gateway.NewValidationError(field, fmt.Sprintf("%s debe ser un número entero", field))
		}
		return d.String(), nil
	}
	return formatAmount(d), nil
}

// ParseAmount reads a stringified numeric field back as a decimal.
func ParseAmount(field string, v any) (decimal.Decimal, error) {
	if s, ok := v.(string); ok {
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return decimal.Zero, notNumeric(field)
		}
		return d, nil
	}
	return toDecimal(field, v)
}

func toDecimal(field string, v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case nil:
		return decimal.Zero, gateway.NewValidationError(field, fmt.Sprintf("%s es requerido", field))
	case decimal.Decimal:
		return n, nil
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero, notNumeric(field)
		}
		return d, nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero, notNumeric(field)
		}
		return decimal.NewFromFloat(n), nil
	case float32:
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			return decimal.Zero, notNumeric(field)
		}
		return decimal.NewFromFloat32(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int32:
		return decimal.NewFromInt32(n), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case uint:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(n)), 0), nil
	case uint32:
		return decimal.NewFromInt(int64(n)), nil
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(n), 0), nil
	default:
		return decimal.Zero, notNumeric(field)
	}
}

func formatAmount(d decimal.Decimal) string {
	if d.Exponent() >= -2 {
		return d.StringFixed(2)
	}
	return d.String()
}

func notNumeric(field string) error {
	return gateway.NewValidationError(field, fmt.Sprintf("%s debe ser numérico", field))
}
