package comprobante

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"3tcapital/ms_facturacion_pe/internal/core/gateway"
)

// Operation is the operation tag carried in the "operacion" field.
type Operation string

const (
	OperacionGenerar   Operation = "generar_comprobante"
	OperacionConsultar Operation = "consultar_comprobante"
	OperacionAnular    Operation = "anular_comprobante"
)

// Valid reports whether op is one of the recognized operations.
func (op Operation) Valid() bool {
	switch op {
	case OperacionGenerar, OperacionConsultar, OperacionAnular:
		return true
	}
	return false
}

// TipoDocumentoRUC is the SUNAT identity-document code for a RUC.
const TipoDocumentoRUC = "6"

// Tolerance is the allowed difference when comparing amounts.
var Tolerance = decimal.New(1, -2)

const (
	DefaultPorcentajeIGV = "18.00"
	DefaultMoneda        = "1"
	zeroAmount           = "0.00"
)

var (
	rucPattern          = regexp.MustCompile(`^\d{11}$`)
	dniPattern          = regexp.MustCompile(`^\d{8}$`)
	seriePattern        = regexp.MustCompile(`^[A-Z0-9]{4}$`)
	numeroPattern       = regexp.MustCompile(`^\d{1,8}$`)
	tipoPattern         = regexp.MustCompile(`^\d{1,2}$`)
	monedaPattern       = regexp.MustCompile(`^\d$`)
	unidadMedidaPattern = regexp.MustCompile(`^[A-Z0-9]{2,5}$`)
)

var (
	requiredAmounts = []string{"total_gravada", "total_igv", "total"}
	optionalAmounts = []string{
		"total_gratuita", "total_otros_cargos", "total_descuentos", "descuento_global",
		"total_anticipo", "total_isc", "tipo_de_cambio",
	}
	itemAmounts = []string{"cantidad", "valor_unitario", "precio_unitario", "subtotal", "igv", "total"}
)

// Payload is a validated, wire-ready request body.
type Payload map[string]any

// Operation returns the operation tag of the payload.
func (p Payload) Operation() Operation {
	op, _ := p["operacion"].(string)
	return Operation(op)
}

// Items returns the item maps of the payload.
func (p Payload) Items() []map[string]any {
	items, _ := p["items"].([]map[string]any)
	return items
}

// ValidateRUC checks that a RUC is exactly 11 decimal digits.
func ValidateRUC(ruc string) error {
	return validateRUCField("ruc", ruc)
}

// ValidateDNI checks that a DNI is exactly 8 decimal digits.
func ValidateDNI(dni string) error {
	if !dniPattern.MatchString(strings.TrimSpace(dni)) {
		return gateway.NewValidationError("dni", "DNI debe tener 8 dígitos")
	}
	return nil
}

func validateRUCField(field, ruc string) error {
	if !rucPattern.MatchString(strings.TrimSpace(ruc)) {
		return gateway.NewValidationError(field, "RUC debe tener 11 dígitos")
	}
	return nil
}

// ValidateGenerar runs the full pipeline for a document emission payload:
// numeric stringification, date normalization, RUC format, envelope rules,
// totals consistency and operation tag.
func ValidateGenerar(raw map[string]any) (Payload, error) {
	if len(raw) == 0 {
		return nil, gateway.NewValidationError("payload", "El cuerpo del comprobante es requerido")
	}
	p := clonePayload(raw)

	if err := stringifyNumerics(p); err != nil {
		return nil, err
	}
	if err := normalizeDates(p); err != nil {
		return nil, err
	}
	if err := checkCliente(p); err != nil {
		return nil, err
	}
	if err := checkEnvelope(p); err != nil {
		return nil, err
	}
	if err := CheckTotals(p); err != nil {
		return nil, err
	}
	if err := applyOperation(p, OperacionGenerar); err != nil {
		return nil, err
	}
	return p, nil
}

func stringifyNumerics(p Payload) error {
	for _, field := range []string{"tipo_de_comprobante", "numero", "sunat_transaction"} {
		s, err := StringifyNumeric(field, p[field])
		if err != nil {
			return err
		}
		p[field] = s
	}

	for _, field := range requiredAmounts {
		s, err := StringifyNumeric(field, p[field])
		if err != nil {
			return err
		}
		p[field] = s
	}

	defaults := map[string]string{
		"porcentaje_de_igv": DefaultPorcentajeIGV,
		"total_inafecta":    zeroAmount,
		"total_exonerada":   zeroAmount,
	}
	for field, def := range defaults {
		if isBlank(p[field]) {
			p[field] = def
			continue
		}
		s, err := StringifyNumeric(field, p[field])
		if err != nil {
			return err
		}
		p[field] = s
	}

	for _, field := range optionalAmounts {
		if isBlank(p[field]) {
			continue
		}
		s, err := StringifyNumeric(field, p[field])
		if err != nil {
			return err
		}
		p[field] = s
	}

	items := p.Items()
	if len(items) == 0 {
		return gateway.NewValidationError("items", "El comprobante debe tener al menos un item")
	}
	for i, item := range items {
		for _, field := range itemAmounts {
			s, err := StringifyNumeric(field, item[field])
			if err != nil {
				return itemError(i, err)
			}
			item[field] = s
		}
		if !isBlank(item["descuento"]) {
			s, err := StringifyNumeric("descuento", item["descuento"])
			if err != nil {
				return itemError(i, err)
			}
			item["descuento"] = s
		}
	}
	return nil
}

func normalizeDates(p Payload) error {
	emision, err := parseDate("fecha_de_emision", p["fecha_de_emision"])
	if err != nil {
		return err
	}
	p["fecha_de_emision"] = emision.Format(DateLayout)

	if isBlank(p["fecha_de_vencimiento"]) {
		delete(p, "fecha_de_vencimiento")
		return nil
	}
	vencimiento, err := parseDate("fecha_de_vencimiento", p["fecha_de_vencimiento"])
	if err != nil {
		return err
	}
	if vencimiento.Before(emision) {
		return gateway.NewValidationError("fecha_de_vencimiento", "La fecha de vencimiento no puede ser anterior a la fecha de emisión")
	}
	p["fecha_de_vencimiento"] = vencimiento.Format(DateLayout)
	return nil
}

func checkCliente(p Payload) error {
	tipo := asString(p["cliente_tipo_de_documento"])
	numero := asString(p["cliente_numero_de_documento"])
	if numero == "" {
		return gateway.NewValidationError("cliente_numero_de_documento", "cliente_numero_de_documento es requerido")
	}
	if tipo == "" || tipo == TipoDocumentoRUC {
		if err := validateRUCField("cliente_numero_de_documento", numero); err != nil {
			return err
		}
	}
	if utf8.RuneCountInString(numero) > 15 {
		return gateway.NewValidationError("cliente_numero_de_documento", "cliente_numero_de_documento no puede exceder 15 caracteres")
	}
	if tipo != "" {
		p["cliente_tipo_de_documento"] = tipo
	}
	p["cliente_numero_de_documento"] = numero
	return nil
}

func checkEnvelope(p Payload) error {
	serie := strings.ToUpper(asString(p["serie"]))
	if !seriePattern.MatchString(serie) {
		return gateway.NewValidationError("serie", "serie debe tener 4 caracteres alfanuméricos")
	}
	p["serie"] = serie

	if !numeroPattern.MatchString(asString(p["numero"])) {
		return gateway.NewValidationError("numero", "numero debe tener entre 1 y 8 dígitos")
	}
	if !tipoPattern.MatchString(asString(p["tipo_de_comprobante"])) {
		return gateway.NewValidationError("tipo_de_comprobante", "tipo de comprobante debe tener 1 o 2 dígitos")
	}

	denominacion := asString(p["cliente_denominacion"])
	if denominacion == "" {
		return gateway.NewValidationError("cliente_denominacion", "cliente_denominacion es requerido")
	}
	limits := []struct {
		field string
		max   int
	}{
		{"cliente_denominacion", 100},
		{"cliente_direccion", 100},
		{"cliente_email", 250},
	}
	for _, l := range limits {
		if err := maxLength(p, l.field, l.max); err != nil {
			return err
		}
	}

	moneda := asString(p["moneda"])
	if moneda == "" {
		moneda = DefaultMoneda
	}
	if !monedaPattern.MatchString(moneda) {
		return gateway.NewValidationError("moneda", "moneda debe ser un dígito")
	}
	p["moneda"] = moneda

	if _, ok := p["enviar_automaticamente_a_la_sunat"].(bool); !ok {
		p["enviar_automaticamente_a_la_sunat"] = true
	}
	if _, ok := p["enviar_automaticamente_al_cliente"].(bool); !ok {
		p["enviar_automaticamente_al_cliente"] = false
	}

	for i, item := range p.Items() {
		if err := checkItem(item); err != nil {
			return itemError(i, err)
		}
	}
	return nil
}

func checkItem(item map[string]any) error {
	unidad := strings.ToUpper(asString(item["unidad_de_medida"]))
	if !unidadMedidaPattern.MatchString(unidad) {
		return gateway.NewValidationError("unidad_de_medida", "unidad_de_medida debe tener entre 2 y 5 caracteres alfanuméricos")
	}
	item["unidad_de_medida"] = unidad

	descripcion := asString(item["descripcion"])
	if descripcion == "" {
		return gateway.NewValidationError("descripcion", "descripcion es requerido")
	}
	for field, max := range map[string]int{"descripcion": 250, "codigo": 250, "codigo_producto_sunat": 8} {
		if err := maxLength(item, field, max); err != nil {
			return err
		}
	}

	tipoIGV := asString(item["tipo_de_igv"])
	if !tipoPattern.MatchString(tipoIGV) {
		return gateway.NewValidationError("tipo_de_igv", "tipo_de_igv debe tener 1 o 2 dígitos")
	}
	item["tipo_de_igv"] = tipoIGV
	return nil
}

// CheckTotals verifies that item totals add up to the document total and that
// total_gravada × porcentaje_de_igv / 100 matches total_igv, both within Tolerance.
func CheckTotals(p Payload) error {
	total, err := ParseAmount("total", p["total"])
	if err != nil {
		return err
	}

	sum := decimal.Zero
	for i, item := range p.Items() {
		itemTotal, err := ParseAmount("total", item["total"])
		if err != nil {
			return itemError(i, err)
		}
		sum = sum.Add(itemTotal)
	}
	if sum.Sub(total).Abs().GreaterThan(Tolerance) {
		return gateway.NewValidationError("total", fmt.Sprintf(
			"La suma de los items (%s) no coincide con el total (%s)", sum.StringFixed(2), total.StringFixed(2)))
	}

	gravada, err := ParseAmount("total_gravada", p["total_gravada"])
	if err != nil {
		return err
	}
	porcentaje, err := ParseAmount("porcentaje_de_igv", p["porcentaje_de_igv"])
	if err != nil {
		return err
	}
	igv, err := ParseAmount("total_igv", p["total_igv"])
	if err != nil {
		return err
	}
	expected := gravada.Mul(porcentaje).Div(decimal.NewFromInt(100))
	if expected.Sub(igv).Abs().GreaterThan(Tolerance) {
		return gateway.NewValidationError("total_igv", fmt.Sprintf(
			"total_igv (%s) no coincide con total_gravada × porcentaje_de_igv (%s)", igv.StringFixed(2), expected.StringFixed(2)))
	}
	return nil
}

func applyOperation(p Payload, fallback Operation) error {
	raw := asString(p["operacion"])
	if raw == "" {
		p["operacion"] = string(fallback)
		return nil
	}
	op := Operation(raw)
	if !op.Valid() {
		return gateway.NewValidationError("operacion", fmt.Sprintf("operacion %q no reconocida", raw))
	}
	p["operacion"] = raw
	return nil
}

func maxLength(m map[string]any, field string, max int) error {
	s := asString(m[field])
	if utf8.RuneCountInString(s) > max {
		return gateway.NewValidationError(field, fmt.Sprintf("%s no puede exceder %d caracteres", field, max))
	}
	return nil
}

func itemError(index int, err error) error {
	if ve, ok := err.(*gateway.ValidationError); ok {
		return gateway.NewValidationError(
			fmt.Sprintf("items[%d].%s", index, ve.Field),
			fmt.Sprintf("item %d: %s", index+1, ve.Message),
		)
	}
	return err
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// asString renders scalars as trimmed strings. Whole floats lose their fraction.
func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprint(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// clonePayload copies the top level and every item so validation never mutates the caller's map.
func clonePayload(raw map[string]any) Payload {
	p := make(Payload, len(raw))
	for k, v := range raw {
		p[k] = v
	}

	var items []map[string]any
	switch src := raw["items"].(type) {
	case []map[string]any:
		for _, it := range src {
			items = append(items, cloneMap(it))
		}
	case []any:
		for _, it := range src {
			m, ok := it.(map[string]any)
			if !ok {
				items = append(items, map[string]any{})
				continue
			}
			items = append(items, cloneMap(m))
		}
	}
	if items != nil {
		p["items"] = items
	}
	return p
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
