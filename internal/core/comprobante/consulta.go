package comprobante

import (
	"strings"
	"unicode/utf8"

	"3tcapital/ms_facturacion_pe/internal/core/gateway"
)

// Consulta identifies an issued document.
type Consulta struct {
	Tipo   string `json:"tipo"`
	Serie  string `json:"serie"`
	Numero string `json:"numero"`
}

// Anulacion requests the voiding of an issued document.
type Anulacion struct {
	Consulta
	Motivo      string `json:"motivo"`
	CodigoUnico string `json:"codigo_unico,omitempty"`
}

const (
	MinMotivoLength = 5
	MaxMotivoLength = 200
)

// ValidateConsulta builds the consultar_comprobante payload.
func ValidateConsulta(c Consulta) (Payload, error) {
	return c.payload(OperacionConsultar)
}

// ValidateAnulacion builds the anular_comprobante payload. The motivo must be 5 to 200 characters.
func ValidateAnulacion(a Anulacion) (Payload, error) {
	p, err := a.payload(OperacionAnular)
	if err != nil {
		return nil, err
	}

	motivo := strings.TrimSpace(a.Motivo)
	n := utf8.RuneCountInString(motivo)
	if n < MinMotivoLength || n > MaxMotivoLength {
		return nil, gateway.NewValidationError("motivo", "motivo debe tener entre 5 y 200 caracteres")
	}
	p["motivo"] = motivo
	if codigo := strings.TrimSpace(a.CodigoUnico); codigo != "" {
		p["codigo_unico"] = codigo
	}
	return p, nil
}

func (c Consulta) payload(op Operation) (Payload, error) {
	tipo := strings.TrimSpace(c.Tipo)
	if !tipoPattern.MatchString(tipo) {
		return nil, gateway.NewValidationError("tipo", "tipo de comprobante debe tener 1 o 2 dígitos")
	}
	serie := strings.ToUpper(strings.TrimSpace(c.Serie))
	if !seriePattern.MatchString(serie) {
		return nil, gateway.NewValidationError("serie", "serie debe tener 4 caracteres alfanuméricos")
	}
	numero := strings.TrimSpace(c.Numero)
	if !numeroPattern.MatchString(numero) {
		return nil, gateway.NewValidationError("numero", "numero debe tener entre 1 y 8 dígitos")
	}

	return Payload{
		"operacion":           string(op),
		"tipo_de_comprobante": tipo,
		"serie":               serie,
		"numero":              numero,
	}, nil
}
