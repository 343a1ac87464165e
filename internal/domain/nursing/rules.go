package nursing

import (
	"math"
	"regexp"
	"strconv"

	"github.com/ehr/medforms/internal/platform/fieldrule"
)

var (
	nandaPattern  = regexp.MustCompile(`^\d{5}$`)
	nocNicPattern = regexp.MustCompile(`^\d{4}$`)
	targetPattern = regexp.MustCompile(`^[1-5]$`)
)

// Rules is the static field rule table of the nursing form.
var Rules = fieldrule.Table{
	FieldPatientID:  {Label: "El paciente", Required: true},
	FieldUserID:     {Label: "El profesional", Required: true},
	FieldValoracion: {Label: "La valoración", Required: true, MinLength: 20, MaxLength: 5000},

	FieldNandaCodigo:   {Label: "El código NANDA", Required: true, Pattern: nandaPattern, Message: "El código NANDA debe tener 5 dígitos"},
	FieldNandaEtiqueta: {Label: "La etiqueta NANDA", Required: true, MinLength: 3},

	FieldNocCodigo:    {Label: "El código NOC", Required: true, Pattern: nocNicPattern, Message: "El código NOC debe tener 4 dígitos"},
	FieldNocIndicador: {Label: "Los indicadores NOC", MinItems: 1, Message: "Debe registrar al menos un indicador NOC"},

	FieldNocIndicador + ".*":     {Label: "El indicador NOC", Required: true, MinLength: 3},
	FieldNocRango + ".*":         {Label: "El rango NOC", Required: true},
	FieldNocDianaInicial + ".*":  {Label: "La diana inicial", Required: true, Pattern: targetPattern, Message: "La diana inicial debe ser un valor entre 1 y 5"},
	FieldNocDianaEsperada + ".*": {Label: "La diana esperada", Required: true, Pattern: targetPattern, Message: "La diana esperada debe ser un valor entre 1 y 5"},

	FieldNicCodigo:       {Label: "El código NIC", Required: true, Pattern: nocNicPattern, Message: "El código NIC debe tener 4 dígitos"},
	FieldNicIntervencion: {Label: "La intervención NIC", Required: true, MinLength: 3},

	FieldObservaciones: {Label: "Las observaciones", MaxLength: 5000},
}

// ValidateField checks one field value against the rule table.
func ValidateField(field string, value any) fieldrule.Result {
	return Rules.Validate(field, value)
}

// FieldValues flattens f into path → value, list elements keyed by index.
func FieldValues(f Form) map[string]any {
	values := map[string]any{}
	for _, key := range []string{
		FieldPatientID, FieldUserID, FieldValoracion,
		FieldNandaCodigo, FieldNandaEtiqueta, FieldNandaRelacionadoCon, FieldNandaManifestadoPor,
		FieldNocCodigo, FieldNocResultado, FieldNicCodigo, FieldNicIntervencion,
		FieldEvaluacion, FieldObservaciones,
	} {
		values[key] = *f.scalar(key)
	}
	for _, key := range []string{FieldNocIndicador, FieldNocRango, FieldNocDianaInicial, FieldNocDianaEsperada, FieldNicActividades} {
		items := *f.list(key)
		values[key] = items
		for i, v := range items {
			values[key+"."+strconv.Itoa(i)] = v
		}
	}
	return values
}

// ValidateFields validates every leaf of f under prefix ("" or "*" for all).
func ValidateFields(f Form, prefix string) map[string]fieldrule.Result {
	return Rules.ValidateValues(FieldValues(f), prefix)
}

// Parse runs the full schema over f. On failure it returns a
// *fieldrule.SchemaError with the failing fields.
func Parse(f Form) error {
	return Rules.Parse(FieldValues(f))
}

// Progress returns the share of the required care-plan sections that are
// filled in, as a rounded percentage.
func Progress(f Form) int {
	checks := []bool{
		!fieldrule.IsEmpty(f.PatientID),
		!fieldrule.IsEmpty(f.UserID),
		!fieldrule.IsEmpty(f.Valoracion),
		!fieldrule.IsEmpty(f.NandaCodigo),
		!fieldrule.IsEmpty(f.NocCodigo),
		!fieldrule.IsEmpty(f.NicCodigo),
		len(f.NocIndicador) > 0,
	}
	done := 0
	for _, c := range checks {
		if c {
			done++
		}
	}
	return percent(done, len(checks))
}

func percent(done, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(done) * 100 / float64(total)))
}
