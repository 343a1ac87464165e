package medform

import (
	"regexp"
	"strconv"

	"github.com/ehr/medforms/internal/platform/fieldrule"
)

// FieldResult is the outcome of validating a single field.
type FieldResult = fieldrule.Result

var (
	bloodPressurePattern = regexp.MustCompile(`^\s*\d{2,3}\s*/\s*\d{2,3}\s*$`)
	cie10Pattern         = regexp.MustCompile(`^[A-Za-z][0-9]{2}(\.[0-9A-Za-z]{1,4})?$`)
)

func bounds(min, max float64) (lo, hi *float64) {
	return fieldrule.Bounds(min, max)
}

// Rules is the static field rule table of the medical form. The numeric
// bounds are absolute physiological limits; whether a value is clinically
// normal is decided by the vital-signs checker.
var Rules = buildRules()

func buildRules() fieldrule.Table {
	t := fieldrule.Table{
		FieldPatientID:          {Label: "El paciente", Required: true},
		FieldUserID:             {Label: "El profesional", Required: true},
		FieldConsultationReason: {Label: "El motivo de consulta", Required: true, MinLength: 10, MaxLength: 2000},
		FieldCurrentIllness:     {Label: "La enfermedad actual", Required: true, MinLength: 20, MaxLength: 5000},
		FieldTreatmentPlan:      {Label: "El plan de tratamiento", Required: true, MinLength: 10, MaxLength: 5000},
		FieldObservations:       {Label: "Las observaciones", MaxLength: 5000},
		FieldDiagnoses:          {Label: "La lista de diagnósticos", MinItems: 1, Message: "Debe registrar al menos un diagnóstico"},

		"vitalSigns.bloodPressure": {Label: "La presión arterial", Pattern: bloodPressurePattern,
			Message: "La presión arterial debe tener el formato sistólica/diastólica (ej. 120/80)"},

		"diagnoses.*.description": {Label: "La descripción del diagnóstico", Required: true, MinLength: 3},
		"diagnoses.*.cie10":       {Label: "El código CIE-10", Required: true, Pattern: cie10Pattern},
	}
	numeric := []struct {
		key      string
		label    string
		min, max float64
	}{
		{"temperature", "La temperatura", 30, 45},
		{"heartRate", "La frecuencia cardíaca", 30, 250},
		{"respiratoryRate", "La frecuencia respiratoria", 5, 80},
		{"oxygenSaturation", "La saturación de oxígeno", 50, 100},
		{"weight", "El peso", 0.5, 500},
		{"height", "La talla", 30, 250},
		{"bmi", "El IMC", 10, 80},
	}
	for _, n := range numeric {
		lo, hi := bounds(n.min, n.max)
		t["vitalSigns."+n.key] = fieldrule.Rule{Label: n.label, Numeric: true, Min: lo, Max: hi}
	}
	return t
}

// ValidateField checks one field value against the rule table. Fields
// without a rule pass.
func ValidateField(field string, value any) FieldResult {
	return Rules.Validate(field, value)
}

// FieldValues flattens f into path → value for every leaf the UI can edit.
// Vital signs are keyed individually, diagnoses by index.
func FieldValues(f Form) map[string]any {
	values := map[string]any{
		FieldPatientID:          f.PatientID,
		FieldUserID:             f.UserID,
		FieldConsultationReason: f.ConsultationReason,
		FieldCurrentIllness:     f.CurrentIllness,
		FieldTreatmentPlan:      f.TreatmentPlan,
		FieldObservations:       f.Observations,
		FieldPersonalHistory:    f.PersonalHistory,
		FieldFamilyHistory:      f.FamilyHistory,
		FieldAllergies:          f.Allergies,
		FieldMedications:        f.Medications,
		FieldDiagnoses:          f.Diagnoses,

		"vitalSigns.temperature":      f.VitalSigns.Temperature,
		"vitalSigns.heartRate":        f.VitalSigns.HeartRate,
		"vitalSigns.bloodPressure":    f.VitalSigns.BloodPressure,
		"vitalSigns.respiratoryRate":  f.VitalSigns.RespiratoryRate,
		"vitalSigns.oxygenSaturation": f.VitalSigns.OxygenSaturation,
		"vitalSigns.weight":           f.VitalSigns.Weight,
		"vitalSigns.height":           f.VitalSigns.Height,
		"vitalSigns.bmi":              f.VitalSigns.BMI,
	}
	for k, v := range f.PhysicalExam {
		values[FieldPhysicalExam+"."+k] = v
	}
	for i, d := range f.Diagnoses {
		p := FieldDiagnoses + "." + strconv.Itoa(i) + "."
		values[p+"description"] = d.Description
		values[p+"cie10"] = d.CIE10
		values[p+"presumptive"] = d.Presumptive
		values[p+"definitive"] = d.Definitive
		if d.CIF != nil {
			values[p+"cif"] = *d.CIF
		}
	}
	return values
}

// ValidateFields validates every leaf of f under prefix ("" or "*" for the
// whole form), returning results keyed by path.
func ValidateFields(f Form, prefix string) map[string]FieldResult {
	return Rules.ValidateValues(FieldValues(f), prefix)
}
