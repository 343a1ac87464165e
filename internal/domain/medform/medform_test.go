package medform

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validForm() Form {
	f := NewForm("pat-1", "doc-1")
	f.ConsultationReason = "Dolor torácico opresivo"
	f.CurrentIllness = "Paciente refiere dolor torácico de dos horas de evolución"
	f.TreatmentPlan = "Reposo y control en 24 horas"
	f.Diagnoses = DiagnosisList{{Description: "Angina inestable", CIE10: "I20.0", Presumptive: true}}
	return f
}

func TestNewForm_Defaults(t *testing.T) {
	f := NewForm("p", "u")
	require.NotNil(t, f.VitalSigns.Temperature)
	assert.Equal(t, DefaultTemperature, *f.VitalSigns.Temperature)
	assert.Equal(t, DefaultBloodPressure, f.VitalSigns.BloodPressure)
	require.Len(t, f.Diagnoses, 1)
	assert.True(t, f.Diagnoses[0].Presumptive)
	assert.True(t, f.VitalSigns.Recorded())
}

func TestClone_IsDeep(t *testing.T) {
	f := validForm()
	f.Allergies = []string{"penicilina"}
	f.PhysicalExam = map[string]string{"torax": "normal"}
	cif := "b280"
	f.Diagnoses[0].CIF = &cif

	c := Clone(f)
	c.Allergies[0] = "otra"
	c.PhysicalExam["torax"] = "alterado"
	*c.VitalSigns.Temperature = 40
	*c.Diagnoses[0].CIF = "x"
	c.Diagnoses[0].CIE10 = "Z00"

	assert.Equal(t, "penicilina", f.Allergies[0])
	assert.Equal(t, "normal", f.PhysicalExam["torax"])
	assert.Equal(t, DefaultTemperature, *f.VitalSigns.Temperature)
	assert.Equal(t, "b280", *f.Diagnoses[0].CIF)
	assert.Equal(t, "I20.0", f.Diagnoses[0].CIE10)
}

func TestApply(t *testing.T) {
	f := NewForm("p", "u")

	require.NoError(t, Apply(&f, "currentIllness", "texto"))
	assert.Equal(t, "texto", f.CurrentIllness)

	require.NoError(t, Apply(&f, "vitalSigns.heartRate", 72.0))
	assert.Equal(t, 72.0, *f.VitalSigns.HeartRate)

	require.NoError(t, Apply(&f, "vitalSigns.temperature", "37,5"))
	assert.Equal(t, 37.5, *f.VitalSigns.Temperature)

	require.NoError(t, Apply(&f, "vitalSigns.weight", nil))
	assert.Nil(t, f.VitalSigns.Weight)

	require.NoError(t, Apply(&f, "allergies.0", "látex"))
	assert.Equal(t, []string{"látex"}, f.Allergies)

	require.NoError(t, Apply(&f, "physicalExam.abdomen", "blando"))
	assert.Equal(t, "blando", f.PhysicalExam["abdomen"])

	require.NoError(t, Apply(&f, "diagnoses.0.cie10", " j44.9 "))
	assert.Equal(t, "J44.9", f.Diagnoses[0].CIE10)

	require.NoError(t, Apply(&f, "diagnoses.1", map[string]any{"description": "HTA", "cie10": "I10", "definitive": true}))
	require.Len(t, f.Diagnoses, 2)
	assert.True(t, f.Diagnoses[1].Definitive)

	require.NoError(t, Apply(&f, "vitalSigns", map[string]any{"heartRate": 90.0}))
	assert.Nil(t, f.VitalSigns.Temperature)
	assert.Equal(t, 90.0, *f.VitalSigns.HeartRate)
}

func TestApply_Errors(t *testing.T) {
	f := NewForm("p", "u")
	assert.True(t, errors.Is(Apply(&f, "nope", "x"), ErrUnknownField))
	assert.True(t, errors.Is(Apply(&f, "vitalSigns.pulse", 1.0), ErrUnknownField))
	assert.True(t, errors.Is(Apply(&f, "vitalSigns.heartRate", "abc"), ErrInvalidValue))
	assert.True(t, errors.Is(Apply(&f, "diagnoses.5.cie10", "I10"), ErrInvalidValue))
	assert.True(t, errors.Is(Apply(&f, "diagnoses.0.presumptive", "yes"), ErrInvalidValue))
	assert.True(t, errors.Is(Apply(&f, "currentIllness", 3), ErrInvalidValue))
}

func TestApply_RejectedWriteLeavesDiagnosesUntouched(t *testing.T) {
	f := NewForm("p", "u")
	require.NoError(t, Apply(&f, "diagnoses.0.cie10", "i20.0"))
	before := append(DiagnosisList(nil), f.Diagnoses...)
	n := len(f.Diagnoses)

	assert.True(t, errors.Is(Apply(&f, fmt.Sprintf("diagnoses.%d.presumptive", n), "yes"), ErrInvalidValue))
	assert.True(t, errors.Is(Apply(&f, fmt.Sprintf("diagnoses.%d.bogus", n), "x"), ErrUnknownField))
	assert.Error(t, Apply(&f, fmt.Sprintf("diagnoses.%d", n), "not an entry"))
	assert.True(t, errors.Is(Apply(&f, "diagnoses.0.definitive", 1), ErrInvalidValue))
	assert.Equal(t, before, f.Diagnoses)

	require.NoError(t, Apply(&f, fmt.Sprintf("diagnoses.%d.description", n), "Hipertensión"))
	require.Len(t, f.Diagnoses, n+1)
	assert.Equal(t, "Hipertensión", f.Diagnoses[n].Description)
	assert.Equal(t, "I20.0", f.Diagnoses[0].CIE10)
}

func TestValidateField(t *testing.T) {
	tests := []struct {
		field string
		value any
		valid bool
	}{
		{"consultationReason", "corto", false},
		{"consultationReason", "Dolor abdominal difuso", true},
		{"currentIllness", "", false},
		{"vitalSigns.temperature", 37.0, true},
		{"vitalSigns.temperature", 50.0, false},
		{"vitalSigns.temperature", nil, true},
		{"vitalSigns.heartRate", "abc", false},
		{"vitalSigns.bloodPressure", "120/80", true},
		{"vitalSigns.bloodPressure", "120-80", false},
		{"diagnoses.3.cie10", "J44.9", true},
		{"diagnoses.0.cie10", "44J", false},
		{"diagnoses", DiagnosisList{}, false},
		{"observations", "", true},
		{"unknownField", "anything", true},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			res := ValidateField(tt.field, tt.value)
			assert.Equal(t, tt.field, res.Field)
			assert.Equal(t, tt.valid, res.IsValid, res.Error)
			if !tt.valid {
				assert.NotEmpty(t, res.Error)
			}
		})
	}
}

func TestValidateField_Idempotent(t *testing.T) {
	a := ValidateField("currentIllness", "breve")
	b := ValidateField("currentIllness", "breve")
	assert.Equal(t, a, b)
}

func TestValidateFields_Prefix(t *testing.T) {
	f := validForm()
	res := ValidateFields(f, "vitalSigns")
	assert.Contains(t, res, "vitalSigns.temperature")
	assert.NotContains(t, res, "currentIllness")
	for path := range res {
		assert.Regexp(t, `^vitalSigns\.`, path)
	}
}

func TestParse(t *testing.T) {
	require.NoError(t, Parse(validForm()))

	f := validForm()
	f.CurrentIllness = "corto"
	f.Diagnoses[0].CIE10 = ""
	err := Parse(f)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Fields, "currentIllness")
	assert.Contains(t, se.Fields, "diagnoses.0.cie10")
	assert.Contains(t, se.Error(), "currentIllness")
}

func TestValidateCoherence(t *testing.T) {
	assert.True(t, ValidateCoherence(validForm()).IsValid)

	f := validForm()
	f.Diagnoses = nil
	res := ValidateCoherence(f)
	assert.False(t, res.IsValid)
	assert.Len(t, res.Errors, 1)

	f = validForm()
	f.Diagnoses = append(f.Diagnoses, Diagnosis{Description: "HTA", CIE10: "I10"})
	res = ValidateCoherence(f)
	assert.False(t, res.IsValid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "2")

	f.Diagnoses[1].Presumptive = true
	f.Diagnoses[1].Definitive = true
	assert.True(t, ValidateCoherence(f).IsValid)
}
