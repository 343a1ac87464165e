package cds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/medforms/internal/domain/medform"
)

func dx(code string) []medform.Diagnosis {
	return []medform.Diagnosis{{Description: "dx", CIE10: code, Presumptive: true}}
}

func coherenceAlerts(alerts []Alert) []Alert {
	var out []Alert
	for _, a := range alerts {
		if a.Category == CategoryCoherence {
			out = append(out, a)
		}
	}
	return out
}

func TestCheckDiagnosisCoherence_SymptomMatch(t *testing.T) {
	kb := DefaultKnowledge()
	exam := map[string]string{"respiratorio": "Auscultación con sibilancias espiratorias"}

	alerts := CheckDiagnosisCoherence(dx("J44"), "Paciente con disnea de esfuerzo", exam, kb, CoherenceOptions{})
	assert.Empty(t, alerts)

	alerts = CheckDiagnosisCoherence(dx("J44"), "dolor de rodilla", exam, kb, CoherenceOptions{})
	require.Len(t, alerts, 1)
	assert.Equal(t, SeverityMedium, alerts[0].Severity)
	assert.Equal(t, AlertWarning, alerts[0].Type)
	assert.Equal(t, CategoryCoherence, alerts[0].Category)
	assert.Contains(t, alerts[0].Message, "disnea")
}

func TestCheckDiagnosisCoherence_CaseAndAccentInsensitive(t *testing.T) {
	kb := DefaultKnowledge()
	exam := map[string]string{"abdomen": "ABDOMEN doloroso en FID"}
	alerts := CheckDiagnosisCoherence(dx("k35"), "DOLOR ABDOMINAL y nauseas", exam, kb, CoherenceOptions{})
	assert.Empty(t, alerts)
}

func TestCheckDiagnosisCoherence_RequiredExam(t *testing.T) {
	kb := DefaultKnowledge()
	alerts := CheckDiagnosisCoherence(dx("N39"), "disuria de tres días", map[string]string{}, kb, CoherenceOptions{})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertInfo, alerts[0].Type)
	assert.Equal(t, SeverityLow, alerts[0].Severity)
	assert.Equal(t, CategoryDiagnosis, alerts[0].Category)
	assert.Contains(t, alerts[0].Message, "puñopercusión")

	exam := map[string]string{"renal": "Punopercusion negativa bilateral"}
	assert.Empty(t, CheckDiagnosisCoherence(dx("N39"), "disuria", exam, kb, CoherenceOptions{}))
}

func TestCheckDiagnosisCoherence_CategoryPrefix(t *testing.T) {
	kb := DefaultKnowledge()
	alerts := CheckDiagnosisCoherence(dx("J44.9"), "dolor de rodilla", map[string]string{"torax": "auscultación normal"}, kb, CoherenceOptions{})
	assert.Len(t, coherenceAlerts(alerts), 1)
}

func TestCheckDiagnosisCoherence_UnknownCodes(t *testing.T) {
	kb := DefaultKnowledge()

	assert.Empty(t, CheckDiagnosisCoherence(dx("Z99"), "lo que sea", nil, kb, CoherenceOptions{}))

	alerts := CheckDiagnosisCoherence(dx("Z99"), "lo que sea", nil, kb, CoherenceOptions{FlagUnknownCodes: true})
	require.Len(t, alerts, 1)
	assert.Equal(t, SeverityLow, alerts[0].Severity)
	assert.Equal(t, "diagnoses.0.cie10", alerts[0].Field)
}

func TestCheckDiagnosisCoherence_EmptyCodesSkipped(t *testing.T) {
	alerts := CheckDiagnosisCoherence(dx("  "), "", nil, DefaultKnowledge(), CoherenceOptions{FlagUnknownCodes: true})
	assert.Empty(t, alerts)
}

func TestKnowledgeBase_Lookup(t *testing.T) {
	kb := DefaultKnowledge()
	e, ok := kb.Lookup(" j44.1 ")
	require.True(t, ok)
	assert.Equal(t, "J44", e.Code)

	_, ok = kb.Lookup("X00.0")
	assert.False(t, ok)
	_, ok = kb.Lookup("")
	assert.False(t, ok)
	assert.Len(t, kb.Entries(), 7)
}
