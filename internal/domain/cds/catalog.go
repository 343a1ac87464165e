package cds

import (
	"strings"

	"github.com/ehr/medforms/internal/domain/medform"
	"github.com/ehr/medforms/internal/platform/textmatch"
)

// Catalog is the ordered list of protocol items.
type Catalog []ProtocolItem

// Item returns the item with the given id.
func (c Catalog) Item(id string) (ProtocolItem, bool) {
	for _, it := range c {
		if it.ID == id {
			return it, true
		}
	}
	return ProtocolItem{}, false
}

// Clone returns a copy whose applicability records are not shared.
func (c Catalog) Clone() Catalog {
	out := make(Catalog, len(c))
	for i, it := range c {
		if it.AppliesTo != nil {
			a := *it.AppliesTo
			a.ConsultationTypes = append([]ConsultationType(nil), a.ConsultationTypes...)
			a.RiskLevels = append([]RiskLevel(nil), a.RiskLevels...)
			it.AppliesTo = &a
		}
		out[i] = it
	}
	return out
}

func filled(s string) bool { return strings.TrimSpace(s) != "" }

func minLen(s string, n int) bool { return len([]rune(strings.TrimSpace(s))) >= n }

func anyFilled(list []string) bool {
	for _, s := range list {
		if filled(s) {
			return true
		}
	}
	return false
}

func age(v float64) *float64 { return &v }

// DefaultCatalog returns the compiled-in documentation protocol.
func DefaultCatalog() Catalog {
	return Catalog{
		{
			ID: "consultation_reason", Name: "Motivo de consulta",
			Description: "Motivo de consulta documentado con detalle suficiente",
			Required:    true, Category: ItemDocumentation, Priority: SeverityHigh,
			Check: func(f medform.Form) bool { return minLen(f.ConsultationReason, 10) },
		},
		{
			ID: "current_illness", Name: "Enfermedad actual",
			Description: "Relato de la enfermedad actual con evolución y síntomas",
			Required:    true, Category: ItemDocumentation, Priority: SeverityHigh,
			Check: func(f medform.Form) bool { return minLen(f.CurrentIllness, 20) },
		},
		{
			ID: "vital_signs_complete", Name: "Signos vitales completos",
			Description: "Temperatura, frecuencia cardíaca, presión arterial, frecuencia respiratoria y saturación",
			Required:    true, Category: ItemClinical, Priority: SeverityCritical,
			Check: func(f medform.Form) bool {
				v := f.VitalSigns
				return v.Recorded() && v.RespiratoryRate != nil && v.OxygenSaturation != nil
			},
		},
		{
			ID: "physical_exam", Name: "Examen físico",
			Description: "Al menos un hallazgo del examen físico registrado",
			Required:    true, Category: ItemClinical, Priority: SeverityHigh,
			Check: func(f medform.Form) bool { return len(f.PhysicalExamFindings()) > 0 },
		},
		{
			ID: "diagnosis_cie10", Name: "Diagnóstico codificado CIE-10",
			Description: "Todos los diagnósticos tienen descripción y código CIE-10",
			Required:    true, Category: ItemDocumentation, Priority: SeverityCritical,
			Check: func(f medform.Form) bool {
				if len(f.Diagnoses) == 0 {
					return false
				}
				for _, d := range f.Diagnoses {
					if !d.Complete() {
						return false
					}
				}
				return true
			},
		},
		{
			ID: "treatment_plan", Name: "Plan de tratamiento",
			Description: "Plan terapéutico e indicaciones",
			Required:    true, Category: ItemClinical, Priority: SeverityHigh,
			Check: func(f medform.Form) bool { return minLen(f.TreatmentPlan, 10) },
		},
		{
			ID: "allergies_documented", Name: "Alergias documentadas",
			Description: "Alergias registradas o constancia de que no presenta",
			Required:    true, Category: ItemSafety, Priority: SeverityCritical,
			Check: func(f medform.Form) bool { return anyFilled(f.Allergies) },
		},
		{
			ID: "medications_reconciled", Name: "Medicación habitual",
			Description: "Medicación habitual registrada",
			Required:    false, Category: ItemSafety, Priority: SeverityMedium,
			Check: func(f medform.Form) bool { return anyFilled(f.Medications) },
		},
		{
			ID: "personal_history", Name: "Antecedentes personales",
			Required: false, Category: ItemDocumentation, Priority: SeverityMedium,
			Check: func(f medform.Form) bool { return anyFilled(f.PersonalHistory) },
		},
		{
			ID: "family_history", Name: "Antecedentes familiares",
			Required: false, Category: ItemDocumentation, Priority: SeverityLow,
			Check: func(f medform.Form) bool { return anyFilled(f.FamilyHistory) },
		},
		{
			ID: "anthropometrics", Name: "Antropometría",
			Description: "Peso y talla registrados",
			Required:    false, Category: ItemClinical, Priority: SeverityLow,
			Check: func(f medform.Form) bool { return f.VitalSigns.Weight != nil && f.VitalSigns.Height != nil },
		},
		{
			ID: "pediatric_growth", Name: "Control de crecimiento",
			Description: "Peso y talla en pacientes pediátricos",
			Required:    true, Category: ItemClinical, Priority: SeverityHigh,
			AppliesTo: &Applicability{MinAge: age(0), BelowAge: age(18)},
			Check:     func(f medform.Form) bool { return f.VitalSigns.Weight != nil && f.VitalSigns.Height != nil },
		},
		{
			ID: "elderly_medication_review", Name: "Revisión de polifarmacia",
			Description: "Medicación habitual revisada en adultos mayores",
			Required:    true, Category: ItemSafety, Priority: SeverityHigh,
			AppliesTo: &Applicability{MinAge: age(65)},
			Check:     func(f medform.Form) bool { return anyFilled(f.Medications) },
		},
		{
			ID: "high_risk_followup", Name: "Seguimiento de alto riesgo",
			Description: "El plan indica control o seguimiento",
			Required:    true, Category: ItemSafety, Priority: SeverityCritical,
			AppliesTo: &Applicability{RiskLevels: []RiskLevel{RiskHigh, RiskCritical}},
			Check: func(f medform.Form) bool {
				_, ok := textmatch.FirstMatch(f.TreatmentPlan, []string{"control", "seguimiento", "reevaluación", "derivación"})
				return ok
			},
		},
		{
			ID: "emergency_vitals", Name: "Triage de signos vitales",
			Description: "Saturación y frecuencia respiratoria en urgencias",
			Required:    true, Category: ItemClinical, Priority: SeverityCritical,
			AppliesTo: &Applicability{ConsultationTypes: []ConsultationType{ConsultationEmergency}},
			Check: func(f medform.Form) bool {
				return f.VitalSigns.OxygenSaturation != nil && f.VitalSigns.RespiratoryRate != nil
			},
		},
		{
			ID: "informed_consent", Name: "Consentimiento informado",
			Description: "Constancia del consentimiento informado del procedimiento",
			Required:    true, Category: ItemLegal, Priority: SeverityCritical,
			AppliesTo: &Applicability{ConsultationTypes: []ConsultationType{ConsultationProcedure}},
			Check: func(f medform.Form) bool {
				return textmatch.Contains(f.Observations, "consentimiento") || textmatch.Contains(f.TreatmentPlan, "consentimiento")
			},
		},
		{
			ID: "observations", Name: "Observaciones",
			Required: false, Category: ItemDocumentation, Priority: SeverityLow,
			Check: func(f medform.Form) bool { return filled(f.Observations) },
		},
	}
}
