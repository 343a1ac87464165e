package validation

import (
	"math"

	"github.com/ehr/medforms/internal/domain/cds"
	"github.com/ehr/medforms/internal/domain/medform"
	"github.com/ehr/medforms/internal/domain/nursing"
	"github.com/ehr/medforms/internal/platform/fieldrule"
	"github.com/ehr/medforms/internal/platform/formstate"
)

// Kind identifies the form family of a session.
type Kind string

const (
	KindMedical Kind = "medical"
	KindNursing Kind = "nursing"
)

// Pipeline binds the checkers of one form family.
type Pipeline[F any] interface {
	Kind() Kind
	New(patientID, userID string) F
	Apply(form *F, path string, value any) error
	Clone(form F) F
	ValidateFields(form F, prefix string) map[string]fieldrule.Result
	Parse(form F) error
	Coherence(form F) []string
	// Critical reports whether a change under the top-level key root
	// schedules a heavy pass.
	Critical(root string) bool
	// Protocol returns nil for families without a protocol catalog.
	Protocol(form F, ctx cds.ProtocolContext) *cds.ProtocolReport
	Alerts(form F, age float64) []cds.Alert
	Progress(form F) int
}

type medicalPipeline struct {
	cds *cds.Service
}

// MedicalPipeline returns the pipeline for consultation forms, running the
// clinical checkers against the tables held by svc.
func MedicalPipeline(svc *cds.Service) Pipeline[medform.Form] {
	return medicalPipeline{cds: svc}
}

var medicalCritical = map[string]bool{
	medform.FieldDiagnoses:          true,
	medform.FieldCurrentIllness:     true,
	medform.FieldVitalSigns:         true,
	medform.FieldConsultationReason: true,
	medform.FieldTreatmentPlan:      true,
	formstate.WholeForm:             true,
}

func (medicalPipeline) Kind() Kind { return KindMedical }

func (medicalPipeline) New(patientID, userID string) medform.Form {
	return medform.NewForm(patientID, userID)
}

func (medicalPipeline) Apply(form *medform.Form, path string, value any) error {
	return medform.Apply(form, path, value)
}

func (medicalPipeline) Clone(form medform.Form) medform.Form { return medform.Clone(form) }

func (medicalPipeline) ValidateFields(form medform.Form, prefix string) map[string]fieldrule.Result {
	return medform.ValidateFields(form, prefix)
}

func (medicalPipeline) Parse(form medform.Form) error { return medform.Parse(form) }

func (medicalPipeline) Coherence(form medform.Form) []string {
	return medform.ValidateCoherence(form).Errors
}

func (medicalPipeline) Critical(root string) bool { return medicalCritical[root] }

func (p medicalPipeline) Protocol(form medform.Form, ctx cds.ProtocolContext) *cds.ProtocolReport {
	report := p.cds.CheckProtocol(form, ctx)
	return &report
}

func (p medicalPipeline) Alerts(form medform.Form, age float64) []cds.Alert {
	return p.cds.ClinicalAlerts(form, age)
}

func (medicalPipeline) Progress(form medform.Form) int { return MedicalProgress(form) }

// MedicalProgress is the share of required consultation fields filled in,
// counting recorded vital signs and a complete first diagnosis as one item
// each.
func MedicalProgress(f medform.Form) int {
	checks := []bool{
		!fieldrule.IsEmpty(f.PatientID),
		!fieldrule.IsEmpty(f.UserID),
		!fieldrule.IsEmpty(f.ConsultationReason),
		!fieldrule.IsEmpty(f.CurrentIllness),
		!fieldrule.IsEmpty(f.TreatmentPlan),
		f.VitalSigns.Recorded(),
		len(f.Diagnoses) > 0 && f.Diagnoses[0].Complete(),
	}
	done := 0
	for _, ok := range checks {
		if ok {
			done++
		}
	}
	return int(math.Round(float64(done) * 100 / float64(len(checks))))
}

type nursingPipeline struct{}

// NursingPipeline returns the pipeline for nursing care plans.
func NursingPipeline() Pipeline[nursing.Form] {
	return nursingPipeline{}
}

var nursingCritical = func() map[string]bool {
	m := map[string]bool{formstate.WholeForm: true}
	for _, k := range nursing.CriticalFields {
		m[k] = true
	}
	return m
}()

func (nursingPipeline) Kind() Kind { return KindNursing }

func (nursingPipeline) New(patientID, userID string) nursing.Form {
	return nursing.NewForm(patientID, userID)
}

func (nursingPipeline) Apply(form *nursing.Form, path string, value any) error {
	return nursing.Apply(form, path, value)
}

func (nursingPipeline) Clone(form nursing.Form) nursing.Form { return nursing.Clone(form) }

func (nursingPipeline) ValidateFields(form nursing.Form, prefix string) map[string]fieldrule.Result {
	return nursing.ValidateFields(form, prefix)
}

func (nursingPipeline) Parse(form nursing.Form) error { return nursing.Parse(form) }

func (nursingPipeline) Coherence(form nursing.Form) []string {
	return nursing.ValidateCoherence(form).Errors
}

func (nursingPipeline) Critical(root string) bool { return nursingCritical[root] }

func (nursingPipeline) Protocol(nursing.Form, cds.ProtocolContext) *cds.ProtocolReport { return nil }

func (nursingPipeline) Alerts(nursing.Form, float64) []cds.Alert { return []cds.Alert{} }

func (nursingPipeline) Progress(form nursing.Form) int { return nursing.Progress(form) }
