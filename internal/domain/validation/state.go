package validation

import (
	"github.com/ehr/medforms/internal/domain/cds"
)

// FieldStatus is the per-field validation state.
type FieldStatus string

const (
	FieldUntouched  FieldStatus = "untouched"
	FieldValidating FieldStatus = "validating"
	FieldValid      FieldStatus = "valid"
	FieldInvalid    FieldStatus = "invalid"
	FieldWarning    FieldStatus = "warning"
)

// FormStatus summarizes a form for the UI. Transitions are free in both
// directions as the user edits.
type FormStatus string

const (
	FormIncomplete         FormStatus = "incomplete"
	FormCompleteWithErrors FormStatus = "complete_with_errors"
	FormCompleteValid      FormStatus = "complete_valid"
)

// GenericFailureMessage replaces the state when a validation pass fails
// unexpectedly.
const GenericFailureMessage = "Error inesperado durante la validación. Intente nuevamente."

// State is the aggregate validation result of a form.
type State struct {
	IsValid         bool                   `json:"isValid"`
	CoherenceErrors []string               `json:"coherenceErrors"`
	FieldErrors     map[string]string      `json:"fieldErrors"`
	ProtocolErrors  []string               `json:"protocolErrors"`
	ClinicalAlerts  []cds.Alert            `json:"clinicalAlerts"`
	FieldStatus     map[string]FieldStatus `json:"fieldStatus"`
	Protocol        *cds.ProtocolReport    `json:"protocol,omitempty"`

	// verified is set once a complete pass has checked every field. Live
	// passes only see the fields that changed, so until then IsValid stays
	// false even without recorded errors.
	verified bool
}

func newState() State {
	return State{
		CoherenceErrors: []string{},
		FieldErrors:     map[string]string{},
		ProtocolErrors:  []string{},
		ClinicalAlerts:  []cds.Alert{},
		FieldStatus:     map[string]FieldStatus{},
	}
}

func (s State) clone() State {
	out := s
	out.CoherenceErrors = append([]string{}, s.CoherenceErrors...)
	out.ProtocolErrors = append([]string{}, s.ProtocolErrors...)
	out.ClinicalAlerts = append([]cds.Alert{}, s.ClinicalAlerts...)
	out.FieldErrors = make(map[string]string, len(s.FieldErrors))
	for k, v := range s.FieldErrors {
		out.FieldErrors[k] = v
	}
	out.FieldStatus = make(map[string]FieldStatus, len(s.FieldStatus))
	for k, v := range s.FieldStatus {
		out.FieldStatus[k] = v
	}
	if s.Protocol != nil {
		p := *s.Protocol
		p.Results = append([]cds.ProtocolResult{}, s.Protocol.Results...)
		p.MissingRequired = append([]string{}, s.Protocol.MissingRequired...)
		out.Protocol = &p
	}
	return out
}

// HasErrors reports whether any field, coherence or blocking clinical
// problem is recorded.
func (s State) HasErrors() bool {
	return len(s.FieldErrors) > 0 || len(s.CoherenceErrors) > 0 || cds.AnyBlocking(s.ClinicalAlerts)
}

func (s *State) refresh() {
	s.IsValid = s.verified && !s.HasErrors()
}

// settle resolves pending and valid statuses against the current alerts: a
// field named by an alert becomes a warning, the rest become valid.
func (s *State) settle() {
	flagged := make(map[string]bool, len(s.ClinicalAlerts))
	for _, a := range s.ClinicalAlerts {
		if a.Field != "" {
			flagged[a.Field] = true
		}
	}
	for path, st := range s.FieldStatus {
		switch st {
		case FieldValidating, FieldValid, FieldWarning:
			if flagged[path] {
				s.FieldStatus[path] = FieldWarning
			} else {
				s.FieldStatus[path] = FieldValid
			}
		}
	}
}

func (s *State) setProtocol(report *cds.ProtocolReport) {
	s.Protocol = report
	s.ProtocolErrors = []string{}
	if report != nil {
		s.ProtocolErrors = append(s.ProtocolErrors, report.MissingRequired...)
	}
}

func formStatus(progress int, st State) FormStatus {
	switch {
	case progress < 100:
		return FormIncomplete
	case st.HasErrors():
		return FormCompleteWithErrors
	default:
		return FormCompleteValid
	}
}
