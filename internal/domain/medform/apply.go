package medform

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ehr/medforms/internal/platform/fieldrule"
)

var (
	// ErrUnknownField is returned when a path does not name a form field.
	ErrUnknownField = errors.New("unknown field")
	// ErrInvalidValue is returned when a value has the wrong shape for its field.
	ErrInvalidValue = errors.New("invalid value")
)

// Top-level field keys, as used in field paths.
const (
	FieldPatientID          = "patientId"
	FieldUserID             = "userId"
	FieldConsultationReason = "consultationReason"
	FieldCurrentIllness     = "currentIllness"
	FieldPersonalHistory    = "personalHistory"
	FieldFamilyHistory      = "familyHistory"
	FieldAllergies          = "allergies"
	FieldMedications        = "medications"
	FieldVitalSigns         = "vitalSigns"
	FieldPhysicalExam       = "physicalExam"
	FieldDiagnoses          = "diagnoses"
	FieldTreatmentPlan      = "treatmentPlan"
	FieldObservations       = "observations"
)

// Apply writes value into f at a dotted path such as "currentIllness",
// "vitalSigns.heartRate", "physicalExam.abdomen", "allergies.1" or
// "diagnoses.0.cie10". Index paths may address one past the end to append.
// Values are accepted in the shapes a JSON decoder produces.
func Apply(f *Form, path string, value any) error {
	parts := strings.Split(path, ".")
	head, rest := parts[0], parts[1:]

	switch head {
	case FieldPatientID, FieldUserID, FieldConsultationReason, FieldCurrentIllness,
		FieldTreatmentPlan, FieldObservations:
		if len(rest) != 0 {
			return fmt.Errorf("%w: %s", ErrUnknownField, path)
		}
		s, err := toString(path, value)
		if err != nil {
			return err
		}
		*stringField(f, head) = s
		return nil

	case FieldPersonalHistory, FieldFamilyHistory, FieldAllergies, FieldMedications:
		return applyList(listField(f, head), path, rest, value)

	case FieldVitalSigns:
		if len(rest) == 0 {
			var v VitalSigns
			if err := decodeInto(path, value, &v); err != nil {
				return err
			}
			f.VitalSigns = v
			return nil
		}
		if len(rest) != 1 {
			return fmt.Errorf("%w: %s", ErrUnknownField, path)
		}
		return applyVital(&f.VitalSigns, path, rest[0], value)

	case FieldPhysicalExam:
		if len(rest) == 0 {
			var m map[string]string
			if err := decodeInto(path, value, &m); err != nil {
				return err
			}
			if m == nil {
				m = map[string]string{}
			}
			f.PhysicalExam = m
			return nil
		}
		if len(rest) != 1 || rest[0] == "" {
			return fmt.Errorf("%w: %s", ErrUnknownField, path)
		}
		s, err := toString(path, value)
		if err != nil {
			return err
		}
		if f.PhysicalExam == nil {
			f.PhysicalExam = map[string]string{}
		}
		f.PhysicalExam[rest[0]] = s
		return nil

	case FieldDiagnoses:
		return applyDiagnoses(f, path, rest, value)
	}
	return fmt.Errorf("%w: %s", ErrUnknownField, path)
}

func stringField(f *Form, key string) *string {
	switch key {
	case FieldPatientID:
		return &f.PatientID
	case FieldUserID:
		return &f.UserID
	case FieldConsultationReason:
		return &f.ConsultationReason
	case FieldCurrentIllness:
		return &f.CurrentIllness
	case FieldTreatmentPlan:
		return &f.TreatmentPlan
	default:
		return &f.Observations
	}
}

func listField(f *Form, key string) *[]string {
	switch key {
	case FieldPersonalHistory:
		return &f.PersonalHistory
	case FieldFamilyHistory:
		return &f.FamilyHistory
	case FieldAllergies:
		return &f.Allergies
	default:
		return &f.Medications
	}
}

func applyList(list *[]string, path string, rest []string, value any) error {
	if len(rest) == 0 {
		if value == nil {
			*list = []string{}
			return nil
		}
		items, ok := fieldrule.ToStringList(value)
		if !ok {
			return fmt.Errorf("%w: %s must be a list of strings", ErrInvalidValue, path)
		}
		*list = append([]string(nil), items...)
		return nil
	}
	if len(rest) != 1 {
		return fmt.Errorf("%w: %s", ErrUnknownField, path)
	}
	idx, err := index(path, rest[0], len(*list))
	if err != nil {
		return err
	}
	s, err := toString(path, value)
	if err != nil {
		return err
	}
	if idx == len(*list) {
		*list = append(*list, s)
	} else {
		(*list)[idx] = s
	}
	return nil
}

func applyVital(v *VitalSigns, path, key string, value any) error {
	if key == "bloodPressure" {
		s, err := toString(path, value)
		if err != nil {
			return err
		}
		v.BloodPressure = s
		return nil
	}
	var target **float64
	switch key {
	case "temperature":
		target = &v.Temperature
	case "heartRate":
		target = &v.HeartRate
	case "respiratoryRate":
		target = &v.RespiratoryRate
	case "oxygenSaturation":
		target = &v.OxygenSaturation
	case "weight":
		target = &v.Weight
	case "height":
		target = &v.Height
	case "bmi":
		target = &v.BMI
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, path)
	}
	if value == nil {
		*target = nil
		return nil
	}
	if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
		*target = nil
		return nil
	}
	n, ok := fieldrule.ToFloat(value)
	if !ok {
		return fmt.Errorf("%w: %s must be numeric", ErrInvalidValue, path)
	}
	*target = &n
	return nil
}

func applyDiagnoses(f *Form, path string, rest []string, value any) error {
	if len(rest) == 0 {
		var list DiagnosisList
		if err := decodeInto(path, value, &list); err != nil {
			return err
		}
		f.Diagnoses = list
		return nil
	}
	idx, err := index(path, rest[0], len(f.Diagnoses))
	if err != nil {
		return err
	}
	// The entry is built on a copy and stored only once the write is
	// accepted, so a rejected value never leaves a blank diagnosis behind.
	var d Diagnosis
	if idx < len(f.Diagnoses) {
		d = f.Diagnoses[idx]
	}

	if len(rest) == 1 {
		var entry Diagnosis
		if err := decodeInto(path, value, &entry); err != nil {
			return err
		}
		storeDiagnosis(f, idx, entry)
		return nil
	}
	if len(rest) != 2 {
		return fmt.Errorf("%w: %s", ErrUnknownField, path)
	}

	switch rest[1] {
	case "description":
		s, err := toString(path, value)
		if err != nil {
			return err
		}
		d.Description = s
	case "cie10":
		s, err := toString(path, value)
		if err != nil {
			return err
		}
		d.CIE10 = strings.ToUpper(strings.TrimSpace(s))
	case "cif":
		if value == nil {
			d.CIF = nil
			break
		}
		s, err := toString(path, value)
		if err != nil {
			return err
		}
		d.CIF = &s
	case "presumptive", "definitive":
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%w: %s must be a boolean", ErrInvalidValue, path)
		}
		if rest[1] == "presumptive" {
			d.Presumptive = b
		} else {
			d.Definitive = b
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, path)
	}
	storeDiagnosis(f, idx, d)
	return nil
}

func storeDiagnosis(f *Form, idx int, d Diagnosis) {
	if idx == len(f.Diagnoses) {
		f.Diagnoses = append(f.Diagnoses, d)
		return
	}
	f.Diagnoses[idx] = d
}

func index(path, segment string, length int) (int, error) {
	idx, err := strconv.Atoi(segment)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnknownField, path)
	}
	if idx > length {
		return 0, fmt.Errorf("%w: %s index %d out of range", ErrInvalidValue, path, idx)
	}
	return idx, nil
}

func toString(path string, value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	}
	return "", fmt.Errorf("%w: %s must be a string", ErrInvalidValue, path)
}

// decodeInto converts a decoded JSON value (maps, slices) into a typed target.
func decodeInto(path string, value any, target any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, path, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, path, err)
	}
	return nil
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}
