package medform

// Form is the medical consultation form as edited in the UI. Checkers only
// ever see copies of it (see Clone).
type Form struct {
	PatientID          string            `json:"patientId" yaml:"patientId"`
	UserID             string            `json:"userId" yaml:"userId"`
	ConsultationReason string            `json:"consultationReason" yaml:"consultationReason"`
	CurrentIllness     string            `json:"currentIllness" yaml:"currentIllness"`
	PersonalHistory    []string          `json:"personalHistory" yaml:"personalHistory"`
	FamilyHistory      []string          `json:"familyHistory" yaml:"familyHistory"`
	Allergies          []string          `json:"allergies" yaml:"allergies"`
	Medications        []string          `json:"medications" yaml:"medications"`
	VitalSigns         VitalSigns        `json:"vitalSigns" yaml:"vitalSigns"`
	PhysicalExam       map[string]string `json:"physicalExam" yaml:"physicalExam"`
	Diagnoses          DiagnosisList     `json:"diagnoses" yaml:"diagnoses"`
	TreatmentPlan      string            `json:"treatmentPlan" yaml:"treatmentPlan"`
	Observations       string            `json:"observations" yaml:"observations"`
}

// VitalSigns holds one set of measurements. Nil numeric fields have not
// been recorded yet.
type VitalSigns struct {
	Temperature      *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	HeartRate        *float64 `json:"heartRate,omitempty" yaml:"heartRate,omitempty"`
	BloodPressure    string   `json:"bloodPressure,omitempty" yaml:"bloodPressure,omitempty"`
	RespiratoryRate  *float64 `json:"respiratoryRate,omitempty" yaml:"respiratoryRate,omitempty"`
	OxygenSaturation *float64 `json:"oxygenSaturation,omitempty" yaml:"oxygenSaturation,omitempty"`
	Weight           *float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
	Height           *float64 `json:"height,omitempty" yaml:"height,omitempty"`
	BMI              *float64 `json:"bmi,omitempty" yaml:"bmi,omitempty"`
}

// Diagnosis is one entry of the diagnosis list.
type Diagnosis struct {
	Description string  `json:"description" yaml:"description"`
	CIE10       string  `json:"cie10" yaml:"cie10"`
	CIF         *string `json:"cif,omitempty" yaml:"cif,omitempty"`
	Presumptive bool    `json:"presumptive" yaml:"presumptive"`
	Definitive  bool    `json:"definitive" yaml:"definitive"`
}

// DiagnosisList is the ordered diagnosis list of a form.
type DiagnosisList []Diagnosis

// Len implements fieldrule.Lener.
func (l DiagnosisList) Len() int { return len(l) }

// Classified reports whether the diagnosis is marked presumptive or definitive.
func (d Diagnosis) Classified() bool {
	return d.Presumptive || d.Definitive
}

// Complete reports whether the diagnosis has both a description and a code.
func (d Diagnosis) Complete() bool {
	return trimmed(d.Description) != "" && trimmed(d.CIE10) != ""
}

// Float returns a pointer to v, for building forms in code.
func Float(v float64) *float64 {
	return &v
}

// Default clinical values a new form is seeded with.
const (
	DefaultTemperature      = 36.5
	DefaultHeartRate        = 80
	DefaultRespiratoryRate  = 16
	DefaultOxygenSaturation = 98
	DefaultBloodPressure    = "120/80"
)

// NewForm returns a form for the given patient and author, seeded with
// clinical defaults and one empty presumptive diagnosis.
func NewForm(patientID, userID string) Form {
	return Form{
		PatientID:       patientID,
		UserID:          userID,
		PersonalHistory: []string{},
		FamilyHistory:   []string{},
		Allergies:       []string{},
		Medications:     []string{},
		VitalSigns: VitalSigns{
			Temperature:      Float(DefaultTemperature),
			HeartRate:        Float(DefaultHeartRate),
			BloodPressure:    DefaultBloodPressure,
			RespiratoryRate:  Float(DefaultRespiratoryRate),
			OxygenSaturation: Float(DefaultOxygenSaturation),
		},
		PhysicalExam: map[string]string{},
		Diagnoses:    DiagnosisList{{Presumptive: true}},
	}
}

// Clone returns a deep copy of f.
func Clone(f Form) Form {
	out := f
	out.PersonalHistory = cloneStrings(f.PersonalHistory)
	out.FamilyHistory = cloneStrings(f.FamilyHistory)
	out.Allergies = cloneStrings(f.Allergies)
	out.Medications = cloneStrings(f.Medications)
	out.VitalSigns = f.VitalSigns.clone()
	if f.PhysicalExam != nil {
		out.PhysicalExam = make(map[string]string, len(f.PhysicalExam))
		for k, v := range f.PhysicalExam {
			out.PhysicalExam[k] = v
		}
	}
	if f.Diagnoses != nil {
		out.Diagnoses = make(DiagnosisList, len(f.Diagnoses))
		for i, d := range f.Diagnoses {
			if d.CIF != nil {
				cif := *d.CIF
				d.CIF = &cif
			}
			out.Diagnoses[i] = d
		}
	}
	return out
}

func (v VitalSigns) clone() VitalSigns {
	return VitalSigns{
		Temperature:      cloneFloat(v.Temperature),
		HeartRate:        cloneFloat(v.HeartRate),
		BloodPressure:    v.BloodPressure,
		RespiratoryRate:  cloneFloat(v.RespiratoryRate),
		OxygenSaturation: cloneFloat(v.OxygenSaturation),
		Weight:           cloneFloat(v.Weight),
		Height:           cloneFloat(v.Height),
		BMI:              cloneFloat(v.BMI),
	}
}

// Recorded reports whether the core vital signs needed for a consultation
// (temperature, heart rate, blood pressure) are present.
func (v VitalSigns) Recorded() bool {
	return v.Temperature != nil && v.HeartRate != nil && trimmed(v.BloodPressure) != ""
}

// PhysicalExamFindings returns the non-empty findings of the physical exam.
func (f Form) PhysicalExamFindings() []string {
	var out []string
	for _, v := range f.PhysicalExam {
		if trimmed(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
