package cds

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/ehr/medforms/internal/domain/medform"
)

var bloodPressureRe = regexp.MustCompile(`^\s*(\d{2,3})\s*/\s*(\d{2,3})\s*$`)

// ParseBloodPressure splits a "systolic/diastolic" reading.
func ParseBloodPressure(s string) (systolic, diastolic float64, ok bool) {
	m := bloodPressureRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	sys, _ := strconv.Atoi(m[1])
	dia, _ := strconv.Atoi(m[2])
	return float64(sys), float64(dia), true
}

type signText struct {
	field    string
	label    string
	unit     string
	lowName  string
	highName string
	lowHint  string
	highHint string
	critLow  string
	critHigh string
}

var signTexts = map[Sign]signText{
	SignTemperature: {
		field: "vitalSigns.temperature", label: "Temperatura", unit: "°C",
		lowName: "hipotermia", highName: "fiebre",
		lowHint: "Abrigar al paciente y controlar la temperatura", highHint: "Evaluar foco infeccioso, considerar antipiréticos",
		critLow: "Iniciar recalentamiento activo y monitorización continua", critHigh: "Medidas físicas y antipiréticos inmediatos, descartar sepsis",
	},
	SignHeartRate: {
		field: "vitalSigns.heartRate", label: "Frecuencia cardíaca", unit: "lpm",
		lowName: "bradicardia", highName: "taquicardia",
		lowHint: "Evaluar bradicardia, considerar ECG", highHint: "Evaluar taquicardia, considerar ECG",
		critLow: "Bradicardia severa: ECG urgente y evaluar atropina", critHigh: "Taquicardia severa: ECG urgente y monitorización",
	},
	SignRespiratoryRate: {
		field: "vitalSigns.respiratoryRate", label: "Frecuencia respiratoria", unit: "rpm",
		lowName: "bradipnea", highName: "taquipnea",
		lowHint: "Evaluar depresión respiratoria", highHint: "Evaluar trabajo respiratorio y saturación",
		critLow: "Soporte ventilatorio inmediato", critHigh: "Evaluar insuficiencia respiratoria, considerar gasometría",
	},
	SignSystolic: {
		field: "vitalSigns.bloodPressure", label: "Presión sistólica", unit: "mmHg",
		lowName: "hipotensión", highName: "hipertensión",
		lowHint: "Evaluar hipotensión, valorar hidratación", highHint: "Controlar presión arterial, repetir medición en reposo",
		critLow: "Evaluar shock, reposición de volumen", critHigh: "Evaluar crisis hipertensiva, tratamiento inmediato",
	},
	SignDiastolic: {
		field: "vitalSigns.bloodPressure", label: "Presión diastólica", unit: "mmHg",
		lowName: "hipotensión", highName: "hipertensión",
		lowHint: "Evaluar hipotensión, valorar hidratación", highHint: "Controlar presión arterial, repetir medición en reposo",
		critLow: "Evaluar shock, reposición de volumen", critHigh: "Evaluar crisis hipertensiva, tratamiento inmediato",
	},
}

// CheckVitalSigns compares each recorded sign with the reference range of
// the patient's age bracket and returns one alert per abnormal reading.
// Values beyond the danger thresholds are errors of critical severity;
// other out-of-range values are medium warnings. Missing signs and
// malformed blood pressure strings are skipped. An age of zero or less
// uses the adult ranges.
func CheckVitalSigns(v medform.VitalSigns, age float64, ranges RangeTable) []Alert {
	bracket := BracketFor(age)
	alerts := []Alert{}

	for _, s := range []struct {
		sign  Sign
		value *float64
	}{
		{SignTemperature, v.Temperature},
		{SignHeartRate, v.HeartRate},
		{SignRespiratoryRate, v.RespiratoryRate},
	} {
		if s.value == nil {
			continue
		}
		if a, ok := checkSign(s.sign, *s.value, bracket, ranges); ok {
			alerts = append(alerts, a)
		}
	}

	if a, ok := checkBloodPressure(v.BloodPressure, bracket, ranges); ok {
		alerts = append(alerts, a)
	}
	if v.OxygenSaturation != nil {
		if a, ok := checkSaturation(*v.OxygenSaturation, bracket, ranges); ok {
			alerts = append(alerts, a)
		}
	}
	alerts = append(alerts, checkBMI(v, age)...)
	return alerts
}

func checkSign(sign Sign, value float64, bracket AgeBracket, ranges RangeTable) (Alert, bool) {
	r, ok := ranges.Lookup(sign, bracket)
	if !ok {
		return Alert{}, false
	}
	lvl := r.Level(value)
	if lvl == LevelNormal {
		return Alert{}, false
	}
	txt := signTexts[sign]
	return signAlert(txt, lvl, fmt.Sprintf("%s %s %s", txt.label, formatValue(value), txt.unit), r), true
}

func signAlert(txt signText, lvl Level, reading string, r Range) Alert {
	name, hint := txt.highName, txt.highHint
	if lvl.Low() {
		name, hint = txt.lowName, txt.lowHint
	}
	normal := fmt.Sprintf("normal %s–%s %s", formatValue(r.Min), formatValue(r.Max), txt.unit)
	if lvl.Critical() {
		hint = txt.critHigh
		if lvl.Low() {
			hint = txt.critLow
		}
		return critical(CategoryVitalSigns, txt.field,
			fmt.Sprintf("%s: %s crítica (%s)", reading, name, normal), hint)
	}
	return warning(CategoryVitalSigns, txt.field,
		fmt.Sprintf("%s fuera de rango: %s (%s)", reading, name, normal), hint, SeverityMedium)
}

// checkBloodPressure emits a single alert for the reading, graded by the
// worse of its two components.
func checkBloodPressure(bp string, bracket AgeBracket, ranges RangeTable) (Alert, bool) {
	sys, dia, ok := ParseBloodPressure(bp)
	if !ok {
		return Alert{}, false
	}
	rs, ok1 := ranges.Lookup(SignSystolic, bracket)
	rd, ok2 := ranges.Lookup(SignDiastolic, bracket)
	if !ok1 || !ok2 {
		return Alert{}, false
	}
	ls, ld := rs.Level(sys), rd.Level(dia)
	if ls == LevelNormal && ld == LevelNormal {
		return Alert{}, false
	}

	sign, lvl, r := SignSystolic, ls, rs
	if worse(ld, ls) {
		sign, lvl, r = SignDiastolic, ld, rd
	}
	reading := fmt.Sprintf("Presión arterial %s/%s mmHg", formatValue(sys), formatValue(dia))
	a := signAlert(signTexts[sign], lvl, reading, r)
	return a, true
}

// worse reports whether a is strictly more serious than b.
func worse(a, b Level) bool {
	rank := func(l Level) int {
		switch {
		case l.Critical():
			return 2
		case l != LevelNormal:
			return 1
		}
		return 0
	}
	return rank(a) > rank(b)
}

func checkSaturation(value float64, bracket AgeBracket, ranges RangeTable) (Alert, bool) {
	r, ok := ranges.Lookup(SignOxygenSaturation, bracket)
	if !ok || value >= r.Min {
		return Alert{}, false
	}
	const field = "vitalSigns.oxygenSaturation"
	if value < r.CriticalLow {
		return critical(CategoryVitalSigns, field,
			fmt.Sprintf("Saturación de oxígeno %s%%: hipoxemia severa", formatValue(value)),
			"Administrar oxígeno y evaluar causa de hipoxemia de inmediato"), true
	}
	return warning(CategoryVitalSigns, field,
		fmt.Sprintf("Saturación de oxígeno %s%%: hipoxemia leve", formatValue(value)),
		"Monitorizar saturación, considerar oxigenoterapia", SeverityMedium), true
}

// BMICategory is the nutritional label for a BMI value.
type BMICategory string

const (
	BMIUnderweightCategory BMICategory = "bajo peso"
	BMINormalCategory      BMICategory = "normal"
	BMIOverweightCategory  BMICategory = "sobrepeso"
	BMIObeseCategory       BMICategory = "obesidad"
	BMIMorbidCategory      BMICategory = "obesidad mórbida"
)

// ClassifyBMI returns the adult BMI category.
func ClassifyBMI(bmi float64) BMICategory {
	switch {
	case bmi < BMIUnderweight:
		return BMIUnderweightCategory
	case bmi < BMIOverweight:
		return BMINormalCategory
	case bmi < BMIObese:
		return BMIOverweightCategory
	case bmi < BMIMorbid:
		return BMIObeseCategory
	}
	return BMIMorbidCategory
}

// ComputeBMI derives BMI from weight (kg) and height (cm).
func ComputeBMI(weight, height float64) (float64, bool) {
	if weight <= 0 || height <= 0 {
		return 0, false
	}
	m := height / 100
	return weight / (m * m), true
}

// checkBMI grades the BMI (stored, or derived from weight and height) and
// flags a stored value that disagrees with its measurements. Adult BMI
// categories do not apply under 18, so only the consistency check runs
// for minors.
func checkBMI(v medform.VitalSigns, age float64) []Alert {
	const field = "vitalSigns.bmi"
	var alerts []Alert

	var computed float64
	hasComputed := false
	if v.Weight != nil && v.Height != nil {
		computed, hasComputed = ComputeBMI(*v.Weight, *v.Height)
	}

	if v.BMI != nil && hasComputed && math.Abs(*v.BMI-computed) > BMITolerance {
		alerts = append(alerts, info(CategoryCoherence, field,
			fmt.Sprintf("El IMC registrado (%s) no coincide con el calculado a partir de peso y talla (%s)",
				formatValue(*v.BMI), formatValue(round1(computed))),
			"Verificar peso, talla e IMC"))
	}

	if age > 0 && age < 18 {
		return alerts
	}
	var bmi float64
	switch {
	case v.BMI != nil:
		bmi = *v.BMI
	case hasComputed:
		bmi = round1(computed)
	default:
		return alerts
	}

	cat := ClassifyBMI(bmi)
	msg := fmt.Sprintf("IMC %s kg/m²: %s", formatValue(bmi), cat)
	switch cat {
	case BMIUnderweightCategory:
		alerts = append(alerts, warning(CategoryVitalSigns, field, msg, "Evaluar estado nutricional", SeverityMedium))
	case BMIOverweightCategory:
		alerts = append(alerts, Alert{Type: AlertInfo, Category: CategoryVitalSigns, Field: field, Message: msg,
			Suggestion: "Recomendar actividad física y consejo dietético", Severity: SeverityLow})
	case BMIObeseCategory:
		alerts = append(alerts, warning(CategoryVitalSigns, field, msg, "Plan de reducción de peso, evaluar comorbilidades", SeverityMedium))
	case BMIMorbidCategory:
		alerts = append(alerts, warning(CategoryVitalSigns, field, msg, "Derivar a manejo especializado de obesidad", SeverityHigh))
	}
	return alerts
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
