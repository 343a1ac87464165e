package cds

// AgeBracket is the age group used to pick vital-sign reference ranges.
type AgeBracket string

const (
	BracketInfant     AgeBracket = "infant"
	BracketChild      AgeBracket = "child"
	BracketAdolescent AgeBracket = "adolescent"
	BracketAdult      AgeBracket = "adult"
	BracketElderly    AgeBracket = "elderly"
)

// Brackets lists every age bracket from youngest to oldest.
var Brackets = []AgeBracket{BracketInfant, BracketChild, BracketAdolescent, BracketAdult, BracketElderly}

// BracketFor classifies an age in years. An age of zero or less means the
// age is unknown and selects the adult bracket.
func BracketFor(age float64) AgeBracket {
	switch {
	case age <= 0:
		return BracketAdult
	case age < 1:
		return BracketInfant
	case age < 12:
		return BracketChild
	case age < 18:
		return BracketAdolescent
	case age < 65:
		return BracketAdult
	}
	return BracketElderly
}

// Sign identifies one checked vital sign. Blood pressure is split into its
// two components.
type Sign string

const (
	SignTemperature      Sign = "temperature"
	SignHeartRate        Sign = "heartRate"
	SignRespiratoryRate  Sign = "respiratoryRate"
	SignSystolic         Sign = "systolic"
	SignDiastolic        Sign = "diastolic"
	SignOxygenSaturation Sign = "oxygenSaturation"
)

// Signs lists every sign in check order.
var Signs = []Sign{SignTemperature, SignHeartRate, SignRespiratoryRate, SignSystolic, SignDiastolic, SignOxygenSaturation}

// Range is a normal interval plus the wider danger thresholds around it.
// Values strictly below CriticalLow or strictly above CriticalHigh are
// critical.
type Range struct {
	Min          float64 `json:"min" yaml:"min"`
	Max          float64 `json:"max" yaml:"max"`
	CriticalLow  float64 `json:"criticalLow" yaml:"criticalLow"`
	CriticalHigh float64 `json:"criticalHigh" yaml:"criticalHigh"`
}

// Midpoint returns the centre of the normal interval.
func (r Range) Midpoint() float64 { return (r.Min + r.Max) / 2 }

// Level classifies v against the range.
func (r Range) Level(v float64) Level {
	switch {
	case v < r.CriticalLow:
		return LevelCriticalLow
	case v > r.CriticalHigh:
		return LevelCriticalHigh
	case v < r.Min:
		return LevelLow
	case v > r.Max:
		return LevelHigh
	}
	return LevelNormal
}

// Level is the position of a value relative to a Range.
type Level int

const (
	LevelNormal Level = iota
	LevelLow
	LevelHigh
	LevelCriticalLow
	LevelCriticalHigh
)

// Critical reports whether the level lies beyond a danger threshold.
func (l Level) Critical() bool { return l == LevelCriticalLow || l == LevelCriticalHigh }

// Low reports whether the level is below the normal interval.
func (l Level) Low() bool { return l == LevelLow || l == LevelCriticalLow }

// RangeTable holds reference ranges per sign and age bracket. Every sign
// must have an adult entry; other brackets fall back to it.
type RangeTable map[Sign]map[AgeBracket]Range

// Lookup returns the range for sign in bracket, falling back to the adult
// range when the bracket has no entry of its own.
func (t RangeTable) Lookup(sign Sign, bracket AgeBracket) (Range, bool) {
	bySign, ok := t[sign]
	if !ok {
		return Range{}, false
	}
	if r, ok := bySign[bracket]; ok {
		return r, true
	}
	r, ok := bySign[BracketAdult]
	return r, ok
}

// Clone returns a deep copy of the table.
func (t RangeTable) Clone() RangeTable {
	out := make(RangeTable, len(t))
	for sign, bySign := range t {
		m := make(map[AgeBracket]Range, len(bySign))
		for b, r := range bySign {
			m[b] = r
		}
		out[sign] = m
	}
	return out
}

// Set stores r for sign and bracket.
func (t RangeTable) Set(sign Sign, bracket AgeBracket, r Range) {
	if t[sign] == nil {
		t[sign] = make(map[AgeBracket]Range)
	}
	t[sign][bracket] = r
}

// DefaultRanges returns the compiled-in reference ranges.
func DefaultRanges() RangeTable {
	return RangeTable{
		SignTemperature: {
			BracketInfant: {Min: 36.5, Max: 37.5, CriticalLow: 35, CriticalHigh: 40},
			BracketAdult:  {Min: 36.1, Max: 37.2, CriticalLow: 35, CriticalHigh: 40},
		},
		SignHeartRate: {
			BracketInfant: {Min: 100, Max: 160, CriticalLow: 70, CriticalHigh: 220},
			BracketChild:  {Min: 70, Max: 120, CriticalLow: 50, CriticalHigh: 180},
			BracketAdult:  {Min: 60, Max: 100, CriticalLow: 40, CriticalHigh: 150},
		},
		SignRespiratoryRate: {
			BracketInfant: {Min: 30, Max: 60, CriticalLow: 20, CriticalHigh: 70},
			BracketChild:  {Min: 20, Max: 30, CriticalLow: 12, CriticalHigh: 45},
			BracketAdult:  {Min: 12, Max: 20, CriticalLow: 8, CriticalHigh: 30},
		},
		SignSystolic: {
			BracketInfant: {Min: 70, Max: 100, CriticalLow: 50, CriticalHigh: 130},
			BracketChild:  {Min: 90, Max: 120, CriticalLow: 70, CriticalHigh: 140},
			BracketAdult:  {Min: 90, Max: 139, CriticalLow: 70, CriticalHigh: 180},
		},
		SignDiastolic: {
			BracketInfant: {Min: 50, Max: 70, CriticalLow: 30, CriticalHigh: 90},
			BracketChild:  {Min: 60, Max: 80, CriticalLow: 40, CriticalHigh: 95},
			BracketAdult:  {Min: 60, Max: 89, CriticalLow: 40, CriticalHigh: 120},
		},
		SignOxygenSaturation: {
			BracketAdult: {Min: 95, Max: 100, CriticalLow: 90, CriticalHigh: 100},
		},
	}
}

// BMI category thresholds in kg/m².
const (
	BMIUnderweight = 18.5
	BMIOverweight  = 25.0
	BMIObese       = 30.0
	BMIMorbid      = 40.0
)

// BMITolerance is how far a stored BMI may drift from weight/height² before
// it is reported as inconsistent.
const BMITolerance = 0.5
