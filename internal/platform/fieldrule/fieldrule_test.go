package fieldrule

import (
	"regexp"
	"testing"
)

type threeThings struct{}

func (threeThings) Len() int { return 3 }

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"diagnoses.0.cie10":      "diagnoses.*.cie10",
		"diagnoses.12":           "diagnoses.*",
		"vitalSigns.temperature": "vitalSigns.temperature",
		"":                       "",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRule_Check(t *testing.T) {
	min, max := Bounds(30, 45)
	temp := Rule{Label: "La temperatura", Min: min, Max: max}
	reason := Rule{Label: "El motivo", Required: true, MinLength: 10}
	code := Rule{Label: "El código", Pattern: regexp.MustCompile(`^\d{5}$`)}
	list := Rule{Label: "La lista", MinItems: 1}

	tests := []struct {
		name  string
		rule  Rule
		value any
		ok    bool
	}{
		{"numeric in range", temp, 36.5, true},
		{"numeric below", temp, 29.9, false},
		{"numeric above", temp, 45.1, false},
		{"numeric as string", temp, "37,2", true},
		{"numeric garbage", temp, "abc", false},
		{"optional numeric absent", temp, nil, true},
		{"nil float pointer", temp, (*float64)(nil), true},
		{"required missing", reason, "", false},
		{"too short", reason, "tos", false},
		{"long enough", reason, "dolor torácico opresivo", true},
		{"pattern ok", code, "00132", true},
		{"pattern bad", code, "132", false},
		{"empty list", list, []string{}, false},
		{"list ok", list, []any{"a"}, true},
		{"lener", Rule{MinItems: 4}, threeThings{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.rule.Check(tt.value)
			if (msg == "") != tt.ok {
				t.Errorf("Check(%v) = %q, want ok=%v", tt.value, msg, tt.ok)
			}
		})
	}
}

func TestRule_CustomMessage(t *testing.T) {
	r := Rule{Required: true, Message: "obligatorio"}
	if got := r.Check(nil); got != "obligatorio" {
		t.Errorf("expected custom message, got %q", got)
	}
}

func TestTable_Validate(t *testing.T) {
	table := Table{
		"diagnoses.*.cie10": {Label: "El código CIE-10", Required: true},
	}
	if res := table.Validate("diagnoses.3.cie10", ""); res.IsValid {
		t.Error("expected failure for empty code")
	}
	res := table.Validate("unregistered", nil)
	if !res.IsValid || res.Error != "" {
		t.Errorf("unregistered fields must pass, got %+v", res)
	}
	if !table.Has("diagnoses.0.cie10") || table.Has("diagnoses") {
		t.Error("Has() mismatch")
	}
}

func TestToFloat(t *testing.T) {
	v := 12.5
	if f, ok := ToFloat(&v); !ok || f != 12.5 {
		t.Errorf("ToFloat(*float64) = %v, %v", f, ok)
	}
	if _, ok := ToFloat(true); ok {
		t.Error("bool must not convert")
	}
}
