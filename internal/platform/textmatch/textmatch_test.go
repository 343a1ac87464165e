package textmatch

import "testing"

func TestFold(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Disnea", "disnea"},
		{"AUSCULTACIÓN", "auscultacion"},
		{"Puñopercusión", "punopercusion"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Fold(tt.in); got != tt.want {
			t.Errorf("Fold(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContains(t *testing.T) {
	if !Contains("Paciente con DISNEA de esfuerzo", "disnea") {
		t.Error("expected case-insensitive match")
	}
	if !Contains("murmullo vesicular, auscultacion normal", "auscultación") {
		t.Error("expected accent-insensitive match")
	}
	if Contains("dolor de rodilla", "disnea") {
		t.Error("unexpected match")
	}
	if Contains("anything", "  ") {
		t.Error("blank keyword must not match")
	}
}

func TestFirstMatch(t *testing.T) {
	kw, ok := FirstMatch("tos productiva y fiebre", []string{"disnea", "tos", "fiebre"})
	if !ok || kw != "tos" {
		t.Errorf("FirstMatch = %q, %v; want tos, true", kw, ok)
	}
	if _, ok := FirstMatch("", []string{"tos"}); ok {
		t.Error("empty text must not match")
	}
}

func TestAnyMentions(t *testing.T) {
	texts := []string{"ruidos cardiacos ritmicos", "abdomen blando"}
	if !AnyMentions(texts, "abdom") {
		t.Error("expected a mention of abdom")
	}
	if AnyMentions(texts, "pies") {
		t.Error("unexpected mention")
	}
	if AnyMentions(nil, "abdom") {
		t.Error("nil texts must not match")
	}
}
