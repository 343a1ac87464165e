package cds

import (
	"sort"
	"strings"
)

// KnowledgeEntry is what the coherence checker knows about one CIE-10
// code: the symptoms that usually accompany it and the exams that should
// be documented. Matching against these keywords is a substring heuristic,
// not clinical ground truth.
type KnowledgeEntry struct {
	Code          string   `json:"code" yaml:"code"`
	Name          string   `json:"name" yaml:"name"`
	Symptoms      []string `json:"symptoms" yaml:"symptoms"`
	RequiredExams []string `json:"requiredExams" yaml:"requiredExams"`
}

// KnowledgeBase maps upper-case CIE-10 codes to entries.
type KnowledgeBase map[string]KnowledgeEntry

// NormalizeCode upper-cases and trims a CIE-10 code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Lookup resolves a code exactly, then by its three-character category
// ("J44.9" → "J44").
func (kb KnowledgeBase) Lookup(code string) (KnowledgeEntry, bool) {
	code = NormalizeCode(code)
	if code == "" {
		return KnowledgeEntry{}, false
	}
	if e, ok := kb[code]; ok {
		return e, true
	}
	if len(code) > 3 {
		if e, ok := kb[code[:3]]; ok {
			return e, true
		}
	}
	return KnowledgeEntry{}, false
}

// Entries returns the entries sorted by code.
func (kb KnowledgeBase) Entries() []KnowledgeEntry {
	out := make([]KnowledgeEntry, 0, len(kb))
	for _, e := range kb {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Clone returns a deep copy.
func (kb KnowledgeBase) Clone() KnowledgeBase {
	out := make(KnowledgeBase, len(kb))
	for k, e := range kb {
		e.Symptoms = append([]string(nil), e.Symptoms...)
		e.RequiredExams = append([]string(nil), e.RequiredExams...)
		out[k] = e
	}
	return out
}

// Put adds or replaces e under its normalized code.
func (kb KnowledgeBase) Put(e KnowledgeEntry) {
	e.Code = NormalizeCode(e.Code)
	kb[e.Code] = e
}

// DefaultKnowledge returns the compiled-in seed knowledge base.
func DefaultKnowledge() KnowledgeBase {
	kb := KnowledgeBase{}
	for _, e := range []KnowledgeEntry{
		{
			Code: "J44", Name: "Enfermedad pulmonar obstructiva crónica",
			Symptoms:      []string{"disnea", "tos", "expectoración", "sibilancias", "fatiga"},
			RequiredExams: []string{"auscultación"},
		},
		{
			Code: "I10", Name: "Hipertensión esencial",
			Symptoms:      []string{"cefalea", "mareo", "visión borrosa", "palpitaciones", "presión alta"},
			RequiredExams: []string{"cardiovascular"},
		},
		{
			Code: "E11", Name: "Diabetes mellitus tipo 2",
			Symptoms:      []string{"poliuria", "polidipsia", "polifagia", "pérdida de peso", "visión borrosa"},
			RequiredExams: []string{"pies"},
		},
		{
			Code: "J18", Name: "Neumonía",
			Symptoms:      []string{"fiebre", "tos", "disnea", "dolor torácico", "expectoración"},
			RequiredExams: []string{"auscultación"},
		},
		{
			Code: "K35", Name: "Apendicitis aguda",
			Symptoms:      []string{"dolor abdominal", "fosa ilíaca derecha", "náuseas", "vómitos", "fiebre"},
			RequiredExams: []string{"abdom"},
		},
		{
			Code: "N39", Name: "Infección de vías urinarias",
			Symptoms:      []string{"disuria", "polaquiuria", "hematuria", "urgencia miccional", "fiebre"},
			RequiredExams: []string{"puñopercusión"},
		},
		{
			Code: "F32", Name: "Episodio depresivo",
			Symptoms:      []string{"tristeza", "anhedonia", "insomnio", "desánimo", "llanto"},
			RequiredExams: []string{"mental"},
		},
	} {
		kb.Put(e)
	}
	return kb
}
