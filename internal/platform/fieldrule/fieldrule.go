// Package fieldrule evaluates the static per-field rules that back the
// form schemas: required-ness, minimum length, numeric bounds, patterns and
// list sizes.
package fieldrule

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Rule describes what a single field must satisfy. Zero values disable a check.
type Rule struct {
	Label     string
	Required  bool
	MinLength int
	MaxLength int
	Min       *float64
	Max       *float64
	Numeric   bool
	Pattern   *regexp.Regexp
	MinItems  int
	// Message overrides the generated message for any failure.
	Message string
}

// Bounds returns a pointer pair for numeric rules.
func Bounds(min, max float64) (*float64, *float64) {
	return &min, &max
}

// Result is the outcome of validating one field.
type Result struct {
	Field   string `json:"field"`
	IsValid bool   `json:"isValid"`
	Error   string `json:"error,omitempty"`
}

// Table maps normalized field paths to rules.
type Table map[string]Rule

// Normalize replaces numeric path segments with "*" so that
// "diagnoses.2.cie10" looks up the "diagnoses.*.cie10" rule.
func Normalize(path string) string {
	parts := strings.Split(path, ".")
	for i, p := range parts {
		if _, err := strconv.Atoi(p); err == nil {
			parts[i] = "*"
		}
	}
	return strings.Join(parts, ".")
}

// Validate checks value against the rule registered for field. Fields
// without a rule pass.
func (t Table) Validate(field string, value any) Result {
	rule, ok := t[Normalize(field)]
	if !ok {
		return Result{Field: field, IsValid: true}
	}
	if msg := rule.Check(value); msg != "" {
		return Result{Field: field, IsValid: false, Error: msg}
	}
	return Result{Field: field, IsValid: true}
}

// ValidateValues validates every path in values that lies under prefix ("",
// "*" or a dotted path), returning results keyed by path.
func (t Table) ValidateValues(values map[string]any, prefix string) map[string]Result {
	out := make(map[string]Result, len(values))
	for path, value := range values {
		if !Under(path, prefix) {
			continue
		}
		out[path] = t.Validate(path, value)
	}
	return out
}

// Under reports whether path equals prefix or is nested below it. The empty
// prefix and "*" cover everything.
func Under(path, prefix string) bool {
	if prefix == "" || prefix == "*" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+".")
}

// SchemaError lists every field that failed its rule during a full parse.
type SchemaError struct {
	Fields map[string]string
}

func (e *SchemaError) Error() string {
	paths := make([]string, 0, len(e.Fields))
	for p := range e.Fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return fmt.Sprintf("schema validation failed for %d field(s): %s", len(paths), strings.Join(paths, ", "))
}

// Parse validates all values and returns a *SchemaError when any fails.
func (t Table) Parse(values map[string]any) error {
	failed := map[string]string{}
	for path, res := range t.ValidateValues(values, "") {
		if !res.IsValid {
			failed[path] = res.Error
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &SchemaError{Fields: failed}
}

// Has reports whether a rule is registered for field.
func (t Table) Has(field string) bool {
	_, ok := t[Normalize(field)]
	return ok
}

// Check returns an empty string when value satisfies the rule, otherwise a
// human readable message.
func (r Rule) Check(value any) string {
	label := r.Label
	if label == "" {
		label = "El campo"
	}
	fail := func(format string, args ...any) string {
		if r.Message != "" {
			return r.Message
		}
		return fmt.Sprintf(format, args...)
	}

	if IsEmpty(value) {
		if r.Required || r.MinItems > 0 || r.MinLength > 0 {
			return fail("%s es obligatorio", label)
		}
		return ""
	}

	if p, ok := value.(*string); ok {
		value = *p
	}

	if r.Numeric || r.Min != nil || r.Max != nil {
		n, ok := ToFloat(value)
		if !ok {
			return fail("%s debe ser numérico", label)
		}
		if r.Min != nil && n < *r.Min {
			return fail("%s debe ser mayor o igual a %s", label, formatNumber(*r.Min))
		}
		if r.Max != nil && n > *r.Max {
			return fail("%s debe ser menor o igual a %s", label, formatNumber(*r.Max))
		}
		return ""
	}

	if n, ok := collectionLen(value); ok {
		if n < r.MinItems {
			return fail("%s debe tener al menos %d elemento(s)", label, r.MinItems)
		}
		return ""
	}

	s, ok := value.(string)
	if !ok {
		s = fmt.Sprint(value)
	}
	s = strings.TrimSpace(s)
	if r.MinLength > 0 && len([]rune(s)) < r.MinLength {
		return fail("%s debe tener al menos %d caracteres", label, r.MinLength)
	}
	if r.MaxLength > 0 && len([]rune(s)) > r.MaxLength {
		return fail("%s no puede superar %d caracteres", label, r.MaxLength)
	}
	if r.Pattern != nil && !r.Pattern.MatchString(s) {
		return fail("%s tiene un formato inválido", label)
	}
	return ""
}

// IsEmpty treats nil, blank strings, nil pointers and empty lists as "not
// yet provided".
func IsEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case *string:
		return v == nil || strings.TrimSpace(*v) == ""
	case *float64:
		return v == nil
	}
	if n, ok := collectionLen(value); ok {
		return n == 0
	}
	return false
}

// ToFloat converts the numeric shapes a decoded form can carry.
func ToFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, !math.IsNaN(v)
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case *float64:
		if v == nil {
			return 0, false
		}
		return *v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(v, ",", ".")), 64)
		return f, err == nil
	}
	return 0, false
}

// ToStringList converts []string, []any of strings, or a single string.
func ToStringList(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case string:
		return []string{v}, true
	}
	return nil, false
}

// Lener is implemented by typed collections (e.g. a diagnosis list) so that
// MinItems rules can size them.
type Lener interface{ Len() int }

func collectionLen(value any) (int, bool) {
	switch v := value.(type) {
	case []string:
		return len(v), true
	case []any:
		return len(v), true
	case map[string]any:
		return len(v), true
	case Lener:
		return v.Len(), true
	}
	return 0, false
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
