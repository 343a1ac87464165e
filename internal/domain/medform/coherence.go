package medform

import "fmt"

// CoherenceResult is the outcome of the cross-field checks.
type CoherenceResult struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

// ValidateCoherence runs the cross-field refinements of the schema: the
// diagnosis list must not be empty and every diagnosis must be classified
// as presumptive, definitive or both.
func ValidateCoherence(f Form) CoherenceResult {
	errs := []string{}
	if len(f.Diagnoses) == 0 {
		errs = append(errs, "Debe registrar al menos un diagnóstico")
	}
	for i, d := range f.Diagnoses {
		if !d.Classified() {
			errs = append(errs, fmt.Sprintf("El diagnóstico %d debe marcarse como presuntivo o definitivo", i+1))
		}
	}
	return CoherenceResult{IsValid: len(errs) == 0, Errors: errs}
}
