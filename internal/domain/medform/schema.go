package medform

import "github.com/ehr/medforms/internal/platform/fieldrule"

// SchemaError lists every field that failed its rule during Parse.
type SchemaError = fieldrule.SchemaError

// Parse runs the full schema over f and returns a *SchemaError when any
// field fails. It is the strict counterpart of ValidateField used at
// submit time.
func Parse(f Form) error {
	return Rules.Parse(FieldValues(f))
}
