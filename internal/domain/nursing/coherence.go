package nursing

import (
	"fmt"
	"strconv"
	"strings"
)

// CoherenceResult is the outcome of the cross-field checks.
type CoherenceResult struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

// ValidateCoherence checks the NOC block: the indicator, range, initial
// target and expected target arrays must have the same length, and every
// expected target must be at least its initial target. Each rule yields at
// most one error no matter how many positions break it; the monotonicity
// error names the offending positions (1-based).
func ValidateCoherence(f Form) CoherenceResult {
	errs := []string{}

	n := len(f.NocIndicador)
	if len(f.NocRango) != n || len(f.NocDianaInicial) != n || len(f.NocDianaEsperada) != n {
		errs = append(errs, fmt.Sprintf(
			"Los indicadores NOC, rangos y dianas deben tener la misma cantidad de elementos (indicadores: %d, rangos: %d, dianas iniciales: %d, dianas esperadas: %d)",
			n, len(f.NocRango), len(f.NocDianaInicial), len(f.NocDianaEsperada)))
	}

	var bad []string
	pairs := min(len(f.NocDianaInicial), len(f.NocDianaEsperada))
	for i := 0; i < pairs; i++ {
		initial, ok1 := target(f.NocDianaInicial[i])
		expected, ok2 := target(f.NocDianaEsperada[i])
		if !ok1 || !ok2 {
			continue
		}
		if expected < initial {
			bad = append(bad, strconv.Itoa(i+1))
		}
	}
	if len(bad) > 0 {
		errs = append(errs, fmt.Sprintf(
			"La diana esperada debe ser mayor o igual a la diana inicial (posiciones: %s)", strings.Join(bad, ", ")))
	}

	return CoherenceResult{IsValid: len(errs) == 0, Errors: errs}
}

// target parses a 1–5 scale value. Unparseable values are left to the
// field rules.
func target(s string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v < 1 || v > 5 {
		return 0, false
	}
	return v, true
}
