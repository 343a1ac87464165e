package nursing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ehr/medforms/internal/platform/fieldrule"
)

var (
	// ErrUnknownField is returned when a path does not name a form field.
	ErrUnknownField = errors.New("unknown field")
	// ErrInvalidValue is returned when a value has the wrong shape for its field.
	ErrInvalidValue = errors.New("invalid value")
)

func (f *Form) scalar(key string) *string {
	switch key {
	case FieldPatientID:
		return &f.PatientID
	case FieldUserID:
		return &f.UserID
	case FieldValoracion:
		return &f.Valoracion
	case FieldNandaCodigo:
		return &f.NandaCodigo
	case FieldNandaEtiqueta:
		return &f.NandaEtiqueta
	case FieldNandaRelacionadoCon:
		return &f.NandaRelacionadoCon
	case FieldNandaManifestadoPor:
		return &f.NandaManifestadoPor
	case FieldNocCodigo:
		return &f.NocCodigo
	case FieldNocResultado:
		return &f.NocResultado
	case FieldNicCodigo:
		return &f.NicCodigo
	case FieldNicIntervencion:
		return &f.NicIntervencion
	case FieldEvaluacion:
		return &f.Evaluacion
	case FieldObservaciones:
		return &f.Observaciones
	}
	return nil
}

func (f *Form) list(key string) *[]string {
	switch key {
	case FieldNocIndicador:
		return &f.NocIndicador
	case FieldNocRango:
		return &f.NocRango
	case FieldNocDianaInicial:
		return &f.NocDianaInicial
	case FieldNocDianaEsperada:
		return &f.NocDianaEsperada
	case FieldNicActividades:
		return &f.NicActividades
	}
	return nil
}

// Apply writes value into f at path: a field key ("nanda_codigo"), a whole
// list ("noc_rango") or a list element ("noc_diana_inicial.2"). An element
// index one past the end appends. Numeric values are stored as their
// decimal text, since targets travel as strings.
func Apply(f *Form, path string, value any) error {
	key, idxPart, indexed := strings.Cut(path, ".")

	if p := f.scalar(key); p != nil {
		if indexed {
			return fmt.Errorf("%w: %s", ErrUnknownField, path)
		}
		s, err := toString(path, value)
		if err != nil {
			return err
		}
		*p = s
		return nil
	}

	l := f.list(key)
	if l == nil {
		return fmt.Errorf("%w: %s", ErrUnknownField, path)
	}
	if !indexed {
		if value == nil {
			*l = []string{}
			return nil
		}
		items, err := toStringList(path, value)
		if err != nil {
			return err
		}
		*l = items
		return nil
	}

	idx, err := strconv.Atoi(idxPart)
	if err != nil || idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownField, path)
	}
	if idx > len(*l) {
		return fmt.Errorf("%w: %s index %d out of range", ErrInvalidValue, path, idx)
	}
	s, err := toString(path, value)
	if err != nil {
		return err
	}
	if idx == len(*l) {
		*l = append(*l, s)
	} else {
		(*l)[idx] = s
	}
	return nil
}

func toString(path string, value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	}
	if n, ok := fieldrule.ToFloat(value); ok {
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("%w: %s must be a string", ErrInvalidValue, path)
}

func toStringList(path string, value any) ([]string, error) {
	if items, ok := fieldrule.ToStringList(value); ok {
		return append([]string{}, items...), nil
	}
	raw, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a list", ErrInvalidValue, path)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, err := toString(path, item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
