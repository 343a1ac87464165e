package nursing

// Form is the nursing care-plan form: one NANDA diagnosis, its NOC outcome
// with per-indicator measurement scale and targets, and the NIC
// intervention. The four NOC arrays are parallel, indexed by indicator.
type Form struct {
	PatientID string `json:"patient_id" yaml:"patient_id"`
	UserID    string `json:"user_id" yaml:"user_id"`

	Valoracion string `json:"valoracion" yaml:"valoracion"`

	NandaCodigo         string `json:"nanda_codigo" yaml:"nanda_codigo"`
	NandaEtiqueta       string `json:"nanda_etiqueta" yaml:"nanda_etiqueta"`
	NandaRelacionadoCon string `json:"nanda_relacionado_con" yaml:"nanda_relacionado_con"`
	NandaManifestadoPor string `json:"nanda_manifestado_por" yaml:"nanda_manifestado_por"`

	NocCodigo        string   `json:"noc_codigo" yaml:"noc_codigo"`
	NocResultado     string   `json:"noc_resultado" yaml:"noc_resultado"`
	NocIndicador     []string `json:"noc_indicador" yaml:"noc_indicador"`
	NocRango         []string `json:"noc_rango" yaml:"noc_rango"`
	NocDianaInicial  []string `json:"noc_diana_inicial" yaml:"noc_diana_inicial"`
	NocDianaEsperada []string `json:"noc_diana_esperada" yaml:"noc_diana_esperada"`

	NicCodigo       string   `json:"nic_codigo" yaml:"nic_codigo"`
	NicIntervencion string   `json:"nic_intervencion" yaml:"nic_intervencion"`
	NicActividades  []string `json:"nic_actividades" yaml:"nic_actividades"`

	Evaluacion    string `json:"evaluacion" yaml:"evaluacion"`
	Observaciones string `json:"observaciones" yaml:"observaciones"`
}

// Field keys, as used in field paths.
const (
	FieldPatientID           = "patient_id"
	FieldUserID              = "user_id"
	FieldValoracion          = "valoracion"
	FieldNandaCodigo         = "nanda_codigo"
	FieldNandaEtiqueta       = "nanda_etiqueta"
	FieldNandaRelacionadoCon = "nanda_relacionado_con"
	FieldNandaManifestadoPor = "nanda_manifestado_por"
	FieldNocCodigo           = "noc_codigo"
	FieldNocResultado        = "noc_resultado"
	FieldNocIndicador        = "noc_indicador"
	FieldNocRango            = "noc_rango"
	FieldNocDianaInicial     = "noc_diana_inicial"
	FieldNocDianaEsperada    = "noc_diana_esperada"
	FieldNicCodigo           = "nic_codigo"
	FieldNicIntervencion     = "nic_intervencion"
	FieldNicActividades      = "nic_actividades"
	FieldEvaluacion          = "evaluacion"
	FieldObservaciones       = "observaciones"
)

// CriticalFields are the keys whose changes trigger the debounced
// coherence pass.
var CriticalFields = []string{
	FieldValoracion,
	FieldNandaCodigo,
	FieldNocCodigo,
	FieldNocIndicador,
	FieldNocRango,
	FieldNocDianaInicial,
	FieldNocDianaEsperada,
	FieldNicCodigo,
}

// NewForm returns an empty care plan for the given patient and author.
func NewForm(patientID, userID string) Form {
	return Form{
		PatientID:        patientID,
		UserID:           userID,
		NocIndicador:     []string{},
		NocRango:         []string{},
		NocDianaInicial:  []string{},
		NocDianaEsperada: []string{},
		NicActividades:   []string{},
	}
}

// Clone returns a deep copy of f.
func Clone(f Form) Form {
	out := f
	out.NocIndicador = cloneStrings(f.NocIndicador)
	out.NocRango = cloneStrings(f.NocRango)
	out.NocDianaInicial = cloneStrings(f.NocDianaInicial)
	out.NocDianaEsperada = cloneStrings(f.NocDianaEsperada)
	out.NicActividades = cloneStrings(f.NicActividades)
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
