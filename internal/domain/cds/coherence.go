package cds

import (
	"fmt"
	"strings"

	"github.com/ehr/medforms/internal/domain/medform"
	"github.com/ehr/medforms/internal/platform/textmatch"
)

// CoherenceOptions tunes the diagnosis coherence checker.
type CoherenceOptions struct {
	// FlagUnknownCodes emits a low-severity alert for codes absent from the
	// knowledge base instead of skipping them silently.
	FlagUnknownCodes bool
}

// CheckDiagnosisCoherence cross-checks each coded diagnosis against the
// knowledge base. A diagnosis whose expected symptoms are all absent from
// the illness narrative yields a medium coherence warning; each required
// exam not mentioned by any physical exam finding yields a low info
// alert. Codes without an entry are skipped unless opts.FlagUnknownCodes.
func CheckDiagnosisCoherence(diagnoses []medform.Diagnosis, illness string, exam map[string]string, kb KnowledgeBase, opts CoherenceOptions) []Alert {
	alerts := []Alert{}
	findings := make([]string, 0, len(exam))
	for _, v := range exam {
		findings = append(findings, v)
	}

	for i, d := range diagnoses {
		code := NormalizeCode(d.CIE10)
		if code == "" {
			continue
		}
		field := fmt.Sprintf("diagnoses.%d.cie10", i)
		entry, ok := kb.Lookup(code)
		if !ok {
			if opts.FlagUnknownCodes {
				alerts = append(alerts, info(CategoryCoherence, field,
					fmt.Sprintf("El código %s no figura en la base de conocimiento: coherencia no verificable", code),
					"Revisar manualmente la coherencia del diagnóstico"))
			}
			continue
		}

		if len(entry.Symptoms) > 0 {
			if _, found := textmatch.FirstMatch(illness, entry.Symptoms); !found {
				alerts = append(alerts, warning(CategoryCoherence, field,
					fmt.Sprintf("El diagnóstico %s (%s) no se corresponde con la enfermedad actual. Síntomas esperados: %s",
						code, entry.Name, strings.Join(entry.Symptoms, ", ")),
					"Revisar el diagnóstico o documentar los síntomas que lo sustentan", SeverityMedium))
			}
		}

		for _, ex := range entry.RequiredExams {
			if textmatch.AnyMentions(findings, ex) {
				continue
			}
			alerts = append(alerts, info(CategoryDiagnosis, medform.FieldPhysicalExam,
				fmt.Sprintf("Para %s (%s) se recomienda documentar examen: %s", code, entry.Name, ex),
				fmt.Sprintf("Registrar hallazgos de %s en el examen físico", ex)))
		}
	}
	return alerts
}
