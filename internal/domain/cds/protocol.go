package cds

import (
	"math"

	"github.com/ehr/medforms/internal/domain/medform"
)

// ConsultationType is the kind of encounter being documented.
type ConsultationType string

const (
	ConsultationFirstVisit ConsultationType = "first_visit"
	ConsultationFollowUp   ConsultationType = "follow_up"
	ConsultationControl    ConsultationType = "control"
	ConsultationEmergency  ConsultationType = "emergency"
	ConsultationProcedure  ConsultationType = "procedure"
)

// RiskLevel is the patient's clinical risk classification.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ItemCategory classifies protocol items.
type ItemCategory string

const (
	ItemDocumentation ItemCategory = "documentation"
	ItemClinical      ItemCategory = "clinical"
	ItemSafety        ItemCategory = "safety"
	ItemLegal         ItemCategory = "legal"
)

// ItemCategories lists every item category.
var ItemCategories = []ItemCategory{ItemDocumentation, ItemClinical, ItemSafety, ItemLegal}

// Applicability restricts an item to a context. Each declared axis must
// match; an empty list or nil bound leaves that axis unrestricted.
type Applicability struct {
	ConsultationTypes []ConsultationType `json:"consultationTypes,omitempty" yaml:"consultationTypes,omitempty"`
	MinAge            *float64           `json:"minAge,omitempty" yaml:"minAge,omitempty"`
	MaxAge            *float64           `json:"maxAge,omitempty" yaml:"maxAge,omitempty"`
	BelowAge          *float64           `json:"belowAge,omitempty" yaml:"belowAge,omitempty"`
	RiskLevels        []RiskLevel        `json:"riskLevels,omitempty" yaml:"riskLevels,omitempty"`
}

// Matches reports whether ctx satisfies every declared constraint.
// MinAge and MaxAge are inclusive; BelowAge is exclusive, matching the
// "< 18" pediatric bracket of the vital ranges. An unknown age (zero or
// less) never satisfies a declared age bound.
func (a *Applicability) Matches(ctx ProtocolContext) bool {
	if a == nil {
		return true
	}
	if len(a.ConsultationTypes) > 0 && !contains(a.ConsultationTypes, ctx.ConsultationType) {
		return false
	}
	if (a.MinAge != nil || a.MaxAge != nil || a.BelowAge != nil) && ctx.PatientAge <= 0 {
		return false
	}
	if a.MinAge != nil && ctx.PatientAge < *a.MinAge {
		return false
	}
	if a.MaxAge != nil && ctx.PatientAge > *a.MaxAge {
		return false
	}
	if a.BelowAge != nil && ctx.PatientAge >= *a.BelowAge {
		return false
	}
	if len(a.RiskLevels) > 0 && !contains(a.RiskLevels, ctx.RiskLevel) {
		return false
	}
	return true
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// Predicate decides whether a form documents a protocol item.
type Predicate func(medform.Form) bool

// ProtocolItem is one entry of the documentation protocol.
type ProtocolItem struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Required    bool           `json:"required" yaml:"required"`
	Category    ItemCategory   `json:"category" yaml:"category"`
	Priority    Severity       `json:"priority" yaml:"priority"`
	AppliesTo   *Applicability `json:"appliesTo,omitempty" yaml:"appliesTo,omitempty"`
	Check       Predicate      `json:"-" yaml:"-"`
}

// ProtocolContext is the encounter context items are filtered by.
type ProtocolContext struct {
	ConsultationType ConsultationType `json:"consultationType"`
	PatientAge       float64          `json:"patientAge"`
	RiskLevel        RiskLevel        `json:"riskLevel"`
}

// ItemStatus is the evaluation outcome of one item.
type ItemStatus string

const (
	StatusComplete      ItemStatus = "complete"
	StatusIncomplete    ItemStatus = "incomplete"
	StatusNotApplicable ItemStatus = "not_applicable"
)

// ProtocolResult is the evaluation of one item.
type ProtocolResult struct {
	ItemID   string       `json:"itemId"`
	Name     string       `json:"name"`
	Required bool         `json:"required"`
	Category ItemCategory `json:"category"`
	Priority Severity     `json:"priority"`
	Status   ItemStatus   `json:"status"`
}

// ProtocolReport is the outcome of CheckProtocol.
type ProtocolReport struct {
	Score           int              `json:"score"`
	Results         []ProtocolResult `json:"results"`
	MissingRequired []string         `json:"missingRequired"`
}

// Protocol score weights.
const (
	RequiredWeight = 0.7
	OptionalWeight = 0.3
)

// CheckProtocol evaluates every catalog item against the form. Items whose
// applicability does not match ctx are not_applicable and do not count.
// The score weights the completed share of required items at 70% and of
// optional items at 30%; a category with no applicable items earns its full
// weight, but a context where no item applies at all scores 0. A predicate
// that panics counts as incomplete.
func CheckProtocol(f medform.Form, ctx ProtocolContext, catalog Catalog) ProtocolReport {
	report := ProtocolReport{
		Results:         make([]ProtocolResult, 0, len(catalog)),
		MissingRequired: []string{},
	}
	var reqTotal, reqDone, optTotal, optDone int

	for _, item := range catalog {
		res := ProtocolResult{
			ItemID:   item.ID,
			Name:     item.Name,
			Required: item.Required,
			Category: item.Category,
			Priority: item.Priority,
		}
		if !item.AppliesTo.Matches(ctx) {
			res.Status = StatusNotApplicable
			report.Results = append(report.Results, res)
			continue
		}

		done := evaluate(item.Check, f)
		res.Status = StatusIncomplete
		if done {
			res.Status = StatusComplete
		}
		report.Results = append(report.Results, res)

		if item.Required {
			reqTotal++
			if done {
				reqDone++
			} else {
				report.MissingRequired = append(report.MissingRequired, item.Name)
			}
		} else {
			optTotal++
			if done {
				optDone++
			}
		}
	}

	if reqTotal+optTotal == 0 {
		return report
	}
	reqPart := RequiredWeight
	if reqTotal > 0 {
		reqPart = RequiredWeight * float64(reqDone) / float64(reqTotal)
	}
	optPart := OptionalWeight
	if optTotal > 0 {
		optPart = OptionalWeight * float64(optDone) / float64(optTotal)
	}
	report.Score = int(math.Round((reqPart + optPart) * 100))
	return report
}

func evaluate(check Predicate, f medform.Form) (done bool) {
	if check == nil {
		return false
	}
	defer func() {
		if recover() != nil {
			done = false
		}
	}()
	return check(f)
}
