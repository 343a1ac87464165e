package cds

import "sort"

// AlertType is the feed an alert is shown in.
type AlertType string

const (
	AlertInfo    AlertType = "info"
	AlertWarning AlertType = "warning"
	AlertError   AlertType = "error"
)

// Category groups alerts in the summary panel.
type Category string

const (
	CategoryVitalSigns Category = "vital_signs"
	CategoryDiagnosis  Category = "diagnosis"
	CategoryMedication Category = "medication"
	CategoryProtocol   Category = "protocol"
	CategoryCoherence  Category = "coherence"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryVitalSigns,
	CategoryDiagnosis,
	CategoryMedication,
	CategoryProtocol,
	CategoryCoherence,
}

// Severity grades an alert. Protocol item priorities use the same scale.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from 1 (low) to 4 (critical). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Valid reports whether s is one of the declared severities.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// Presentation is how the UI renders an alert of a given severity.
type Presentation struct {
	Tone       string `json:"tone"`
	Icon       string `json:"icon"`
	Emphasized bool   `json:"emphasized"`
}

// Presentation maps every severity to its UI treatment.
func (s Severity) Presentation() Presentation {
	switch s {
	case SeverityLow:
		return Presentation{Tone: "info", Icon: "info-circle"}
	case SeverityMedium:
		return Presentation{Tone: "warning", Icon: "exclamation-triangle"}
	case SeverityHigh:
		return Presentation{Tone: "danger", Icon: "exclamation-circle"}
	case SeverityCritical:
		return Presentation{Tone: "danger", Icon: "times-circle", Emphasized: true}
	}
	return Presentation{Tone: "secondary", Icon: "question-circle"}
}

// Alert is a graded clinical advisory. Alerts are recomputed on every
// validation pass and never patched in place.
type Alert struct {
	Type       AlertType `json:"type"`
	Category   Category  `json:"category"`
	Message    string    `json:"message"`
	Field      string    `json:"field,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
	Severity   Severity  `json:"severity"`
}

// Blocking reports whether the alert prevents submission.
func (a Alert) Blocking() bool {
	return a.Severity == SeverityCritical || a.Type == AlertError
}

// AnyBlocking reports whether any alert in the list blocks submission.
func AnyBlocking(alerts []Alert) bool {
	for _, a := range alerts {
		if a.Blocking() {
			return true
		}
	}
	return false
}

// AlertGroup is the alerts of one category, most severe first.
type AlertGroup struct {
	Category     Category     `json:"category"`
	Alerts       []Alert      `json:"alerts"`
	Presentation Presentation `json:"presentation"`
}

// GroupAlerts buckets alerts by category in display order, dropping empty
// categories. Within a group alerts are ordered by descending severity,
// keeping input order for ties. The group presentation is that of its most
// severe alert.
func GroupAlerts(alerts []Alert) []AlertGroup {
	byCat := make(map[Category][]Alert)
	for _, a := range alerts {
		byCat[a.Category] = append(byCat[a.Category], a)
	}
	var groups []AlertGroup
	emit := func(cat Category) {
		list := byCat[cat]
		if len(list) == 0 {
			return
		}
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Severity.Rank() > list[j].Severity.Rank()
		})
		groups = append(groups, AlertGroup{
			Category:     cat,
			Alerts:       list,
			Presentation: list[0].Severity.Presentation(),
		})
		delete(byCat, cat)
	}
	for _, cat := range Categories {
		emit(cat)
	}
	// Categories outside the declared set go last, sorted by name.
	var rest []string
	for cat := range byCat {
		rest = append(rest, string(cat))
	}
	sort.Strings(rest)
	for _, cat := range rest {
		emit(Category(cat))
	}
	return groups
}

func warning(cat Category, field, msg, suggestion string, sev Severity) Alert {
	return Alert{Type: AlertWarning, Category: cat, Field: field, Message: msg, Suggestion: suggestion, Severity: sev}
}

func critical(cat Category, field, msg, suggestion string) Alert {
	return Alert{Type: AlertError, Category: cat, Field: field, Message: msg, Suggestion: suggestion, Severity: SeverityCritical}
}

func info(cat Category, field, msg, suggestion string) Alert {
	return Alert{Type: AlertInfo, Category: cat, Field: field, Message: msg, Suggestion: suggestion, Severity: SeverityLow}
}
