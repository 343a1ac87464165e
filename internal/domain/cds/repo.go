package cds

import "context"

// VitalRangeRow is one stored (sign, bracket) reference range.
type VitalRangeRow struct {
	Sign    Sign       `db:"sign" json:"sign"`
	Bracket AgeBracket `db:"bracket" json:"bracket"`
	Range
}

// KnowledgeRepository stores rule-table overrides.
type KnowledgeRepository interface {
	ListDiagnoses(ctx context.Context) ([]KnowledgeEntry, error)
	UpsertDiagnosis(ctx context.Context, e KnowledgeEntry) error
	ListVitalRanges(ctx context.Context) ([]VitalRangeRow, error)
	UpsertVitalRange(ctx context.Context, row VitalRangeRow) error
}
