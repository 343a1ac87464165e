package cds

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/ehr/medforms/internal/domain/medform"
	"github.com/ehr/medforms/pkg/pagination"
)

// Service owns the effective rule tables and runs the clinical checkers
// against them. Tables start from a base (compiled-in defaults, possibly
// overridden by a rules file) and can be refreshed from a knowledge
// repository.
type Service struct {
	base    *Tables
	current atomic.Pointer[Tables]
	repo    KnowledgeRepository
	opts    CoherenceOptions
	logger  zerolog.Logger
}

// NewService creates a service over base. repo may be nil.
func NewService(base *Tables, repo KnowledgeRepository, opts CoherenceOptions, logger zerolog.Logger) *Service {
	if base == nil {
		base = DefaultTables()
	}
	s := &Service{base: base, repo: repo, opts: opts, logger: logger}
	s.current.Store(base)
	return s
}

// Tables returns the current tables. Callers must not modify them.
func (s *Service) Tables() *Tables {
	return s.current.Load()
}

// Options returns the coherence options.
func (s *Service) Options() CoherenceOptions {
	return s.opts
}

// HasRepository reports whether a knowledge repository is configured.
func (s *Service) HasRepository() bool {
	return s.repo != nil
}

// Reload rebuilds the tables from the base plus the repository contents.
// Without a repository it is a no-op.
func (s *Service) Reload(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	diagnoses, err := s.repo.ListDiagnoses(ctx)
	if err != nil {
		return fmt.Errorf("load diagnosis knowledge: %w", err)
	}
	ranges, err := s.repo.ListVitalRanges(ctx)
	if err != nil {
		return fmt.Errorf("load vital ranges: %w", err)
	}

	doc := Document{Knowledge: diagnoses, VitalRanges: map[Sign]map[AgeBracket]Range{}}
	for _, row := range ranges {
		if doc.VitalRanges[row.Sign] == nil {
			doc.VitalRanges[row.Sign] = map[AgeBracket]Range{}
		}
		doc.VitalRanges[row.Sign][row.Bracket] = row.Range
	}
	tables, err := s.base.Apply(doc)
	if err != nil {
		return fmt.Errorf("apply knowledge base: %w", err)
	}
	s.current.Store(tables)
	s.logger.Info().
		Int("diagnoses", len(diagnoses)).
		Int("vital_ranges", len(ranges)).
		Msg("knowledge base loaded")
	return nil
}

// Seed writes the base knowledge entries and ranges into the repository
// and returns the number of rows written.
func (s *Service) Seed(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, fmt.Errorf("no knowledge repository configured")
	}
	n := 0
	for _, e := range s.base.Knowledge.Entries() {
		if err := s.repo.UpsertDiagnosis(ctx, e); err != nil {
			return n, fmt.Errorf("seed diagnosis %s: %w", e.Code, err)
		}
		n++
	}
	for _, sign := range Signs {
		for _, bracket := range Brackets {
			r, ok := s.base.Ranges[sign][bracket]
			if !ok {
				continue
			}
			if err := s.repo.UpsertVitalRange(ctx, VitalRangeRow{Sign: sign, Bracket: bracket, Range: r}); err != nil {
				return n, fmt.Errorf("seed range %s/%s: %w", sign, bracket, err)
			}
			n++
		}
	}
	return n, nil
}

// ListProtocolItems returns a page of the protocol catalog.
func (s *Service) ListProtocolItems(limit, offset int) ([]ProtocolItem, int) {
	return pagination.Slice(s.Tables().Catalog, pagination.Params{Limit: limit, Offset: offset})
}

// ListDiagnoses returns a page of the knowledge base, ordered by code.
func (s *Service) ListDiagnoses(limit, offset int) ([]KnowledgeEntry, int) {
	return pagination.Slice(s.Tables().Knowledge.Entries(), pagination.Params{Limit: limit, Offset: offset})
}

// VitalRanges returns the effective reference ranges.
func (s *Service) VitalRanges() RangeTable {
	return s.Tables().Ranges
}

// CheckVitalSigns runs the vital-signs checker on the current tables.
func (s *Service) CheckVitalSigns(v medform.VitalSigns, age float64) []Alert {
	return CheckVitalSigns(v, age, s.Tables().Ranges)
}

// CheckDiagnosisCoherence runs the diagnosis checker on f.
func (s *Service) CheckDiagnosisCoherence(f medform.Form) []Alert {
	return CheckDiagnosisCoherence(f.Diagnoses, f.CurrentIllness, f.PhysicalExam, s.Tables().Knowledge, s.opts)
}

// CheckProtocol runs the protocol checker on f.
func (s *Service) CheckProtocol(f medform.Form, ctx ProtocolContext) ProtocolReport {
	return CheckProtocol(f, ctx, s.Tables().Catalog)
}

// ClinicalAlerts returns the vital-sign and diagnosis alerts for f, in
// that order.
func (s *Service) ClinicalAlerts(f medform.Form, age float64) []Alert {
	alerts := s.CheckVitalSigns(f.VitalSigns, age)
	return append(alerts, s.CheckDiagnosisCoherence(f)...)
}
