package cds

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Tables bundles the rule data every checker reads. A Tables value is
// immutable once built; overrides produce a new value.
type Tables struct {
	Ranges    RangeTable
	Knowledge KnowledgeBase
	Catalog   Catalog
}

// DefaultTables returns the compiled-in tables.
func DefaultTables() *Tables {
	return &Tables{
		Ranges:    DefaultRanges(),
		Knowledge: DefaultKnowledge(),
		Catalog:   DefaultCatalog(),
	}
}

// Clone returns a deep copy of t.
func (t *Tables) Clone() *Tables {
	return &Tables{
		Ranges:    t.Ranges.Clone(),
		Knowledge: t.Knowledge.Clone(),
		Catalog:   t.Catalog.Clone(),
	}
}

// Document is the serialized form of the rule tables, used by RULES_FILE
// and by the catalog dump. Every section is optional when used as an
// override.
type Document struct {
	VitalRanges map[Sign]map[AgeBracket]Range `json:"vitalRanges,omitempty" yaml:"vitalRanges,omitempty"`
	Knowledge   []KnowledgeEntry              `json:"knowledge,omitempty" yaml:"knowledge,omitempty"`
	Protocol    []ProtocolPatch               `json:"protocol,omitempty" yaml:"protocol,omitempty"`
}

// ProtocolPatch overrides the metadata of one protocol item. Nil and empty
// fields keep the current value.
type ProtocolPatch struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Required    *bool          `json:"required,omitempty" yaml:"required,omitempty"`
	Category    ItemCategory   `json:"category,omitempty" yaml:"category,omitempty"`
	Priority    Severity       `json:"priority,omitempty" yaml:"priority,omitempty"`
	AppliesTo   *Applicability `json:"appliesTo,omitempty" yaml:"appliesTo,omitempty"`
}

// Document exports t.
func (t *Tables) Document() Document {
	items := t.Catalog.Clone()
	patches := make([]ProtocolPatch, 0, len(items))
	for _, it := range items {
		required := it.Required
		patches = append(patches, ProtocolPatch{
			ID:          it.ID,
			Name:        it.Name,
			Description: it.Description,
			Required:    &required,
			Category:    it.Category,
			Priority:    it.Priority,
			AppliesTo:   it.AppliesTo,
		})
	}
	return Document{
		VitalRanges: t.Ranges.Clone(),
		Knowledge:   t.Knowledge.Entries(),
		Protocol:    patches,
	}
}

// ErrInvalidRules is wrapped by every rule validation failure.
var ErrInvalidRules = errors.New("invalid rules")

// Apply returns a copy of t with doc's entries layered on top. Ranges
// replace the (sign, bracket) entry they name, knowledge entries replace
// or add by code, and protocol patches update the metadata of the item
// with the same id. Protocol predicates are compiled in, so an unknown
// item id is an error.
func (t *Tables) Apply(doc Document) (*Tables, error) {
	out := t.Clone()

	for sign, byBracket := range doc.VitalRanges {
		if !contains(Signs, sign) {
			return nil, fmt.Errorf("%w: unknown vital sign %q", ErrInvalidRules, sign)
		}
		for bracket, r := range byBracket {
			if !contains(Brackets, bracket) {
				return nil, fmt.Errorf("%w: unknown age bracket %q for %s", ErrInvalidRules, bracket, sign)
			}
			if err := r.validate(); err != nil {
				return nil, fmt.Errorf("%w: %s/%s: %v", ErrInvalidRules, sign, bracket, err)
			}
			out.Ranges.Set(sign, bracket, r)
		}
	}

	for _, e := range doc.Knowledge {
		if NormalizeCode(e.Code) == "" {
			return nil, fmt.Errorf("%w: knowledge entry without code", ErrInvalidRules)
		}
		out.Knowledge.Put(e)
	}

	for _, patch := range doc.Protocol {
		idx := -1
		for i, it := range out.Catalog {
			if it.ID == patch.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%w: unknown protocol item %q", ErrInvalidRules, patch.ID)
		}
		if patch.Category != "" && !contains(ItemCategories, patch.Category) {
			return nil, fmt.Errorf("%w: protocol item %q: invalid category %q", ErrInvalidRules, patch.ID, patch.Category)
		}
		if patch.Priority != "" && !patch.Priority.Valid() {
			return nil, fmt.Errorf("%w: protocol item %q: invalid priority %q", ErrInvalidRules, patch.ID, patch.Priority)
		}
		item := &out.Catalog[idx]
		if patch.Name != "" {
			item.Name = patch.Name
		}
		if patch.Description != "" {
			item.Description = patch.Description
		}
		if patch.Category != "" {
			item.Category = patch.Category
		}
		if patch.Priority != "" {
			item.Priority = patch.Priority
		}
		if patch.Required != nil {
			item.Required = *patch.Required
		}
		if patch.AppliesTo != nil {
			item.AppliesTo = patch.AppliesTo
		}
	}
	return out, nil
}

func (r Range) validate() error {
	if !(r.CriticalLow <= r.Min && r.Min <= r.Max && r.Max <= r.CriticalHigh) {
		return fmt.Errorf("range must satisfy criticalLow <= min <= max <= criticalHigh, got %v", r)
	}
	return nil
}

// DecodeDocument reads a YAML rules document. Unknown keys are rejected.
func DecodeDocument(r io.Reader) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Document{}, fmt.Errorf("decode rules: %w", err)
	}
	return doc, nil
}

// LoadRulesFile applies the YAML document at path on top of base.
func LoadRulesFile(path string, base *Tables) (*Tables, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	doc, err := DecodeDocument(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return base.Apply(doc)
}

// EncodeYAML writes doc as YAML.
func EncodeYAML(w io.Writer, doc Document) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
