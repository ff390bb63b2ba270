package connector

import (
	"caliberscan/internal/models"
)

// RawRecord is one source row/object/element exactly as parsed, with the
// original field names preserved.
type RawRecord map[string]interface{}

// Document is a feed payload after structure parsing: rows plus any lines
// that could not be shaped into a record.
type Document struct {
	Structure string // csv, tsv, json, xml
	Rows      []RawRecord
	Malformed []MalformedRow
}

// MalformedRow is a structurally broken source row (wrong column count,
// non-object array entry).
type MalformedRow struct {
	Line   int
	Reason string
}

// Indexed is a record that passed the full contract and is ready to store.
type Indexed struct {
	Sku models.DealerSku
	Raw RawRecord
}

// Quarantined is a sellable record whose UPC failed the contract. It keeps
// the parsed fields so triage can resolve it without refetching.
type Quarantined struct {
	MatchKey string
	Raw      RawRecord
	Parsed   map[string]interface{}
	Errors   []models.RecordError
}

// Rejected is a record missing the minimum sellable fields.
type Rejected struct {
	Raw    RawRecord
	Errors []models.RecordError
}

// Result is the classified output of one connector run over one document.
type Result struct {
	Total       int
	Indexed     []Indexed
	Quarantined []Quarantined
	Rejected    []Rejected
	Coercions   int
	ErrorCodes  map[string]int
	Samples     []models.RecordError
}

// Connector turns a structure-parsed document into classified records.
type Connector interface {
	Name() string
	FormatType() string
	// CanHandle inspects up to a handful of sample rows and reports whether
	// this connector recognizes the dealer's export format.
	CanHandle(sample []RawRecord) bool
	Parse(doc *Document) *Result
	// FieldMapping exposes target field -> accepted source names, mainly
	// for the operational API.
	FieldMapping() map[string][]string
}

// detectSampleSize rows are enough to recognize any of the known formats.
const detectSampleSize = 5

// Registry holds the known connectors in detection order with the generic
// connector as the fallback.
type Registry struct {
	specialized []Connector
	generic     Connector
	byFormat    map[string]Connector
}

func NewRegistry() *Registry {
	gun := NewGunEngine()
	ammo := NewAmmoSeek()
	impact := NewImpact()
	gen := NewGeneric()

	r := &Registry{
		specialized: []Connector{gun, ammo, impact},
		generic:     gen,
		byFormat: map[string]Connector{
			models.FormatGunEngine:  gun,
			models.FormatAmmoSeekV1: ammo,
			models.FormatImpact:     impact,
			models.FormatGeneric:    gen,
		},
	}
	return r
}

// Get returns the connector registered for an explicit format, or nil.
func (r *Registry) Get(format string) Connector {
	return r.byFormat[format]
}

// Detect tries the specialized connectors in registration order against a
// sample of the document and falls back to the generic connector.
func (r *Registry) Detect(doc *Document) Connector {
	sample := doc.Rows
	if len(sample) > detectSampleSize {
		sample = sample[:detectSampleSize]
	}
	for _, c := range r.specialized {
		if c.CanHandle(sample) {
			return c
		}
	}
	return r.generic
}

// Resolve picks the connector for a feed: an explicit non-generic format
// wins, GENERIC (or unknown) goes through auto-detection.
func (r *Registry) Resolve(format string, doc *Document) Connector {
	if format != "" && format != models.FormatGeneric {
		if c := r.byFormat[format]; c != nil {
			return c
		}
	}
	return r.Detect(doc)
}

// Names lists every registered connector name, generic last.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.specialized)+1)
	for _, c := range r.specialized {
		out = append(out, c.Name())
	}
	return append(out, r.generic.Name())
}
