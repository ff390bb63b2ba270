package connector

import (
	"strings"

	"caliberscan/internal/models"
)

// hasField reports whether any sample row carries the named column,
// case-insensitively.
func hasField(sample []RawRecord, name string) bool {
	for _, row := range sample {
		for k := range row {
			if strings.EqualFold(strings.TrimSpace(k), name) {
				return true
			}
		}
	}
	return false
}

// GunEngine handles the GunEngine v2 distributor export: item_id and
// manufacturer columns, retail_price, and terse stock words.
type GunEngine struct {
	syn map[string][]string
}

func NewGunEngine() *GunEngine {
	return &GunEngine{syn: mergeSynonyms(map[string][]string{
		"sku":   {"item_id"},
		"brand": {"manufacturer"},
		"price": {"retail_price", "map_price"},
		"upc":   {"upc_code"},
		"title": {"item_name"},
	})}
}

func (g *GunEngine) Name() string       { return "gunengine_v2" }
func (g *GunEngine) FormatType() string { return models.FormatGunEngine }

func (g *GunEngine) CanHandle(sample []RawRecord) bool {
	if !hasField(sample, "item_id") || !hasField(sample, "manufacturer") {
		return false
	}
	return hasField(sample, "stock_status") ||
		hasField(sample, "bullet_weight") ||
		hasField(sample, "rounds_per_box")
}

func (g *GunEngine) FieldMapping() map[string][]string { return g.syn }

func (g *GunEngine) Parse(doc *Document) *Result {
	return classify(doc, extractOptions{
		Synonyms:   g.syn,
		ParseStock: gunEngineStock,
	})
}

// gunEngineStock interprets the export's stock vocabulary. "limited" means
// low but available. Unknown words fall through to the generic parser.
func gunEngineStock(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in", "instock", "in stock", "available", "limited":
		return true, true
	case "out", "out of stock", "outofstock", "unavailable", "discontinued":
		return false, true
	}
	return false, false
}
