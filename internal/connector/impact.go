package connector

import (
	"caliberscan/internal/models"
)

// Impact handles the Impact wholesale format, usually XML with <product>
// elements. Its stock_quantity field carries strings like "5 in stock";
// records with an unreadable quantity are assumed available.
type Impact struct {
	syn map[string][]string
}

func NewImpact() *Impact {
	return &Impact{syn: mergeSynonyms(map[string][]string{
		"sku":      {"impact_sku"},
		"quantity": {"stock_quantity"},
		"title":    {"product_title"},
	})}
}

func (i *Impact) Name() string       { return "impact" }
func (i *Impact) FormatType() string { return models.FormatImpact }

func (i *Impact) CanHandle(sample []RawRecord) bool {
	return hasField(sample, "stock_quantity") || hasField(sample, "impact_sku")
}

func (i *Impact) FieldMapping() map[string][]string { return i.syn }

func (i *Impact) Parse(doc *Document) *Result {
	return classify(doc, extractOptions{Synonyms: i.syn})
}
