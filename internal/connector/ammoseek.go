package connector

import (
	"caliberscan/internal/models"
)

// AmmoSeek handles the AmmoSeek v1 publisher format: product_name/link
// fields, grain_weight, and a sale_price column that reflects the price
// actually charged whenever it is set.
type AmmoSeek struct {
	syn map[string][]string
}

func NewAmmoSeek() *AmmoSeek {
	return &AmmoSeek{syn: mergeSynonyms(map[string][]string{
		"title":       {"product_name"},
		"url":         {"link"},
		"sku":         {"seller_sku"},
		"grain":       {"grain_weight"},
		"round_count": {"rounds_per_box"},
		"image_url":   {"image"},
	})}
}

func (a *AmmoSeek) Name() string       { return "ammoseek_v1" }
func (a *AmmoSeek) FormatType() string { return models.FormatAmmoSeekV1 }

func (a *AmmoSeek) CanHandle(sample []RawRecord) bool {
	if hasField(sample, "sale_price") {
		return true
	}
	return hasField(sample, "product_name") && hasField(sample, "link")
}

func (a *AmmoSeek) FieldMapping() map[string][]string { return a.syn }

func (a *AmmoSeek) Parse(doc *Document) *Result {
	return classify(doc, extractOptions{
		Synonyms:         a.syn,
		PreferSalePrice:  true,
		RequireURL:       true,
		WarnMissingAttrs: true,
	})
}
