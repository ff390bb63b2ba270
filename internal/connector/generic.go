package connector

import (
	"fmt"

	"caliberscan/internal/models"
)

// errorSampleLimit caps how many record errors a run keeps for triage.
const errorSampleLimit = 100

// classify runs the shared pipeline over a document: normalize each row,
// apply the sellable-record contract, and split the outcome three ways.
//
// The contract: a record needs a title and a positive price to be sellable
// at all; a sellable record additionally needs a valid UPC to be indexed,
// otherwise it is quarantined for triage rather than dropped.
func classify(doc *Document, opts extractOptions) *Result {
	res := &Result{
		Total:      len(doc.Rows) + len(doc.Malformed),
		ErrorCodes: make(map[string]int),
	}

	for _, mr := range doc.Malformed {
		re := models.RecordError{
			Code:     models.ErrMalformedRow,
			Message:  fmt.Sprintf("row %d: %s", mr.Line, mr.Reason),
			RawValue: "",
		}
		res.Rejected = append(res.Rejected, Rejected{Errors: []models.RecordError{re}})
		res.record(re)
	}

	for _, raw := range doc.Rows {
		f := extract(raw, opts)
		res.Coercions += len(f.Coercions)

		var blocking []models.RecordError
		if f.Title == "" {
			blocking = append(blocking, models.RecordError{
				Field:   "title",
				Code:    models.ErrMissingTitle,
				Message: "record has no usable title",
			})
		}
		if !f.HasPrice || f.Price <= 0 {
			blocking = append(blocking, models.RecordError{
				Field:    "price",
				Code:     models.ErrInvalidPrice,
				Message:  "price is missing or not positive",
				RawValue: lookupString(lowerIndex(raw), opts.synonyms()["price"]),
			})
		}
		if opts.RequireURL && f.URL == "" {
			blocking = append(blocking, models.RecordError{
				Field:   "link",
				Code:    models.ErrMalformedRow,
				Message: "record has no product link",
			})
		}
		if len(blocking) > 0 {
			res.Rejected = append(res.Rejected, Rejected{Raw: raw, Errors: blocking})
			for _, re := range blocking {
				res.record(re)
			}
			continue
		}

		// Attribute warnings count in the histogram but never change the
		// record's lane.
		if opts.WarnMissingAttrs {
			if f.Caliber == "" {
				res.record(models.RecordError{
					Field:   "caliber",
					Code:    models.ErrMissingCaliber,
					Message: "record has no caliber",
				})
			}
			if f.Brand == "" {
				res.record(models.RecordError{
					Field:   "brand",
					Code:    models.ErrMissingBrand,
					Message: "record has no brand",
				})
			}
		}

		if models.ValidUPC(f.UPC) {
			res.Indexed = append(res.Indexed, Indexed{Sku: f.toSku(), Raw: raw})
			continue
		}

		code := models.ErrInvalidUPC
		msg := fmt.Sprintf("upc %q is not 8-14 digits", f.UPCRaw)
		if f.UPC == "" {
			code = models.ErrMissingUPC
			msg = "record has no upc"
		}
		re := models.RecordError{Field: "upc", Code: code, Message: msg, RawValue: f.UPCRaw}
		res.Quarantined = append(res.Quarantined, Quarantined{
			MatchKey: models.MatchKey(f.Title, f.SKU),
			Raw:      raw,
			Parsed:   f.toParsedMap(),
			Errors:   []models.RecordError{re},
		})
		res.record(re)
	}

	return res
}

func (o extractOptions) synonyms() map[string][]string {
	if o.Synonyms != nil {
		return o.Synonyms
	}
	return defaultSynonyms
}

// record counts an error in the histogram and keeps it as a sample while
// under the cap.
func (r *Result) record(re models.RecordError) {
	r.ErrorCodes[re.Code]++
	if len(r.Samples) < errorSampleLimit {
		r.Samples = append(r.Samples, re)
	}
}

// PrimaryErrorCode returns the most frequent error code, breaking ties
// lexicographically so reruns report the same code.
func (r *Result) PrimaryErrorCode() string {
	best, bestCount := "", 0
	for code, count := range r.ErrorCodes {
		if count > bestCount || (count == bestCount && (best == "" || code < best)) {
			best, bestCount = code, count
		}
	}
	return best
}

// toSku shapes the normalized fields into a storable record. Identity and
// run fields are filled by the ingest worker.
func (f fields) toSku() models.DealerSku {
	return models.DealerSku{
		SkuHash:          models.SkuHash(f.Title, f.UPC, f.SKU, f.Price),
		Title:            f.Title,
		UPC:              f.UPC,
		SKU:              f.SKU,
		Price:            f.Price,
		SalePrice:        f.SalePrice,
		Description:      f.Description,
		Brand:            f.Brand,
		InStock:          f.InStock,
		Quantity:         f.Quantity,
		URL:              f.URL,
		ImageURL:         f.ImageURL,
		Category:         f.Category,
		Caliber:          f.Caliber,
		Grain:            f.Grain,
		BulletType:       f.BulletType,
		CaseMaterial:     f.CaseMaterial,
		RoundCount:       f.RoundCount,
		CoercionsApplied: f.Coercions,
	}
}

// toParsedMap keeps the normalized non-empty fields on a quarantined
// record so triage can resolve it without reparsing the source.
func (f fields) toParsedMap() map[string]interface{} {
	out := map[string]interface{}{
		"title": f.Title,
		"price": f.Price,
	}
	if f.SalePrice != nil {
		out["sale_price"] = *f.SalePrice
	}
	if f.UPCRaw != "" {
		out["upc_raw"] = f.UPCRaw
	}
	if f.UPC != "" {
		out["upc"] = f.UPC
	}
	if f.SKU != "" {
		out["sku"] = f.SKU
	}
	if f.Brand != "" {
		out["brand"] = f.Brand
	}
	if f.Caliber != "" {
		out["caliber"] = f.Caliber
	}
	if f.Grain != nil {
		out["grain"] = *f.Grain
	}
	if f.RoundCount != nil {
		out["round_count"] = *f.RoundCount
	}
	out["in_stock"] = f.InStock
	return out
}

// Generic handles any feed whose fields match the common vocabulary. It is
// the auto-detection fallback and accepts every document.
type Generic struct{}

func NewGeneric() *Generic { return &Generic{} }

func (g *Generic) Name() string                     { return "generic" }
func (g *Generic) FormatType() string               { return models.FormatGeneric }
func (g *Generic) CanHandle(sample []RawRecord) bool { return true }
func (g *Generic) FieldMapping() map[string][]string { return defaultSynonyms }

func (g *Generic) Parse(doc *Document) *Result {
	return classify(doc, extractOptions{Synonyms: defaultSynonyms})
}
