package connector

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
)

// Coercion labels recorded on records whose raw values needed repair.
const (
	CoercePrice         = "price_parsed"
	CoerceSalePrice     = "sale_price_parsed"
	CoerceUPCNormalized = "upc_normalized"
	CoerceUPCScientific = "upc_scientific"
	CoerceTitleCleaned  = "title_cleaned"
	CoerceGrain         = "grain_parsed"
	CoerceRoundCount    = "round_count_parsed"
)

// defaultSynonyms maps canonical targets to accepted source field names,
// checked in order. Lookups are case-insensitive.
var defaultSynonyms = map[string][]string{
	"title":         {"title", "name", "product_name", "productname", "product", "item_name", "product_title"},
	"description":   {"description", "desc", "long_description", "details", "product_description"},
	"price":         {"price", "retail_price", "regular_price", "price_vat", "cost", "msrp", "amount"},
	"sale_price":    {"sale_price", "saleprice", "special_price", "discount_price", "promo_price"},
	"upc":           {"upc", "upc_code", "ean", "ean13", "gtin", "barcode", "upc_ean"},
	"sku":           {"sku", "item_id", "product_id", "item_number", "productno", "part_number", "mfg_number"},
	"brand":         {"brand", "manufacturer", "mfg", "make", "brand_name"},
	"stock":         {"stock", "stock_status", "in_stock", "availability", "available", "instock"},
	"quantity":      {"quantity", "qty", "stock_quantity", "qty_on_hand", "inventory"},
	"url":           {"url", "link", "product_url", "item_url", "product_link"},
	"image_url":     {"image_url", "image", "img_url", "imgurl", "image_link", "picture", "thumbnail"},
	"category":      {"category", "categorytext", "category_path", "product_category", "department"},
	"caliber":       {"caliber", "calibre", "cartridge", "chambering"},
	"grain":         {"grain", "grains", "grain_weight", "bullet_weight"},
	"bullet_type":   {"bullet_type", "bullet", "projectile", "bullet_style"},
	"case_material": {"case_material", "casing", "case_type", "case"},
	"round_count":   {"round_count", "rounds", "rounds_per_box", "pack_size", "box_count", "count"},
}

// mergeSynonyms prepends connector-specific source names so they win over
// the generic ones, without mutating the shared table.
func mergeSynonyms(extra map[string][]string) map[string][]string {
	out := make(map[string][]string, len(defaultSynonyms))
	for target, names := range defaultSynonyms {
		merged := append([]string{}, extra[target]...)
		merged = append(merged, names...)
		out[target] = merged
	}
	for target, names := range extra {
		if _, ok := out[target]; !ok {
			out[target] = append([]string{}, names...)
		}
	}
	return out
}

// fields is the normalized view of one raw record before classification.
type fields struct {
	Title        string
	Description  string
	Price        float64
	HasPrice     bool
	SalePrice    *float64
	UPC          string
	UPCRaw       string
	SKU          string
	Brand        string
	InStock      bool
	Quantity     *int
	URL          string
	ImageURL     string
	Category     string
	Caliber      string
	Grain        *int
	BulletType   string
	CaseMaterial string
	RoundCount   *int

	Coercions []string
}

// stockParser interprets a connector's stock/availability value. The bool
// result only applies when ok is true; absent or unknown values default to
// in stock upstream.
type stockParser func(value string) (inStock bool, ok bool)

// extractOptions carries per-connector extraction quirks.
type extractOptions struct {
	Synonyms        map[string][]string
	PreferSalePrice bool
	ParseStock      stockParser

	// RequireURL rejects records missing the format's mandatory link field.
	RequireURL bool
	// WarnMissingAttrs records MISSING_CALIBER/MISSING_BRAND on sellable
	// records without blocking their lane.
	WarnMissingAttrs bool
}

// lowerIndex builds a case-insensitive lookup of the raw record keys.
func lowerIndex(raw RawRecord) map[string]interface{} {
	idx := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		idx[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return idx
}

func lookup(idx map[string]interface{}, names []string) (interface{}, bool) {
	for _, name := range names {
		if v, ok := idx[strings.ToLower(name)]; ok && v != nil {
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
				continue
			}
			return v, true
		}
	}
	return nil, false
}

func lookupString(idx map[string]interface{}, names []string) string {
	v, ok := lookup(idx, names)
	if !ok {
		return ""
	}
	return asString(v)
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

// extract normalizes one raw record into canonical fields, tracking every
// coercion that was needed along the way.
func extract(raw RawRecord, opts extractOptions) fields {
	idx := lowerIndex(raw)
	syn := opts.Synonyms
	if syn == nil {
		syn = defaultSynonyms
	}

	var f fields

	f.Title, f.Coercions = cleanTitle(lookupString(idx, syn["title"]), f.Coercions)
	f.Description = lookupString(idx, syn["description"])
	f.Brand = lookupString(idx, syn["brand"])
	f.SKU = lookupString(idx, syn["sku"])
	f.URL = lookupString(idx, syn["url"])
	f.ImageURL = lookupString(idx, syn["image_url"])
	f.Category = lookupString(idx, syn["category"])
	f.Caliber = lookupString(idx, syn["caliber"])
	f.BulletType = lookupString(idx, syn["bullet_type"])
	f.CaseMaterial = lookupString(idx, syn["case_material"])

	if v, ok := lookup(idx, syn["price"]); ok {
		if price, parsed, coerced := parsePrice(v); parsed {
			f.Price = price
			f.HasPrice = true
			if coerced {
				f.Coercions = append(f.Coercions, CoercePrice)
			}
		}
	}
	if v, ok := lookup(idx, syn["sale_price"]); ok {
		if price, parsed, coerced := parsePrice(v); parsed && price > 0 {
			sp := price
			f.SalePrice = &sp
			if coerced {
				f.Coercions = append(f.Coercions, CoerceSalePrice)
			}
		}
	}
	if opts.PreferSalePrice && f.SalePrice != nil {
		// The sale price is what the dealer actually charges, so it
		// becomes the indexed price even when above the regular price.
		f.Price = *f.SalePrice
		f.HasPrice = true
	}

	if v, ok := lookup(idx, syn["upc"]); ok {
		f.UPCRaw = asString(v)
		f.UPC, f.Coercions = normalizeUPC(f.UPCRaw, f.Coercions)
	}

	if v, ok := lookup(idx, syn["grain"]); ok {
		f.Grain, f.Coercions = parseLeadingInt(asString(v), CoerceGrain, f.Coercions)
	}
	if v, ok := lookup(idx, syn["round_count"]); ok {
		f.RoundCount, f.Coercions = parseFirstInt(asString(v), CoerceRoundCount, f.Coercions)
	}

	f.InStock, f.Quantity, f.Coercions = resolveStock(idx, syn, opts.ParseStock, f.Coercions)

	return f
}

var (
	priceJunkPattern = regexp.MustCompile(`[^0-9.,\-]`)
	leadingIntRe     = regexp.MustCompile(`^\s*(\d+)`)
	firstIntRe       = regexp.MustCompile(`(\d+)`)
	sciNotationRe    = regexp.MustCompile(`^\d+(?:\.\d+)?[eE]\+?\d+$`)
	upcLabelRe       = regexp.MustCompile(`^[A-Za-z]+:`)
	wsRunRe          = regexp.MustCompile(`\s+`)
)

// parsePrice turns a raw price value into a float. The coerced flag is set
// when the raw form needed cleanup (currency symbols, comma decimals,
// thousands separators).
func parsePrice(v interface{}) (val float64, ok bool, coerced bool) {
	switch n := v.(type) {
	case float64:
		return n, true, false
	case int:
		return float64(n), true, false
	}

	s := strings.TrimSpace(asString(v))
	if s == "" {
		return 0, false, false
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n, true, false
	}

	cleaned := priceJunkPattern.ReplaceAllString(s, "")
	switch {
	case strings.Contains(cleaned, ",") && strings.Contains(cleaned, "."):
		// 1,234.56 style: commas are thousands separators.
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	case strings.Contains(cleaned, ","):
		// 24,99 style: the comma is the decimal mark.
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	}
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false, false
	}
	return n, true, true
}

// normalizeUPC repairs the usual spreadsheet damage: stray separators,
// Excel's leading apostrophe, scientific notation, and float-formatted
// barcodes. Validation happens later; this only normalizes.
func normalizeUPC(raw string, coercions []string) (string, []string) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", coercions
	}

	cleaned := strings.TrimPrefix(s, "'")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.ReplaceAll(cleaned, "-", "")
	// Labeled barcodes: "UPC:012345678901", "GTIN: 00012345678905".
	cleaned = upcLabelRe.ReplaceAllString(cleaned, "")

	if sciNotationRe.MatchString(cleaned) {
		if n, err := strconv.ParseFloat(cleaned, 64); err == nil {
			cleaned = strconv.FormatFloat(n, 'f', 0, 64)
			return cleaned, append(coercions, CoerceUPCScientific)
		}
	}

	// 712345678901.0 exported from a numeric column.
	if dot := strings.IndexByte(cleaned, '.'); dot >= 0 {
		if frac := cleaned[dot+1:]; strings.Trim(frac, "0") == "" {
			cleaned = cleaned[:dot]
		}
	}

	if cleaned != s {
		coercions = append(coercions, CoerceUPCNormalized)
	}
	return cleaned, coercions
}

// cleanTitle collapses whitespace runs and unescapes HTML entities.
func cleanTitle(raw string, coercions []string) (string, []string) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", coercions
	}
	cleaned := wsRunRe.ReplaceAllString(s, " ")
	if strings.ContainsRune(cleaned, '&') {
		cleaned = html.UnescapeString(cleaned)
	}
	if cleaned != raw {
		coercions = append(coercions, CoerceTitleCleaned)
	}
	return cleaned, coercions
}

// parseLeadingInt reads an integer prefix ("115gr" -> 115).
func parseLeadingInt(s, label string, coercions []string) (*int, []string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, coercions
	}
	if n, err := strconv.Atoi(s); err == nil {
		return &n, coercions
	}
	m := leadingIntRe.FindStringSubmatch(s)
	if m == nil {
		return nil, coercions
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, coercions
	}
	return &n, append(coercions, label)
}

// parseFirstInt reads the first integer anywhere ("box of 50" -> 50).
func parseFirstInt(s, label string, coercions []string) (*int, []string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, coercions
	}
	if n, err := strconv.Atoi(s); err == nil {
		return &n, coercions
	}
	m := firstIntRe.FindStringSubmatch(s)
	if m == nil {
		return nil, coercions
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, coercions
	}
	return &n, append(coercions, label)
}

// resolveStock combines the stock and quantity fields. Records with no
// stock signal at all are assumed in stock.
func resolveStock(idx map[string]interface{}, syn map[string][]string, parse stockParser, coercions []string) (bool, *int, []string) {
	inStock := true

	if v, ok := lookup(idx, syn["quantity"]); ok {
		if qty, _ := parseFirstInt(asString(v), "", nil); qty != nil {
			q := *qty
			return q > 0, &q, coercions
		}
	}

	if v, ok := lookup(idx, syn["stock"]); ok {
		s := asString(v)
		if parse != nil {
			if val, handled := parse(s); handled {
				return val, nil, coercions
			}
		}
		if val, handled := genericStockWord(s); handled {
			return val, nil, coercions
		}
		// Numeric stock column doubling as a quantity.
		if qty, _ := parseFirstInt(s, "", nil); qty != nil {
			q := *qty
			return q > 0, &q, coercions
		}
	}

	return inStock, nil, coercions
}

// genericStockWord interprets the common availability vocabulary.
func genericStockWord(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in stock", "instock", "in_stock", "yes", "true", "y", "available":
		return true, true
	case "out of stock", "outofstock", "out_of_stock", "no", "false", "n", "unavailable", "sold out", "soldout":
		return false, true
	}
	return false, false
}
