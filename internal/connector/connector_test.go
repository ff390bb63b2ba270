package connector

import (
	"fmt"
	"strings"
	"testing"

	"caliberscan/internal/models"
)

func mustDoc(t *testing.T, payload string) *Document {
	t.Helper()
	doc, err := ParseDocument([]byte(payload))
	if err != nil {
		t.Fatalf("parse document: %v", err)
	}
	return doc
}

func TestGenericClassificationTruthTable(t *testing.T) {
	payload := "title,price,upc,sku\n" +
		"Federal 9mm 115gr,24.99,012345678905,FED-9\n" + // indexed
		"CCI Blazer,8.99,,CCI-22\n" + // quarantine MISSING_UPC
		"Hornady 45ACP,31.50,12ab,HRN-45\n" + // quarantine INVALID_UPC
		",10.00,012345678905,NO-TITLE\n" + // reject MISSING_TITLE
		"Winchester 556,,556789012345,WIN-556\n" + // reject INVALID_PRICE
		"Remington 308,0,308789012345,REM-308\n" // reject INVALID_PRICE (zero)

	res := NewGeneric().Parse(mustDoc(t, payload))

	if res.Total != 6 {
		t.Errorf("total = %d, want 6", res.Total)
	}
	if len(res.Indexed) != 1 {
		t.Fatalf("indexed = %d, want 1", len(res.Indexed))
	}
	if len(res.Quarantined) != 2 {
		t.Fatalf("quarantined = %d, want 2", len(res.Quarantined))
	}
	if len(res.Rejected) != 3 {
		t.Fatalf("rejected = %d, want 3", len(res.Rejected))
	}
	if res.Total != len(res.Indexed)+len(res.Quarantined)+len(res.Rejected) {
		t.Errorf("counts do not add up to total")
	}

	if res.ErrorCodes[models.ErrMissingUPC] != 1 {
		t.Errorf("MISSING_UPC count = %d", res.ErrorCodes[models.ErrMissingUPC])
	}
	if res.ErrorCodes[models.ErrInvalidUPC] != 1 {
		t.Errorf("INVALID_UPC count = %d", res.ErrorCodes[models.ErrInvalidUPC])
	}
	if res.ErrorCodes[models.ErrMissingTitle] != 1 {
		t.Errorf("MISSING_TITLE count = %d", res.ErrorCodes[models.ErrMissingTitle])
	}
	if res.ErrorCodes[models.ErrInvalidPrice] != 2 {
		t.Errorf("INVALID_PRICE count = %d", res.ErrorCodes[models.ErrInvalidPrice])
	}

	sku := res.Indexed[0].Sku
	if sku.SkuHash == "" || len(sku.SkuHash) != 32 {
		t.Errorf("indexed record missing sku hash: %q", sku.SkuHash)
	}
	if sku.SkuHash != models.SkuHash("Federal 9mm 115gr", "012345678905", "FED-9", 24.99) {
		t.Errorf("sku hash not derived from canonical fields")
	}

	q := res.Quarantined[0]
	if q.MatchKey != models.MatchKey("CCI Blazer", "CCI-22") {
		t.Errorf("quarantine match key mismatch")
	}
	if q.Parsed["title"] != "CCI Blazer" {
		t.Errorf("quarantine should keep parsed fields: %v", q.Parsed)
	}
}

func TestClassificationUPCBoundaries(t *testing.T) {
	tests := []struct {
		upc         string
		wantIndexed bool
	}{
		{"12345678", true},        // 8 digits
		{"12345678901234", true},  // 14 digits
		{"1234567", false},        // 7 digits
		{"123456789012345", false}, // 15 digits
	}
	for _, tt := range tests {
		payload := fmt.Sprintf("title,price,upc\nTest Product,9.99,%s\n", tt.upc)
		res := NewGeneric().Parse(mustDoc(t, payload))
		gotIndexed := len(res.Indexed) == 1
		if gotIndexed != tt.wantIndexed {
			t.Errorf("upc %q: indexed = %v, want %v", tt.upc, gotIndexed, tt.wantIndexed)
		}
		if !tt.wantIndexed && len(res.Quarantined) != 1 {
			t.Errorf("upc %q: invalid upc should quarantine, not reject", tt.upc)
		}
	}
}

func TestClassificationBothMissingCountsBothCodes(t *testing.T) {
	res := NewGeneric().Parse(mustDoc(t, "title,price,sku\n,,ORPHAN-1\nX,1,X-1\n"))
	// Only one parsed row is broken but it carries two blocking errors.
	if len(res.Rejected) != 1 {
		t.Fatalf("rejected = %d, want 1", len(res.Rejected))
	}
	if len(res.Rejected[0].Errors) != 2 {
		t.Errorf("blocking errors = %d, want 2", len(res.Rejected[0].Errors))
	}
	if res.ErrorCodes[models.ErrMissingTitle] != 1 || res.ErrorCodes[models.ErrInvalidPrice] != 1 {
		t.Errorf("histogram = %v", res.ErrorCodes)
	}
}

func TestMalformedRowsRejected(t *testing.T) {
	res := NewGeneric().Parse(mustDoc(t, `[{"title":"A","price":1.5,"upc":"012345678905"},"junk"]`))
	if res.Total != 2 {
		t.Errorf("total = %d, want 2 (malformed row counts)", res.Total)
	}
	if res.ErrorCodes[models.ErrMalformedRow] != 1 {
		t.Errorf("MALFORMED_ROW count = %d", res.ErrorCodes[models.ErrMalformedRow])
	}
	if len(res.Indexed) != 1 || len(res.Rejected) != 1 {
		t.Errorf("indexed=%d rejected=%d", len(res.Indexed), len(res.Rejected))
	}
}

func TestRaggedRowsClassifiedNotRejected(t *testing.T) {
	// A short row keeps its mapped fields and goes through the normal
	// lanes instead of being discarded as malformed.
	res := NewGeneric().Parse(mustDoc(t, "title,price,upc\nA,1.50,012345678905\nB,2.50\n"))
	if res.Total != 2 {
		t.Errorf("total = %d, want 2", res.Total)
	}
	if len(res.Indexed) != 1 || len(res.Quarantined) != 1 {
		t.Fatalf("indexed=%d quarantined=%d rejected=%d",
			len(res.Indexed), len(res.Quarantined), len(res.Rejected))
	}
	if res.ErrorCodes[models.ErrMissingUPC] != 1 {
		t.Errorf("short row should quarantine as MISSING_UPC: %v", res.ErrorCodes)
	}
}

func TestCoercions(t *testing.T) {
	payload := `[
		{"title":"  Federal   9mm  ", "price":"$24.99", "upc":"0 1234-5678905"},
		{"title":"CCI 22LR", "price":"8,99", "upc":"7.62816E+11"},
		{"title":"Hornady", "price":"1,234.56", "upc":"712345678901.0"}
	]`
	res := NewGeneric().Parse(mustDoc(t, payload))
	if len(res.Indexed) != 3 {
		t.Fatalf("indexed = %d, want 3 (rejections: %+v quarantines: %+v)", len(res.Indexed), res.Rejected, res.Quarantined)
	}

	first := res.Indexed[0].Sku
	if first.Title != "Federal 9mm" {
		t.Errorf("title whitespace not collapsed: %q", first.Title)
	}
	if first.Price != 24.99 {
		t.Errorf("currency price = %v", first.Price)
	}
	if first.UPC != "012345678905" {
		t.Errorf("upc separators not stripped: %q", first.UPC)
	}
	if !contains(first.CoercionsApplied, CoercePrice) || !contains(first.CoercionsApplied, CoerceUPCNormalized) {
		t.Errorf("coercions = %v", first.CoercionsApplied)
	}

	second := res.Indexed[1].Sku
	if second.Price != 8.99 {
		t.Errorf("comma decimal price = %v", second.Price)
	}
	if second.UPC != "762816000000" {
		t.Errorf("scientific notation upc = %q", second.UPC)
	}
	if !contains(second.CoercionsApplied, CoerceUPCScientific) {
		t.Errorf("coercions = %v", second.CoercionsApplied)
	}

	third := res.Indexed[2].Sku
	if third.Price != 1234.56 {
		t.Errorf("thousands price = %v", third.Price)
	}
	if third.UPC != "712345678901" {
		t.Errorf("float upc = %q", third.UPC)
	}

	if res.Coercions < 5 {
		t.Errorf("coercion count = %d, want at least 5", res.Coercions)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestGrainAndRoundCountParsing(t *testing.T) {
	payload := `[{"title":"X","price":9.99,"upc":"012345678905","link":"https://shop/x","grain":"115gr","rounds_per_box":"box of 50"}]`
	res := NewAmmoSeek().Parse(mustDoc(t, payload))
	if len(res.Indexed) != 1 {
		t.Fatalf("indexed = %d (%+v)", len(res.Indexed), res.Rejected)
	}
	sku := res.Indexed[0].Sku
	if sku.Grain == nil || *sku.Grain != 115 {
		t.Errorf("grain = %v", sku.Grain)
	}
	if sku.RoundCount == nil || *sku.RoundCount != 50 {
		t.Errorf("round count = %v", sku.RoundCount)
	}
}

func TestAmmoSeekSalePricePreferred(t *testing.T) {
	// Sale price wins even when above the regular price, and feeds the hash.
	payload := "product_name,price,sale_price,upc,link\n" +
		"Federal HST,31.99,27.99,029465064438,https://shop/x\n" +
		"Speer Lawman,19.99,22.49,076683535108,https://shop/y\n" +
		"CCI Standard,7.99,0,076683001030,https://shop/z\n"
	res := NewAmmoSeek().Parse(mustDoc(t, payload))
	if len(res.Indexed) != 3 {
		t.Fatalf("indexed = %d", len(res.Indexed))
	}
	if res.Indexed[0].Sku.Price != 27.99 {
		t.Errorf("discounted price = %v, want 27.99", res.Indexed[0].Sku.Price)
	}
	if res.Indexed[1].Sku.Price != 22.49 {
		t.Errorf("higher sale price should still win, got %v", res.Indexed[1].Sku.Price)
	}
	if res.Indexed[2].Sku.Price != 7.99 {
		t.Errorf("zero sale price should fall back, got %v", res.Indexed[2].Sku.Price)
	}

	wantHash := models.SkuHash("Federal HST", "029465064438", "", 27.99)
	if res.Indexed[0].Sku.SkuHash != wantHash {
		t.Errorf("hash should use the effective price")
	}
}

func TestAmmoSeekAttributeWarnings(t *testing.T) {
	// Missing caliber/brand warn into the histogram but the record still
	// indexes; a missing link is a hard reject for this format.
	payload := "product_name,price,upc,link,caliber,brand\n" +
		"Federal HST,31.99,029465064438,https://shop/x,,\n" +
		"Speer Lawman,19.99,076683535108,https://shop/y,9mm,Speer\n" +
		"CCI Standard,7.99,076683001030,,22lr,CCI\n"
	res := NewAmmoSeek().Parse(mustDoc(t, payload))

	if len(res.Indexed) != 2 {
		t.Fatalf("indexed = %d, want 2 (%+v)", len(res.Indexed), res.Rejected)
	}
	if len(res.Rejected) != 1 {
		t.Fatalf("rejected = %d, want 1", len(res.Rejected))
	}
	if res.ErrorCodes[models.ErrMissingCaliber] != 1 {
		t.Errorf("MISSING_CALIBER count = %d", res.ErrorCodes[models.ErrMissingCaliber])
	}
	if res.ErrorCodes[models.ErrMissingBrand] != 1 {
		t.Errorf("MISSING_BRAND count = %d", res.ErrorCodes[models.ErrMissingBrand])
	}
	if res.Rejected[0].Errors[0].Field != "link" {
		t.Errorf("linkless record rejected for %q", res.Rejected[0].Errors[0].Field)
	}
	if res.Total != len(res.Indexed)+len(res.Quarantined)+len(res.Rejected) {
		t.Errorf("warnings must not change lane counts")
	}
}

func TestNormalizeUPCLabeledPrefix(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"UPC:012-345-678-901", "012345678901"},
		{"GTIN: 00012345678905", "00012345678905"},
		{"upc:076683001030", "076683001030"},
	}
	for _, tt := range tests {
		payload := fmt.Sprintf("title,price,upc\nTest,9.99,%s\n", tt.raw)
		res := NewGeneric().Parse(mustDoc(t, payload))
		if len(res.Indexed) != 1 {
			t.Errorf("upc %q: should index, got quarantined=%d", tt.raw, len(res.Quarantined))
			continue
		}
		sku := res.Indexed[0].Sku
		if sku.UPC != tt.want {
			t.Errorf("upc %q normalized to %q, want %q", tt.raw, sku.UPC, tt.want)
		}
		if !contains(sku.CoercionsApplied, CoerceUPCNormalized) {
			t.Errorf("upc %q: normalization not recorded: %v", tt.raw, sku.CoercionsApplied)
		}
	}
}

func TestGunEngineStockWords(t *testing.T) {
	payload := "item_id,manufacturer,item_name,retail_price,upc_code,stock\n" +
		"GE-1,Federal,Federal 9mm,24.99,012345678905,in\n" +
		"GE-2,CCI,CCI 22LR,8.99,076683001030,out\n" +
		"GE-3,Hornady,Hornady 45,31.50,090255350203,limited\n" +
		"GE-4,Speer,Speer 40SW,21.00,076683535108,\n"
	res := NewGunEngine().Parse(mustDoc(t, payload))
	if len(res.Indexed) != 4 {
		t.Fatalf("indexed = %d (%+v)", len(res.Indexed), res.Rejected)
	}

	want := []bool{true, false, true, true} // missing defaults to in stock
	for i, w := range want {
		if res.Indexed[i].Sku.InStock != w {
			t.Errorf("row %d InStock = %v, want %v", i, res.Indexed[i].Sku.InStock, w)
		}
	}
	if res.Indexed[0].Sku.Brand != "Federal" {
		t.Errorf("manufacturer mapping lost: %q", res.Indexed[0].Sku.Brand)
	}
	if res.Indexed[0].Sku.SKU != "GE-1" {
		t.Errorf("item_id mapping lost: %q", res.Indexed[0].Sku.SKU)
	}
}

func TestImpactStockQuantity(t *testing.T) {
	payload := `<feed>
  <product><product_title>A</product_title><price>10</price><upc>012345678905</upc><stock_quantity>5 in stock</stock_quantity><impact_sku>IMP-1</impact_sku></product>
  <product><product_title>B</product_title><price>11</price><upc>076683001030</upc><stock_quantity>0 in stock</stock_quantity><impact_sku>IMP-2</impact_sku></product>
  <product><product_title>C</product_title><price>12</price><upc>090255350203</upc><stock_quantity>unknown</stock_quantity><impact_sku>IMP-3</impact_sku></product>
</feed>`
	res := NewImpact().Parse(mustDoc(t, payload))
	if len(res.Indexed) != 3 {
		t.Fatalf("indexed = %d (%+v)", len(res.Indexed), res.Rejected)
	}

	a := res.Indexed[0].Sku
	if !a.InStock || a.Quantity == nil || *a.Quantity != 5 {
		t.Errorf("A: InStock=%v Quantity=%v", a.InStock, a.Quantity)
	}
	b := res.Indexed[1].Sku
	if b.InStock {
		t.Errorf("B: zero quantity should be out of stock")
	}
	c := res.Indexed[2].Sku
	if !c.InStock {
		t.Errorf("C: unreadable quantity should default to in stock")
	}
	if a.SKU != "IMP-1" {
		t.Errorf("impact_sku mapping lost: %q", a.SKU)
	}
}

func TestRegistryDetectionOrder(t *testing.T) {
	reg := NewRegistry()

	gun := mustDoc(t, "item_id,manufacturer,item_name,retail_price,stock_status\nGE-1,Federal,F 9mm,24.99,in\n")
	if c := reg.Detect(gun); c.Name() != "gunengine_v2" {
		t.Errorf("gunengine sample detected as %s", c.Name())
	}

	// item_id+manufacturer alone is not enough; a stock_status column or a
	// V2 marker must also be present.
	gunNoMarker := mustDoc(t, "item_id,manufacturer,item_name,retail_price\nGE-1,Federal,F 9mm,24.99\n")
	if c := reg.Detect(gunNoMarker); c.Name() == "gunengine_v2" {
		t.Errorf("sample without V2 marker should not detect as gunengine")
	}
	gunV2 := mustDoc(t, "item_id,manufacturer,item_name,retail_price,rounds_per_box\nGE-1,Federal,F 9mm,24.99,50\n")
	if c := reg.Detect(gunV2); c.Name() != "gunengine_v2" {
		t.Errorf("rounds_per_box marker should detect gunengine, got %s", c.Name())
	}

	ammo := mustDoc(t, "product_name,link,price\nF 9mm,https://x,24.99\n")
	if c := reg.Detect(ammo); c.Name() != "ammoseek_v1" {
		t.Errorf("ammoseek sample detected as %s", c.Name())
	}

	impact := mustDoc(t, `[{"impact_sku":"I-1","title":"X","price":5}]`)
	if c := reg.Detect(impact); c.Name() != "impact" {
		t.Errorf("impact sample detected as %s", c.Name())
	}

	plain := mustDoc(t, "title,price\nX,5\n")
	if c := reg.Detect(plain); c.Name() != "generic" {
		t.Errorf("plain sample detected as %s", c.Name())
	}

	// A document matching several connectors goes to the first in order.
	both := mustDoc(t, "item_id,manufacturer,stock_status,sale_price,product_name,link\nGE-1,Federal,in,20,F,https://x\n")
	if c := reg.Detect(both); c.Name() != "gunengine_v2" {
		t.Errorf("ambiguous sample should pick gunengine first, got %s", c.Name())
	}
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	doc := mustDoc(t, "title,price\nX,5\n")

	if c := reg.Resolve(models.FormatAmmoSeekV1, doc); c.Name() != "ammoseek_v1" {
		t.Errorf("explicit format ignored, got %s", c.Name())
	}
	if c := reg.Resolve(models.FormatGeneric, doc); c.Name() != "generic" {
		t.Errorf("generic format should auto-detect to generic, got %s", c.Name())
	}
	if c := reg.Resolve("", doc); c.Name() != "generic" {
		t.Errorf("empty format should auto-detect, got %s", c.Name())
	}
}

func TestErrorSampleCap(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("title,price,upc\n")
	for i := 0; i < 150; i++ {
		sb.WriteString(fmt.Sprintf("Product %d,9.99,\n", i))
	}
	res := NewGeneric().Parse(mustDoc(t, sb.String()))
	if len(res.Quarantined) != 150 {
		t.Fatalf("quarantined = %d", len(res.Quarantined))
	}
	if len(res.Samples) != errorSampleLimit {
		t.Errorf("samples = %d, want %d", len(res.Samples), errorSampleLimit)
	}
	if res.ErrorCodes[models.ErrMissingUPC] != 150 {
		t.Errorf("histogram should keep counting past the cap: %d", res.ErrorCodes[models.ErrMissingUPC])
	}
}

func TestPrimaryErrorCode(t *testing.T) {
	res := &Result{ErrorCodes: map[string]int{
		models.ErrMissingUPC:   5,
		models.ErrInvalidPrice: 9,
		models.ErrMissingTitle: 9,
	}}
	// INVALID_PRICE and MISSING_TITLE tie; the lexicographically smaller
	// code wins so reruns are stable.
	if got := res.PrimaryErrorCode(); got != models.ErrInvalidPrice {
		t.Errorf("primary = %s, want %s", got, models.ErrInvalidPrice)
	}

	empty := &Result{ErrorCodes: map[string]int{}}
	if got := empty.PrimaryErrorCode(); got != "" {
		t.Errorf("no errors should give empty primary, got %q", got)
	}
}
