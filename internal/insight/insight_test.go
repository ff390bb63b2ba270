package insight

import (
	"context"
	"testing"
	"time"

	"caliberscan/internal/models"
	"caliberscan/internal/repository"
)

func bench(median float64, confidence string) *models.Benchmark {
	return &models.Benchmark{
		CanonicalSkuID: "c1",
		MedianPrice:    median,
		SellerCount:    5,
		Confidence:     confidence,
	}
}

func linked(price float64, inStock bool) []repository.LinkedSku {
	return []repository.LinkedSku{{
		Sku: models.DealerSku{
			DealerID: "d1", SkuHash: "h1", Price: price, InStock: inStock,
			Caliber: "9mm Luger", Brand: "Federal",
		},
		MatchMethod: models.MatchMethodUPC,
	}}
}

func TestDerivePricingThresholds(t *testing.T) {
	now := time.Now()
	cases := []struct {
		price        float64
		wantType     string
		wantSeverity string
	}{
		{25.20, models.InsightOverpriced, models.SeverityHigh},    // +26%
		{23.60, models.InsightOverpriced, models.SeverityMedium},  // +18%
		{14.80, models.InsightUnderpriced, models.SeverityHigh},   // -26%
		{16.40, models.InsightUnderpriced, models.SeverityMedium}, // -18%
	}
	for _, c := range cases {
		got := Derive("d1", "c1", linked(c.price, true), bench(20.00, models.ConfidenceHigh), now)
		if len(got) != 1 {
			t.Fatalf("price %.2f: expected one insight, got %d", c.price, len(got))
		}
		if got[0].Type != c.wantType || got[0].Severity != c.wantSeverity {
			t.Errorf("price %.2f: got %s/%s, want %s/%s",
				c.price, got[0].Type, got[0].Severity, c.wantType, c.wantSeverity)
		}
	}
}

func TestDeriveWithinBandIsQuiet(t *testing.T) {
	got := Derive("d1", "c1", linked(21.00, true), bench(20.00, models.ConfidenceHigh), time.Now())
	if len(got) != 0 {
		t.Fatalf("+5%% should produce no insight, got %+v", got)
	}
}

func TestDeriveExactBoundaryIsQuiet(t *testing.T) {
	// Thresholds are strict: exactly +15% is not MEDIUM.
	got := Derive("d1", "c1", linked(23.00, true), bench(20.00, models.ConfidenceHigh), time.Now())
	if len(got) != 0 {
		t.Fatalf("exactly +15%% should stay quiet, got %+v", got)
	}
}

func TestDeriveStockOpportunity(t *testing.T) {
	got := Derive("d1", "c1", linked(20.00, false), bench(20.00, models.ConfidenceHigh), time.Now())
	if len(got) != 1 || got[0].Type != models.InsightStockOpportunity {
		t.Fatalf("expected stock opportunity, got %+v", got)
	}
	if got[0].Severity != models.SeverityHigh {
		t.Errorf("HIGH confidence benchmark should yield HIGH severity, got %s", got[0].Severity)
	}

	got = Derive("d1", "c1", linked(20.00, false), bench(20.00, models.ConfidenceMedium), time.Now())
	if got[0].Severity != models.SeverityMedium {
		t.Errorf("MEDIUM confidence benchmark should yield MEDIUM severity, got %s", got[0].Severity)
	}
}

func TestDeriveAttributeGap(t *testing.T) {
	skus := []repository.LinkedSku{{
		Sku:              models.DealerSku{DealerID: "d1", Price: 20.00, InStock: true, Brand: "Federal"},
		CanonicalCaliber: "9mm Luger",
		CanonicalBrand:   "Federal",
	}}
	got := Derive("d1", "c1", skus, bench(20.00, models.ConfidenceHigh), time.Now())
	if len(got) != 1 || got[0].Type != models.InsightAttributeGap {
		t.Fatalf("missing caliber should yield attribute gap, got %+v", got)
	}
}

func TestDeriveNoAttributeGapForThinCanonical(t *testing.T) {
	// A canonical created from a bare UPC match has no attributes of its
	// own; the listing cannot gap against nothing.
	skus := []repository.LinkedSku{{
		Sku: models.DealerSku{DealerID: "d1", Price: 20.00, InStock: true},
	}}
	got := Derive("d1", "c1", skus, bench(20.00, models.ConfidenceHigh), time.Now())
	if len(got) != 0 {
		t.Fatalf("attribute gap must require canonical attributes, got %+v", got)
	}
}

func TestDeriveCheapestSkuWins(t *testing.T) {
	skus := []repository.LinkedSku{
		{Sku: models.DealerSku{DealerID: "d1", Price: 30.00, InStock: true, Caliber: "9mm Luger", Brand: "Federal"}},
		{Sku: models.DealerSku{DealerID: "d1", Price: 20.00, InStock: true, Caliber: "9mm Luger", Brand: "Federal"}},
	}
	got := Derive("d1", "c1", skus, bench(20.00, models.ConfidenceHigh), time.Now())
	if len(got) != 0 {
		t.Fatalf("cheapest offering is at median, expected quiet, got %+v", got)
	}
}

type fakeInsightStore struct {
	benchmarks map[string]*models.Benchmark
	linked     map[string][]repository.LinkedSku
	replaced   map[string][]models.Insight
}

func (f *fakeInsightStore) GetBenchmark(_ context.Context, id string) (*models.Benchmark, error) {
	return f.benchmarks[id], nil
}

func (f *fakeInsightStore) ListLinkedSkus(_ context.Context, id string) ([]repository.LinkedSku, error) {
	return f.linked[id], nil
}

func (f *fakeInsightStore) ReplaceInsights(_ context.Context, dealerID, canonicalID string, insights []models.Insight) error {
	if f.replaced == nil {
		f.replaced = make(map[string][]models.Insight)
	}
	f.replaced[dealerID+"/"+canonicalID] = insights
	return nil
}

func TestRecomputeSkipsNoConfidence(t *testing.T) {
	store := &fakeInsightStore{
		benchmarks: map[string]*models.Benchmark{
			"c1": {CanonicalSkuID: "c1", Confidence: models.ConfidenceNone},
		},
		linked: map[string][]repository.LinkedSku{"c1": linked(50.00, true)},
	}
	w := New(store)
	if err := w.Recompute(context.Background(), []string{"c1"}); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if len(store.replaced) != 0 {
		t.Fatal("NONE confidence benchmark must not produce insights")
	}
}

func TestRecomputeReplacesPerDealer(t *testing.T) {
	store := &fakeInsightStore{
		benchmarks: map[string]*models.Benchmark{
			"c1": bench(20.00, models.ConfidenceHigh),
		},
		linked: map[string][]repository.LinkedSku{"c1": {
			{Sku: models.DealerSku{DealerID: "d1", Price: 26.00, InStock: true, Caliber: "9mm Luger", Brand: "Federal"}},
			{Sku: models.DealerSku{DealerID: "d2", Price: 20.00, InStock: true, Caliber: "9mm Luger", Brand: "Federal"}},
		}},
	}
	w := New(store)
	if err := w.Recompute(context.Background(), []string{"c1"}); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	if got := store.replaced["d1/c1"]; len(got) != 1 || got[0].Type != models.InsightOverpriced {
		t.Errorf("d1 at +30%% should be overpriced, got %+v", got)
	}
	if got, ok := store.replaced["d2/c1"]; !ok || len(got) != 0 {
		t.Errorf("d2 at median should be replaced with an empty set, got %+v, present=%v", got, ok)
	}
}
