package models

import (
	"testing"
	"time"
)

func TestSkuHashDeterministic(t *testing.T) {
	a := SkuHash("Federal 9mm 115gr", "012345678905", "FED-9", 24.99)
	b := SkuHash("Federal 9mm 115gr", "012345678905", "FED-9", 24.99)
	if a != b {
		t.Fatalf("same inputs hashed differently: %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars (16 bytes), got %d", len(a))
	}
}

func TestSkuHashNormalizesTitleOnly(t *testing.T) {
	base := SkuHash("Federal 9mm", "012345678905", "FED-9", 24.99)

	if got := SkuHash("  FEDERAL 9MM  ", "012345678905", "FED-9", 24.99); got != base {
		t.Errorf("title case/whitespace should not change hash")
	}
	// UPC and SKU are not case-folded.
	if got := SkuHash("Federal 9mm", "012345678905", "fed-9", 24.99); got == base {
		t.Errorf("sku case should change hash")
	}
	if got := SkuHash("Federal 9mm", "012345678905", "FED-9", 25.99); got == base {
		t.Errorf("price change should change hash")
	}
}

func TestSkuHashPriceFormatting(t *testing.T) {
	// 25.0 must format as "25", matching the shortest decimal form.
	a := SkuHash("x", "", "", 25.0)
	b := SkuHash("x", "", "", 25)
	if a != b {
		t.Fatalf("25.0 and 25 should hash identically")
	}
	c := SkuHash("x", "", "", 25.10)
	d := SkuHash("x", "", "", 25.1)
	if c != d {
		t.Fatalf("25.10 and 25.1 should hash identically")
	}
}

func TestMatchKeyIgnoresPrice(t *testing.T) {
	a := MatchKey("Federal 9mm", "FED-9")
	b := MatchKey("  federal 9MM ", "FED-9")
	if a != b {
		t.Fatalf("match key should normalize title case/whitespace")
	}
	if MatchKey("Federal 9mm", "FED-9") == MatchKey("Federal 9mm", "FED-10") {
		t.Fatalf("different skus should produce different match keys")
	}
}

func TestValidUPC(t *testing.T) {
	tests := []struct {
		upc  string
		want bool
	}{
		{"12345678", true},       // 8 digits, lower bound
		{"12345678901234", true}, // 14 digits, upper bound
		{"1234567", false},       // 7 digits
		{"123456789012345", false}, // 15 digits
		{"", false},
		{"12345abc", false},
		{"1234 5678", false},
		{"012345678905", true},
	}
	for _, tt := range tests {
		if got := ValidUPC(tt.upc); got != tt.want {
			t.Errorf("ValidUPC(%q) = %v, want %v", tt.upc, got, tt.want)
		}
	}
}

func TestSubscriptionActiveAt(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -10)
	future := now.AddDate(0, 0, 10)

	tests := []struct {
		name   string
		dealer Dealer
		want   bool
	}{
		{
			name:   "active with future expiry",
			dealer: Dealer{SubscriptionStatus: SubscriptionActive, ExpiresAt: &future, GraceDays: 7, Tier: TierStandard},
			want:   true,
		},
		{
			name:   "expired inside grace window",
			dealer: Dealer{SubscriptionStatus: SubscriptionExpired, ExpiresAt: &past, GraceDays: 14, Tier: TierStandard},
			want:   true,
		},
		{
			name:   "expired past grace window",
			dealer: Dealer{SubscriptionStatus: SubscriptionExpired, ExpiresAt: &past, GraceDays: 7, Tier: TierStandard},
			want:   false,
		},
		{
			name:   "founding tier ignores expiry",
			dealer: Dealer{SubscriptionStatus: SubscriptionExpired, ExpiresAt: &past, GraceDays: 0, Tier: TierFounding},
			want:   true,
		},
		{
			name:   "suspended blocks even with future expiry",
			dealer: Dealer{SubscriptionStatus: SubscriptionSuspended, ExpiresAt: &future, GraceDays: 7, Tier: TierStandard},
			want:   false,
		},
		{
			name:   "active with no expiry date",
			dealer: Dealer{SubscriptionStatus: SubscriptionActive, Tier: TierStandard},
			want:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dealer.SubscriptionActiveAt(now); got != tt.want {
				t.Errorf("SubscriptionActiveAt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGraceBoundaryIsInclusive(t *testing.T) {
	expires := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	d := Dealer{SubscriptionStatus: SubscriptionExpired, ExpiresAt: &expires, GraceDays: 7, Tier: TierStandard}

	graceEnd := expires.AddDate(0, 0, 7)
	if !d.SubscriptionActiveAt(graceEnd) {
		t.Errorf("exactly at grace end should still be active")
	}
	if d.SubscriptionActiveAt(graceEnd.Add(time.Second)) {
		t.Errorf("one second past grace end should be inactive")
	}
}

func TestInGracePeriod(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -3)
	future := now.AddDate(0, 0, 3)

	d := Dealer{SubscriptionStatus: SubscriptionExpired, ExpiresAt: &past, GraceDays: 7, Tier: TierStandard}
	if !d.InGracePeriod(now) {
		t.Errorf("expired 3 days ago with 7 grace days should be in grace")
	}

	d.ExpiresAt = &future
	if d.InGracePeriod(now) {
		t.Errorf("not yet expired should not be in grace")
	}

	d.Tier = TierFounding
	if d.InGracePeriod(now) {
		t.Errorf("founding tier is never in grace")
	}
}

func TestEffectivePrice(t *testing.T) {
	sale := 19.99
	zero := 0.0
	higher := 29.99

	s := DealerSku{Price: 24.99}
	if got := s.EffectivePrice(); got != 24.99 {
		t.Errorf("no sale price: got %v", got)
	}

	s.SalePrice = &sale
	if got := s.EffectivePrice(); got != 19.99 {
		t.Errorf("sale price should win: got %v", got)
	}

	s.SalePrice = &zero
	if got := s.EffectivePrice(); got != 24.99 {
		t.Errorf("zero sale price should fall back to price: got %v", got)
	}

	// A sale price above the regular price still wins.
	s.SalePrice = &higher
	if got := s.EffectivePrice(); got != 29.99 {
		t.Errorf("positive sale price always wins: got %v", got)
	}
}

func TestAttrKey(t *testing.T) {
	if AttrKey(" 9mm Luger ", "Federal") != "9mm luger|federal" {
		t.Errorf("attr key should lowercase and trim both parts")
	}
	c := CanonicalSku{Caliber: "9MM Luger", Brand: "FEDERAL"}
	if c.AttrKey() != "9mm luger|federal" {
		t.Errorf("CanonicalSku.AttrKey mismatch: %s", c.AttrKey())
	}
}
