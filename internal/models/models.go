package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Subscription status of a dealer account.
const (
	SubscriptionActive    = "ACTIVE"
	SubscriptionExpired   = "EXPIRED"
	SubscriptionSuspended = "SUSPENDED"
)

// Dealer tiers. FOUNDING dealers keep lifetime access regardless of expiry.
const (
	TierStandard = "STANDARD"
	TierFounding = "FOUNDING"
)

// Feed transports.
const (
	TransportPublicURL = "PUBLIC_URL"
	TransportAuthURL   = "AUTH_URL"
	TransportFTP       = "FTP"
	TransportSFTP      = "SFTP"
	TransportUpload    = "UPLOAD"
)

// Feed formats handled by the connector registry.
const (
	FormatGeneric    = "GENERIC"
	FormatAmmoSeekV1 = "AMMOSEEK_V1"
	FormatGunEngine  = "GUNENGINE_V2"
	FormatImpact     = "IMPACT"
)

// Feed health. FAILED feeds are skipped by the scheduler until an operator
// re-enables them.
const (
	FeedPending = "PENDING"
	FeedHealthy = "HEALTHY"
	FeedWarning = "WARNING"
	FeedFailed  = "FAILED"
)

// FeedRun lifecycle status.
const (
	RunPending = "PENDING"
	RunRunning = "RUNNING"
	RunSuccess = "SUCCESS"
	RunWarning = "WARNING"
	RunFailure = "FAILURE"
	RunSkipped = "SKIPPED"
)

// Quarantined record status. QUARANTINED -> RESOLVED is one-way.
const (
	QuarantineOpen     = "QUARANTINED"
	QuarantineResolved = "RESOLVED"
)

// Benchmark confidence by distinct-seller count.
const (
	ConfidenceHigh   = "HIGH"
	ConfidenceMedium = "MEDIUM"
	ConfidenceNone   = "NONE"
)

// Insight types and severities.
const (
	InsightOverpriced       = "OVERPRICED"
	InsightUnderpriced      = "UNDERPRICED"
	InsightStockOpportunity = "STOCK_OPPORTUNITY"
	InsightAttributeGap     = "ATTRIBUTE_GAP"

	SeverityHigh   = "HIGH"
	SeverityMedium = "MEDIUM"
)

// Error codes shared by record classification, run failures, and triage.
const (
	ErrMissingUPC          = "MISSING_UPC"
	ErrInvalidUPC          = "INVALID_UPC"
	ErrMissingTitle        = "MISSING_TITLE"
	ErrInvalidPrice        = "INVALID_PRICE"
	ErrMissingCaliber      = "MISSING_CALIBER"
	ErrMissingBrand        = "MISSING_BRAND"
	ErrMalformedRow        = "MALFORMED_ROW"
	ErrParse               = "PARSE_ERROR"
	ErrFetch               = "FETCH_ERROR"
	ErrTimeout             = "TIMEOUT_ERROR"
	ErrSubscriptionExpired = "SUBSCRIPTION_EXPIRED"
)

// Match methods recorded on product links.
const (
	MatchMethodUPC        = "upc"
	MatchMethodAttributes = "attributes"
	MatchMethodCreated    = "created"
)

// Contact is one entry in a dealer's contact list, stored as JSONB.
type Contact struct {
	Name               string `json:"name"`
	Email              string `json:"email"`
	Phone              string `json:"phone,omitempty"`
	CommunicationOptIn bool   `json:"communication_opt_in"`
}

// Dealer represents the 'dealers' table. Account fields are owned by the
// admin surface; the pipeline only writes last_subscription_notify_at.
type Dealer struct {
	ID                       string     `json:"id"`
	BusinessName             string     `json:"business_name"`
	Email                    string     `json:"email"`
	Contacts                 []Contact  `json:"contacts,omitempty"`
	SubscriptionStatus       string     `json:"subscription_status"`
	ExpiresAt                *time.Time `json:"expires_at,omitempty"`
	GraceDays                int        `json:"grace_days"`
	LastSubscriptionNotifyAt *time.Time `json:"last_subscription_notify_at,omitempty"`
	Tier                     string     `json:"tier"`
	WebhookURL               string     `json:"webhook_url,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

// SubscriptionActiveAt reports whether the dealer may ingest at the given
// instant. FOUNDING tier bypasses expiry entirely; everyone else gets the
// paid period plus the grace window.
func (d *Dealer) SubscriptionActiveAt(now time.Time) bool {
	if d.Tier == TierFounding {
		return true
	}
	if d.SubscriptionStatus == SubscriptionSuspended {
		return false
	}
	if d.ExpiresAt == nil {
		return d.SubscriptionStatus == SubscriptionActive
	}
	graceEnd := d.ExpiresAt.AddDate(0, 0, d.GraceDays)
	return !now.After(graceEnd)
}

// InGracePeriod reports whether the dealer is past expiry but still inside
// the grace window.
func (d *Dealer) InGracePeriod(now time.Time) bool {
	if d.Tier == TierFounding || d.ExpiresAt == nil {
		return false
	}
	return now.After(*d.ExpiresAt) && d.SubscriptionActiveAt(now)
}

// Feed represents the 'feeds' table.
type Feed struct {
	ID               string     `json:"id"`
	DealerID         string     `json:"dealer_id"`
	Name             string     `json:"name"`
	Transport        string     `json:"transport"`
	Format           string     `json:"format"`
	URL              string     `json:"url"`
	Username         string     `json:"username,omitempty"`
	Password         string     `json:"-"`
	ScheduleMinutes  int        `json:"schedule_minutes"`
	Enabled          bool       `json:"enabled"`
	Status           string     `json:"status"`
	FeedHash         string     `json:"feed_hash,omitempty"`
	LastSuccessAt    *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt    *time.Time `json:"last_failure_at,omitempty"`
	LastRunAt        *time.Time `json:"last_run_at,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	PrimaryErrorCode string     `json:"primary_error_code,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// RecordError describes one validation problem on one parsed record.
type RecordError struct {
	Field    string `json:"field"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	RawValue string `json:"raw_value,omitempty"`
}

// FeedRun represents the 'feed_runs' table, one execution of one feed.
// For a terminal run, Indexed+Quarantined+Rejected equals Total.
type FeedRun struct {
	ID               string         `json:"id"`
	FeedID           string         `json:"feed_id"`
	DealerID         string         `json:"dealer_id"`
	Status           string         `json:"status"`
	Trigger          string         `json:"trigger,omitempty"`
	Total            int            `json:"total"`
	Indexed          int            `json:"indexed"`
	Quarantined      int            `json:"quarantined"`
	Rejected         int            `json:"rejected"`
	Coercions        int            `json:"coercions"`
	PrimaryErrorCode string         `json:"primary_error_code,omitempty"`
	ErrorCodes       map[string]int `json:"error_codes,omitempty"`
	ErrorSamples     []RecordError  `json:"error_samples,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	SkipReason       string         `json:"skip_reason,omitempty"`
	AdminID          string         `json:"admin_id,omitempty"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	FinishedAt       *time.Time     `json:"finished_at,omitempty"`
	DurationMs       int64          `json:"duration_ms"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Run triggers.
const (
	TriggerSchedule = "SCHEDULE"
	TriggerManual   = "MANUAL"
)

// DealerSku represents the 'dealer_skus' table, a dealer's offering of one
// product keyed by (dealer_id, sku_hash).
type DealerSku struct {
	DealerID  string `json:"dealer_id"`
	SkuHash   string `json:"sku_hash"`
	FeedID    string `json:"feed_id"`
	FeedRunID string `json:"feed_run_id"`

	Title        string   `json:"title"`
	UPC          string   `json:"upc,omitempty"`
	SKU          string   `json:"sku,omitempty"`
	Price        float64  `json:"price"`
	SalePrice    *float64 `json:"sale_price,omitempty"`
	Description  string   `json:"description,omitempty"`
	Brand        string   `json:"brand,omitempty"`
	InStock      bool     `json:"in_stock"`
	Quantity     *int     `json:"quantity,omitempty"`
	URL          string   `json:"url,omitempty"`
	ImageURL     string   `json:"image_url,omitempty"`
	Category     string   `json:"category,omitempty"`
	Caliber      string   `json:"caliber,omitempty"`
	Grain        *int     `json:"grain,omitempty"`
	BulletType   string   `json:"bullet_type,omitempty"`
	CaseMaterial string   `json:"case_material,omitempty"`
	RoundCount   *int     `json:"round_count,omitempty"`

	CoercionsApplied []string  `json:"coercions_applied,omitempty"`
	IsActive         bool      `json:"is_active"`
	FirstSeenAt      time.Time `json:"first_seen_at"`
	LastSeenAt       time.Time `json:"last_seen_at"`
}

// EffectivePrice returns the price buyers actually see: sale price when one
// is present and positive, otherwise the regular price.
func (s *DealerSku) EffectivePrice() float64 {
	if s.SalePrice != nil && *s.SalePrice > 0 {
		return *s.SalePrice
	}
	return s.Price
}

// QuarantinedRecord represents the 'quarantined_records' table, keyed by
// (feed_id, match_key). Repeated quarantines refresh the payload in place.
type QuarantinedRecord struct {
	FeedID         string                 `json:"feed_id"`
	MatchKey       string                 `json:"match_key"`
	DealerID       string                 `json:"dealer_id"`
	RawData        map[string]interface{} `json:"raw_data,omitempty"`
	ParsedFields   map[string]interface{} `json:"parsed_fields,omitempty"`
	BlockingErrors []RecordError          `json:"blocking_errors"`
	Status         string                 `json:"status"`
	FirstSeenAt    time.Time              `json:"first_seen_at"`
	LastSeenAt     time.Time              `json:"last_seen_at"`
	ResolvedAt     *time.Time             `json:"resolved_at,omitempty"`
	ResolvedBy     string                 `json:"resolved_by,omitempty"`
}

// CanonicalSku represents the 'canonical_skus' table, the deduplicated
// product identity shared across dealers.
type CanonicalSku struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Caliber   string    `json:"caliber"`
	Brand     string    `json:"brand"`
	Grain     *int      `json:"grain,omitempty"`
	PackSize  *int      `json:"pack_size,omitempty"`
	UPC       string    `json:"upc,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AttrKey returns the caliber|brand composite used for attribute matching.
func (c *CanonicalSku) AttrKey() string {
	return AttrKey(c.Caliber, c.Brand)
}

// AttrKey builds the normalized caliber|brand composite key.
func AttrKey(caliber, brand string) string {
	return strings.ToLower(strings.TrimSpace(caliber)) + "|" + strings.ToLower(strings.TrimSpace(brand))
}

// ProductLink represents the 'product_links' table tying a dealer SKU to a
// canonical SKU. The pipeline emits links; the resolver consumes them.
type ProductLink struct {
	DealerID       string    `json:"dealer_id"`
	SkuHash        string    `json:"sku_hash"`
	CanonicalSkuID string    `json:"canonical_sku_id"`
	FeedRunID      string    `json:"feed_run_id,omitempty"`
	MatchMethod    string    `json:"match_method"`
	MatchedAt      time.Time `json:"matched_at"`
}

// Benchmark represents the 'benchmarks' table, cross-seller price
// statistics for one canonical SKU.
type Benchmark struct {
	CanonicalSkuID string    `json:"canonical_sku_id"`
	MinPrice       float64   `json:"min_price"`
	MedianPrice    float64   `json:"median_price"`
	MaxPrice       float64   `json:"max_price"`
	MeanPrice      float64   `json:"mean_price"`
	SellerCount    int       `json:"seller_count"`
	Confidence     string    `json:"confidence"`
	ComputedAt     time.Time `json:"computed_at"`
}

// Insight represents the 'insights' table, one per-dealer pricing or
// assortment finding.
type Insight struct {
	ID              string    `json:"id"`
	DealerID        string    `json:"dealer_id"`
	CanonicalSkuID  string    `json:"canonical_sku_id,omitempty"`
	Type            string    `json:"type"`
	Severity        string    `json:"severity"`
	DealerPrice     float64   `json:"dealer_price,omitempty"`
	BenchmarkMedian float64   `json:"benchmark_median,omitempty"`
	DiffPct         float64   `json:"diff_pct,omitempty"`
	Detail          string    `json:"detail,omitempty"`
	ComputedAt      time.Time `json:"computed_at"`
}

// SkuHash derives the dealer SKU identity: the first 16 bytes of SHA-256
// over lower(trim(title))|upc|sku|price, hex-encoded. The price component
// uses the shortest decimal form so 25.0 and 25 hash identically.
func SkuHash(title, upc, sku string, price float64) string {
	base := strings.ToLower(strings.TrimSpace(title)) + "|" + upc + "|" + sku + "|" + strconv.FormatFloat(price, 'f', -1, 64)
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:16])
}

// MatchKey derives the quarantine identity: the first 16 bytes of SHA-256
// over lower(trim(title))|sku, hex-encoded. It deliberately omits price so
// a quarantined product keeps one row across price changes.
func MatchKey(title, sku string) string {
	base := strings.ToLower(strings.TrimSpace(title)) + "|" + sku
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:16])
}

// ValidUPC reports whether the digit string passes the UPC contract:
// 8 to 14 digits, nothing else.
func ValidUPC(upc string) bool {
	if len(upc) < 8 || len(upc) > 14 {
		return false
	}
	for _, r := range upc {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
