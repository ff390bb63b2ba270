package queue

// Payload shapes carried by each queue, JSON-encoded into the jobs table.
// Every field a downstream stage needs rides in the payload so a job is
// replayable without extra lookups.

// IngestPayload drives one feed ingestion.
type IngestPayload struct {
	FeedID        string `json:"feed_id"`
	FeedRunID     string `json:"feed_run_id"`
	Trigger       string `json:"trigger"`
	AdminOverride bool   `json:"admin_override,omitempty"`
	AdminID       string `json:"admin_id,omitempty"`
}

// MatchPayload is one batch of dealer SKUs to link against the canonical
// catalog. Hashes are scoped to the dealer per the (dealer_id, sku_hash) key.
type MatchPayload struct {
	FeedRunID string   `json:"feed_run_id"`
	DealerID  string   `json:"dealer_id"`
	SkuHashes []string `json:"sku_hashes"`
}

// BenchmarkPayload names the canonical SKUs to recompute. Empty means an
// incremental pass over everything matched since the last watermark; Full
// forces the whole catalog.
type BenchmarkPayload struct {
	CanonicalSkuIDs []string `json:"canonical_sku_ids,omitempty"`
	Full            bool     `json:"full,omitempty"`
}

// InsightPayload names the canonical SKUs whose dealer insights need
// re-deriving after a benchmark pass.
type InsightPayload struct {
	CanonicalSkuIDs []string `json:"canonical_sku_ids"`
}
