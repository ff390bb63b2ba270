package match

import (
	"context"
	"log"
	"sync"
	"time"

	"caliberscan/internal/models"
)

// CatalogStore is the slice of the repository the snapshot needs.
type CatalogStore interface {
	ListCanonicalSkus(ctx context.Context) ([]models.CanonicalSku, error)
	CatalogVersion(ctx context.Context) (int64, error)
	InsertCanonicalSku(ctx context.Context, c *models.CanonicalSku) (*models.CanonicalSku, error)
}

// Snapshot is a per-replica in-memory view of the canonical catalog with
// O(1) lookup by UPC and by caliber|brand. It reloads when the store-side
// catalog version moves past the loaded one, checked at most once per
// versionCheckInterval so hot batches don't hammer the meta table.
type Snapshot struct {
	store CatalogStore

	mu          sync.RWMutex
	version     int64
	upcMap      map[string]*models.CanonicalSku
	attrMap     map[string][]*models.CanonicalSku
	lastChecked time.Time
}

const versionCheckInterval = 30 * time.Second

func NewSnapshot(store CatalogStore) *Snapshot {
	return &Snapshot{
		store:   store,
		upcMap:  make(map[string]*models.CanonicalSku),
		attrMap: make(map[string][]*models.CanonicalSku),
	}
}

// Warm loads the full catalog. Called once at worker startup; failures
// there are fatal because matching without a snapshot is O(N*M).
func (s *Snapshot) Warm(ctx context.Context) error {
	version, err := s.store.CatalogVersion(ctx)
	if err != nil {
		return err
	}
	return s.reload(ctx, version)
}

// Ensure refreshes the snapshot when the store-side version has moved.
func (s *Snapshot) Ensure(ctx context.Context) error {
	s.mu.RLock()
	fresh := time.Since(s.lastChecked) < versionCheckInterval
	s.mu.RUnlock()
	if fresh {
		return nil
	}

	version, err := s.store.CatalogVersion(ctx)
	if err != nil {
		return err
	}

	s.mu.RLock()
	current := s.version
	s.mu.RUnlock()
	if version == current {
		s.mu.Lock()
		s.lastChecked = time.Now()
		s.mu.Unlock()
		return nil
	}
	return s.reload(ctx, version)
}

func (s *Snapshot) reload(ctx context.Context, version int64) error {
	canonicals, err := s.store.ListCanonicalSkus(ctx)
	if err != nil {
		return err
	}

	upcMap := make(map[string]*models.CanonicalSku, len(canonicals))
	attrMap := make(map[string][]*models.CanonicalSku)
	for i := range canonicals {
		c := &canonicals[i]
		if c.UPC != "" {
			upcMap[c.UPC] = c
		}
		if c.Caliber != "" && c.Brand != "" {
			key := c.AttrKey()
			attrMap[key] = append(attrMap[key], c)
		}
	}

	s.mu.Lock()
	s.version = version
	s.upcMap = upcMap
	s.attrMap = attrMap
	s.lastChecked = time.Now()
	s.mu.Unlock()

	log.Printf("[match] catalog snapshot loaded: %d canonicals, version %d", len(canonicals), version)
	return nil
}

// ByUPC returns the canonical registered under the UPC, if any.
func (s *Snapshot) ByUPC(upc string) *models.CanonicalSku {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upcMap[upc]
}

// ByAttrs returns the candidates sharing the caliber|brand key.
func (s *Snapshot) ByAttrs(caliber, brand string) []*models.CanonicalSku {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attrMap[models.AttrKey(caliber, brand)]
}

// Create inserts a new canonical into the store and both local maps, so
// later records in the same batch hit it without a reload.
func (s *Snapshot) Create(ctx context.Context, c *models.CanonicalSku) (*models.CanonicalSku, error) {
	created, err := s.store.InsertCanonicalSku(ctx, c)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if created.UPC != "" {
		s.upcMap[created.UPC] = created
	}
	if created.Caliber != "" && created.Brand != "" {
		key := created.AttrKey()
		s.attrMap[key] = append(s.attrMap[key], created)
	}
	// The insert bumped the store version; skip the next reload since the
	// local maps already contain the new row.
	s.version++
	s.mu.Unlock()

	return created, nil
}
