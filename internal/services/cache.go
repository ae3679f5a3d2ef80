package services

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"studio-crm/backend/internal/repository"
	"studio-crm/backend/pkg/models"
)

// QuotationCache keeps recently read quotations in memory in front of the
// quotation store.
type QuotationCache struct {
	store repository.QuotationStore
	c     *ttlcache.Cache[string, *models.Quotation]
}

// NewQuotationCache creates a cache holding up to capacity quotations for ttl.
func NewQuotationCache(store repository.QuotationStore, ttl time.Duration, capacity uint64) *QuotationCache {
	c := ttlcache.New(
		ttlcache.WithCapacity[string, *models.Quotation](capacity),
		ttlcache.WithTTL[string, *models.Quotation](ttl),
	)

	return &QuotationCache{
		store: store,
		c:     c,
	}
}

// Get returns the quotation, reading through to the store on a miss.
func (qc *QuotationCache) Get(ctx context.Context, id string) (*models.Quotation, error) {
	if item := qc.c.Get(id); item != nil {
		return item.Value(), nil
	}

	q, err := qc.store.GetQuotation(ctx, id)
	if err != nil {
		return nil, err
	}
	qc.c.Set(id, q, ttlcache.DefaultTTL)
	return q, nil
}

// Put stores q, replacing any cached copy.
func (qc *QuotationCache) Put(q *models.Quotation) {
	qc.c.Set(q.ID, q, ttlcache.DefaultTTL)
}

// Invalidate drops the cached copy of a quotation.
func (qc *QuotationCache) Invalidate(id string) {
	qc.c.Delete(id)
}

// Len returns the number of cached quotations.
func (qc *QuotationCache) Len() int {
	return qc.c.Len()
}

// StartEviction removes expired entries until ctx is cancelled.
func (qc *QuotationCache) StartEviction(ctx context.Context) {
	go qc.c.Start()

	<-ctx.Done()

	qc.c.Stop()
}
