package engine

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"priorityline/internal/period"
)

// datasetCache memoizes fetched datasets per period and scope. Datasets do not
// depend on "today", so a cached entry classifies the same as a fresh fetch.
type datasetCache struct {
	lru *expirable.LRU[string, Dataset]
}

func newDatasetCache(size int, ttl time.Duration) *datasetCache {
	if size <= 0 {
		return nil
	}
	return &datasetCache{lru: expirable.NewLRU[string, Dataset](size, nil, ttl)}
}

func cacheKey(p period.Period, s Scope) string {
	return p.String() + "|" + s.PositionID + "|" + s.ObjectiveID
}

func (c *datasetCache) get(p period.Period, s Scope) (Dataset, bool) {
	if c == nil {
		return Dataset{}, false
	}
	return c.lru.Get(cacheKey(p, s))
}

func (c *datasetCache) put(p period.Period, s Scope, ds Dataset) {
	if c == nil {
		return
	}
	c.lru.Add(cacheKey(p, s), ds)
}

// purge drops everything. An open priority is carried into every later
// month, so a single write can touch an unbounded set of periods.
func (c *datasetCache) purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}
