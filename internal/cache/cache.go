package cache

import (
	"context"
	"sync"
	"time"

	"bloodlink/internal/models"
	"bloodlink/internal/repository"
)

// ActiveRequestsCache keeps the non-terminal requests warm for the read
// endpoints; the sweep and donor dashboards hit this list constantly.
type ActiveRequestsCache struct {
	mu       sync.RWMutex
	requests map[string]*models.Request
}

func NewActiveRequestsCache() *ActiveRequestsCache {
	return &ActiveRequestsCache{
		requests: make(map[string]*models.Request),
	}
}

func (c *ActiveRequestsCache) Refresh(ctx context.Context, repo repository.RequestStore) error {
	reqs, err := repo.ListActive(ctx)
	if err != nil {
		return err
	}
	newMap := make(map[string]*models.Request, len(reqs))
	for _, r := range reqs {
		newMap[r.ID] = r
	}
	c.mu.Lock()
	c.requests = newMap
	c.mu.Unlock()
	return nil
}

func (c *ActiveRequestsCache) Get(id string) (*models.Request, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.requests[id]
	return r, ok
}

func (c *ActiveRequestsCache) List() []*models.Request {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.Request, 0, len(c.requests))
	for _, r := range c.requests {
		out = append(out, r)
	}
	return out
}

func (c *ActiveRequestsCache) StartAutoRefresh(ctx context.Context, repo repository.RequestStore, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Refresh(ctx, repo); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
