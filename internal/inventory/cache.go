package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StockCache keeps stock level snapshots in Redis. A miss or a broken
// connection degrades to the database query, never to an error.
type StockCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStockCache constructs StockCache. A nil client disables caching.
func NewStockCache(client *redis.Client, ttl time.Duration) *StockCache {
	return &StockCache{client: client, ttl: ttl}
}

func stockKey(category Category) string {
	if category == "" {
		return "stock:levels:all"
	}
	return fmt.Sprintf("stock:levels:%s", category)
}

// Get returns the cached levels for a category, or ok=false on miss.
func (c *StockCache) Get(ctx context.Context, category Category) ([]StockLevel, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, stockKey(category)).Bytes()
	if err != nil {
		return nil, false
	}
	var levels []StockLevel
	if err := json.Unmarshal(raw, &levels); err != nil {
		return nil, false
	}
	return levels, true
}

// Set stores the levels snapshot for a category.
func (c *StockCache) Set(ctx context.Context, category Category, levels []StockLevel) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(levels)
	if err != nil {
		return
	}
	c.client.Set(ctx, stockKey(category), raw, c.ttl)
}

// Invalidate drops every cached snapshot. Called after any stock mutation.
func (c *StockCache) Invalidate(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	keys := []string{stockKey("")}
	for _, cat := range []Category{CategoryFuel, CategoryVehicle, CategoryTool, CategoryMaterial} {
		keys = append(keys, stockKey(cat))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return
	}
}
