package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// product:{id} -> Product JSON
	keyProduct = "product:%s"
	// product_categories -> []string JSON
	keyCategories = "product_categories"
)

var cacheTTL = 5 * time.Minute

// CachedRepo is a read-through Redis cache over a Repository. Only display
// reads go through it; the placement transaction locks product rows in the
// database directly and never consults the cache.
type CachedRepo struct {
	Repository
	rdb *redis.Client
}

func NewCachedRepo(inner Repository, rdb *redis.Client) *CachedRepo {
	return &CachedRepo{Repository: inner, rdb: rdb}
}

func (c *CachedRepo) GetByID(ctx context.Context, id string) (*Product, error) {
	key := fmt.Sprintf(keyProduct, id)
	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var p Product
		if json.Unmarshal(raw, &p) == nil {
			return &p, nil
		}
	}
	p, err := c.Repository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(p); err == nil {
		_ = c.rdb.Set(ctx, key, raw, cacheTTL).Err()
	}
	return p, nil
}

func (c *CachedRepo) Categories(ctx context.Context) ([]string, error) {
	if raw, err := c.rdb.Get(ctx, keyCategories).Bytes(); err == nil {
		var cats []string
		if json.Unmarshal(raw, &cats) == nil {
			return cats, nil
		}
	}
	cats, err := c.Repository.Categories(ctx)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(cats); err == nil {
		_ = c.rdb.Set(ctx, keyCategories, raw, cacheTTL).Err()
	}
	return cats, nil
}

func (c *CachedRepo) Create(ctx context.Context, p *Product) error {
	if err := c.Repository.Create(ctx, p); err != nil {
		return err
	}
	c.invalidate(ctx, p.ID)
	return nil
}

func (c *CachedRepo) Update(ctx context.Context, p *Product, updatePrice, updateUnits bool) error {
	if err := c.Repository.Update(ctx, p, updatePrice, updateUnits); err != nil {
		return err
	}
	c.invalidate(ctx, p.ID)
	return nil
}

func (c *CachedRepo) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := c.Repository.Delete(ctx, id)
	if err == nil && ok {
		c.invalidate(ctx, id)
	}
	return ok, err
}

func (c *CachedRepo) invalidate(ctx context.Context, id string) {
	_ = c.rdb.Del(ctx, fmt.Sprintf(keyProduct, id), keyCategories).Err()
}
