package imagestore

import (
	"bytes"
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached keeps recently read images in memory in front of another Backend.
// Stored images are never rewritten in place (every put uses a fresh name), so
// entries only need evicting on delete.
type Cached struct {
	next  Backend
	cache *lru.Cache[string, []byte]
}

// NewCached wraps next with an LRU cache holding up to size images
func NewCached(next Backend, size int) (*Cached, error) {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create image cache: %w", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

func (c *Cached) Put(ctx context.Context, name string, data []byte) (string, error) {
	return c.next.Put(ctx, name, data)
}

// Get returns a copy of the cached bytes; callers may modify it freely
func (c *Cached) Get(ctx context.Context, locator string) ([]byte, error) {
	if data, ok := c.cache.Get(locator); ok {
		return bytes.Clone(data), nil
	}
	data, err := c.next.Get(ctx, locator)
	if err != nil {
		return nil, err
	}
	c.cache.Add(locator, data)
	return bytes.Clone(data), nil
}

func (c *Cached) Delete(ctx context.Context, locator string) error {
	c.cache.Remove(locator)
	return c.next.Delete(ctx, locator)
}

// Len reports how many images are cached
func (c *Cached) Len() int {
	return c.cache.Len()
}
