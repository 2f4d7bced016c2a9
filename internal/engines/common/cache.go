package common

import (
	"slices"
	"sync"
)

// ResultCache holds the latest result per assimilation window.
// It lets callers read results of concurrently running windows without sharing pipelines.
type ResultCache[V any] struct {
	sync.RWMutex
	items map[string]V
}

// NewResultCache returns an empty cache
func NewResultCache[V any]() *ResultCache[V] {
	return &ResultCache[V]{items: make(map[string]V)}
}

func (c *ResultCache[V]) Set(window string, v V) {
	c.Lock()
	defer c.Unlock()
	c.items[window] = v
}

func (c *ResultCache[V]) Get(window string) (V, bool) {
	c.RLock()
	defer c.RUnlock()
	val, ok := c.items[window]
	return val, ok
}

// Windows returns the cached window names in sorted order
func (c *ResultCache[V]) Windows() []string {
	c.RLock()
	defer c.RUnlock()
	names := make([]string, 0, len(c.items))
	for name := range c.items {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (c *ResultCache[V]) Len() int {
	c.RLock()
	defer c.RUnlock()
	return len(c.items)
}
