package store

import (
	"context"
	"sync"
	"sync/atomic"

	"fleet-sync/internal/hooks"
	"fleet-sync/pkg/kv"

	"github.com/golang/glog"
)

type operationSet struct {
	list, create, update, delete          string
	createField, updateField, deleteField string
}

// collection is one ordered, id-keyed entity list mirrored into a KV snapshot.
type collection[T any] struct {
	// name is the list field of the collection, also its invalidation pattern.
	name   string
	entity string
	key    string
	ops    operationSet
	idOf   func(T) string
	setID  func(*T, string)

	// query reads the full list; its cache-first policy serves Sync, Refetch serves refreshes.
	query  *hooks.Query[[]T]
	create *hooks.Mutation[T]
	update *hooks.Mutation[T]
	remove *hooks.Mutation[bool]

	// writeMu serializes memory+storage commits so snapshots land in order.
	writeMu sync.Mutex
	mu      sync.RWMutex
	items   []T
}

// bind creates the list query and the write mutations of the collection.
func (c *collection[T]) bind(remote hooks.Client) {
	invalidate := []string{c.name}
	c.query = hooks.NewQuery(remote, c.ops.list, nil, hooks.FieldDecoder[[]T](c.name), hooks.QueryOptions{FetchPolicy: hooks.CacheFirst})
	c.create = hooks.NewMutation(remote, c.ops.create, hooks.FieldDecoder[T](c.ops.createField), hooks.MutationOptions[T]{InvalidatePatterns: invalidate})
	c.update = hooks.NewMutation(remote, c.ops.update, hooks.FieldDecoder[T](c.ops.updateField), hooks.MutationOptions[T]{InvalidatePatterns: invalidate})
	c.remove = hooks.NewMutation(remote, c.ops.delete, hooks.FieldDecoder[bool](c.ops.deleteField), hooks.MutationOptions[bool]{InvalidatePatterns: invalidate})
}

func (c *collection[T]) list() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

func (c *collection[T]) find(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, item := range c.items {
		if c.idOf(item) == id {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// modify applies fn to a copy of the items in memory only. fn reports whether
// it changed anything.
func (c *collection[T]) modify(fn func(items []T) ([]T, bool)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]T, len(c.items))
	copy(items, c.items)
	items, changed := fn(items)
	if changed {
		c.items = items
	}
	return changed
}

func (c *collection[T]) set(items []T) {
	c.mu.Lock()
	c.items = items
	c.mu.Unlock()
}

// commit updates memory then writes the resulting snapshot through to storage.
// A failed write is logged and returned; memory is not rolled back.
func (c *collection[T]) commit(ctx context.Context, storage kv.Store, fn func(items []T) ([]T, bool)) (bool, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if !c.modify(fn) {
		return false, nil
	}
	return true, c.persist(ctx, storage)
}

// commitAt is commit fenced by a reset: it applies fn only while epoch still
// reads want, and reports errReset otherwise.
func (c *collection[T]) commitAt(ctx context.Context, storage kv.Store, epoch *atomic.Uint64, want uint64, fn func(items []T) ([]T, bool)) (bool, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if epoch.Load() != want {
		return false, errReset
	}
	if !c.modify(fn) {
		return false, nil
	}
	return true, c.persist(ctx, storage)
}

func (c *collection[T]) persist(ctx context.Context, storage kv.Store) error {
	snapshot := c.list()
	if err := kv.SetJSON(ctx, storage, c.key, snapshot); err != nil {
		glog.Errorf("store: failed to persist %s snapshot: %v", c.name, err)
		return err
	}
	return nil
}

// load replaces memory with the stored snapshot; a missing snapshot empties it.
func (c *collection[T]) load(ctx context.Context, storage kv.Store) error {
	var items []T
	if _, err := kv.GetJSON(ctx, storage, c.key, &items); err != nil {
		return err
	}
	if items == nil {
		items = []T{}
	}
	c.set(items)
	return nil
}

func (c *collection[T]) indexOf(items []T, id string) int {
	for i, item := range items {
		if c.idOf(item) == id {
			return i
		}
	}
	return -1
}
