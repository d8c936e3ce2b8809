package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fleet-sync/internal/operations"
	"fleet-sync/pkg/graphql"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"
)

const temporaryIDPrefix = "tmp-"

// IsTemporaryID reports whether id was assigned locally and never confirmed by the server.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, temporaryIDPrefix)
}

// TemporaryIDTime returns the creation time encoded in a temporary id.
func TemporaryIDTime(id string) (time.Time, bool) {
	if !IsTemporaryID(id) {
		return time.Time{}, false
	}
	parsed, err := ulid.ParseStrict(strings.TrimPrefix(id, temporaryIDPrefix))
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}

func (s *Store) newTemporaryID() string {
	return temporaryIDPrefix + ulid.MustNew(ulid.Timestamp(s.clock.Now()), ulid.DefaultEntropy()).String()
}

// createOptimistic inserts record under a temporary id, then swaps in the
// server record once the remote create succeeds. On failure the local record
// is returned with the error and stays in the collection.
func createOptimistic[T any](ctx context.Context, s *Store, c *collection[T], record T, remote func(context.Context, T) (T, error)) (T, error) {
	epoch := s.epoch.Load()
	tempID := s.newTemporaryID()
	c.setID(&record, tempID)

	if _, err := c.commitAt(ctx, s.storage, &s.epoch, epoch, func(items []T) ([]T, bool) {
		return append(items, record), true
	}); errors.Is(err, errReset) {
		return record, err
	}
	s.notify(c.entity)

	created, err := remote(ctx, record)
	if err != nil {
		glog.Warningf("store: remote create of %s %s failed, keeping local record: %v", c.entity, tempID, err)
		return record, err
	}

	serverID := c.idOf(created)
	if _, err := c.commitAt(ctx, s.storage, &s.epoch, epoch, func(items []T) ([]T, bool) {
		return reconcile(c, items, tempID, serverID, created)
	}); errors.Is(err, errReset) {
		glog.V(1).Infof("store: %s %s created after a reset, not kept locally", c.entity, serverID)
		return created, nil
	}
	s.notify(c.entity)
	return created, nil
}

// reconcile rewrites every record carrying tempID to created. A record that
// already carries serverID (e.g. from a refresh that raced the create) is
// folded into the same slot so the id stays unique.
func reconcile[T any](c *collection[T], items []T, tempID, serverID string, created T) ([]T, bool) {
	out := items[:0]
	placed, changed := false, false
	for _, item := range items {
		id := c.idOf(item)
		if id != tempID && id != serverID {
			out = append(out, item)
			continue
		}
		changed = true
		if !placed {
			out = append(out, created)
			placed = true
		}
	}
	return out, changed
}

// updateOptimistic merges patch into the record, persists it and sends the
// full merged record remotely. A remote failure keeps the merged record.
func updateOptimistic[T any](ctx context.Context, s *Store, c *collection[T], id string, patch func(*T), remote func(context.Context, T) (T, error)) (T, error) {
	var merged T
	changed, _ := c.commit(ctx, s.storage, func(items []T) ([]T, bool) {
		i := c.indexOf(items, id)
		if i < 0 {
			return items, false
		}
		patch(&items[i])
		merged = items[i]
		return items, true
	})
	if !changed {
		glog.Errorf("store: cannot update %s %s: %v", c.entity, id, ErrNotFound)
		var zero T
		return zero, fmt.Errorf("%s %s: %w", c.entity, id, ErrNotFound)
	}
	s.notify(c.entity)

	if _, err := remote(ctx, merged); err != nil {
		glog.Warningf("store: remote update of %s %s failed, local changes kept: %v", c.entity, id, err)
		return merged, err
	}
	return merged, nil
}

// deleteOptimistic removes the record locally before asking the server. The
// local removal stands even when the remote call fails.
func deleteOptimistic[T any](ctx context.Context, s *Store, c *collection[T], id string, remote func(context.Context, string) error) error {
	removed, _ := c.commit(ctx, s.storage, func(items []T) ([]T, bool) {
		i := c.indexOf(items, id)
		if i < 0 {
			return items, false
		}
		return append(items[:i], items[i+1:]...), true
	})
	if removed {
		s.notify(c.entity)
	} else {
		glog.Warningf("store: %s %s not in local collection, deleting remotely only", c.entity, id)
	}

	if err := remote(ctx, id); err != nil {
		glog.Warningf("store: remote delete of %s %s failed, local removal kept: %v", c.entity, id, err)
		return err
	}
	return nil
}

// refreshCollection replaces memory and snapshot with the list query's result
// verbatim. network forces a server read; otherwise a cached result is used
// when one is fresh. A result that lands after a Reset is dropped.
func refreshCollection[T any](ctx context.Context, s *Store, c *collection[T], network bool) error {
	s.loading.Add(1)
	defer s.loading.Add(-1)

	epoch := s.epoch.Load()
	run := c.query.Run
	if network {
		run = c.query.Refetch
	}
	if err := run(ctx); err != nil {
		glog.Warningf("store: failed to refresh %s: %v", c.name, err)
		return err
	}
	state := c.query.State()
	if state.Loading || state.Err != nil || !state.HasData {
		// A newer run took over and commits its own result.
		return nil
	}
	items := state.Data

	_, err := c.commitAt(ctx, s.storage, &s.epoch, epoch, func([]T) ([]T, bool) {
		out := make([]T, len(items))
		copy(out, items)
		return out, true
	})
	if errors.Is(err, errReset) {
		glog.V(1).Infof("store: dropping %s read before a reset", c.name)
		return nil
	}
	if err != nil {
		return err
	}
	s.notify(c.entity)
	return nil
}

// Remote calls shared by every kind.

func remoteCreate[T any](c *collection[T]) func(context.Context, T) (T, error) {
	return func(ctx context.Context, record T) (T, error) {
		input, err := operations.Input(record)
		if err != nil {
			var zero T
			return zero, err
		}
		return c.create.Mutate(ctx, graphql.Variables{"input": input})
	}
}

func remoteUpdate[T any](c *collection[T]) func(context.Context, T) (T, error) {
	return func(ctx context.Context, record T) (T, error) {
		input, err := operations.Input(record)
		if err != nil {
			var zero T
			return zero, err
		}
		return c.update.Mutate(ctx, graphql.Variables{"id": c.idOf(record), "input": input})
	}
}

func remoteDelete[T any](c *collection[T]) func(context.Context, string) error {
	return func(ctx context.Context, id string) error {
		ok, err := c.remove.Mutate(ctx, graphql.Variables{"id": id})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("server refused to delete %s %s", c.entity, id)
		}
		return nil
	}
}
