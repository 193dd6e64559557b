package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/culture-survey/backend/internal/kv"
	"github.com/culture-survey/backend/internal/metrics"
	"github.com/culture-survey/backend/pkg/logger"
	"github.com/culture-survey/backend/pkg/utils"
)

// Collection stores every record of one entity type as a single JSON array
// under one key. Writes are read-modify-write guarded by compare-and-swap on
// the exact bytes that were read; a lost race re-reads and re-applies.
type Collection[T any] struct {
	key         string
	store       Store
	casAttempts int

	idOf func(*T) string
	// prepare fills generated fields before a record is inserted.
	prepare func(*T)
	// onInsert checks item against the current contents and may adjust its
	// generated fields before the duplicate-id check.
	onInsert  func(existing []T, item *T) error
	validate  func(*T) error
	immutable bool
}

func (c *Collection[T]) Key() string {
	return c.key
}

func (c *Collection[T]) probe(ctx context.Context) error {
	_, _, err := c.load(ctx)
	return err
}

func (c *Collection[T]) load(ctx context.Context) ([]T, []byte, error) {
	raw, found, err := c.store.GetRaw(ctx, c.key)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", c.key, err)
	}
	if !found {
		return []T{}, nil, nil
	}

	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, nil, fmt.Errorf("%w: collection %s: %v", kv.ErrSerialization, c.key, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, raw, nil
}

// mutate applies fn to the latest contents and writes the result back.
// fn may run more than once and must derive its output from its input only.
func (c *Collection[T]) mutate(ctx context.Context, fn func(items []T) ([]T, bool, error)) error {
	for attempt := 1; attempt <= c.casAttempts; attempt++ {
		items, raw, err := c.load(ctx)
		if err != nil {
			return err
		}

		next, changed, err := fn(items)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("%w: collection %s: %v", kv.ErrSerialization, c.key, err)
		}

		swapped, err := c.store.CompareAndSwap(ctx, c.key, raw, data)
		if err != nil {
			return fmt.Errorf("write %s: %w", c.key, err)
		}
		if swapped {
			logger.Debug("Collection written",
				zap.String("collection", c.key),
				zap.Int("records", len(next)),
				zap.String("version", utils.HashBytes(data)),
			)
			return nil
		}

		// A retried swap can report a loss for a write that already landed.
		landed, err := c.holds(ctx, data)
		if err != nil {
			return err
		}
		if landed {
			logger.Debug("Collection write landed before retry",
				zap.String("collection", c.key),
				zap.Int("attempt", attempt),
			)
			return nil
		}

		metrics.RepositoryConflicts.WithLabelValues(c.key).Inc()
		logger.Debug("Collection changed underneath write, retrying",
			zap.String("collection", c.key),
			zap.Int("attempt", attempt),
		)
	}

	logger.Warn("Giving up on contended collection write",
		zap.String("collection", c.key),
		zap.Int("attempts", c.casAttempts),
	)
	return fmt.Errorf("%w: collection %s after %d attempts", kv.ErrConflict, c.key, c.casAttempts)
}

// holds reports whether the stored value is data, ignoring JSON layout.
func (c *Collection[T]) holds(ctx context.Context, data []byte) (bool, error) {
	raw, found, err := c.store.GetRaw(ctx, c.key)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", c.key, err)
	}
	if !found {
		return false, nil
	}

	var stored bytes.Buffer
	if err := json.Compact(&stored, raw); err != nil {
		return false, nil
	}
	return bytes.Equal(stored.Bytes(), data), nil
}

// List returns every record matching filter (all records when filter is nil),
// in stored order.
func (c *Collection[T]) List(ctx context.Context, filter func(*T) bool) ([]T, error) {
	items, _, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		return items, nil
	}

	out := make([]T, 0, len(items))
	for i := range items {
		if filter(&items[i]) {
			out = append(out, items[i])
		}
	}
	return out, nil
}

// Get returns nil, nil when no record has the id.
func (c *Collection[T]) Get(ctx context.Context, id string) (*T, error) {
	return c.Find(ctx, func(item *T) bool { return c.idOf(item) == id })
}

func (c *Collection[T]) Find(ctx context.Context, pred func(*T) bool) (*T, error) {
	items, _, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if pred(&items[i]) {
			found := items[i]
			return &found, nil
		}
	}
	return nil, nil
}

// Create fills generated fields, validates and appends item.
func (c *Collection[T]) Create(ctx context.Context, item T) (*T, error) {
	created, err := c.CreateMany(ctx, []T{item})
	if err != nil {
		return nil, err
	}
	return &created[0], nil
}

// CreateMany appends all items in a single collection write.
func (c *Collection[T]) CreateMany(ctx context.Context, items []T) ([]T, error) {
	prepared := make([]T, len(items))
	for i := range items {
		prepared[i] = items[i]
		if c.prepare != nil {
			c.prepare(&prepared[i])
		}
		if c.validate != nil {
			if err := c.validate(&prepared[i]); err != nil {
				return nil, err
			}
		}
	}

	err := c.mutate(ctx, func(existing []T) ([]T, bool, error) {
		for i := range prepared {
			if c.onInsert != nil {
				if err := c.onInsert(existing, &prepared[i]); err != nil {
					return nil, false, err
				}
			}
			id := c.idOf(&prepared[i])
			for j := range existing {
				if c.idOf(&existing[j]) == id {
					return nil, false, fmt.Errorf("%w: %s %s already exists", ErrDuplicate, c.key, id)
				}
			}
			existing = append(existing, prepared[i])
		}
		return existing, len(prepared) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	return prepared, nil
}

// Update applies apply to the record with id. It returns nil, nil when the
// record does not exist.
func (c *Collection[T]) Update(ctx context.Context, id string, apply func(*T) error) (*T, error) {
	if c.immutable {
		return nil, fmt.Errorf("%w: %s records cannot be modified", ErrInvalid, c.key)
	}

	var updated *T
	err := c.mutate(ctx, func(items []T) ([]T, bool, error) {
		updated = nil
		for i := range items {
			if c.idOf(&items[i]) != id {
				continue
			}
			candidate := items[i]
			if err := apply(&candidate); err != nil {
				return nil, false, err
			}
			if c.validate != nil {
				if err := c.validate(&candidate); err != nil {
					return nil, false, err
				}
			}
			items[i] = candidate
			updated = &candidate
			return items, true, nil
		}
		return items, false, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete reports whether a record was removed.
func (c *Collection[T]) Delete(ctx context.Context, id string) (bool, error) {
	n, err := c.DeleteWhere(ctx, func(item *T) bool { return c.idOf(item) == id })
	return n > 0, err
}

func (c *Collection[T]) DeleteWhere(ctx context.Context, pred func(*T) bool) (int, error) {
	removed := 0
	err := c.mutate(ctx, func(items []T) ([]T, bool, error) {
		kept := make([]T, 0, len(items))
		for i := range items {
			if !pred(&items[i]) {
				kept = append(kept, items[i])
			}
		}
		removed = len(items) - len(kept)
		return kept, removed > 0, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// ReplaceWhere drops the records matching pred and appends replacements in
// one write. Used for derived snapshots that are overwritten wholesale.
func (c *Collection[T]) ReplaceWhere(ctx context.Context, pred func(*T) bool, replacements []T) error {
	return c.mutate(ctx, func(items []T) ([]T, bool, error) {
		kept := make([]T, 0, len(items)+len(replacements))
		for i := range items {
			if !pred(&items[i]) {
				kept = append(kept, items[i])
			}
		}
		kept = append(kept, replacements...)
		return kept, true, nil
	})
}
