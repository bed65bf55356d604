package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Sequence returns a goroutine-safe generator of ascending int64 keys.
func Sequence() func() int64 {
	var n atomic.Int64
	return func() int64 { return n.Add(1) }
}

// Memory is an in-process Repository. Unique groups are enforced under the
// same lock that inserts the row, so concurrent duplicate creates cannot both succeed.
type Memory[T any, K comparable] struct {
	schema Schema[T, K]
	next   func() K

	mu      sync.RWMutex
	rows    map[K]T
	order   []K
	indexes []map[string]K
}

// NewMemory constructs a Memory repository using next to allocate keys.
func NewMemory[T any, K comparable](schema Schema[T, K], next func() K) *Memory[T, K] {
	indexes := make([]map[string]K, len(schema.Unique))
	for i := range indexes {
		indexes[i] = make(map[string]K)
	}
	return &Memory[T, K]{
		schema:  schema,
		next:    next,
		rows:    make(map[K]T),
		indexes: indexes,
	}
}

var _ Repository[struct{}, int64] = (*Memory[struct{}, int64])(nil)

func (m *Memory[T, K]) Create(ctx context.Context, entity T) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys, err := m.uniqueKeys(entity)
	if err != nil {
		var zero T
		return zero, err
	}
	for i, key := range keys {
		if _, taken := m.indexes[i][key]; taken {
			var zero T
			return zero, m.conflict(i)
		}
	}
	id := m.next()
	entity = m.schema.WithKey(entity, id)
	m.rows[id] = entity
	m.order = append(m.order, id)
	for i, key := range keys {
		m.indexes[i][key] = id
	}
	return entity, nil
}

func (m *Memory[T, K]) Get(ctx context.Context, key K) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entity, ok := m.rows[key]
	if !ok {
		var zero T
		return zero, fmt.Errorf("store: %s %v: %w", m.schema.Table, key, shared.ErrNotFound)
	}
	return entity, nil
}

func (m *Memory[T, K]) List(ctx context.Context) ([]T, error) {
	return m.Find(ctx)
}

func (m *Memory[T, K]) Find(ctx context.Context, filters ...Filter) ([]T, error) {
	if err := m.schema.checkFilters(filters); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]T, 0)
	for _, id := range m.order {
		entity := m.rows[id]
		if m.matches(entity, filters) {
			result = append(result, entity)
		}
	}
	return result, nil
}

func (m *Memory[T, K]) Update(ctx context.Context, entity T) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.schema.Key(entity)
	previous, ok := m.rows[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("store: %s %v: %w", m.schema.Table, id, shared.ErrNotFound)
	}
	oldKeys, err := m.uniqueKeys(previous)
	if err != nil {
		var zero T
		return zero, err
	}
	newKeys, err := m.uniqueKeys(entity)
	if err != nil {
		var zero T
		return zero, err
	}
	for i, key := range newKeys {
		if owner, taken := m.indexes[i][key]; taken && owner != id {
			var zero T
			return zero, m.conflict(i)
		}
	}
	for i := range oldKeys {
		delete(m.indexes[i], oldKeys[i])
		m.indexes[i][newKeys[i]] = id
	}
	m.rows[id] = entity
	return entity, nil
}

func (m *Memory[T, K]) Delete(ctx context.Context, key K) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entity, ok := m.rows[key]
	if !ok {
		var zero T
		return zero, fmt.Errorf("store: %s %v: %w", m.schema.Table, key, shared.ErrNotFound)
	}
	m.remove(key, entity)
	return entity, nil
}

func (m *Memory[T, K]) DeleteWhere(ctx context.Context, filters ...Filter) ([]T, error) {
	if len(filters) == 0 {
		return nil, fmt.Errorf("%w: delete from %s requires a filter", shared.ErrValidation, m.schema.Table)
	}
	if err := m.schema.checkFilters(filters); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []T
	for _, id := range append([]K(nil), m.order...) {
		entity := m.rows[id]
		if m.matches(entity, filters) {
			m.remove(id, entity)
			removed = append(removed, entity)
		}
	}
	return removed, nil
}

func (m *Memory[T, K]) remove(id K, entity T) {
	delete(m.rows, id)
	for i, k := range m.order {
		if k == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if keys, err := m.uniqueKeys(entity); err == nil {
		for i, key := range keys {
			delete(m.indexes[i], key)
		}
	}
}

func (m *Memory[T, K]) matches(entity T, filters []Filter) bool {
	for _, f := range filters {
		v, err := m.schema.value(entity, f.Column)
		if err != nil || normalize(v) != normalize(f.Value) {
			return false
		}
	}
	return true
}

func (m *Memory[T, K]) uniqueKeys(entity T) ([]string, error) {
	keys := make([]string, len(m.schema.Unique))
	for i, group := range m.schema.Unique {
		parts := make([]string, len(group))
		for j, column := range group {
			v, err := m.schema.value(entity, column)
			if err != nil {
				return nil, err
			}
			parts[j] = fmt.Sprint(normalize(v))
		}
		keys[i] = strings.Join(parts, "\x1f")
	}
	return keys, nil
}

func (m *Memory[T, K]) conflict(group int) error {
	return fmt.Errorf("store: %s (%s): %w", m.schema.Table, strings.Join(m.schema.Unique[group], ", "), shared.ErrConflict)
}
