// Package simplekv in-memory key value store with per key expiration
package simplekv

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/whitekid/goxp/fx"
)

type Interface[K comparable, V any] interface {
	Len() int

	// Set stores v for ttl, zero ttl never expires
	Set(k K, v V, ttl time.Duration)
	Get(k K) (V, error)
	Delete(k K)

	// Cleanup removes expired values and returns number of removed values
	Cleanup() int
}

var ErrNotExists = errors.New("key not exists")

func New[K comparable, V any]() Interface[K, V] {
	return &memoryImpl[K, V]{
		values: make(map[K]*value[V]),
		now:    time.Now,
	}
}

type memoryImpl[K comparable, V any] struct {
	mu     sync.Mutex
	values map[K]*value[V]
	now    func() time.Time
}

var _ Interface[struct{}, struct{}] = (*memoryImpl[struct{}, struct{}])(nil)

type value[T any] struct {
	value  T
	expire time.Time
}

func (v *value[T]) expired(now time.Time) bool { return !v.expire.IsZero() && !v.expire.After(now) }

func (m *memoryImpl[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.values)
}

func (m *memoryImpl[K, V]) Set(k K, v V, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[k] = &value[V]{
		value:  v,
		expire: fx.Ternary(ttl == 0, time.Time{}, m.now().Add(ttl)),
	}
}

func (m *memoryImpl[K, V]) Get(k K) (V, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[k]
	if ok && v.expired(m.now()) {
		delete(m.values, k)
		ok = false
	}

	if !ok {
		var zero V
		return zero, ErrNotExists
	}

	return v.value, nil
}

func (m *memoryImpl[K, V]) Delete(k K) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, k)
}

func (m *memoryImpl[K, V]) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := len(m.values)
	m.values = fx.FilterMap(m.values, func(k K, v *value[V]) bool { return !v.expired(now) })

	return n - len(m.values)
}
