// Package registry provides the concurrent populate-once caches used by
// eventflow for descriptors and pipelines.
//
// Values are computed lazily with GetOrCreate and then shared for the
// lifetime of the registry:
//
//	pipelines := registry.New[reflect.Type, Processor]()
//	p := pipelines.GetOrCreate(t, func() Processor {
//	    return build(t)
//	})
//
// The factory runs at most once per key, even when many goroutines ask for
// the same key at the same time. It runs without the registry lock held, so
// a factory may look up other keys of the same registry; asking for its own
// key deadlocks.
package registry

import "sync"

// Registry is a thread-safe map guarded by sync.RWMutex.
// Reads take the shared lock, so lookups of cached entries do not contend.
type Registry[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
	pending map[K]*build[V]
}

// build is an in-flight GetOrCreate shared by every caller of one key.
type build[V any] struct {
	once sync.Once
	val  V
	done bool
}

// New creates an empty registry.
func New[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{
		entries: make(map[K]V),
		pending: make(map[K]*build[V]),
	}
}

// Register stores value under key, replacing any previous entry.
func (r *Registry[K, V]) Register(key K, value V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = value
}

// Get returns the value for key and whether it exists.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[key]
	return v, ok
}

// GetOrCreate returns the value for key, creating it with factory when absent.
// Concurrent callers for the same key wait for one factory call and share
// its result.
func (r *Registry[K, V]) GetOrCreate(key K, factory func() V) V {
	r.mu.RLock()
	v, ok := r.entries[key]
	r.mu.RUnlock()
	if ok {
		return v
	}

	r.mu.Lock()
	// Another goroutine may have stored it since the read lock was dropped.
	if v, ok := r.entries[key]; ok {
		r.mu.Unlock()
		return v
	}
	b, ok := r.pending[key]
	if !ok {
		b = &build[V]{}
		r.pending[key] = b
	}
	r.mu.Unlock()

	b.once.Do(func() {
		defer r.finish(key, b)
		b.val = factory()
		b.done = true
	})
	return b.val
}

// finish publishes b unless Delete or Clear dropped it while it was built.
func (r *Registry[K, V]) finish(key K, b *build[V]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[key] != b {
		return
	}
	delete(r.pending, key)
	if b.done {
		r.entries[key] = b.val
	}
}

// Delete removes key. The next GetOrCreate for it runs the factory again,
// and a build of key already in flight is not cached.
func (r *Registry[K, V]) Delete(key K) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	delete(r.pending, key)
}

// Clear drops every entry.
func (r *Registry[K, V]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.entries)
	clear(r.pending)
}

// Keys returns all keys in unspecified order.
func (r *Registry[K, V]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]K, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of entries.
func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
