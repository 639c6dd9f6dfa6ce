package registry

import (
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := New[string, int]()

	r.Register("one", 1)

	v, ok := r.Get("one")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = r.Get("missing")
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestGetOrCreate_ReturnsExisting(t *testing.T) {
	r := New[string, string]()
	r.Register("key", "existing")

	called := false
	v := r.GetOrCreate("key", func() string {
		called = true
		return "created"
	})

	assert.Equal(t, "existing", v)
	assert.False(t, called, "factory must not run for a cached key")
}

func TestGetOrCreate_CreatesOnce(t *testing.T) {
	r := New[reflect.Type, *int]()
	key := reflect.TypeFor[string]()

	const goroutines = 64
	var calls atomic.Int32
	results := make([]*int, goroutines)

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = r.GetOrCreate(key, func() *int {
				calls.Add(1)
				n := 42
				return &n
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, p := range results {
		require.NotNil(t, p)
		assert.Same(t, results[0], p, "every caller must observe the same instance")
	}
}

func TestDeleteResetsEntry(t *testing.T) {
	r := New[string, int]()
	r.GetOrCreate("key", func() int { return 1 })

	r.Delete("key")
	assert.Equal(t, 0, r.Len())

	v := r.GetOrCreate("key", func() int { return 2 })
	assert.Equal(t, 2, v)
}

func TestClearAndKeys(t *testing.T) {
	r := New[string, int]()
	r.Register("a", 1)
	r.Register("b", 2)

	assert.ElementsMatch(t, []string{"a", "b"}, r.Keys())

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Keys())
}

func TestGetOrCreate_FactoryMayResolveOtherKeys(t *testing.T) {
	r := New[string, string]()

	done := make(chan string, 1)
	go func() {
		done <- r.GetOrCreate("order", func() string {
			return "order+" + r.GetOrCreate("customer", func() string { return "customer" })
		})
	}()

	select {
	case v := <-done:
		assert.Equal(t, "order+customer", v)
	case <-time.After(2 * time.Second):
		t.Fatal("nested GetOrCreate deadlocked")
	}
	assert.Equal(t, 2, r.Len())
}

func TestDelete_DropsInFlightBuild(t *testing.T) {
	r := New[string, int]()

	started := make(chan struct{})
	release := make(chan struct{})
	result := make(chan int, 1)
	go func() {
		result <- r.GetOrCreate("key", func() int {
			close(started)
			<-release
			return 1
		})
	}()

	<-started
	r.Delete("key")
	close(release)
	assert.Equal(t, 1, <-result, "the caller still gets its value")

	_, ok := r.Get("key")
	assert.False(t, ok, "a build invalidated while running is not cached")
	assert.Equal(t, 2, r.GetOrCreate("key", func() int { return 2 }))
}
