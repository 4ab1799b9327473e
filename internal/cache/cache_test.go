package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances manually so TTL expiry is deterministic.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }
func newFakeClock() *fakeClock               { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func TestCacheNewValidation(t *testing.T) {
	_, err := New[string](0, 10, 1024)
	require.ErrorIs(t, err, ErrConfiguration)

	_, err = New[string](time.Minute, 0, 1024)
	require.ErrorIs(t, err, ErrConfiguration)

	_, err = New[string](time.Minute, 10, 0)
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestCachePutGet(t *testing.T) {
	c, err := New[string](time.Minute, 10, 1024)
	require.NoError(t, err)

	c.Put("a", "value-a", 0, 10)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "value-a", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(10), stats.SizeBytes)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestCacheTTLExpiry(t *testing.T) {
	clock := newFakeClock()
	c, err := New(time.Minute, 10, 1024, WithClock[string](clock.now))
	require.NoError(t, err)

	c.Put("a", "value-a", 0, 1)

	_, ok := c.Get("a")
	require.True(t, ok)

	clock.advance(61 * time.Second)

	_, ok = c.Get("a")
	assert.False(t, ok, "expired entry must read as a miss")

	// The expired entry is removed on access, not just hidden.
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestCachePerEntryTTLOverridesDefault(t *testing.T) {
	clock := newFakeClock()
	c, err := New(time.Minute, 10, 1024, WithClock[string](clock.now))
	require.NoError(t, err)

	c.Put("short", "v", 10*time.Second, 1)
	c.Put("long", "v", 10*time.Minute, 1)

	clock.advance(30 * time.Second)

	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("long")
	assert.True(t, ok)
}

func TestCacheLRUEvictionByEntryCount(t *testing.T) {
	clock := newFakeClock()
	c, err := New(time.Hour, 3, 1<<20, WithClock[string](clock.now))
	require.NoError(t, err)

	c.Put("a", "va", 0, 1)
	clock.advance(time.Second)
	c.Put("b", "vb", 0, 1)
	clock.advance(time.Second)
	c.Put("c", "vc", 0, 1)
	clock.advance(time.Second)

	// Touch "a" so "b" becomes least recently accessed.
	_, ok := c.Get("a")
	require.True(t, ok)
	clock.advance(time.Second)

	c.Put("d", "vd", 0, 1)

	_, ok = c.Get("b")
	assert.False(t, ok, "least recently accessed entry must be evicted")
	for _, key := range []string{"a", "c", "d"} {
		_, ok = c.Get(key)
		assert.True(t, ok, "key %s must survive", key)
	}
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCacheEvictionBySize(t *testing.T) {
	clock := newFakeClock()
	c, err := New(time.Hour, 100, 100, WithClock[string](clock.now))
	require.NoError(t, err)

	c.Put("a", "va", 0, 60)
	clock.advance(time.Second)
	c.Put("b", "vb", 0, 30)
	clock.advance(time.Second)

	// 60+30+30 > 100: "a" is oldest and must go.
	c.Put("c", "vc", 0, 30)

	_, ok := c.Get("a")
	assert.False(t, ok)
	stats := c.Stats()
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, int64(60), stats.SizeBytes)
}

func TestCacheRefusesOversizedEntry(t *testing.T) {
	c, err := New[string](time.Hour, 10, 100)
	require.NoError(t, err)

	c.Put("keep", "v", 0, 10)
	c.Put("huge", "v", 0, 1000)

	_, ok := c.Get("huge")
	assert.False(t, ok)
	_, ok = c.Get("keep")
	assert.True(t, ok, "an unstorable entry must not evict existing ones")
}

func TestCachePutReplacesExisting(t *testing.T) {
	c, err := New[string](time.Hour, 10, 100)
	require.NoError(t, err)

	c.Put("a", "old", 0, 40)
	c.Put("a", "new", 0, 20)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "new", v)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(20), stats.SizeBytes, "byte accounting must follow the replacement")
}

func TestCacheInvalidateAndClear(t *testing.T) {
	c, err := New[int](time.Hour, 10, 100)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		c.Put(fmt.Sprintf("k%d", i), i, 0, 1)
	}

	c.Invalidate("k0")
	_, ok := c.Get("k0")
	assert.False(t, ok)

	removed := c.Clear()
	assert.Equal(t, 4, removed)
	assert.Equal(t, 0, c.Stats().Entries)
	assert.Equal(t, int64(0), c.Stats().SizeBytes)
}

func TestCacheSweepRemovesOnlyExpired(t *testing.T) {
	clock := newFakeClock()
	c, err := New(time.Minute, 10, 1024, WithClock[string](clock.now))
	require.NoError(t, err)

	c.Put("old", "v", 30*time.Second, 1)
	c.Put("fresh", "v", 10*time.Minute, 1)

	clock.advance(time.Minute)

	removed := c.Sweep()
	assert.Equal(t, 1, removed)

	_, ok := c.Get("fresh")
	assert.True(t, ok)
}

func TestCacheConcurrentAccess(t *testing.T) {
	c, err := New[int](time.Hour, 64, 1<<20)
	require.NoError(t, err)

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%32)
				c.Put(key, g*1000+i, 0, 8)
				c.Get(key)
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	stats := c.Stats()
	assert.LessOrEqual(t, stats.Entries, 64)
}
