package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	mu     sync.Mutex
	hits   map[string]int
	misses map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{hits: map[string]int{}, misses: map[string]int{}}
}

func (r *countingRecorder) CacheHit(ns string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits[ns]++
}

func (r *countingRecorder) CacheMiss(ns string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.misses[ns]++
}

func setupCache(t *testing.T) (*Cache, *miniredis.Miniredis, *countingRecorder) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rec := newCountingRecorder()
	return New(client, WithRecorder(rec)), mr, rec
}

type sample struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

func TestCache_RoundTrip(t *testing.T) {
	c, mr, rec := setupCache(t)
	ctx := context.Background()

	var got sample
	assert.False(t, c.Get(ctx, Product(1), &got))

	c.Set(ctx, Product(1), sample{ID: 1, Name: "Canal tour"}, 600*time.Second)
	require.True(t, c.Get(ctx, Product(1), &got))
	assert.Equal(t, "Canal tour", got.Name)
	assert.Equal(t, 600*time.Second, mr.TTL(Product(1)))

	assert.Equal(t, 1, rec.hits["products"])
	assert.Equal(t, 1, rec.misses["products"])
}

func TestCache_Expiry(t *testing.T) {
	c, mr, _ := setupCache(t)
	ctx := context.Background()

	c.Set(ctx, ProductsAll(), []sample{{ID: 1}}, 300*time.Second)
	mr.FastForward(301 * time.Second)

	var got []sample
	assert.False(t, c.Get(ctx, ProductsAll(), &got))
}

func TestCache_InvalidateKeysAndPatterns(t *testing.T) {
	c, mr, _ := setupCache(t)
	ctx := context.Background()

	c.Set(ctx, ProductsAll(), []sample{{ID: 1}}, time.Minute)
	c.Set(ctx, Product(1), sample{ID: 1}, time.Minute)
	c.Set(ctx, Product(2), sample{ID: 2}, time.Minute)
	c.Set(ctx, CurrencyRates(), map[string]float64{"EUR": 1}, time.Hour)

	require.NoError(t, c.Invalidate(ctx, Product(1)))
	assert.False(t, mr.Exists(Product(1)))
	assert.True(t, mr.Exists(Product(2)))

	require.NoError(t, c.Invalidate(ctx, ProductsPattern()))
	assert.False(t, mr.Exists(ProductsAll()))
	assert.False(t, mr.Exists(Product(2)))
	assert.True(t, mr.Exists(CurrencyRates()))

	assert.NoError(t, c.Invalidate(ctx))
}

func TestCache_BackendDownIsAMiss(t *testing.T) {
	c, mr, rec := setupCache(t)
	ctx := context.Background()

	c.Set(ctx, CurrencySymbols(), map[string]string{"EUR": "€"}, time.Hour)
	mr.Close()

	var got map[string]string
	assert.False(t, c.Get(ctx, CurrencySymbols(), &got))
	assert.Equal(t, 1, rec.misses["currency"])

	c.Set(ctx, CurrencySymbols(), got, time.Hour)
	assert.Error(t, c.Invalidate(ctx, CurrencySymbols()))
}

func TestCache_UndecodableEntry(t *testing.T) {
	c, mr, _ := setupCache(t)
	require.NoError(t, mr.Set(Product(9), "not-json"))

	var got sample
	assert.False(t, c.Get(context.Background(), Product(9), &got))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "products:all", ProductsAll())
	assert.Equal(t, "products:42", Product(42))
	assert.Equal(t, "currency:rates", CurrencyRates())
	assert.Equal(t, "currency:symbols", CurrencySymbols())
	assert.Equal(t, "products", namespace(Product(3)))
}
