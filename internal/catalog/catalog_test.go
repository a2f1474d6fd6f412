package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/safar/grocery-store/internal/database"
	"github.com/safar/grocery-store/internal/models"
	"github.com/safar/grocery-store/internal/store"
	"github.com/safar/grocery-store/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryCache struct {
	mu          sync.Mutex
	entries     map[string][]byte
	invalidated int

	// beforeSet runs ahead of every Set, outside the lock.
	beforeSet func()
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (m *memoryCache) Generation(context.Context) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(m.invalidated), true
}

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok
}

func (m *memoryCache) Set(_ context.Context, key string, value []byte) {
	if m.beforeSet != nil {
		m.beforeSet()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
}

func (m *memoryCache) Invalidate(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string][]byte)
	m.invalidated++
}

func TestMatchesQuery(t *testing.T) {
	p := models.Product{Name: "Organic Whole Milk", Description: "Fresh from local farms"}

	assert.True(t, matchesQuery(p, "milk"))
	assert.True(t, matchesQuery(p, "WHOLE"))
	assert.True(t, matchesQuery(p, "local"))
	assert.False(t, matchesQuery(p, "cheese"))
}

func TestMetricKey(t *testing.T) {
	assert.Equal(t, "product", metricKey("product:12"))
	assert.Equal(t, "products", metricKey("products:cat:3"))
	assert.Equal(t, "categories", metricKey("categories"))
	assert.Equal(t, "product", metricKey(versionedKey("product:12", 4)))
}

func seedCatalog(t *testing.T, c *Catalog) (models.Category, []*models.Product) {
	t.Helper()
	ctx := context.Background()

	fruit, err := c.CreateCategory(ctx, "Fruit", "")
	require.NoError(t, err)

	var products []*models.Product
	for _, in := range []store.ProductInput{
		{CategoryID: &fruit.ID, Name: "Banana", Description: "Sweet yellow fruit", Unit: "kg", Price: decimal.RequireFromString("1.10"), StockQuantity: 40},
		{CategoryID: &fruit.ID, Name: "Apple", Description: "Crisp and red", Unit: "kg", Price: decimal.RequireFromString("2.00"), StockQuantity: 40},
		{Name: "Dish Soap", Description: "Lemon scented", Unit: "piece", Price: decimal.RequireFromString("3.50"), StockQuantity: 10},
	} {
		p, err := c.CreateProduct(ctx, in)
		require.NoError(t, err)
		products = append(products, p)
	}

	return *fruit, products
}

func TestCatalogListAndSearch(t *testing.T) {
	db, _ := testutil.SetupTestDB(t)
	ctx := context.Background()
	cache := newMemoryCache()
	c := New(db, cache, slog.Default())

	fruit, _ := seedCatalog(t, c)

	all, err := c.ListProducts(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byCategory, err := c.ListProducts(ctx, Filter{CategoryID: &fruit.ID})
	require.NoError(t, err)
	assert.Len(t, byCategory, 2)

	found, err := c.ListProducts(ctx, Filter{Search: "LEMON"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Dish Soap", found[0].Name)

	found, err = c.ListProducts(ctx, Filter{CategoryID: &fruit.ID, Search: "yellow"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Banana", found[0].Name)

	gen, ok := cache.Generation(ctx)
	require.True(t, ok)
	_, ok = cache.Get(ctx, versionedKey("products:all", gen))
	assert.True(t, ok)
}

func TestCatalogInvalidatesOnAdminWrites(t *testing.T) {
	db, _ := testutil.SetupTestDB(t)
	ctx := context.Background()
	cache := newMemoryCache()
	c := New(db, cache, slog.Default())

	_, products := seedCatalog(t, c)
	banana := products[0]

	_, err := c.ListProducts(ctx, Filter{})
	require.NoError(t, err)
	got, err := c.GetProduct(ctx, banana.ID)
	require.NoError(t, err)
	assert.Equal(t, "Banana", got.Name)

	invalidations := cache.invalidated
	require.NoError(t, c.DeleteProduct(ctx, banana.ID))
	assert.Equal(t, invalidations+1, cache.invalidated)

	_, err = c.GetProduct(ctx, banana.ID)
	assert.ErrorIs(t, err, database.ErrProductNotFound)

	all, err := c.ListProducts(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	admin, err := c.ListAllProducts(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), admin.Total)

	apple := products[1]
	updated, err := c.SetStock(ctx, apple.ID, 5, apple.Version)
	require.NoError(t, err)
	assert.Equal(t, 5, updated.StockQuantity)

	fresh, err := c.GetProduct(ctx, apple.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, fresh.StockQuantity)
}

// A fill that loaded before an invalidation must not be served after it.
func TestCatalogFillRacingInvalidate(t *testing.T) {
	db, _ := testutil.SetupTestDB(t)
	ctx := context.Background()
	cache := newMemoryCache()
	c := New(db, cache, slog.Default())

	_, products := seedCatalog(t, c)
	banana := products[0]

	cache.beforeSet = func() {
		cache.beforeSet = nil
		_, err := store.SetStock(ctx, db, banana.ID, 7, banana.Version)
		require.NoError(t, err)
		c.Invalidate(ctx)
	}

	stale, err := c.GetProduct(ctx, banana.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, stale.StockQuantity)

	fresh, err := c.GetProduct(ctx, banana.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, fresh.StockQuantity)
}

func TestCatalogGetCategory(t *testing.T) {
	db, _ := testutil.SetupTestDB(t)
	ctx := context.Background()
	cache := newMemoryCache()
	c := New(db, cache, slog.Default())

	fruit, _ := seedCatalog(t, c)

	got, err := c.GetCategory(ctx, fruit.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fruit", got.Name)

	gen, _ := cache.Generation(ctx)
	_, ok := cache.Get(ctx, versionedKey(fmt.Sprintf("category:%d", fruit.ID), gen))
	assert.True(t, ok)

	_, err = c.GetCategory(ctx, 987654)
	assert.ErrorIs(t, err, database.ErrCategoryNotFound)

	listed, err := c.ListProducts(ctx, Filter{CategoryID: &fruit.ID})
	require.NoError(t, err)
	require.NotEmpty(t, listed)
	for _, p := range listed {
		require.NotNil(t, p.Category)
		assert.Equal(t, fruit.Name, p.Category.Name)
	}
}

func TestRedisCache(t *testing.T) {
	addr := testutil.SetupRedis(t)
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	cache := NewRedisCache(client, 0, slog.Default())

	gen, ok := cache.Generation(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(0), gen)

	_, ok = cache.Get(ctx, "categories")
	assert.False(t, ok)

	cache.Set(ctx, "categories", []byte(`[{"id":1}]`))
	cache.Set(ctx, "product:1", []byte(`{"id":1}`))
	require.NoError(t, client.Set(ctx, "unrelated", "keep", 0).Err())

	data, ok := cache.Get(ctx, "categories")
	require.True(t, ok)
	assert.JSONEq(t, `[{"id":1}]`, string(data))

	cache.Invalidate(ctx)

	gen, ok = cache.Generation(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(1), gen)

	_, ok = cache.Get(ctx, "categories")
	assert.False(t, ok)
	_, ok = cache.Get(ctx, "product:1")
	assert.False(t, ok)

	kept, err := client.Get(ctx, "unrelated").Result()
	require.NoError(t, err)
	assert.Equal(t, "keep", kept)
}
