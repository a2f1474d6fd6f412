// Package catalog serves the storefront's product and category reads through
// a cache and applies admin changes to the catalog.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/safar/grocery-store/internal/database"
	"github.com/safar/grocery-store/internal/models"
	"github.com/safar/grocery-store/internal/store"
)

type Filter struct {
	CategoryID *int64
	Search     string
}

type Catalog struct {
	db     *sql.DB
	cache  Cache
	logger *slog.Logger
}

func New(db *sql.DB, cache Cache, logger *slog.Logger) *Catalog {
	if cache == nil {
		cache = NopCache{}
	}
	return &Catalog{db: db, cache: cache, logger: logger}
}

func productsKey(categoryID *int64) string {
	if categoryID == nil {
		return "products:all"
	}
	return fmt.Sprintf("products:cat:%d", *categoryID)
}

// ListProducts returns active products. The category filter runs in SQL and
// the search is a case-insensitive substring match over name and description.
func (c *Catalog) ListProducts(ctx context.Context, filter Filter) ([]models.Product, error) {
	products, err := cachedRead(ctx, c, productsKey(filter.CategoryID), func() ([]models.Product, error) {
		return store.ListActiveProducts(ctx, c.db, filter.CategoryID)
	})
	if err != nil {
		return nil, err
	}

	query := strings.TrimSpace(filter.Search)
	if query == "" {
		return products, nil
	}

	matched := make([]models.Product, 0, len(products))
	for _, p := range products {
		if matchesQuery(p, query) {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

func matchesQuery(p models.Product, query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(p.Name), q) ||
		strings.Contains(strings.ToLower(p.Description), q)
}

// GetProduct returns an active product. Soft-deleted products read as not found.
func (c *Catalog) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return cachedRead(ctx, c, fmt.Sprintf("product:%d", id), func() (*models.Product, error) {
		p, err := store.GetProduct(ctx, c.db, id)
		if err != nil {
			return nil, err
		}
		if !p.IsActive {
			return nil, database.ErrProductNotFound
		}
		return p, nil
	})
}

func (c *Catalog) ListCategories(ctx context.Context) ([]models.Category, error) {
	return cachedRead(ctx, c, "categories", func() ([]models.Category, error) {
		return store.ListCategories(ctx, c.db)
	})
}

func (c *Catalog) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	return cachedRead(ctx, c, fmt.Sprintf("category:%d", id), func() (*models.Category, error) {
		return store.GetCategory(ctx, c.db, id)
	})
}

func (c *Catalog) ListAllProducts(ctx context.Context, page, pageSize int) (*store.OffsetPage[models.Product], error) {
	return store.ListProducts(ctx, c.db, page, pageSize)
}

func (c *Catalog) CreateCategory(ctx context.Context, name, description string) (*models.Category, error) {
	category, err := store.CreateCategory(ctx, c.db, name, description)
	if err != nil {
		return nil, err
	}
	c.Invalidate(ctx)
	return category, nil
}

func (c *Catalog) CreateProduct(ctx context.Context, in store.ProductInput) (*models.Product, error) {
	product, err := store.CreateProduct(ctx, c.db, in)
	if err != nil {
		return nil, err
	}
	c.Invalidate(ctx)
	return product, nil
}

func (c *Catalog) UpdateProduct(ctx context.Context, id int64, update store.ProductUpdate) (*models.Product, error) {
	product, err := store.UpdateProduct(ctx, c.db, id, update)
	if err != nil {
		return nil, err
	}
	c.Invalidate(ctx)
	return product, nil
}

func (c *Catalog) DeleteProduct(ctx context.Context, id int64) error {
	if err := store.DeleteProduct(ctx, c.db, id); err != nil {
		return err
	}
	c.Invalidate(ctx)
	return nil
}

func (c *Catalog) SetStock(ctx context.Context, id int64, stock, version int) (*models.Product, error) {
	product, err := store.SetStock(ctx, c.db, id, stock, version)
	if err != nil {
		return nil, err
	}
	c.Invalidate(ctx)
	return product, nil
}

// Invalidate drops cached catalog reads. Checkout and cancellation call it
// too because they move stock levels.
func (c *Catalog) Invalidate(ctx context.Context) {
	c.cache.Invalidate(ctx)
}

// cachedRead serves key from the cache or fills it from load. The key is
// scoped to the cache generation observed before loading, so a fill that
// races an Invalidate lands under a generation no later read asks for.
func cachedRead[T any](ctx context.Context, c *Catalog, key string, load func() (T, error)) (T, error) {
	gen, ok := c.cache.Generation(ctx)
	if !ok {
		return load()
	}
	key = versionedKey(key, gen)

	var value T
	if c.cached(ctx, key, &value) {
		return value, nil
	}

	value, err := load()
	if err != nil {
		return value, err
	}

	c.store(ctx, key, value)
	return value, nil
}

func versionedKey(key string, gen int64) string {
	return fmt.Sprintf("%s:g%d", key, gen)
}

func (c *Catalog) cached(ctx context.Context, key string, dest any) bool {
	data, ok := c.cache.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Warn("catalog cache entry unreadable", "key", key, "error", err)
		return false
	}
	return true
}

func (c *Catalog) store(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("catalog cache marshal failed", "key", key, "error", err)
		return
	}
	c.cache.Set(ctx, key, data)
}
