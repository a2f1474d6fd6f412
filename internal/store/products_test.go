package store_test

import (
	"context"
	"testing"

	"github.com/safar/grocery-store/internal/database"
	"github.com/safar/grocery-store/internal/store"
	"github.com/safar/grocery-store/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptimisticLocking(t *testing.T) {
	db, _ := testutil.SetupTestDB(t)
	ctx := context.Background()

	product := createProduct(t, db, "Test Product 2", "100", 50)

	updated, err := store.SetStock(ctx, db, product.ID, 40, product.Version)
	if err != nil {
		t.Fatalf("First update should succeed: %v", err)
	}
	if updated.StockQuantity != 40 {
		t.Errorf("Expected stock 40, got %d", updated.StockQuantity)
	}

	_, err = store.SetStock(ctx, db, product.ID, 30, product.Version)
	if err != database.ErrOptimisticLockFailed {
		t.Errorf("Expected optimistic lock failure, got: %v", err)
	}

	_, err = store.SetStock(ctx, db, 555555, 30, 1)
	if err != database.ErrProductNotFound {
		t.Errorf("Expected product not found, got: %v", err)
	}

	_, err = store.SetStock(ctx, db, product.ID, -1, updated.Version)
	assert.ErrorIs(t, err, database.ErrInvalidProduct)
}

func TestCreateProductValidation(t *testing.T) {
	db, _ := testutil.SetupTestDB(t)
	ctx := context.Background()

	_, err := store.CreateProduct(ctx, db, store.ProductInput{Name: " ", Price: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, database.ErrInvalidProduct)

	_, err = store.CreateProduct(ctx, db, store.ProductInput{Name: "Gum", Price: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, database.ErrInvalidProduct)

	missing := int64(31337)
	_, err = store.CreateProduct(ctx, db, store.ProductInput{Name: "Gum", Price: decimal.NewFromInt(1), CategoryID: &missing})
	assert.ErrorIs(t, err, database.ErrCategoryNotFound)
}

func TestUpdateProductPartial(t *testing.T) {
	db, _ := testutil.SetupTestDB(t)
	ctx := context.Background()

	product := createProduct(t, db, "Carrots", "0.99", 30)

	unit := "kg"
	updated, err := store.UpdateProduct(ctx, db, product.ID, store.ProductUpdate{Unit: &unit})
	require.NoError(t, err)

	assert.Equal(t, "kg", updated.Unit)
	assert.Equal(t, "Carrots", updated.Name)
	assert.True(t, updated.Price.Equal(product.Price))
	assert.Equal(t, 30, updated.StockQuantity)
	assert.Equal(t, product.Version+1, updated.Version)

	blank := ""
	_, err = store.UpdateProduct(ctx, db, product.ID, store.ProductUpdate{Name: &blank})
	assert.ErrorIs(t, err, database.ErrInvalidProduct)

	_, err = store.UpdateProduct(ctx, db, 777777, store.ProductUpdate{Unit: &unit})
	assert.ErrorIs(t, err, database.ErrProductNotFound)
}

func TestDeleteProductIsSoft(t *testing.T) {
	db, _ := testutil.SetupTestDB(t)
	ctx := context.Background()

	kept := createProduct(t, db, "Beans", "1.25", 10)
	removed := createProduct(t, db, "Old Stock", "0.10", 10)

	require.NoError(t, store.DeleteProduct(ctx, db, removed.ID))
	assert.ErrorIs(t, store.DeleteProduct(ctx, db, 888888), database.ErrProductNotFound)

	active, err := store.ListActiveProducts(ctx, db, nil)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, kept.ID, active[0].ID)

	all, err := store.ListProducts(ctx, db, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), all.Total)

	still, err := store.GetProduct(ctx, db, removed.ID)
	require.NoError(t, err)
	assert.False(t, still.IsActive)
}

func TestListActiveProductsByCategory(t *testing.T) {
	db, _ := testutil.SetupTestDB(t)
	ctx := context.Background()

	dairy, err := store.CreateCategory(ctx, db, "Dairy", "Milk and cheese")
	require.NoError(t, err)
	bakery, err := store.CreateCategory(ctx, db, "Bakery", "")
	require.NoError(t, err)

	_, err = store.CreateCategory(ctx, db, "Dairy", "duplicate")
	assert.ErrorIs(t, err, database.ErrCategoryExists)

	for _, in := range []store.ProductInput{
		{CategoryID: &dairy.ID, Name: "Milk", Price: decimal.RequireFromString("1.00"), StockQuantity: 5},
		{CategoryID: &dairy.ID, Name: "Cheddar", Price: decimal.RequireFromString("4.00"), StockQuantity: 5},
		{CategoryID: &bakery.ID, Name: "Baguette", Price: decimal.RequireFromString("2.00"), StockQuantity: 5},
	} {
		_, err := store.CreateProduct(ctx, db, in)
		require.NoError(t, err)
	}

	products, err := store.ListActiveProducts(ctx, db, &dairy.ID)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Cheddar", products[0].Name)
	assert.Equal(t, "Milk", products[1].Name)
	for _, p := range products {
		require.NotNil(t, p.CategoryID)
		assert.Equal(t, dairy.ID, *p.CategoryID)
		require.NotNil(t, p.Category)
		assert.Equal(t, "Dairy", p.Category.Name)
	}

	all, err := store.ListActiveProducts(ctx, db, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	categories, err := store.ListCategories(ctx, db)
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "Bakery", categories[0].Name)

	_, err = store.GetCategory(ctx, db, 99999)
	assert.ErrorIs(t, err, database.ErrCategoryNotFound)
}

func TestGetProductEmbedsCategory(t *testing.T) {
	db, _ := testutil.SetupTestDB(t)
	ctx := context.Background()

	produce, err := store.CreateCategory(ctx, db, "Produce", "Fruit and vegetables")
	require.NoError(t, err)

	carrot, err := store.CreateProduct(ctx, db, store.ProductInput{
		CategoryID: &produce.ID, Name: "Carrot", Price: decimal.RequireFromString("0.40"), StockQuantity: 30,
	})
	require.NoError(t, err)
	loose := createProduct(t, db, "Loose Item", "1.00", 3)

	got, err := store.GetProduct(ctx, db, carrot.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Category)
	assert.Equal(t, produce.ID, got.Category.ID)
	assert.Equal(t, "Produce", got.Category.Name)
	assert.Equal(t, "Fruit and vegetables", got.Category.Description)

	got, err = store.GetProduct(ctx, db, loose.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CategoryID)
	assert.Nil(t, got.Category)

	page, err := store.ListProducts(ctx, db, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	for _, p := range page.Items {
		assert.Equal(t, p.CategoryID != nil, p.Category != nil)
	}
}
