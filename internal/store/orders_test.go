package store_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/safar/grocery-store/internal/database"
	"github.com/safar/grocery-store/internal/models"
	"github.com/safar/grocery-store/internal/store"
	"github.com/safar/grocery-store/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func placeOrder(t *testing.T, db *sql.DB, userID string, productID int64, quantity int) *models.Order {
	t.Helper()
	ctx := context.Background()

	if _, err := store.AddToCart(ctx, db, userID, productID, quantity); err != nil {
		t.Fatalf("Add to cart: %v", err)
	}
	order, err := store.Checkout(ctx, db, store.CheckoutRequest{UserID: userID, DeliveryAddress: "1 Main St"})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	return order
}

func TestSoftDeletedProductStillResolvesInOrders(t *testing.T) {
	db, _ := testutil.SetupTestDB(t)
	ctx := context.Background()

	user := createUser(t, db, "order-softdelete")
	product := createProduct(t, db, "Kale", "3.30", 10)
	order := placeOrder(t, db, user.ID, product.ID, 2)

	require.NoError(t, store.DeleteProduct(ctx, db, product.ID))

	active, err := store.ListActiveProducts(ctx, db, nil)
	require.NoError(t, err)
	for _, p := range active {
		assert.NotEqual(t, product.ID, p.ID)
	}

	stored, err := store.GetOrder(ctx, db, order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, product.ID, stored.Items[0].ProductID)
	assert.Equal(t, "Kale", stored.Items[0].ProductName)

	resolved, err := store.GetProduct(ctx, db, stored.Items[0].ProductID)
	require.NoError(t, err)
	assert.False(t, resolved.IsActive)
}

func TestOrderLinesKeepSnapshotPrices(t *testing.T) {
	db, _ := testutil.SetupTestDB(t)
	ctx := context.Background()

	user := createUser(t, db, "order-snapshot")
	product := createProduct(t, db, "Avocado", "1.10", 10)
	order := placeOrder(t, db, user.ID, product.ID, 3)

	newName := "Hass Avocado"
	newPrice := product.Price.Add(product.Price)
	_, err := store.UpdateProduct(ctx, db, product.ID, store.ProductUpdate{Name: &newName, Price: &newPrice})
	require.NoError(t, err)

	stored, err := store.GetOrder(ctx, db, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "Avocado", stored.Items[0].ProductName)
	assert.True(t, stored.Items[0].UnitPrice.Equal(product.Price))
	assert.True(t, stored.TotalAmount.Equal(order.TotalAmount))
}

func TestUpdateOrderStatusLifecycle(t *testing.T) {
	db, _ := testutil.SetupTestDB(t)
	ctx := context.Background()

	user := createUser(t, db, "order-lifecycle")
	product := createProduct(t, db, "Yogurt", "0.90", 10)
	order := placeOrder(t, db, user.ID, product.ID, 1)

	updated, changed, err := store.UpdateOrderStatus(ctx, db, order.ID, "processing")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.OrderStatusProcessing, updated.Status)
	assert.Equal(t, order.Version+1, updated.Version)

	same, changed, err := store.UpdateOrderStatus(ctx, db, order.ID, "processing")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, updated.Version, same.Version)

	_, _, err = store.UpdateOrderStatus(ctx, db, order.ID, "pending")
	assert.ErrorIs(t, err, database.ErrInvalidTransition)

	_, _, err = store.UpdateOrderStatus(ctx, db, order.ID, "teleported")
	assert.ErrorIs(t, err, database.ErrInvalidStatus)

	delivered, changed, err := store.UpdateOrderStatus(ctx, db, order.ID, "delivered")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.OrderStatusDelivered, delivered.Status)

	_, _, err = store.UpdateOrderStatus(ctx, db, order.ID, "cancelled")
	assert.ErrorIs(t, err, database.ErrInvalidTransition)

	_, _, err = store.UpdateOrderStatus(ctx, db, 987654, "shipped")
	assert.ErrorIs(t, err, database.ErrOrderNotFound)

	var events int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM outbox_events WHERE event_type = $1`,
		models.EventOrderStatusChanged).Scan(&events))
	assert.Equal(t, 2, events)
}

func TestCancelOrderRestocksProducts(t *testing.T) {
	db, _ := testutil.SetupTestDB(t)
	ctx := context.Background()

	user := createUser(t, db, "order-cancel")
	product := createProduct(t, db, "Olive Oil", "11.00", 8)
	order := placeOrder(t, db, user.ID, product.ID, 3)

	before, err := store.GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, before.StockQuantity)

	cancelled, changed, err := store.UpdateOrderStatus(ctx, db, order.ID, "cancelled")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Len(t, cancelled.Items, 1)

	after, err := store.GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, after.StockQuantity)

	// Cancelling again must not restock twice.
	_, changed, err = store.UpdateOrderStatus(ctx, db, order.ID, "cancelled")
	require.NoError(t, err)
	assert.False(t, changed)

	after, err = store.GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, after.StockQuantity)
}

func TestListOrdersCursor(t *testing.T) {
	db, _ := testutil.SetupTestDB(t)
	ctx := context.Background()

	user := createUser(t, db, "order-cursor")
	other := createUser(t, db, "order-cursor-other")
	product := createProduct(t, db, "Water", "0.40", 100)

	for i := 0; i < 15; i++ {
		placeOrder(t, db, user.ID, product.ID, 1)
	}
	placeOrder(t, db, other.ID, product.ID, 1)

	page1, err := store.ListOrdersCursor(ctx, db, user.ID, "", 10)
	require.NoError(t, err)
	assert.Len(t, page1.Items, 10)
	assert.True(t, page1.HasMore)
	assert.NotEmpty(t, page1.NextCursor)
	assert.Len(t, page1.Items[0].Items, 1)

	page2, err := store.ListOrdersCursor(ctx, db, user.ID, page1.NextCursor, 10)
	require.NoError(t, err)
	assert.Len(t, page2.Items, 5)
	assert.False(t, page2.HasMore)
	assert.Empty(t, page2.NextCursor)

	seen := make(map[int64]bool)
	for _, o := range append(page1.Items, page2.Items...) {
		assert.Equal(t, user.ID, o.UserID)
		assert.False(t, seen[o.ID], "order %d listed twice", o.ID)
		seen[o.ID] = true
	}

	_, err = store.ListOrdersCursor(ctx, db, user.ID, "not-a-cursor!", 10)
	assert.ErrorIs(t, err, database.ErrInvalidCursor)
}

func TestListOrdersOffset(t *testing.T) {
	db, _ := testutil.SetupTestDB(t)
	ctx := context.Background()

	a := createUser(t, db, "order-list-a")
	b := createUser(t, db, "order-list-b")
	product := createProduct(t, db, "Lemon", "0.30", 100)

	for i := 0; i < 3; i++ {
		placeOrder(t, db, a.ID, product.ID, 1)
		placeOrder(t, db, b.ID, product.ID, 2)
	}

	page, err := store.ListOrders(ctx, db, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Items, 4)

	page, err = store.ListOrders(ctx, db, 2, 4)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	for _, o := range page.Items {
		assert.NotEmpty(t, o.Items)
		require.NotNil(t, o.User)
		assert.Equal(t, o.UserID, o.User.ID)
		assert.Equal(t, o.UserID+"@example.com", o.User.Email)
	}
}
