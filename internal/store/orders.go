package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/safar/grocery-store/internal/database"
	"github.com/safar/grocery-store/internal/models"
)

const orderColumns = `id, user_id, order_number, delivery_address, status, total_amount, created_at, updated_at, version`

func orderScanDest(order *models.Order) []any {
	return []any{
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.DeliveryAddress,
		&order.Status,
		&order.TotalAmount,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	}
}

func GetOrder(ctx context.Context, db database.DBTX, id int64) (*models.Order, error) {
	order := &models.Order{}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(orderScanDest(order)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	orders := []models.Order{*order}
	if err := loadOrderItems(ctx, db, orders); err != nil {
		return nil, err
	}

	return &orders[0], nil
}

// loadOrderItems fills Items for every order with a single query.
func loadOrderItems(ctx context.Context, db database.DBTX, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i, order := range orders {
		ids[i] = order.ID
		index[order.ID] = i
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, order_id, product_id, product_name, quantity, unit_price, subtotal, created_at
		 FROM order_items
		 WHERE order_id = ANY($1)
		 ORDER BY order_id, id`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}

		i := index[item.OrderID]
		orders[i].Items = append(orders[i].Items, item)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	return nil
}

// loadOrderUsers attaches the customer to each order for the admin views.
func loadOrderUsers(ctx context.Context, db database.DBTX, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.UserID)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("get order users: %w", err)
	}
	defer rows.Close()

	users := make(map[string]*models.User, len(ids))
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return fmt.Errorf("scan user: %w", err)
		}
		users[user.ID] = user
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	for i := range orders {
		orders[i].User = users[orders[i].UserID]
	}
	return nil
}

func scanOrders(rows *sql.Rows) ([]models.Order, error) {
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var order models.Order
		if err := rows.Scan(orderScanDest(&order)...); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// ListOrdersCursor returns the user's orders newest first using keyset pagination on (created_at, id).
func ListOrdersCursor(ctx context.Context, db database.DBTX, userID string, cursor string, limit int) (*CursorPage[models.Order], error) {
	_, limit = NormalizePage(1, limit)

	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", database.ErrInvalidCursor)
	}

	var rows *sql.Rows
	if cursorData == nil {
		rows, err = db.QueryContext(ctx,
			`SELECT `+orderColumns+`
			 FROM orders
			 WHERE user_id = $1
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2`,
			userID, limit+1)
	} else {
		rows, err = db.QueryContext(ctx,
			`SELECT `+orderColumns+`
			 FROM orders
			 WHERE user_id = $1
			   AND (created_at, id) < ($2, $3)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $4`,
			userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	if err := loadOrderItems(ctx, db, orders); err != nil {
		return nil, err
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage[models.Order]{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// ListOrders pages through all orders for the admin dashboard.
func ListOrders(ctx context.Context, db database.DBTX, page, pageSize int) (*OffsetPage[models.Order], error) {
	page, pageSize = NormalizePage(page, pageSize)

	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1 OFFSET $2`,
		pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}

	if err := loadOrderItems(ctx, db, orders); err != nil {
		return nil, err
	}
	if err := loadOrderUsers(ctx, db, orders); err != nil {
		return nil, err
	}

	return newOffsetPage(orders, total, page, pageSize), nil
}

// UpdateOrderStatus moves an order along its lifecycle. Setting the current
// status again is a no-op and reports changed as false. Cancelling returns
// the ordered quantities to stock.
func UpdateOrderStatus(ctx context.Context, db *sql.DB, orderID int64, status string) (order *models.Order, changed bool, err error) {
	next, err := models.ParseOrderStatus(status)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %q", database.ErrInvalidStatus, status)
	}

	err = database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		order = &models.Order{}
		changed = false
		err := tx.QueryRowContext(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`,
			orderID).Scan(orderScanDest(order)...)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		current := order.Status
		if current == next {
			return nil
		}
		if !current.CanTransition(next) {
			return fmt.Errorf("%w: %s to %s", database.ErrInvalidTransition, current, next)
		}

		err = tx.QueryRowContext(ctx,
			`UPDATE orders
			 SET status = $1, updated_at = NOW(), version = version + 1
			 WHERE id = $2
			 RETURNING `+orderColumns,
			next, orderID).Scan(orderScanDest(order)...)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		if next == models.OrderStatusCancelled {
			if err := restockOrder(ctx, tx, orderID); err != nil {
				return err
			}
		}

		changed = true
		return InsertOutboxEvent(ctx, tx, models.EventOrderStatusChanged, order.ID, OrderStatusChangedPayload{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			UserID:      order.UserID,
			From:        current,
			To:          next,
			OccurredAt:  time.Now().UTC(),
		})
	})
	if err != nil {
		return nil, false, err
	}

	orders := []models.Order{*order}
	if err := loadOrderItems(ctx, db, orders); err != nil {
		return nil, false, err
	}

	return &orders[0], changed, nil
}

func restockOrder(ctx context.Context, tx *sql.Tx, orderID int64) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT product_id, SUM(quantity)
		 FROM order_items
		 WHERE order_id = $1
		 GROUP BY product_id
		 ORDER BY product_id`,
		orderID)
	if err != nil {
		return fmt.Errorf("get order items: %w", err)
	}

	type restock struct {
		productID int64
		quantity  int
	}
	var items []restock
	for rows.Next() {
		var r restock
		if err := rows.Scan(&r.productID, &r.quantity); err != nil {
			rows.Close()
			return fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	for _, r := range items {
		if err := RestockProduct(ctx, tx, r.productID, r.quantity); err != nil {
			return err
		}
	}

	return nil
}
