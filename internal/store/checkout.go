package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/safar/grocery-store/internal/database"
	"github.com/safar/grocery-store/internal/models"
	"github.com/shopspring/decimal"
)

type CheckoutRequest struct {
	UserID          string
	DeliveryAddress string
}

type checkoutLine struct {
	cartItemID  int64
	productID   int64
	quantity    int
	productName string
	price       decimal.Decimal
	stock       int
	isActive    bool
}

func generateOrderNumber() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "ORD-" + strings.ToUpper(id[:12])
}

// Checkout converts the user's cart into a pending order. Everything happens
// in one transaction: on any failure no order exists and the cart is intact.
func Checkout(ctx context.Context, db *sql.DB, req CheckoutRequest) (*models.Order, error) {
	address := strings.TrimSpace(req.DeliveryAddress)
	if address == "" {
		return nil, database.ErrInvalidAddress
	}

	var order *models.Order

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		lines, err := lockCheckoutLines(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return database.ErrEmptyCart
		}

		totalAmount := decimal.Zero
		for _, line := range lines {
			if !line.isActive {
				return fmt.Errorf("%w: %s", database.ErrProductUnavailable, line.productName)
			}
			if line.stock < line.quantity {
				return fmt.Errorf("%w: %s has %d left", database.ErrInsufficientStock, line.productName, line.stock)
			}
			totalAmount = totalAmount.Add(line.price.Mul(decimal.NewFromInt(int64(line.quantity))))
		}

		order = &models.Order{}
		err = tx.QueryRowContext(ctx,
			`INSERT INTO orders (user_id, order_number, delivery_address, status, total_amount, created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, $5, NOW(), NOW(), 1)
			 RETURNING `+orderColumns,
			req.UserID, generateOrderNumber(), address, models.OrderStatusPending, totalAmount).Scan(orderScanDest(order)...)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		cartItemIDs := make([]int64, 0, len(lines))
		eventItems := make([]OrderEventItem, 0, len(lines))
		for _, line := range lines {
			item := models.OrderItem{
				OrderID:     order.ID,
				ProductID:   line.productID,
				ProductName: line.productName,
				Quantity:    line.quantity,
				UnitPrice:   line.price,
				Subtotal:    line.price.Mul(decimal.NewFromInt(int64(line.quantity))),
			}

			err = tx.QueryRowContext(ctx,
				`INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price, subtotal, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, NOW())
				 RETURNING id, created_at`,
				item.OrderID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.Subtotal).Scan(
				&item.ID,
				&item.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}

			if err := DecrementStock(ctx, tx, line.productID, line.quantity); err != nil {
				return err
			}

			order.Items = append(order.Items, item)
			cartItemIDs = append(cartItemIDs, line.cartItemID)
			eventItems = append(eventItems, OrderEventItem{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
			})
		}

		err = InsertOutboxEvent(ctx, tx, models.EventOrderCreated, order.ID, OrderCreatedPayload{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			UserID:      order.UserID,
			Status:      order.Status,
			TotalAmount: order.TotalAmount,
			Items:       eventItems,
			OccurredAt:  time.Now().UTC(),
		})
		if err != nil {
			return err
		}

		// Only the lines that were priced are removed; a line added
		// concurrently after the lock stays in the cart.
		_, err = tx.ExecContext(ctx,
			`DELETE FROM cart_items WHERE user_id = $1 AND id = ANY($2)`,
			req.UserID, pq.Array(cartItemIDs))
		if err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}

		return nil
	})
	if err != nil {
		if database.KindOf(err) == database.KindInternal {
			return nil, fmt.Errorf("%w: %w", database.ErrCheckoutFailed, err)
		}
		return nil, err
	}

	return order, nil
}

// lockCheckoutLines locks the cart lines and their products in product id
// order, so concurrent checkouts touching the same products queue up instead
// of deadlocking.
func lockCheckoutLines(ctx context.Context, tx *sql.Tx, userID string) ([]checkoutLine, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT c.id, c.product_id, c.quantity, p.name, p.price, p.stock_quantity, p.is_active
		 FROM cart_items c
		 JOIN products p ON p.id = c.product_id
		 WHERE c.user_id = $1
		 ORDER BY c.product_id
		 FOR UPDATE OF c, p`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("lock cart: %w", err)
	}
	defer rows.Close()

	var lines []checkoutLine
	for rows.Next() {
		var line checkoutLine
		if err := rows.Scan(
			&line.cartItemID,
			&line.productID,
			&line.quantity,
			&line.productName,
			&line.price,
			&line.stock,
			&line.isActive,
		); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lines, nil
}
