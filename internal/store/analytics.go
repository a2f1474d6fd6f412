package store

import (
	"context"
	"fmt"

	"github.com/safar/grocery-store/internal/database"
	"github.com/safar/grocery-store/internal/models"
)

const recentOrdersLimit = 5

// GetAnalytics summarises the store for the admin dashboard. Revenue excludes
// cancelled orders.
func GetAnalytics(ctx context.Context, db database.DBTX) (*models.Analytics, error) {
	analytics := &models.Analytics{RecentOrders: []models.RecentOrder{}}

	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(total_amount) FILTER (WHERE status <> $1), 0)
		 FROM orders`,
		models.OrderStatusCancelled).Scan(&analytics.TotalOrders, &analytics.TotalRevenue)
	if err != nil {
		return nil, fmt.Errorf("aggregate orders: %w", err)
	}

	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE is_active`).Scan(&analytics.ActiveProducts)
	if err != nil {
		return nil, fmt.Errorf("count active products: %w", err)
	}

	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE role = $1`,
		models.RoleCustomer).Scan(&analytics.TotalCustomers)
	if err != nil {
		return nil, fmt.Errorf("count customers: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, order_number, user_id, status, total_amount, created_at
		 FROM orders
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1`,
		recentOrdersLimit)
	if err != nil {
		return nil, fmt.Errorf("recent orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var order models.RecentOrder
		if err := rows.Scan(
			&order.ID,
			&order.OrderNumber,
			&order.UserID,
			&order.Status,
			&order.TotalAmount,
			&order.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan recent order: %w", err)
		}
		analytics.RecentOrders = append(analytics.RecentOrders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return analytics, nil
}
