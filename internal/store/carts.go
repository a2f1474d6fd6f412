package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/grocery-store/internal/database"
	"github.com/safar/grocery-store/internal/models"
	"github.com/shopspring/decimal"
)

const cartItemColumns = `id, user_id, product_id, quantity, created_at, updated_at`

func scanCartItem(row rowScanner) (*models.CartItem, error) {
	item := &models.CartItem{}
	err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.ProductID,
		&item.Quantity,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// AddToCart merges quantity into the user's line for the product, creating
// the line if needed. The insert and the merge happen in one statement so
// concurrent adds for the same product never produce two lines.
func AddToCart(ctx context.Context, db database.DBTX, userID string, productID int64, quantity int) (*models.CartItem, error) {
	if quantity < 1 {
		return nil, database.ErrInvalidQuantity
	}

	query := `
		INSERT INTO cart_items (user_id, product_id, quantity, created_at, updated_at)
		SELECT $1, p.id, $3, NOW(), NOW()
		FROM products p
		WHERE p.id = $2 AND p.is_active
		ON CONFLICT (user_id, product_id) DO UPDATE
		SET quantity   = cart_items.quantity + EXCLUDED.quantity,
		    updated_at = NOW()
		RETURNING ` + cartItemColumns

	item, err := scanCartItem(db.QueryRowContext(ctx, query, userID, productID, quantity))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		if database.IsForeignKeyViolation(err) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("add to cart: %w", err)
	}

	product, err := GetProduct(ctx, db, item.ProductID)
	if err != nil {
		return nil, err
	}
	item.Product = product

	return item, nil
}

// UpdateCartItem sets a line's quantity. Zero removes the line and returns a nil item.
func UpdateCartItem(ctx context.Context, db database.DBTX, userID string, itemID int64, quantity int) (*models.CartItem, error) {
	if quantity < 0 {
		return nil, database.ErrInvalidQuantity
	}
	if quantity == 0 {
		return nil, RemoveFromCart(ctx, db, userID, itemID)
	}

	query := `
		UPDATE cart_items
		SET quantity = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING ` + cartItemColumns

	item, err := scanCartItem(db.QueryRowContext(ctx, query, itemID, userID, quantity))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrCartItemNotFound
		}
		return nil, fmt.Errorf("update cart item: %w", err)
	}

	product, err := GetProduct(ctx, db, item.ProductID)
	if err != nil {
		return nil, err
	}
	item.Product = product

	return item, nil
}

func RemoveFromCart(ctx context.Context, db database.DBTX, userID string, itemID int64) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE id = $1 AND user_id = $2`,
		itemID, userID)
	if err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrCartItemNotFound
	}

	return nil
}

func ClearCart(ctx context.Context, db database.DBTX, userID string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// GetCart returns the user's lines with current product data. The total is
// priced at read time and never stored.
func GetCart(ctx context.Context, db database.DBTX, userID string) (*models.Cart, error) {
	query := `
		SELECT c.id, c.user_id, c.product_id, c.quantity, c.created_at, c.updated_at,
		       p.id, p.category_id, p.name, p.description, p.unit, p.image_url, p.price,
		       p.stock_quantity, p.is_active, p.created_at, p.updated_at, p.version
		FROM cart_items c
		JOIN products p ON p.id = c.product_id
		WHERE c.user_id = $1
		ORDER BY c.created_at, c.id`

	rows, err := db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	defer rows.Close()

	cart := &models.Cart{Items: []models.CartItem{}, Total: decimal.Zero}
	for rows.Next() {
		var item models.CartItem
		var product models.Product
		var categoryID sql.NullInt64

		err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.ProductID,
			&item.Quantity,
			&item.CreatedAt,
			&item.UpdatedAt,
			&product.ID,
			&categoryID,
			&product.Name,
			&product.Description,
			&product.Unit,
			&product.ImageURL,
			&product.Price,
			&product.StockQuantity,
			&product.IsActive,
			&product.CreatedAt,
			&product.UpdatedAt,
			&product.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		if categoryID.Valid {
			product.CategoryID = &categoryID.Int64
		}

		item.Product = &product
		cart.Items = append(cart.Items, item)
		cart.Total = cart.Total.Add(item.Subtotal())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return cart, nil
}
