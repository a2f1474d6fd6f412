package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/safar/grocery-store/internal/database"
	"github.com/safar/grocery-store/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `id, category_id, name, description, unit, image_url, price, stock_quantity,
	is_active, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.Product, error) {
	product := &models.Product{}
	var categoryID sql.NullInt64

	err := row.Scan(
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
		return nil, err
	}

	if categoryID.Valid {
		product.CategoryID = &categoryID.Int64
	}
	return product, nil
}

// selectProductWithCategory reads products with their category embedded.
// Uncategorized products come back with a nil Category.
const selectProductWithCategory = `
	SELECT p.id, p.category_id, p.name, p.description, p.unit, p.image_url, p.price, p.stock_quantity,
	       p.is_active, p.created_at, p.updated_at, p.version,
	       c.id, c.name, c.description, c.created_at, c.updated_at
	FROM products p
	LEFT JOIN categories c ON c.id = p.category_id`

func scanProductWithCategory(row rowScanner) (*models.Product, error) {
	product := &models.Product{}
	var (
		categoryID                 sql.NullInt64
		catID                      sql.NullInt64
		catName, catDesc           sql.NullString
		catCreatedAt, catUpdatedAt sql.NullTime
	)

	err := row.Scan(
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
		&catID,
		&catName,
		&catDesc,
		&catCreatedAt,
		&catUpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if categoryID.Valid {
		product.CategoryID = &categoryID.Int64
	}
	if catID.Valid {
		product.Category = &models.Category{
			ID:          catID.Int64,
			Name:        catName.String,
			Description: catDesc.String,
			CreatedAt:   catCreatedAt.Time,
			UpdatedAt:   catUpdatedAt.Time,
		}
	}
	return product, nil
}

type ProductInput struct {
	CategoryID    *int64          `json:"category_id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Unit          string          `json:"unit"`
	ImageURL      string          `json:"image_url"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
}

func (in ProductInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", database.ErrInvalidProduct)
	}
	if in.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", database.ErrInvalidProduct)
	}
	if in.StockQuantity < 0 {
		return fmt.Errorf("%w: stock must not be negative", database.ErrInvalidProduct)
	}
	return nil
}

// ProductUpdate carries a partial update. Nil fields are left unchanged.
type ProductUpdate struct {
	CategoryID  *int64           `json:"category_id"`
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Unit        *string          `json:"unit"`
	ImageURL    *string          `json:"image_url"`
	Price       *decimal.Decimal `json:"price"`
	IsActive    *bool            `json:"is_active"`
}

func (u ProductUpdate) validate() error {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return fmt.Errorf("%w: name must not be blank", database.ErrInvalidProduct)
	}
	if u.Price != nil && u.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", database.ErrInvalidProduct)
	}
	return nil
}

func CreateProduct(ctx context.Context, db database.DBTX, in ProductInput) (*models.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO products (category_id, name, description, unit, image_url, price, stock_quantity,
		                      is_active, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	product, err := scanProduct(db.QueryRowContext(ctx, query,
		in.CategoryID, strings.TrimSpace(in.Name), in.Description, in.Unit, in.ImageURL, in.Price, in.StockQuantity))
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, database.ErrCategoryNotFound
		}
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

// GetProduct returns the product regardless of whether it is still active.
func GetProduct(ctx context.Context, db database.DBTX, id int64) (*models.Product, error) {
	query := selectProductWithCategory + ` WHERE p.id = $1`

	product, err := scanProductWithCategory(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

func UpdateProduct(ctx context.Context, db database.DBTX, id int64, update ProductUpdate) (*models.Product, error) {
	if err := update.validate(); err != nil {
		return nil, err
	}

	var name *string
	if update.Name != nil {
		trimmed := strings.TrimSpace(*update.Name)
		name = &trimmed
	}

	query := `
		UPDATE products
		SET category_id = COALESCE($2, category_id),
		    name        = COALESCE($3, name),
		    description = COALESCE($4, description),
		    unit        = COALESCE($5, unit),
		    image_url   = COALESCE($6, image_url),
		    price       = COALESCE($7, price),
		    is_active   = COALESCE($8, is_active),
		    updated_at  = NOW(),
		    version     = version + 1
		WHERE id = $1
		RETURNING ` + productColumns

	product, err := scanProduct(db.QueryRowContext(ctx, query, id,
		update.CategoryID, name, update.Description, update.Unit, update.ImageURL, update.Price, update.IsActive))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		if database.IsForeignKeyViolation(err) {
			return nil, database.ErrCategoryNotFound
		}
		return nil, fmt.Errorf("update product: %w", err)
	}

	return product, nil
}

// DeleteProduct soft-deletes a product. Order lines keep referencing it.
func DeleteProduct(ctx context.Context, db database.DBTX, id int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE products
		 SET is_active = FALSE, updated_at = NOW(), version = version + 1
		 WHERE id = $1`,
		id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}

	return nil
}

// SetStock overwrites the stock level if the caller's version is current.
func SetStock(ctx context.Context, db database.DBTX, productID int64, newStock int, version int) (*models.Product, error) {
	if newStock < 0 {
		return nil, fmt.Errorf("%w: stock must not be negative", database.ErrInvalidProduct)
	}

	query := `
		UPDATE products
		SET stock_quantity = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
		RETURNING ` + productColumns

	product, err := scanProduct(db.QueryRowContext(ctx, query, newStock, productID, version))
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update stock: %w", err)
	}

	if _, err := GetProduct(ctx, db, productID); err != nil {
		return nil, err
	}
	return nil, database.ErrOptimisticLockFailed
}

func DecrementStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity - $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock_quantity >= $1`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}

func RestockProduct(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity + $1,
		     updated_at = NOW()
		 WHERE id = $2`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("restock product: %w", err)
	}
	return nil
}

// ListActiveProducts returns the storefront catalog, optionally narrowed to one category.
func ListActiveProducts(ctx context.Context, db database.DBTX, categoryID *int64) ([]models.Product, error) {
	query := selectProductWithCategory + `
		WHERE p.is_active
		  AND ($1::BIGINT IS NULL OR p.category_id = $1)
		ORDER BY p.name, p.id`

	rows, err := db.QueryContext(ctx, query, categoryID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		product, err := scanProductWithCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}

// ListProducts pages through every product, including soft-deleted ones.
func ListProducts(ctx context.Context, db database.DBTX, page, pageSize int) (*OffsetPage[models.Product], error) {
	page, pageSize = NormalizePage(page, pageSize)

	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := selectProductWithCategory + `
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		product, err := scanProductWithCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(products, total, page, pageSize), nil
}
