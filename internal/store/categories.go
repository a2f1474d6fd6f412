package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/safar/grocery-store/internal/database"
	"github.com/safar/grocery-store/internal/models"
)

func CreateCategory(ctx context.Context, db database.DBTX, name, description string) (*models.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", database.ErrInvalidCategory)
	}

	category := &models.Category{}
	err := db.QueryRowContext(ctx,
		`INSERT INTO categories (name, description, created_at, updated_at)
		 VALUES ($1, $2, NOW(), NOW())
		 RETURNING id, name, description, created_at, updated_at`,
		name, description).Scan(
		&category.ID,
		&category.Name,
		&category.Description,
		&category.CreatedAt,
		&category.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, database.ErrCategoryExists
		}
		return nil, fmt.Errorf("create category: %w", err)
	}

	return category, nil
}

func GetCategory(ctx context.Context, db database.DBTX, id int64) (*models.Category, error) {
	category := &models.Category{}
	err := db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at, updated_at
		 FROM categories
		 WHERE id = $1`,
		id).Scan(
		&category.ID,
		&category.Name,
		&category.Description,
		&category.CreatedAt,
		&category.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrCategoryNotFound
		}
		return nil, fmt.Errorf("get category: %w", err)
	}

	return category, nil
}

func ListCategories(ctx context.Context, db database.DBTX) ([]models.Category, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, description, created_at, updated_at
		 FROM categories
		 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	categories := []models.Category{}
	for rows.Next() {
		var category models.Category
		if err := rows.Scan(
			&category.ID,
			&category.Name,
			&category.Description,
			&category.CreatedAt,
			&category.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, category)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return categories, nil
}
