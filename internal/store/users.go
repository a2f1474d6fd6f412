package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/grocery-store/internal/database"
	"github.com/safar/grocery-store/internal/models"
)

const userColumns = `id, email, first_name, last_name, profile_image_url, role, created_at, updated_at, version`

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.ProfileImageURL,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.Version,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UpsertUser records the identity carried by a bearer token. The row is only
// rewritten, and its version bumped, when a profile field actually changed.
func UpsertUser(ctx context.Context, db database.DBTX, u models.User) (*models.User, error) {
	if u.ID == "" {
		return nil, database.ErrUnauthenticated
	}
	if u.Role == "" {
		u.Role = models.RoleCustomer
	}

	query := `
		INSERT INTO users (id, email, first_name, last_name, profile_image_url, role, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW(), 1)
		ON CONFLICT (id) DO UPDATE
		SET email             = EXCLUDED.email,
		    first_name        = EXCLUDED.first_name,
		    last_name         = EXCLUDED.last_name,
		    profile_image_url = EXCLUDED.profile_image_url,
		    role              = EXCLUDED.role,
		    updated_at        = NOW(),
		    version           = users.version + 1
		WHERE (users.email, users.first_name, users.last_name, users.profile_image_url, users.role)
		      IS DISTINCT FROM
		      (EXCLUDED.email, EXCLUDED.first_name, EXCLUDED.last_name, EXCLUDED.profile_image_url, EXCLUDED.role)
		RETURNING ` + userColumns

	user, err := scanUser(db.QueryRowContext(ctx, query,
		u.ID, u.Email, u.FirstName, u.LastName, u.ProfileImageURL, u.Role))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	return GetUser(ctx, db, u.ID)
}

func GetUser(ctx context.Context, db database.DBTX, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

func ListUsers(ctx context.Context, db database.DBTX, page, pageSize int) (*OffsetPage[models.User], error) {
	page, pageSize = NormalizePage(page, pageSize)

	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + userColumns + `
		FROM users
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(users, total, page, pageSize), nil
}
