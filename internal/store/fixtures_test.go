package store_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/safar/grocery-store/internal/models"
	"github.com/safar/grocery-store/internal/store"
	"github.com/shopspring/decimal"
)

func createUser(t *testing.T, db *sql.DB, id string) *models.User {
	t.Helper()

	user, err := store.UpsertUser(context.Background(), db, models.User{
		ID:        id,
		Email:     id + "@example.com",
		FirstName: "Test",
		LastName:  id,
		Role:      models.RoleCustomer,
	})
	if err != nil {
		t.Fatalf("Create user %s: %v", id, err)
	}
	return user
}

func createProduct(t *testing.T, db *sql.DB, name, price string, stock int) *models.Product {
	t.Helper()

	product, err := store.CreateProduct(context.Background(), db, store.ProductInput{
		Name:          name,
		Description:   name + " description",
		Unit:          "piece",
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
	})
	if err != nil {
		t.Fatalf("Create product %s: %v", name, err)
	}
	return product
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("Count %s: %v", table, err)
	}
	return n
}
