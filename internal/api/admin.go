package api

import (
	"net/http"

	"github.com/safar/grocery-store/internal/store"
)

// pageParams reads page and page_size. Out of range values are normalized by the store.
func pageParams(r *http.Request) (int, int, error) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		return 0, 0, err
	}
	pageSize, err := queryInt(r, "page_size", store.DefaultPageSize)
	if err != nil {
		return 0, 0, err
	}
	return page, pageSize, nil
}

func (s *Server) adminOrders(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	orders, err := store.ListOrders(r.Context(), s.db, page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) adminProducts(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	products, err := s.catalog.ListAllProducts(r.Context(), page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) adminCustomers(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	users, err := store.ListUsers(r.Context(), s.db, page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) adminAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := store.GetAnalytics(r.Context(), s.db)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}
