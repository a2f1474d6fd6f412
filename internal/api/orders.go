package api

import (
	"net/http"

	"github.com/safar/grocery-store/internal/database"
	"github.com/safar/grocery-store/internal/logging"
	"github.com/safar/grocery-store/internal/metrics"
	"github.com/safar/grocery-store/internal/models"
	"github.com/safar/grocery-store/internal/store"
)

type checkoutRequest struct {
	DeliveryAddress string `json:"delivery_address"`
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user := userFrom(r)
	order, err := store.Checkout(r.Context(), s.db, store.CheckoutRequest{
		UserID:          user.ID,
		DeliveryAddress: req.DeliveryAddress,
	})
	if err != nil {
		metrics.Checkouts.WithLabelValues(string(database.KindOf(err))).Inc()
		writeError(w, r, err)
		return
	}

	metrics.Checkouts.WithLabelValues("success").Inc()
	// Stock levels are part of the cached catalog.
	s.catalog.Invalidate(r.Context())

	logging.FromContext(r.Context()).Info("order placed", "order_id", order.ID, "order_number", order.OrderNumber, "total", order.TotalAmount.String())

	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) listMyOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", store.DefaultPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}

	page, err := store.ListOrdersCursor(r.Context(), s.db, userFrom(r).ID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// getOrder hides other customers' orders behind a not found.
func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	order, err := store.GetOrder(r.Context(), s.db, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	user := userFrom(r)
	if !user.IsAdmin() && order.UserID != user.ID {
		writeError(w, r, database.ErrOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	order, changed, err := store.UpdateOrderStatus(r.Context(), s.db, id, req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !changed {
		writeJSON(w, http.StatusOK, order)
		return
	}

	metrics.StatusTransitions.WithLabelValues(string(order.Status)).Inc()
	if order.Status == models.OrderStatusCancelled {
		s.catalog.Invalidate(r.Context())
	}

	logging.FromContext(r.Context()).Info("order status updated", "order_id", order.ID, "status", order.Status)
	writeJSON(w, http.StatusOK, order)
}
