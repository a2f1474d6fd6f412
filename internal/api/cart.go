package api

import (
	"net/http"

	"github.com/safar/grocery-store/internal/metrics"
	"github.com/safar/grocery-store/internal/store"
)

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	cart, err := store.GetCart(r.Context(), s.db, userFrom(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

type addToCartRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

func (s *Server) addToCart(w http.ResponseWriter, r *http.Request) {
	var req addToCartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	item, err := store.AddToCart(r.Context(), s.db, userFrom(r).ID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}

	metrics.CartAdds.Inc()
	writeJSON(w, http.StatusCreated, item)
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

// updateCartItem answers 204 when a zero quantity removed the line.
func (s *Server) updateCartItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req updateCartItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	item, err := store.UpdateCartItem(r.Context(), s.db, userFrom(r).ID, id, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if item == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) removeFromCart(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := store.RemoveFromCart(r.Context(), s.db, userFrom(r).ID, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := store.ClearCart(r.Context(), s.db, userFrom(r).ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
