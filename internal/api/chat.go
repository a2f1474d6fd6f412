package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/safar/grocery-store/internal/chat"
	"github.com/safar/grocery-store/internal/database"
	"github.com/safar/grocery-store/internal/store"
)

const maxChatMessageLen = 2000

type chatbotRequest struct {
	Message string `json:"message"`
	Context string `json:"context"`
}

type chatbotResponse struct {
	Response string `json:"response"`
}

func (s *Server) chatbot(w http.ResponseWriter, r *http.Request) {
	var req chatbotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeError(w, r, fmt.Errorf("%w: message is required", database.ErrInvalidRequest))
		return
	}
	if len(message) > maxChatMessageLen {
		writeError(w, r, fmt.Errorf("%w: message is too long", database.ErrInvalidRequest))
		return
	}

	reply := s.assistant.Reply(r.Context(), message, req.Context)
	writeJSON(w, http.StatusOK, chatbotResponse{Response: reply})
}

type recommendationsRequest struct {
	Preferences []string `json:"preferences"`
}

// recommendations fills the customer data from the user's recent orders and current cart.
func (s *Server) recommendations(w http.ResponseWriter, r *http.Request) {
	var req recommendationsRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user := userFrom(r)

	orders, err := store.ListOrdersCursor(r.Context(), s.db, user.ID, "", store.DefaultPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cart, err := store.GetCart(r.Context(), s.db, user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	seen := make(map[string]bool)
	var purchases []string
	for _, order := range orders.Items {
		for _, item := range order.Items {
			if !seen[item.ProductName] {
				seen[item.ProductName] = true
				purchases = append(purchases, item.ProductName)
			}
		}
	}

	cartItems := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		if item.Product != nil {
			cartItems = append(cartItems, item.Product.Name)
		}
	}

	result := s.assistant.Recommend(r.Context(), chat.CustomerData{
		PreviousPurchases: purchases,
		CurrentCartItems:  cartItems,
		Preferences:       req.Preferences,
	})
	writeJSON(w, http.StatusOK, result)
}
