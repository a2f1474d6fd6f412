package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/safar/grocery-store/internal/auth"
	"github.com/safar/grocery-store/internal/catalog"
	"github.com/safar/grocery-store/internal/chat"
	"github.com/safar/grocery-store/internal/config"
	"github.com/safar/grocery-store/internal/database"
	"github.com/safar/grocery-store/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAuth = config.AuthConfig{JWTSecret: "api-test-secret", Issuer: "grocery-store"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newOfflineServer builds a server without a database for routes that never reach it.
func newOfflineServer() *Server {
	logger := discardLogger()
	return NewServer(nil, catalog.New(nil, nil, logger), chat.New(config.ChatConfig{}, logger), auth.NewTokens(testAuth), logger)
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{database.ErrProductNotFound, http.StatusNotFound},
		{database.ErrInvalidQuantity, http.StatusBadRequest},
		{database.ErrInvalidAddress, http.StatusBadRequest},
		{database.ErrEmptyCart, http.StatusConflict},
		{fmt.Errorf("%w: Milk has 1 left", database.ErrInsufficientStock), http.StatusConflict},
		{database.ErrProductUnavailable, http.StatusConflict},
		{database.ErrInvalidTransition, http.StatusConflict},
		{database.ErrOptimisticLockFailed, http.StatusConflict},
		{database.ErrUnauthenticated, http.StatusUnauthorized},
		{database.ErrForbidden, http.StatusForbidden},
		{database.ErrCheckoutFailed, http.StatusInternalServerError},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.code, toErrorResponse(tt.err).Code)
		})
	}
}

func TestToErrorResponseMessages(t *testing.T) {
	resp := toErrorResponse(fmt.Errorf("%w: Milk has 1 left", database.ErrInsufficientStock))
	assert.Equal(t, database.KindInsufficientStock, resp.Kind)
	assert.Equal(t, "insufficient stock: Milk has 1 left", resp.Message)

	resp = toErrorResponse(fmt.Errorf("query orders: %w", errors.New("pq: password authentication failed")))
	assert.Equal(t, database.KindInternal, resp.Kind)
	assert.Equal(t, "internal server error", resp.Message)

	resp = toErrorResponse(fmt.Errorf("%w: %w", database.ErrCheckoutFailed, errors.New("disk full")))
	assert.Equal(t, database.KindCheckoutFailed, resp.Kind)
	assert.Equal(t, "checkout failed, cart preserved", resp.Message)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv := newOfflineServer()

	expired, err := auth.NewTokens(testAuth).GenerateToken(models.User{ID: "u1"}, -time.Minute)
	require.NoError(t, err)

	for _, header := range []string{"", "Bearer garbage", "Bearer " + expired} {
		req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code, header)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, database.KindUnauthenticated, body.Kind)
		assert.Equal(t, http.StatusUnauthorized, body.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	srv := newOfflineServer()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := srv.requireAdmin(ok)

	for _, tt := range []struct {
		user *models.User
		code int
	}{
		{nil, http.StatusUnauthorized},
		{&models.User{ID: "c", Role: models.RoleCustomer}, http.StatusForbidden},
		{&models.User{ID: "a", Role: models.RoleAdmin}, http.StatusTeapot},
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/analytics", nil)
		if tt.user != nil {
			req = req.WithContext(auth.WithUser(context.Background(), tt.user))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, tt.code, rec.Code)
	}
}

func TestChatbot(t *testing.T) {
	srv := newOfflineServer()

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/chatbot", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		return rec
	}

	rec := post(`{"message":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(`not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(`{"message":"Do you sell oat milk?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body chatbotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, chat.UnavailableReply, body.Response)
}

func TestPathIDAndQueryInt(t *testing.T) {
	srv := newOfflineServer()

	req := httptest.NewRequest(http.MethodGet, "/api/products/abc", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/products?category=fruit", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/x?limit=7", nil)
	n, err := queryInt(req, "limit", 20)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = queryInt(req, "page", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDecodeOptionalJSON(t *testing.T) {
	newRequest := func(body io.Reader) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/recommendations", body)
		// Chunked transfer: the length is unknown until the body is read.
		req.ContentLength = -1
		return req
	}

	var req recommendationsRequest
	require.NoError(t, decodeOptionalJSON(httptest.NewRecorder(), newRequest(http.NoBody), &req))
	assert.Nil(t, req.Preferences)

	err := decodeJSON(httptest.NewRecorder(), newRequest(http.NoBody), &req)
	assert.ErrorIs(t, err, database.ErrInvalidRequest)
	assert.ErrorIs(t, err, errEmptyBody)

	require.NoError(t, decodeOptionalJSON(httptest.NewRecorder(), newRequest(bytes.NewBufferString(`{"preferences":["organic"]}`)), &req))
	assert.Equal(t, []string{"organic"}, req.Preferences)

	err = decodeOptionalJSON(httptest.NewRecorder(), newRequest(bytes.NewBufferString(`{"preference":1}`)), &req)
	assert.ErrorIs(t, err, database.ErrInvalidRequest)
}
