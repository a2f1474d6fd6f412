package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/safar/grocery-store/internal/database"
	"github.com/safar/grocery-store/internal/logging"
)

const maxBodyBytes = 1 << 20

var errEmptyBody = errors.New("body is required")

type ErrorResponse struct {
	Code    int           `json:"code"`
	Kind    database.Kind `json:"kind"`
	Message string        `json:"message"`
}

func statusForKind(kind database.Kind) int {
	switch kind {
	case database.KindNotFound:
		return http.StatusNotFound
	case database.KindInvalidQuantity, database.KindInvalidInput:
		return http.StatusBadRequest
	case database.KindEmptyCart,
		database.KindInsufficientStock,
		database.KindProductUnavailable,
		database.KindInvalidTransition,
		database.KindConflict:
		return http.StatusConflict
	case database.KindUnauthenticated:
		return http.StatusUnauthorized
	case database.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// toErrorResponse maps err onto the wire error. Internal failures never leak
// their text to the client.
func toErrorResponse(err error) ErrorResponse {
	kind := database.KindOf(err)
	code := statusForKind(kind)

	msg := err.Error()
	switch kind {
	case database.KindInternal:
		msg = "internal server error"
	case database.KindCheckoutFailed:
		msg = database.ErrCheckoutFailed.Error()
	}

	return ErrorResponse{Code: code, Kind: kind, Message: msg}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := toErrorResponse(err)

	logger := logging.FromContext(r.Context())
	if resp.Code >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err, "kind", resp.Kind)
	} else {
		logger.Debug("request rejected", "error", err, "kind", resp.Kind)
	}

	writeJSON(w, resp.Code, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %w", database.ErrInvalidRequest, errEmptyBody)
		}
		return fmt.Errorf("%w: %v", database.ErrInvalidRequest, err)
	}
	return nil
}

// decodeOptionalJSON accepts a missing body, leaving dest untouched. Chunked
// requests report an unknown length, so emptiness shows up only as io.EOF.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	err := decodeJSON(w, r, dest)
	if errors.Is(err, errEmptyBody) {
		return nil
	}
	return err
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", database.ErrInvalidRequest, name)
	}
	return id, nil
}

// queryInt returns def when the parameter is absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", database.ErrInvalidRequest, name)
	}
	return n, nil
}
