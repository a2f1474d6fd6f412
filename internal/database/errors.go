package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		case "23505", "23503", "23502", "23514":
			return ErrorClassPermanent
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

// IsUniqueViolation reports whether err is a postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// IsForeignKeyViolation reports whether err is a postgres foreign_key_violation.
func IsForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

// Kind groups domain errors by how callers should react to them.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindInvalidQuantity    Kind = "invalid_quantity"
	KindInvalidInput       Kind = "invalid_input"
	KindEmptyCart          Kind = "empty_cart"
	KindInsufficientStock  Kind = "insufficient_stock"
	KindProductUnavailable Kind = "product_unavailable"
	KindInvalidTransition  Kind = "invalid_transition"
	KindConflict           Kind = "conflict"
	KindUnauthenticated    Kind = "unauthenticated"
	KindForbidden          Kind = "forbidden"
	KindCheckoutFailed     Kind = "checkout_failed"
	KindInternal           Kind = "internal"
)

type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

var (
	ErrUserNotFound         = newError(KindNotFound, "user not found")
	ErrProductNotFound      = newError(KindNotFound, "product not found")
	ErrCategoryNotFound     = newError(KindNotFound, "category not found")
	ErrCartItemNotFound     = newError(KindNotFound, "cart item not found")
	ErrOrderNotFound        = newError(KindNotFound, "order not found")
	ErrInvalidQuantity      = newError(KindInvalidQuantity, "quantity must be a positive integer")
	ErrInvalidStatus        = newError(KindInvalidInput, "invalid order status")
	ErrInvalidAddress       = newError(KindInvalidInput, "delivery address is required")
	ErrInvalidProduct       = newError(KindInvalidInput, "invalid product")
	ErrInvalidCategory      = newError(KindInvalidInput, "invalid category")
	ErrInvalidCursor        = newError(KindInvalidInput, "invalid cursor")
	ErrInvalidRequest       = newError(KindInvalidInput, "invalid request")
	ErrEmptyCart            = newError(KindEmptyCart, "cart is empty")
	ErrInsufficientStock    = newError(KindInsufficientStock, "insufficient stock")
	ErrProductUnavailable   = newError(KindProductUnavailable, "product is no longer available")
	ErrInvalidTransition    = newError(KindInvalidTransition, "order status transition not allowed")
	ErrCategoryExists       = newError(KindConflict, "category already exists")
	ErrOptimisticLockFailed = newError(KindConflict, "optimistic lock failed")
	ErrUnauthenticated      = newError(KindUnauthenticated, "authentication required")
	ErrForbidden            = newError(KindForbidden, "admin access required")
	ErrCheckoutFailed       = newError(KindCheckoutFailed, "checkout failed, cart preserved")
)
