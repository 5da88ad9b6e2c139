package usecase

import (
	"errors"
	"fmt"
	"strings"

	"storefront/internal/domain/model"
)

// エラーの種類。HTTPステータスへの対応は handler 側で行う。
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindEmptyCart
	KindInsufficientStock
	KindForbidden
	KindInvalidTransition
	KindValidation
	KindConflict
	KindUnauthorized
	KindRollback
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindEmptyCart:
		return "empty_cart"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindForbidden:
		return "forbidden"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindRollback:
		return "rollback"
	default:
		return "internal"
	}
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

type EmptyCartError struct{}

func (e *EmptyCartError) Error() string { return "cart empty" }

// 在庫不足。どの商品が足りないかを必ず持つ。
type InsufficientStockError struct {
	ProductID int64
	Name      string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q (product %d): requested %d, available %d",
		e.Name, e.ProductID, e.Requested, e.Available)
}

type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	if e.Reason == "" {
		return "forbidden"
	}
	return e.Reason
}

type InvalidTransitionError struct {
	From    model.OrderStatus
	To      model.OrderStatus
	Message string
}

func (e *InvalidTransitionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("cannot change order status from %s to %s", e.From, e.To)
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// 同じ冪等キーのリクエストが処理中
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

type UnauthorizedError struct{}

func (e *UnauthorizedError) Error() string { return "unauthorized" }

// 補償（在庫戻し）に失敗した。在庫と注文が食い違っている可能性があるので運用対応が必要。
// 元の原因（Cause）は隠さずに両方を返す。
type RollbackError struct {
	Cause    error
	Failures error
}

func (e *RollbackError) Error() string {
	var b strings.Builder
	b.WriteString("stock rollback failed")
	if e.Failures != nil {
		b.WriteString(": ")
		b.WriteString(e.Failures.Error())
	}
	if e.Cause != nil {
		b.WriteString(" (original error: ")
		b.WriteString(e.Cause.Error())
		b.WriteString(")")
	}
	return b.String()
}

func (e *RollbackError) Unwrap() []error {
	return []error{e.Cause, e.Failures}
}

// KindOf はエラーの種類を返す。RollbackError は中身より優先する。
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}

	var rb *RollbackError
	if errors.As(err, &rb) {
		return KindRollback
	}

	var (
		nf *NotFoundError
		ec *EmptyCartError
		is *InsufficientStockError
		fb *ForbiddenError
		it *InvalidTransitionError
		ve *ValidationError
		ce *ConflictError
		ue *UnauthorizedError
	)
	switch {
	case errors.As(err, &nf):
		return KindNotFound
	case errors.As(err, &ec):
		return KindEmptyCart
	case errors.As(err, &is):
		return KindInsufficientStock
	case errors.As(err, &fb):
		return KindForbidden
	case errors.As(err, &it):
		return KindInvalidTransition
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ce):
		return KindConflict
	case errors.As(err, &ue):
		return KindUnauthorized
	}
	return KindInternal
}

func notFound(resource string, id int64) error {
	return &NotFoundError{Resource: resource, ID: fmt.Sprint(id)}
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
