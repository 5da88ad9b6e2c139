package handler

import (
	"errors"
	"net/http"

	"storefront/internal/domain/model"
	"storefront/internal/middleware"
	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error string `json:"error"`
	// not_found, insufficient_stock など（usecase.Kind）
	Code      string `json:"code,omitempty"`
	Field     string `json:"field,omitempty"`
	ProductID int64  `json:"product_id,omitempty"`
}

// SuccessResponse は { message: string } の形
type SuccessResponse struct {
	Message string `json:"message"`
}

func statusOf(k usecase.Kind) int {
	switch k {
	case usecase.KindNotFound:
		return http.StatusNotFound
	case usecase.KindEmptyCart, usecase.KindValidation:
		return http.StatusBadRequest
	case usecase.KindInsufficientStock, usecase.KindInvalidTransition, usecase.KindConflict:
		return http.StatusConflict
	case usecase.KindForbidden:
		return http.StatusForbidden
	case usecase.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// usecaseのエラー種別をHTTPに変換。500は中身を返さずログにだけ残す。
func writeError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}

	kind := usecase.KindOf(err)
	status := statusOf(kind)
	if status == http.StatusInternalServerError {
		c.Set(middleware.CtxErrorKey, err)
		return c.JSON(status, ErrorResponse{Error: "internal error", Code: kind.String()})
	}

	res := ErrorResponse{Error: err.Error(), Code: kind.String()}

	var ve *usecase.ValidationError
	if errors.As(err, &ve) {
		res.Field = ve.Field
	}
	var se *usecase.InsufficientStockError
	if errors.As(err, &se) {
		res.ProductID = se.ProductID
	}
	return c.JSON(status, res)
}

// middleware.AuthJWT が c.Set("user_id", int64) した値を取り出す
func getUserIDFromContext(c echo.Context) (int64, bool) {
	v := c.Get(middleware.CtxUserIDKey)
	if v == nil {
		return 0, false
	}

	id, ok := v.(int64)
	if !ok {
		return 0, false
	}

	return id, true
}

// ゲストのカートは X-Session-Id ヘッダで識別する
const HeaderSessionID = "X-Session-Id"

// ログインしていればユーザー、していなければセッションIDで呼び出し元を作る。
func identityFromContext(c echo.Context) usecase.Identity {
	id := usecase.Identity{SessionID: c.Request().Header.Get(HeaderSessionID)}
	if uid, ok := getUserIDFromContext(c); ok {
		id.UserID = uid
		id.SessionID = ""
		if role, ok := c.Get(middleware.CtxUserRoleKey).(string); ok {
			id.Role = model.Role(role)
		}
	}
	return id
}
