package middleware

import (
	"net/http"

	"storefront/internal/domain/model"

	"github.com/labstack/echo/v4"
)

// AuthJWT の後ろで使う。ロールが無ければ401、ADMIN以外は403。
func AdminRoleGuard() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, ok := c.Get(CtxUserRoleKey).(string)
			if !ok || role == "" {
				return c.JSON(http.StatusUnauthorized, unauthorizedJSON())
			}
			if !model.Role(role).IsAdmin() {
				return c.JSON(http.StatusForbidden, errorResponse{Error: "admin only", Code: codeForbidden})
			}
			return next(c)
		}
	}
}
