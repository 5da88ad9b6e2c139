package middleware

import (
	"net/http"

	"storefront/internal/repository"

	"github.com/labstack/echo/v4"
)

// JWTのtvとDBのtoken_versionの一致するか確認。
func TokenVersionGuard(userRepo repository.UserRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !tokenVersionMatches(c, userRepo) {
				return c.JSON(http.StatusUnauthorized, unauthorizedJSON())
			}
			return next(c)
		}
	}
}

// OptionalAuthJWT の後ろで使う。ログインしていないリクエストはそのまま通す。
func OptionalTokenVersionGuard(userRepo repository.UserRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Get(CtxUserIDKey) == nil {
				return next(c)
			}
			if !tokenVersionMatches(c, userRepo) {
				return c.JSON(http.StatusUnauthorized, unauthorizedJSON())
			}
			return next(c)
		}
	}
}

func tokenVersionMatches(c echo.Context, userRepo repository.UserRepository) bool {
	//AuthJWTが入れたuser_id を取得する
	userID, ok := c.Get(CtxUserIDKey).(int64)
	if !ok || userID <= 0 {
		return false
	}

	//AuthJWTが入れたtoken_version(tv)を取得する
	tv, ok := c.Get(CtxTokenVersionKey).(int)
	if !ok || tv < 0 {
		return false
	}

	//DBから最新のuserを取得する
	user, err := userRepo.FindByID(c.Request().Context(), userID)
	if err != nil || user == nil {
		return false
	}

	//停止ユーザー、token_version不一致は強制ログアウト扱い（401）
	return user.IsActive && user.TokenVersion == tv
}
