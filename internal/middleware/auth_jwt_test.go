package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront/internal/config"
	"storefront/internal/domain/model"
	"storefront/internal/repository"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// =====================
// レスポンス確認用
// =====================

type mwOKResponse struct {
	UserID       int64  `json:"user_id"`
	Role         string `json:"role"`
	TokenVersion int    `json:"token_version"`
	Guest        bool   `json:"guest"`
}

// =====================
// UserRepository モック
// =====================

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	args := m.Called(ctx, email)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

func (m *mockUserRepo) TouchLastLogin(ctx context.Context, userID int64, at time.Time) error {
	args := m.Called(ctx, userID, at)
	return args.Error(0)
}

var _ repository.UserRepository = (*mockUserRepo)(nil)

// =====================
// helper
// =====================

func mustMakeJWT(t *testing.T, secret string, sub int64, role string, tv int, signingMethod jwt.SigningMethod) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"tv":   tv,
		"iat":  1,
		"exp":  9999999999,
	}

	s, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func runRequest(t *testing.T, e *echo.Echo, method string, path string, authHeader string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var r errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&r))
	return r
}

func echoClaims(c echo.Context) error {
	userID, _ := c.Get(CtxUserIDKey).(int64)
	role, _ := c.Get(CtxUserRoleKey).(string)
	tv, _ := c.Get(CtxTokenVersionKey).(int)
	return c.JSON(http.StatusOK, mwOKResponse{
		UserID:       userID,
		Role:         role,
		TokenVersion: tv,
		Guest:        c.Get(CtxUserIDKey) == nil,
	})
}

// =====================
// AuthJWT
// =====================

func TestAuthJWT_Unauthorized(t *testing.T) {
	cfg := config.Config{JWTSecret: "test-secret"}

	cases := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"bad scheme", "Token abc.def.ghi"},
		{"empty token", "Bearer "},
		{"bad signature", "Bearer " + mustMakeJWT(t, "wrong-secret", 1, "USER", 0, jwt.SigningMethodHS256)},
		{"wrong alg", "Bearer " + mustMakeJWT(t, cfg.JWTSecret, 1, "USER", 0, jwt.SigningMethodHS512)},
		{"zero sub", "Bearer " + mustMakeJWT(t, cfg.JWTSecret, 0, "USER", 0, jwt.SigningMethodHS256)},
		{"empty role", "Bearer " + mustMakeJWT(t, cfg.JWTSecret, 1, "", 0, jwt.SigningMethodHS256)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := echo.New()
			e.GET("/protected", echoClaims, AuthJWT(cfg))

			rec := runRequest(t, e, http.MethodGet, "/protected", tc.header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthorized", decodeError(t, rec).Error)
		})
	}
}

// 正常：ctxに値が入る
func TestAuthJWT_SetsContext(t *testing.T) {
	e := echo.New()
	cfg := config.Config{JWTSecret: "test-secret"}
	e.GET("/protected", echoClaims, AuthJWT(cfg))

	raw := mustMakeJWT(t, cfg.JWTSecret, 123, "USER", 7, jwt.SigningMethodHS256)
	rec := runRequest(t, e, http.MethodGet, "/protected", "Bearer "+raw)
	require.Equal(t, http.StatusOK, rec.Code)

	var body mwOKResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, int64(123), body.UserID)
	assert.Equal(t, "USER", body.Role)
	assert.Equal(t, 7, body.TokenVersion)
}

// =====================
// OptionalAuthJWT
// =====================

func TestOptionalAuthJWT_GuestPassesThrough(t *testing.T) {
	e := echo.New()
	cfg := config.Config{JWTSecret: "test-secret"}
	e.GET("/cart", echoClaims, OptionalAuthJWT(cfg))

	rec := runRequest(t, e, http.MethodGet, "/cart", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body mwOKResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.Guest)
}

// 不正なトークンはゲスト扱いにしない
func TestOptionalAuthJWT_BadTokenRejected(t *testing.T) {
	e := echo.New()
	cfg := config.Config{JWTSecret: "test-secret"}
	e.GET("/cart", echoClaims, OptionalAuthJWT(cfg))

	raw := mustMakeJWT(t, "wrong-secret", 1, "USER", 0, jwt.SigningMethodHS256)
	rec := runRequest(t, e, http.MethodGet, "/cart", "Bearer "+raw)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// =====================
// TokenVersionGuard
// =====================

// AuthJWT無しでGuardだけ => 401
func TestTokenVersionGuard_MissingContext(t *testing.T) {
	e := echo.New()
	userRepo := new(mockUserRepo)
	e.GET("/protected", echoClaims, TokenVersionGuard(userRepo))

	rec := runRequest(t, e, http.MethodGet, "/protected", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	userRepo.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

func TestTokenVersionGuard(t *testing.T) {
	cfg := config.Config{JWTSecret: "test-secret"}

	cases := []struct {
		name     string
		dbTV     int
		active   bool
		wantCode int
	}{
		{"match", 5, true, http.StatusOK},
		{"mismatch", 6, true, http.StatusUnauthorized},
		{"inactive user", 5, false, http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := echo.New()
			userRepo := new(mockUserRepo)
			userRepo.On("FindByID", mock.Anything, int64(1)).Return(&model.User{
				ID:           1,
				Email:        "user@test.com",
				Role:         model.RoleUser,
				TokenVersion: tc.dbTV,
				IsActive:     tc.active,
			}, nil)

			e.GET("/protected", echoClaims, AuthJWT(cfg), TokenVersionGuard(userRepo))

			raw := mustMakeJWT(t, cfg.JWTSecret, 1, "USER", 5, jwt.SigningMethodHS256)
			rec := runRequest(t, e, http.MethodGet, "/protected", "Bearer "+raw)
			assert.Equal(t, tc.wantCode, rec.Code)
			userRepo.AssertExpectations(t)
		})
	}
}

func TestOptionalTokenVersionGuard_GuestSkipsLookup(t *testing.T) {
	e := echo.New()
	cfg := config.Config{JWTSecret: "test-secret"}
	userRepo := new(mockUserRepo)
	e.GET("/cart", echoClaims, OptionalAuthJWT(cfg), OptionalTokenVersionGuard(userRepo))

	rec := runRequest(t, e, http.MethodGet, "/cart", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	userRepo.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

func TestOptionalTokenVersionGuard_UserNotFound(t *testing.T) {
	e := echo.New()
	cfg := config.Config{JWTSecret: "test-secret"}
	userRepo := new(mockUserRepo)
	userRepo.On("FindByID", mock.Anything, int64(9)).Return(nil, repository.ErrUserNotFound)
	e.GET("/cart", echoClaims, OptionalAuthJWT(cfg), OptionalTokenVersionGuard(userRepo))

	raw := mustMakeJWT(t, cfg.JWTSecret, 9, "USER", 0, jwt.SigningMethodHS256)
	rec := runRequest(t, e, http.MethodGet, "/cart", "Bearer "+raw)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// =====================
// AdminRoleGuard
// =====================

func TestAdminRoleGuard(t *testing.T) {
	cfg := config.Config{JWTSecret: "test-secret"}

	cases := []struct {
		role     string
		wantCode int
		wantBody string
	}{
		{"ADMIN", http.StatusOK, ""},
		{"USER", http.StatusForbidden, "forbidden"},
	}

	for _, tc := range cases {
		t.Run(tc.role, func(t *testing.T) {
			e := echo.New()
			e.GET("/admin/orders", echoClaims, AuthJWT(cfg), AdminRoleGuard())

			raw := mustMakeJWT(t, cfg.JWTSecret, 1, tc.role, 0, jwt.SigningMethodHS256)
			rec := runRequest(t, e, http.MethodGet, "/admin/orders", "Bearer "+raw)
			assert.Equal(t, tc.wantCode, rec.Code)
			if tc.wantBody != "" {
				body := decodeError(t, rec)
				assert.Equal(t, tc.wantBody, body.Code)
				assert.Equal(t, "admin only", body.Error)
			}
		})
	}
}

// ロールが入っていない（AuthJWTを通っていない）
func TestAdminRoleGuard_MissingRole(t *testing.T) {
	e := echo.New()
	e.GET("/admin/orders", echoClaims, AdminRoleGuard())

	rec := runRequest(t, e, http.MethodGet, "/admin/orders", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Code)
}
