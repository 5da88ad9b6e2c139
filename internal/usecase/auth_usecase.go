package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/repository"
	"storefront/internal/validator"

	"golang.org/x/crypto/bcrypt"
)

// usecaseがValidatorに依存する約束
type AuthValidator interface {
	ValidateRegister(ctx context.Context, email string, password string) error
	ValidateLogin(ctx context.Context, email string, password string) error
}

// アクセストークンの発行（JWTなど）
type TokenIssuer interface {
	Issue(userID int64, role model.Role, tokenVersion int, now time.Time) (string, time.Time, error)
}

type UserDTO struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	TokenVersion int    `json:"token_version"`
	IsActive     bool   `json:"is_active"`
}

type AccessTokenDTO struct {
	AccessToken  string    `json:"access_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenVersion int       `json:"token_version"`
}

type AuthRegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthRegisterResponse struct {
	User UserDTO `json:"user"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginResponse struct {
	User  UserDTO        `json:"user"`
	Token AccessTokenDTO `json:"token"`
}

type AuthUsecase struct {
	users     repository.UserRepository
	validator AuthValidator
	issuer    TokenIssuer
	clock     Clock
}

func NewAuthUsecase(users repository.UserRepository, v AuthValidator, issuer TokenIssuer) *AuthUsecase {
	return &AuthUsecase{users: users, validator: v, issuer: issuer, clock: systemClock{}}
}

func (u *AuthUsecase) Register(ctx context.Context, req AuthRegisterRequest) (*AuthRegisterResponse, error) {
	req.Email = strings.TrimSpace(req.Email)

	//入力検証（validatorに寄せる）
	if err := u.validator.ValidateRegister(ctx, req.Email, req.Password); err != nil {
		return nil, authValidationError(err)
	}

	//パスワードは必ずハッシュ化して保存（平文保存しない）
	pwHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		Email:        req.Email,
		PasswordHash: string(pwHash),
		Role:         model.RoleUser,
		TokenVersion: 0,
		IsActive:     true,
	}

	if err := u.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, &ConflictError{Message: "email already used"}
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return &AuthRegisterResponse{User: toUserDTO(user)}, nil
}

func (u *AuthUsecase) Login(ctx context.Context, req AuthLoginRequest) (*AuthLoginResponse, error) {
	req.Email = strings.TrimSpace(req.Email)

	if err := u.validator.ValidateLogin(ctx, req.Email, req.Password); err != nil {
		return nil, authValidationError(err)
	}

	user, err := u.users.FindByEmail(ctx, req.Email)
	if err != nil || user == nil {
		return nil, &UnauthorizedError{}
	}

	//停止ユーザーはログイン不可
	if !user.IsActive {
		return nil, &ForbiddenError{Reason: "user is disabled"}
	}

	//パスワード照合（bcrypt）
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, &UnauthorizedError{}
	}

	now := u.clock.Now()
	_ = u.users.TouchLastLogin(ctx, user.ID, now)

	token, expiresAt, err := u.issuer.Issue(user.ID, user.Role, user.TokenVersion, now)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	return &AuthLoginResponse{
		User: toUserDTO(user),
		Token: AccessTokenDTO{
			AccessToken:  token,
			ExpiresAt:    expiresAt,
			TokenVersion: user.TokenVersion,
		},
	}, nil
}

func authValidationError(err error) error {
	if errors.Is(err, validator.ErrEmailAlreadyUsed) {
		return &ConflictError{Message: "email already used"}
	}
	return invalid("", "invalid email or password")
}

// model.UserをAPI返却用DTOに変換。
func toUserDTO(u *model.User) UserDTO {
	return UserDTO{
		ID:           u.ID,
		Email:        u.Email,
		Role:         string(u.Role),
		TokenVersion: u.TokenVersion,
		IsActive:     u.IsActive,
	}
}
