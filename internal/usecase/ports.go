package usecase

import (
	"context"
	"time"

	"storefront/internal/domain/model"

	"github.com/google/uuid"
)

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID() string
}

// 同じ冪等キーの同時リクエストを弾くためのロック（Redisなど）
type IdempotencyLocker interface {
	// 取れたら解除用のトークンを返す
	TryLock(ctx context.Context, scope, key string) (token string, ok bool, err error)
	Unlock(ctx context.Context, scope, key, token string) error
}

// チェックアウト関連のメトリクス
type CheckoutMetrics interface {
	OrderCreated()
	CheckoutFailed(reason string)
	StockRollbackFailed()
	OrderCanceled()
}

type nopMetrics struct{}

func (nopMetrics) OrderCreated()         {}
func (nopMetrics) CheckoutFailed(string) {}
func (nopMetrics) StockRollbackFailed()  {}
func (nopMetrics) OrderCanceled()        {}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type uuidGenerator struct{}

func (uuidGenerator) NewID() string { return uuid.NewString() }

// リクエストの呼び出し元。ログインしていればUserID、ゲストならSessionID。
type Identity struct {
	UserID    int64
	Role      model.Role
	SessionID string
}

func (i Identity) IsAdmin() bool {
	return i.UserID > 0 && i.Role.IsAdmin()
}

// ログインしていればユーザーのカート、そうでなければセッションのカート
func (i Identity) CartOwner() (model.CartOwner, error) {
	if i.UserID > 0 {
		return model.NewCartOwner(i.UserID, "")
	}
	owner, err := model.NewCartOwner(0, i.SessionID)
	if err != nil {
		return model.CartOwner{}, invalid("session_id", "login or session id required")
	}
	return owner, nil
}
