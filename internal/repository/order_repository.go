package repository

import (
	"context"
	"time"

	"storefront/internal/domain/model"
)

type AdminOrderListFilter struct {
	Page   int
	Limit  int
	Status string
	UserID *int64
	From   *time.Time
	To     *time.Time
}

type OrderRepository interface {
	// 明細・最初の履歴ごと作成。order.IDなどが埋まる
	Create(ctx context.Context, order *model.Order) error

	FindByID(ctx context.Context, orderID int64) (model.Order, error)

	// 行ロック付き（同じ注文への同時キャンセルを直列化）
	FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error)

	// ステータス履歴を1件追記
	AppendStatus(ctx context.Context, entry model.OrderStatusEntry) error

	ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error)

	//検索（同じキーなら同じ結果を返す）
	FindByIdempotencyKey(ctx context.Context, ownerKey string, key string) (model.Order, bool, error)

	//管理者用の注文一覧
	ListAdmin(ctx context.Context, f AdminOrderListFilter) ([]model.Order, int64, error)
}
