package repository

import (
	"context"

	"storefront/internal/domain/model"
)

// 商品ごとの在庫カウンタ。
// 減算は必ず「在庫 >= 数量」のときだけ行う条件付き更新（チェックと減算を分けない）。
type InventoryRepository interface {
	// 在庫の現在値
	FindStock(ctx context.Context, productID int64) (int64, error)

	// 在庫の現在値を設定
	SetStock(ctx context.Context, productID int64, newStock int64) error

	// 在庫が足りるときだけ減算
	DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error)

	// 在庫戻し（キャンセル・ロールバック）
	IncreaseStock(ctx context.Context, productID int64, qty int64) error

	// 調整履歴作成
	CreateAdjustment(ctx context.Context, adjustment model.InventoryAdjustment) error
}
