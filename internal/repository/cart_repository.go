package repository

import (
	"context"

	"storefront/internal/domain/model"
)

// カートは明細・クーポンを含めた1ドキュメントとして保存する（後勝ち）。
type CartRepository interface {
	FindByOwner(ctx context.Context, owner model.CartOwner) (model.Cart, error)
	GetOrCreateByOwner(ctx context.Context, owner model.CartOwner) (model.Cart, error)

	// 明細・クーポン・集計をまるごと置き換える
	Save(ctx context.Context, cart *model.Cart) error

	// 明細・クーポンを削除し集計を0にする
	Clear(ctx context.Context, cartID int64) error

	// カート行をロックしてから読む（トランザクション内で使う）
	FindByIDForUpdate(ctx context.Context, cartID int64) (model.Cart, error)
}

type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (model.Coupon, error)
	FindByCodes(ctx context.Context, codes []string) ([]model.Coupon, error)
}
