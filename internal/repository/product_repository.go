package repository

import (
	"context"
	"errors"

	"storefront/internal/domain/model"
)

var (
	ErrNotFound = errors.New("not found")
	// 一意制約違反（冪等キーの同時登録など）
	ErrDuplicate = errors.New("duplicate")
)

// 商品の取得だけを約束（一覧・検索は対象外）。
type ProductRepository interface {
	FindByID(ctx context.Context, id int64) (model.Product, error)
	FindVariant(ctx context.Context, productID int64, variantID int64) (model.ProductVariant, error)
}
