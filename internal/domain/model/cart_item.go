package model

import (
	"time"

	"storefront/internal/domain/pricing"
)

// カートの明細
// unit_price_snapshot（追加時点の価格）を必ず保存する。
type CartItem struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CartID            int64     `gorm:"not null;index" json:"cart_id"`
	ProductID         int64     `gorm:"not null;index" json:"product_id"`
	VariantID         *int64    `gorm:"index" json:"variant_id,omitempty"`
	Quantity          int64     `gorm:"not null" json:"quantity"`
	UnitPriceSnapshot int64     `gorm:"not null;column:unit_price_snapshot" json:"unit_price_snapshot"`
	SavedForLater     bool      `gorm:"not null;default:false" json:"saved_for_later"`
	CreatedAt         time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (it CartItem) LineTotal() int64 {
	return it.UnitPriceSnapshot * it.Quantity
}

func (it CartItem) PricingLine() pricing.Line {
	return pricing.Line{
		UnitPrice:     it.UnitPriceSnapshot,
		Quantity:      it.Quantity,
		SavedForLater: it.SavedForLater,
	}
}
