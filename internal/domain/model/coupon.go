package model

import (
	"time"

	"storefront/internal/domain/pricing"
)

type CouponKind string

const (
	// Value はベーシスポイント（10% = 1000）
	CouponKindPercent CouponKind = "PERCENT"
	// Value は最小単位の金額
	CouponKindFixed CouponKind = "FIXED"
)

type Coupon struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Code        string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"code"`
	Kind        CouponKind `gorm:"type:varchar(20);not null" json:"kind"`
	Value       int64      `gorm:"not null" json:"value"`
	MinSubtotal int64      `gorm:"not null;default:0" json:"min_subtotal"`
	IsActive    bool       `gorm:"not null;default:true" json:"is_active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;autoCreateTime" json:"created_at"`
}

// 今この時点でカートに適用できるか
func (c Coupon) Usable(now time.Time) bool {
	if !c.IsActive {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	return c.Kind == CouponKindPercent || c.Kind == CouponKindFixed
}

// 割引額。小計が条件に届かない場合は0。
func (c Coupon) Amount(subtotal int64, _ []pricing.Line) int64 {
	if !c.IsActive || subtotal <= 0 || subtotal < c.MinSubtotal {
		return 0
	}
	switch c.Kind {
	case CouponKindPercent:
		return subtotal * c.Value / 10000
	case CouponKindFixed:
		return c.Value
	default:
		return 0
	}
}

var _ pricing.Discount = Coupon{}
