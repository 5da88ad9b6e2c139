package model

import (
	"strings"
	"time"

	"storefront/internal/domain/pricing"
)

type PaymentMethod string

const (
	PaymentCard            PaymentMethod = "CARD"
	PaymentBankTransfer    PaymentMethod = "BANK_TRANSFER"
	PaymentCashOnDelivery  PaymentMethod = "CASH_ON_DELIVERY"
	PaymentConvenienceShop PaymentMethod = "CONVENIENCE_STORE"
)

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCard, PaymentBankTransfer, PaymentCashOnDelivery, PaymentConvenienceShop:
		return true
	}
	return false
}

type ShippingMethod string

const (
	ShippingStandard ShippingMethod = "STANDARD"
	ShippingExpress  ShippingMethod = "EXPRESS"
	ShippingPickup   ShippingMethod = "PICKUP"
)

func (s ShippingMethod) Valid() bool {
	switch s {
	case ShippingStandard, ShippingExpress, ShippingPickup:
		return true
	}
	return false
}

// 注文。作成後は明細・金額を変更しない（ステータス履歴だけ追記する）。
// 現在のステータスは History の最後の要素から導出する。
type Order struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNumber string `gorm:"type:varchar(64);not null;uniqueIndex" json:"order_number"`

	//ゲスト注文ならnil（GuestEmail 必須）
	UserID     *int64 `gorm:"index" json:"user_id,omitempty"`
	GuestEmail string `gorm:"type:varchar(255)" json:"guest_email,omitempty"`

	//冪等キーのスコープ（user:1 / session:xxx）
	OwnerKey       string  `gorm:"type:varchar(100);not null;index;uniqueIndex:idx_orders_owner_idem" json:"-"`
	IdempotencyKey *string `gorm:"type:varchar(255);uniqueIndex:idx_orders_owner_idem" json:"-"`

	ShippingAddress Address        `gorm:"embedded;embeddedPrefix:shipping_" json:"shipping_address"`
	BillingAddress  Address        `gorm:"embedded;embeddedPrefix:billing_" json:"billing_address"`
	PaymentMethod   PaymentMethod  `gorm:"type:varchar(30);not null" json:"payment_method"`
	ShippingMethod  ShippingMethod `gorm:"type:varchar(30);not null" json:"shipping_method"`
	Notes           string         `gorm:"type:text" json:"notes"`

	//カートの集計をそのままコピー（注文時に再計算しない）
	Totals pricing.Totals `gorm:"embedded" json:"totals"`

	//適用クーポンのスナップショット（カンマ区切り）
	CouponCodes string `gorm:"type:text" json:"coupon_codes"`

	Items     []OrderItem        `gorm:"foreignKey:OrderID" json:"items"`
	History   []OrderStatusEntry `gorm:"foreignKey:OrderID" json:"history"`
	CreatedAt time.Time          `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time          `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (o *Order) Coupons() []string {
	if strings.TrimSpace(o.CouponCodes) == "" {
		return []string{}
	}
	return strings.Split(o.CouponCodes, ",")
}

// 所有者（ログインユーザー）か
func (o *Order) OwnedBy(userID int64) bool {
	return o.UserID != nil && userID > 0 && *o.UserID == userID
}
