package model

import "time"

type AdjustmentReason string

const (
	AdjustmentManual        AdjustmentReason = "MANUAL"
	AdjustmentOrderReserved AdjustmentReason = "ORDER_RESERVED"
	AdjustmentOrderCanceled AdjustmentReason = "ORDER_CANCELED"
)

//在庫調整の履歴（注文による増減もここに残す）

type InventoryAdjustment struct {
	ID          int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID   int64            `gorm:"not null;index" json:"product_id"`
	ActorUserID *int64           `gorm:"index" json:"actor_user_id,omitempty"`
	OrderNumber string           `gorm:"type:varchar(64);index" json:"order_number,omitempty"`
	Delta       int64            `gorm:"not null" json:"delta"`
	Reason      AdjustmentReason `gorm:"type:varchar(30);not null" json:"reason"`
	Note        string           `gorm:"type:varchar(255)" json:"note"`
	CreatedAt   time.Time        `gorm:"not null;autoCreateTime" json:"created_at"`
}
