package model

import (
	"errors"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCanceled   OrderStatus = "CANCELED"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
)

var (
	ErrOrderCanceled      = errors.New("order is canceled")
	ErrOrderNotCancelable = errors.New("This order cannot be cancelled")
	ErrUnknownStatus      = errors.New("unknown order status")
)

func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	switch st {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCanceled, OrderStatusRefunded:
		return st, nil
	}
	return "", ErrUnknownStatus
}

// キャンセル（在庫戻し）できるのは出荷前だけ
func (s OrderStatus) Cancelable() bool {
	return s == OrderStatusPending || s == OrderStatusProcessing
}

// ステータス履歴（追記のみ）
type OrderStatusEntry struct {
	ID        int64       `gorm:"primaryKey;autoIncrement" json:"-"`
	OrderID   int64       `gorm:"not null;index" json:"-"`
	Status    OrderStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	Note      string      `gorm:"type:varchar(500)" json:"note"`
	ChangedBy *int64      `json:"changed_by,omitempty"`
	CreatedAt time.Time   `gorm:"not null" json:"created_at"`
}

// 現在のステータス＝履歴の最後
func (o *Order) Status() OrderStatus {
	if len(o.History) == 0 {
		return ""
	}
	return o.History[len(o.History)-1].Status
}

// 作成時の最初の履歴
func (o *Order) Start(now time.Time) OrderStatusEntry {
	e := OrderStatusEntry{Status: OrderStatusPending, Note: "Order created", CreatedAt: now}
	o.History = []OrderStatusEntry{e}
	return e
}

// TransitionTo は履歴を1件追記して返す。キャンセル済みの注文は変更できない。
func (o *Order) TransitionTo(status OrderStatus, note string, by *int64, now time.Time) (OrderStatusEntry, error) {
	if o.Status() == OrderStatusCanceled {
		return OrderStatusEntry{}, ErrOrderCanceled
	}
	if note == "" {
		note = "Status updated to " + string(status)
	}
	return o.appendStatus(status, note, by, now), nil
}

// Cancel は出荷前の注文だけをキャンセルにする。
func (o *Order) Cancel(reason string, by *int64, now time.Time) (OrderStatusEntry, error) {
	cur := o.Status()
	if cur == OrderStatusCanceled {
		return OrderStatusEntry{}, ErrOrderCanceled
	}
	if !cur.Cancelable() {
		return OrderStatusEntry{}, ErrOrderNotCancelable
	}
	if reason == "" {
		reason = "Order cancelled"
	}
	return o.appendStatus(OrderStatusCanceled, reason, by, now), nil
}

func (o *Order) appendStatus(status OrderStatus, note string, by *int64, now time.Time) OrderStatusEntry {
	e := OrderStatusEntry{
		OrderID:   o.ID,
		Status:    status,
		Note:      note,
		ChangedBy: by,
		CreatedAt: now,
	}
	o.History = append(o.History, e)
	return e
}
