package model

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"storefront/internal/domain/pricing"
)

var ErrInvalidCartOwner = errors.New("cart owner must be exactly one of user or session")

// カートの持ち主。ログインユーザー or ゲストのセッションのどちらか一方だけ。
type CartOwner struct {
	UserID    int64
	SessionID string
}

func NewCartOwner(userID int64, sessionID string) (CartOwner, error) {
	sessionID = strings.TrimSpace(sessionID)
	hasUser := userID > 0
	hasSession := sessionID != ""
	if hasUser == hasSession {
		return CartOwner{}, ErrInvalidCartOwner
	}
	return CartOwner{UserID: userID, SessionID: sessionID}, nil
}

func (o CartOwner) IsGuest() bool { return o.UserID <= 0 }

// 冪等キーなどのスコープに使う文字列
func (o CartOwner) Key() string {
	if o.IsGuest() {
		return "session:" + o.SessionID
	}
	return "user:" + strconv.FormatInt(o.UserID, 10)
}

// 1ユーザー（または1セッション）につき1つ。
// 注文確定後は削除せず空にする。
type Cart struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    *int64         `gorm:"uniqueIndex" json:"user_id,omitempty"`
	SessionID *string        `gorm:"type:varchar(64);uniqueIndex" json:"session_id,omitempty"`
	Items     []CartItem     `gorm:"foreignKey:CartID" json:"items"`
	Coupons   []CartCoupon   `gorm:"foreignKey:CartID" json:"coupons"`
	Totals    pricing.Totals `gorm:"embedded" json:"totals"`
	CreatedAt time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// 適用中のクーポンコード
type CartCoupon struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	CartID    int64     `gorm:"not null;uniqueIndex:idx_cart_coupon_code" json:"-"`
	Code      string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_cart_coupon_code" json:"code"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"-"`
}

func NewCart(owner CartOwner) Cart {
	c := Cart{}
	if owner.IsGuest() {
		s := owner.SessionID
		c.SessionID = &s
	} else {
		u := owner.UserID
		c.UserID = &u
	}
	return c
}

func (c *Cart) Owner() CartOwner {
	if c.UserID != nil {
		return CartOwner{UserID: *c.UserID}
	}
	if c.SessionID != nil {
		return CartOwner{SessionID: *c.SessionID}
	}
	return CartOwner{}
}

// 注文・集計の対象になる明細（あとで買うは除く）
func (c *Cart) IncludedItems() []CartItem {
	out := make([]CartItem, 0, len(c.Items))
	for _, it := range c.Items {
		if it.SavedForLater {
			continue
		}
		out = append(out, it)
	}
	return out
}

func (c *Cart) FindItem(itemID int64) (int, bool) {
	for i, it := range c.Items {
		if it.ID == itemID {
			return i, true
		}
	}
	return -1, false
}

// 同じ商品・同じバリエーションの明細を探す
func (c *Cart) FindLine(productID int64, variantID *int64) (int, bool) {
	for i, it := range c.Items {
		if it.ProductID == productID && sameVariant(it.VariantID, variantID) {
			return i, true
		}
	}
	return -1, false
}

func (c *Cart) CouponCodes() []string {
	out := make([]string, 0, len(c.Coupons))
	for _, cp := range c.Coupons {
		out = append(out, cp.Code)
	}
	return out
}

func (c *Cart) HasCoupon(code string) bool {
	for _, cp := range c.Coupons {
		if strings.EqualFold(cp.Code, code) {
			return true
		}
	}
	return false
}

func (c *Cart) AddCoupon(code string) {
	if c.HasCoupon(code) {
		return
	}
	c.Coupons = append(c.Coupons, CartCoupon{CartID: c.ID, Code: code})
}

func (c *Cart) RemoveCoupon(code string) bool {
	for i, cp := range c.Coupons {
		if strings.EqualFold(cp.Code, code) {
			c.Coupons = append(c.Coupons[:i], c.Coupons[i+1:]...)
			return true
		}
	}
	return false
}

// Recalculate はキャッシュ済み集計を上書きする唯一の入口。
// 明細・クーポンを変更したら保存前に必ず呼ぶ。
func (c *Cart) Recalculate(discounts []pricing.Discount, tax pricing.TaxPolicy, shipping pricing.ShippingPolicy) {
	c.Totals = pricing.Compute(c.PricingLines(), discounts, tax, shipping)
}

// 明細・クーポン・集計をすべてクリア（カート自体は残す）
func (c *Cart) Empty() {
	c.Items = []CartItem{}
	c.Coupons = []CartCoupon{}
	c.Totals = pricing.Compute(nil, nil, nil, nil)
}

func (c *Cart) PricingLines() []pricing.Line {
	lines := make([]pricing.Line, 0, len(c.Items))
	for _, it := range c.Items {
		lines = append(lines, it.PricingLine())
	}
	return lines
}

// 明細（後で買う含む）・クーポン・集計が同じか
func (c *Cart) SameContent(other Cart) bool {
	if len(c.Items) != len(other.Items) || len(c.Coupons) != len(other.Coupons) {
		return false
	}
	for i, it := range c.Items {
		o := other.Items[i]
		if it.ID != o.ID || it.ProductID != o.ProductID || !sameVariant(it.VariantID, o.VariantID) ||
			it.Quantity != o.Quantity || it.UnitPriceSnapshot != o.UnitPriceSnapshot ||
			it.SavedForLater != o.SavedForLater {
			return false
		}
	}
	for i, cp := range c.Coupons {
		if !strings.EqualFold(cp.Code, other.Coupons[i].Code) {
			return false
		}
	}
	return c.Totals == other.Totals
}

func sameVariant(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
