package memory

import (
	"sync"
	"time"

	"storefront/internal/domain/model"
)

// Store はDBなしで動かすためのインメモリ実装（開発・テスト用）。
// すべてのデータを1つのmutexで守る。
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex
	seq  int64

	products    map[int64]model.Product
	variants    map[int64]model.ProductVariant
	coupons     map[string]model.Coupon
	carts       map[int64]model.Cart
	orders      map[int64]model.Order
	users       map[int64]model.User
	adjustments []model.InventoryAdjustment
	audits      []model.AuditLog
}

func NewStore() *Store {
	return &Store{
		products: make(map[int64]model.Product),
		variants: make(map[int64]model.ProductVariant),
		coupons:  make(map[string]model.Coupon),
		carts:    make(map[int64]model.Cart),
		orders:   make(map[int64]model.Order),
		users:    make(map[int64]model.User),
	}
}

// mu を持った状態で呼ぶ
func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// 商品の登録（初期データ・テスト用）。IDが0なら採番する。
func (s *Store) AddProduct(p model.Product) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		p.ID = s.nextID()
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	for i := range p.Variants {
		if p.Variants[i].ID == 0 {
			p.Variants[i].ID = s.nextID()
		}
		p.Variants[i].ProductID = p.ID
		s.variants[p.Variants[i].ID] = p.Variants[i]
	}
	p.Variants = append([]model.ProductVariant(nil), p.Variants...)
	s.products[p.ID] = p
	return p
}

func (s *Store) AddCoupon(c model.Coupon) model.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == 0 {
		c.ID = s.nextID()
	}
	c.Code = normalizeCode(c.Code)
	s.coupons[c.Code] = c
	return c
}

// 在庫の調整履歴（テスト用）
func (s *Store) Adjustments() []model.InventoryAdjustment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.InventoryAdjustment(nil), s.adjustments...)
}

func (s *Store) AuditLogs() []model.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditLog(nil), s.audits...)
}

// トランザクション内の変更を取り消すための記録
type journal struct {
	undo []func()
}

func (j *journal) add(fn func()) {
	if j == nil {
		return
	}
	j.undo = append(j.undo, fn)
}

// 逆順に取り消す。mu を持った状態で呼ぶ
func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

func cloneCart(c model.Cart) model.Cart {
	c.Items = append([]model.CartItem{}, c.Items...)
	c.Coupons = append([]model.CartCoupon{}, c.Coupons...)
	return c
}

func cloneOrder(o model.Order) model.Order {
	o.Items = append([]model.OrderItem{}, o.Items...)
	o.History = append([]model.OrderStatusEntry{}, o.History...)
	return o
}
