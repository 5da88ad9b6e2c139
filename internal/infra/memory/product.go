package memory

import (
	"context"
	"strings"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"
)

type ProductRepository struct {
	s *Store
}

func (r *ProductRepository) FindByID(ctx context.Context, id int64) (model.Product, error) {
	_ = ctx
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.products[id]
	if !ok {
		return model.Product{}, repo.ErrNotFound
	}
	p.Variants = append([]model.ProductVariant(nil), p.Variants...)
	return p, nil
}

func (r *ProductRepository) FindVariant(ctx context.Context, productID int64, variantID int64) (model.ProductVariant, error) {
	_ = ctx
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	v, ok := r.s.variants[variantID]
	if !ok || v.ProductID != productID {
		return model.ProductVariant{}, repo.ErrNotFound
	}
	return v, nil
}

// 在庫。チェックと減算は同じロックの中で行う。
type InventoryRepository struct {
	s *Store
	j *journal
}

func (r *InventoryRepository) FindStock(ctx context.Context, productID int64) (int64, error) {
	_ = ctx
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.products[productID]
	if !ok {
		return 0, repo.ErrNotFound
	}
	return p.Stock, nil
}

func (r *InventoryRepository) SetStock(ctx context.Context, productID int64, newStock int64) error {
	_ = ctx
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.products[productID]
	if !ok {
		return repo.ErrNotFound
	}
	delta := newStock - p.Stock
	r.adjust(productID, delta)
	return nil
}

func (r *InventoryRepository) DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.products[productID]
	if !ok || p.Stock < qty {
		return false, nil
	}
	r.adjust(productID, -qty)
	return true, nil
}

func (r *InventoryRepository) IncreaseStock(ctx context.Context, productID int64, qty int64) error {
	_ = ctx
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.products[productID]; !ok {
		return repo.ErrNotFound
	}
	r.adjust(productID, qty)
	return nil
}

func (r *InventoryRepository) CreateAdjustment(ctx context.Context, adj model.InventoryAdjustment) error {
	_ = ctx
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	adj.ID = r.s.nextID()
	if adj.CreatedAt.IsZero() {
		adj.CreatedAt = time.Now()
	}
	r.s.adjustments = append(r.s.adjustments, adj)
	n := len(r.s.adjustments)
	r.j.add(func() { r.s.adjustments = r.s.adjustments[:n-1] })
	return nil
}

// 差分で更新する（取り消しも差分なので他の更新と順序が入れ替わっても壊れない）
// mu を持った状態で呼ぶ
func (r *InventoryRepository) adjust(productID int64, delta int64) {
	p := r.s.products[productID]
	p.Stock += delta
	p.UpdatedAt = time.Now()
	r.s.products[productID] = p

	r.j.add(func() {
		p := r.s.products[productID]
		p.Stock -= delta
		r.s.products[productID] = p
	})
}

type CouponRepository struct {
	s *Store
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (model.Coupon, error) {
	_ = ctx
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.coupons[normalizeCode(code)]
	if !ok {
		return model.Coupon{}, repo.ErrNotFound
	}
	return c, nil
}

func (r *CouponRepository) FindByCodes(ctx context.Context, codes []string) ([]model.Coupon, error) {
	_ = ctx
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]model.Coupon, 0, len(codes))
	for _, code := range codes {
		if c, ok := r.s.coupons[normalizeCode(code)]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
