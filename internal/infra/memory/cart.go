package memory

import (
	"context"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"
)

type CartRepository struct {
	s *Store
	j *journal
}

// mu を持った状態で呼ぶ
func (r *CartRepository) findLocked(owner model.CartOwner) (model.Cart, bool) {
	for _, c := range r.s.carts {
		if owner.IsGuest() {
			if c.SessionID != nil && *c.SessionID == owner.SessionID {
				return c, true
			}
			continue
		}
		if c.UserID != nil && *c.UserID == owner.UserID {
			return c, true
		}
	}
	return model.Cart{}, false
}

func (r *CartRepository) FindByOwner(ctx context.Context, owner model.CartOwner) (model.Cart, error) {
	_ = ctx
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.findLocked(owner)
	if !ok {
		return model.Cart{}, repo.ErrNotFound
	}
	return cloneCart(c), nil
}

func (r *CartRepository) GetOrCreateByOwner(ctx context.Context, owner model.CartOwner) (model.Cart, error) {
	_ = ctx
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if c, ok := r.findLocked(owner); ok {
		return cloneCart(c), nil
	}

	c := model.NewCart(owner)
	c.ID = r.s.nextID()
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	c.Items = []model.CartItem{}
	c.Coupons = []model.CartCoupon{}
	r.s.carts[c.ID] = c

	id := c.ID
	r.j.add(func() { delete(r.s.carts, id) })
	return cloneCart(c), nil
}

// トランザクション外の書き込みは実行中のトランザクションを待つ（行ロック相当）
func (r *CartRepository) waitTx() func() {
	if r.j != nil {
		return func() {}
	}
	r.s.txMu.Lock()
	return r.s.txMu.Unlock
}

// トランザクションは txMu で直列なので、読むだけでロックしたのと同じ
func (r *CartRepository) FindByIDForUpdate(ctx context.Context, cartID int64) (model.Cart, error) {
	_ = ctx
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.carts[cartID]
	if !ok {
		return model.Cart{}, repo.ErrNotFound
	}
	return cloneCart(c), nil
}

// まるごと置き換え（後勝ち）
func (r *CartRepository) Save(ctx context.Context, cart *model.Cart) error {
	_ = ctx
	defer r.waitTx()()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	prev, ok := r.s.carts[cart.ID]
	if !ok {
		return repo.ErrNotFound
	}

	now := time.Now()
	for i := range cart.Items {
		cart.Items[i].CartID = cart.ID
		if cart.Items[i].ID == 0 {
			cart.Items[i].ID = r.s.nextID()
			cart.Items[i].CreatedAt = now
		}
		cart.Items[i].UpdatedAt = now
	}
	for i := range cart.Coupons {
		cart.Coupons[i].CartID = cart.ID
		cart.Coupons[i].Code = normalizeCode(cart.Coupons[i].Code)
		if cart.Coupons[i].ID == 0 {
			cart.Coupons[i].ID = r.s.nextID()
			cart.Coupons[i].CreatedAt = now
		}
	}
	cart.CreatedAt = prev.CreatedAt
	cart.UpdatedAt = now

	r.s.carts[cart.ID] = cloneCart(*cart)
	r.j.add(func() { r.s.carts[prev.ID] = prev })
	return nil
}

func (r *CartRepository) Clear(ctx context.Context, cartID int64) error {
	_ = ctx
	defer r.waitTx()()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	prev, ok := r.s.carts[cartID]
	if !ok {
		return repo.ErrNotFound
	}

	c := cloneCart(prev)
	c.Empty()
	c.UpdatedAt = time.Now()
	r.s.carts[cartID] = c
	r.j.add(func() { r.s.carts[prev.ID] = prev })
	return nil
}
