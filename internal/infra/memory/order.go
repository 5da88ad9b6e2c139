package memory

import (
	"context"
	"sort"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"
)

type OrderRepository struct {
	s *Store
	j *journal
}

func (r *OrderRepository) Create(ctx context.Context, order *model.Order) error {
	_ = ctx
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, o := range r.s.orders {
		if o.OrderNumber == order.OrderNumber {
			return repo.ErrDuplicate
		}
		if order.IdempotencyKey != nil && o.IdempotencyKey != nil &&
			o.OwnerKey == order.OwnerKey && *o.IdempotencyKey == *order.IdempotencyKey {
			return repo.ErrDuplicate
		}
	}

	order.ID = r.s.nextID()
	now := time.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	for i := range order.Items {
		order.Items[i].ID = r.s.nextID()
		order.Items[i].OrderID = order.ID
	}
	for i := range order.History {
		order.History[i].ID = r.s.nextID()
		order.History[i].OrderID = order.ID
	}

	r.s.orders[order.ID] = cloneOrder(*order)
	id := order.ID
	r.j.add(func() { delete(r.s.orders, id) })
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	_ = ctx
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	o, ok := r.s.orders[orderID]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return cloneOrder(o), nil
}

// トランザクションは TxManager で直列化しているので通常の取得と同じ
func (r *OrderRepository) FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error) {
	return r.FindByID(ctx, orderID)
}

func (r *OrderRepository) AppendStatus(ctx context.Context, entry model.OrderStatusEntry) error {
	_ = ctx
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	prev, ok := r.s.orders[entry.OrderID]
	if !ok {
		return repo.ErrNotFound
	}

	o := cloneOrder(prev)
	entry.ID = r.s.nextID()
	o.History = append(o.History, entry)
	o.UpdatedAt = time.Now()
	r.s.orders[o.ID] = o
	r.j.add(func() { r.s.orders[prev.ID] = prev })
	return nil
}

func (r *OrderRepository) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	return r.list(func(o model.Order) bool { return o.OwnedBy(userID) }, page, limit)
}

func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, ownerKey string, key string) (model.Order, bool, error) {
	_ = ctx
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, o := range r.s.orders {
		if o.OwnerKey == ownerKey && o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			return cloneOrder(o), true, nil
		}
	}
	return model.Order{}, false, nil
}

func (r *OrderRepository) ListAdmin(ctx context.Context, f repo.AdminOrderListFilter) ([]model.Order, int64, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	return r.list(func(o model.Order) bool {
		if f.Status != "" && string(o.Status()) != f.Status {
			return false
		}
		if f.UserID != nil && !o.OwnedBy(*f.UserID) {
			return false
		}
		if f.From != nil && o.CreatedAt.Before(*f.From) {
			return false
		}
		if f.To != nil && o.CreatedAt.After(*f.To) {
			return false
		}
		return true
	}, f.Page, f.Limit)
}

// 新しい順（id desc）
func (r *OrderRepository) list(match func(model.Order) bool, page, limit int) ([]model.Order, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	hits := make([]model.Order, 0)
	for _, o := range r.s.orders {
		if match(o) {
			hits = append(hits, o)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID > hits[j].ID })

	total := int64(len(hits))
	start := (page - 1) * limit
	if start >= len(hits) {
		return []model.Order{}, total, nil
	}
	end := start + limit
	if end > len(hits) {
		end = len(hits)
	}

	out := make([]model.Order, 0, end-start)
	for _, o := range hits[start:end] {
		out = append(out, cloneOrder(o))
	}
	return out, total, nil
}
