package memory

import (
	"context"

	repo "storefront/internal/repository"
)

// リポジトリ一式（トランザクション外で使う）
func (s *Store) Products() *ProductRepository    { return &ProductRepository{s: s} }
func (s *Store) Inventory() *InventoryRepository { return &InventoryRepository{s: s} }
func (s *Store) Coupons() *CouponRepository      { return &CouponRepository{s: s} }
func (s *Store) Carts() *CartRepository          { return &CartRepository{s: s} }
func (s *Store) Orders() *OrderRepository        { return &OrderRepository{s: s} }
func (s *Store) Users() *UserRepository          { return &UserRepository{s: s} }
func (s *Store) Audits() *AuditLogRepository     { return &AuditLogRepository{s: s} }

type txRepos struct {
	s *Store
	j *journal
}

func (r *txRepos) Orders() repo.OrderRepository        { return &OrderRepository{s: r.s, j: r.j} }
func (r *txRepos) Carts() repo.CartRepository          { return &CartRepository{s: r.s, j: r.j} }
func (r *txRepos) Inventory() repo.InventoryRepository { return &InventoryRepository{s: r.s, j: r.j} }
func (r *txRepos) Products() repo.ProductRepository    { return &ProductRepository{s: r.s} }
func (r *txRepos) AuditLogs() repo.AuditLogRepository  { return &AuditLogRepository{s: r.s, j: r.j} }

// TxManager はトランザクション同士を直列化し、失敗したら変更を逆順に取り消す。
// トランザクション外の更新（在庫の減算など）はそのまま並行に動く。
type TxManager struct {
	s *Store
}

func (s *Store) TxManager() *TxManager { return &TxManager{s: s} }

func (tm *TxManager) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	tm.s.txMu.Lock()
	defer tm.s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	j := &journal{}
	if err := fn(&txRepos{s: tm.s, j: j}); err != nil {
		tm.s.mu.Lock()
		j.rollback()
		tm.s.mu.Unlock()
		return err
	}
	return nil
}

var (
	_ repo.OrderRepository     = (*OrderRepository)(nil)
	_ repo.CartRepository      = (*CartRepository)(nil)
	_ repo.CouponRepository    = (*CouponRepository)(nil)
	_ repo.InventoryRepository = (*InventoryRepository)(nil)
	_ repo.ProductRepository   = (*ProductRepository)(nil)
	_ repo.UserRepository      = (*UserRepository)(nil)
	_ repo.AuditLogRepository  = (*AuditLogRepository)(nil)
	_ repo.TransactionManager  = (*TxManager)(nil)
)
