package usecase

import (
	"context"
	"errors"
	"fmt"

	repo "storefront/internal/repository"
)

type reservedLine struct {
	productID int64
	qty       int64
}

// 注文作成中に減らした在庫を覚えておき、後続の失敗時に戻す。
// 減算は商品ごとに独立した条件付き更新（在庫 >= 数量）で行う。
type stockReservation struct {
	inv  repo.InventoryRepository
	held []reservedLine
}

func newStockReservation(inv repo.InventoryRepository) *stockReservation {
	return &stockReservation{inv: inv}
}

// 在庫が足りなければ false（何も変更しない）
func (s *stockReservation) reserve(ctx context.Context, productID, qty int64) (bool, error) {
	ok, err := s.inv.DecreaseStockIfEnough(ctx, productID, qty)
	if err != nil {
		return false, fmt.Errorf("decrease stock (product %d): %w", productID, err)
	}
	if !ok {
		return false, nil
	}
	s.held = append(s.held, reservedLine{productID: productID, qty: qty})
	return true, nil
}

// 減らした分を逆順に戻す。戻せなかった商品はすべてまとめて返す。
func (s *stockReservation) release(ctx context.Context) error {
	var errs []error
	for i := len(s.held) - 1; i >= 0; i-- {
		l := s.held[i]
		if err := s.inv.IncreaseStock(ctx, l.productID, l.qty); err != nil {
			errs = append(errs, fmt.Errorf("restore stock (product %d, qty %d): %w", l.productID, l.qty, err))
		}
	}
	s.held = nil
	return errors.Join(errs...)
}

func (s *stockReservation) lines() []reservedLine {
	return s.held
}
