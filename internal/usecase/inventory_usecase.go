package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"go.uber.org/zap"
)

type InventoryUsecase struct {
	tx    repo.TransactionManager
	clock Clock
	log   *zap.Logger
}

func NewInventoryUsecase(tx repo.TransactionManager, log *zap.Logger) *InventoryUsecase {
	if log == nil {
		log = zap.NewNop()
	}
	return &InventoryUsecase{tx: tx, clock: systemClock{}, log: log}
}

type StockOutput struct {
	ProductID int64 `json:"product_id"`
	Stock     int64 `json:"stock"`
}

// AdminSetStock は在庫数を上書きし、差分を調整履歴と監査ログに残す。
func (u *InventoryUsecase) AdminSetStock(ctx context.Context, adminUserID int64, productID int64, newStock int64, reason string) (StockOutput, error) {
	if adminUserID <= 0 {
		return StockOutput{}, &UnauthorizedError{}
	}
	if productID <= 0 {
		return StockOutput{}, invalid("id", "invalid product id")
	}
	if newStock < 0 {
		return StockOutput{}, invalid("stock", "stock must be >= 0")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return StockOutput{}, invalid("reason", "reason required")
	}

	var before int64
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		//変更前の在庫（before）
		cur, err := r.Inventory().FindStock(ctx, productID)
		if errors.Is(err, repo.ErrNotFound) {
			return notFound("product", productID)
		}
		if err != nil {
			return fmt.Errorf("read stock: %w", err)
		}
		before = cur

		//在庫の現在値を更新
		if err := r.Inventory().SetStock(ctx, productID, newStock); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return notFound("product", productID)
			}
			return fmt.Errorf("set stock: %w", err)
		}

		now := u.clock.Now()
		actor := adminUserID
		if err := r.Inventory().CreateAdjustment(ctx, model.InventoryAdjustment{
			ProductID:   productID,
			ActorUserID: &actor,
			Delta:       newStock - before,
			Reason:      model.AdjustmentManual,
			Note:        reason,
			CreatedAt:   now,
		}); err != nil {
			return fmt.Errorf("create adjustment: %w", err)
		}

		//監査ログ
		return r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  adminUserID,
			Action:       model.AuditActionUpdateStock,
			ResourceType: model.AuditResourceProduct,
			ResourceID:   productID,
			BeforeJSON:   fmt.Sprintf(`{"stock":%d}`, before),
			AfterJSON:    fmt.Sprintf(`{"stock":%d}`, newStock),
			CreatedAt:    now,
		})
	})
	if err != nil {
		return StockOutput{}, err
	}

	u.log.Info("stock updated",
		zap.Int64("product_id", productID),
		zap.Int64("before", before),
		zap.Int64("after", newStock),
		zap.Int64("by", adminUserID),
	)
	return StockOutput{ProductID: productID, Stock: newStock}, nil
}
