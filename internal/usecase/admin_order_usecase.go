package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"go.uber.org/zap"
)

type AdminOrderUsecase struct {
	tx      repo.TransactionManager
	orders  repo.OrderRepository
	metrics CheckoutMetrics
	clock   Clock
	log     *zap.Logger
}

func NewAdminOrderUsecase(tx repo.TransactionManager, orders repo.OrderRepository, metrics CheckoutMetrics, log *zap.Logger) *AdminOrderUsecase {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminOrderUsecase{tx: tx, orders: orders, metrics: metrics, clock: systemClock{}, log: log}
}

type AdminUpdateOrderStatusInput struct {
	Status string
	Note   string
}

// 注文一覧
func (u *AdminOrderUsecase) List(ctx context.Context, f repo.AdminOrderListFilter) ([]OrderOutput, int64, error) {
	// page/limitの最低限チェック
	if f.Page < 1 {
		return []OrderOutput{}, 0, invalid("page", "invalid page")
	}
	if f.Limit < 1 || f.Limit > 100 {
		return []OrderOutput{}, 0, invalid("limit", "invalid limit")
	}
	if f.Status != "" {
		st, err := model.ParseOrderStatus(strings.ToUpper(strings.TrimSpace(f.Status)))
		if err != nil {
			return []OrderOutput{}, 0, invalid("status", "invalid status")
		}
		f.Status = string(st)
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return []OrderOutput{}, 0, invalid("from", "from must be before to")
	}

	orders, total, err := u.orders.ListAdmin(ctx, f)
	if err != nil {
		return []OrderOutput{}, 0, fmt.Errorf("list orders: %w", err)
	}

	outs := make([]OrderOutput, 0, len(orders))
	for _, o := range orders {
		outs = append(outs, toOrderOutput(o))
	}
	return outs, total, nil
}

// ステータス更新。出荷前の注文を CANCELED にしたときだけ在庫を戻す。
// キャンセル済みの注文はどのステータスにも変更できない。
func (u *AdminOrderUsecase) UpdateStatus(ctx context.Context, actorAdminUserID int64, orderID int64, in AdminUpdateOrderStatusInput) (OrderOutput, error) {
	if actorAdminUserID <= 0 {
		return OrderOutput{}, &UnauthorizedError{}
	}
	if orderID <= 0 {
		return OrderOutput{}, invalid("id", "invalid id")
	}

	newStatus, err := model.ParseOrderStatus(strings.ToUpper(strings.TrimSpace(in.Status)))
	if err != nil {
		return OrderOutput{}, invalid("status", "invalid status")
	}
	note := strings.TrimSpace(in.Note)

	var (
		out      OrderOutput
		canceled bool
	)
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return notFound("order", orderID)
		}
		if err != nil {
			return fmt.Errorf("find order: %w", err)
		}

		before := o.Status()
		actor := actorAdminUserID
		now := u.clock.Now()
		action := model.AuditActionUpdateOrderStatus

		if newStatus == model.OrderStatusCanceled && before.Cancelable() {
			//在庫戻しあり（メモは通常のステータス更新と同じ既定値）
			cancelNote := note
			if cancelNote == "" {
				cancelNote = "Status updated to " + string(newStatus)
			}
			if err := cancelInTx(ctx, r, &o, cancelNote, &actor, now); err != nil {
				return err
			}
			action = model.AuditActionCancelOrder
			canceled = true
		} else {
			entry, err := o.TransitionTo(newStatus, note, &actor, now)
			if err != nil {
				return &InvalidTransitionError{From: before, To: newStatus, Message: "cannot change canceled order"}
			}
			if err := r.Orders().AppendStatus(ctx, entry); err != nil {
				return fmt.Errorf("append status: %w", err)
			}
		}

		//監査ログ
		if err := r.AuditLogs().Create(ctx, statusAudit(actor, action, o.ID, before, o.Status(), now)); err != nil {
			return fmt.Errorf("create audit log: %w", err)
		}

		out = toOrderOutput(o)
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}

	if canceled {
		u.metrics.OrderCanceled()
	}
	u.log.Info("order status updated",
		zap.String("order_number", out.OrderNumber),
		zap.String("status", out.Status),
		zap.Int64("by", actorAdminUserID),
	)
	return out, nil
}

// 期間パラメータ（RFC3339）。空なら nil。
func ParseDateTimeRFC3339(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, invalid("datetime", "must be RFC3339")
	}
	return &t, nil
}
