package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/domain/pricing"
	repo "storefront/internal/repository"
	"storefront/internal/validator"

	"go.uber.org/zap"
)

type OrderDeps struct {
	Tx        repo.TransactionManager
	Carts     repo.CartRepository
	Products  repo.ProductRepository
	Inventory repo.InventoryRepository
	Orders    repo.OrderRepository

	// nil なら冪等キーの同時実行ロックはしない（DBの一意制約だけ）
	Locker  IdempotencyLocker
	Metrics CheckoutMetrics
	Clock   Clock
	IDs     IDGenerator
	Logger  *zap.Logger

	// 1注文あたりの明細数の上限（0なら無制限）
	MaxOrderLines int
}

type OrderUsecase struct {
	tx        repo.TransactionManager
	carts     repo.CartRepository
	products  repo.ProductRepository
	inventory repo.InventoryRepository
	orders    repo.OrderRepository
	locker    IdempotencyLocker
	metrics   CheckoutMetrics
	clock     Clock
	ids       IDGenerator
	log       *zap.Logger
	maxLines  int
}

func NewOrderUsecase(d OrderDeps) *OrderUsecase {
	u := &OrderUsecase{
		tx:        d.Tx,
		carts:     d.Carts,
		products:  d.Products,
		inventory: d.Inventory,
		orders:    d.Orders,
		locker:    d.Locker,
		metrics:   d.Metrics,
		clock:     d.Clock,
		ids:       d.IDs,
		log:       d.Logger,
		maxLines:  d.MaxOrderLines,
	}
	if u.metrics == nil {
		u.metrics = nopMetrics{}
	}
	if u.clock == nil {
		u.clock = systemClock{}
	}
	if u.ids == nil {
		u.ids = uuidGenerator{}
	}
	if u.log == nil {
		u.log = zap.NewNop()
	}
	return u
}

type CreateOrderInput struct {
	ShippingAddress model.Address
	BillingAddress  model.Address
	PaymentMethod   string
	ShippingMethod  string
	Notes           string
	// ゲスト注文のときは必須
	GuestEmail     string
	IdempotencyKey string
}

type OrderItemOutput struct {
	ProductID   int64  `json:"product_id"`
	VariantID   *int64 `json:"variant_id,omitempty"`
	VariantName string `json:"variant_name,omitempty"`
	Name        string `json:"name"`
	SKU         string `json:"sku"`
	Price       int64  `json:"price"`
	Quantity    int64  `json:"quantity"`
	Subtotal    int64  `json:"subtotal"`
}

type OrderHistoryOutput struct {
	Status    string    `json:"status"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

type OrderOutput struct {
	ID              int64                `json:"id"`
	OrderNumber     string               `json:"order_number"`
	UserID          *int64               `json:"user_id,omitempty"`
	GuestEmail      string               `json:"guest_email,omitempty"`
	Status          string               `json:"status"`
	Totals          pricing.Totals       `json:"totals"`
	Coupons         []string             `json:"coupons"`
	ShippingAddress model.Address        `json:"shipping_address"`
	BillingAddress  model.Address        `json:"billing_address"`
	PaymentMethod   string               `json:"payment_method"`
	ShippingMethod  string               `json:"shipping_method"`
	Notes           string               `json:"notes,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	Items           []OrderItemOutput    `json:"items"`
	History         []OrderHistoryOutput `json:"history"`
}

// CreateOrder はカートから注文を作る。
// 在庫チェック → スナップショット → 在庫減算 → 注文保存＋カートを空に、の順。
// 途中で失敗したら減らした在庫を戻してからエラーを返す。
func (u *OrderUsecase) CreateOrder(ctx context.Context, id Identity, in CreateOrderInput) (OrderOutput, error) {
	owner, err := id.CartOwner()
	if err != nil {
		return OrderOutput{}, err
	}
	if err := validateCreateOrder(owner, &in); err != nil {
		return OrderOutput{}, err
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if len(key) > 255 {
		return OrderOutput{}, invalid("idempotency_key", "too long")
	}

	if key != "" {
		//同じキーなら同じ結果
		if existing, found, err := u.orders.FindByIdempotencyKey(ctx, owner.Key(), key); err != nil {
			return OrderOutput{}, fmt.Errorf("find order by idempotency key: %w", err)
		} else if found {
			return toOrderOutput(existing), nil
		}

		if u.locker != nil {
			token, locked, err := u.locker.TryLock(ctx, owner.Key(), key)
			if err != nil {
				return OrderOutput{}, fmt.Errorf("idempotency lock: %w", err)
			}
			if !locked {
				u.metrics.CheckoutFailed(KindConflict.String())
				return OrderOutput{}, &ConflictError{Message: "order with this idempotency key is being processed"}
			}
			defer func() {
				if err := u.locker.Unlock(context.WithoutCancel(ctx), owner.Key(), key, token); err != nil {
					u.log.Warn("idempotency unlock failed", zap.String("owner", owner.Key()), zap.Error(err))
				}
			}()

			//ロック待ちの間に先行リクエストが完了している場合
			if existing, found, err := u.orders.FindByIdempotencyKey(ctx, owner.Key(), key); err != nil {
				return OrderOutput{}, fmt.Errorf("find order by idempotency key: %w", err)
			} else if found {
				return toOrderOutput(existing), nil
			}
		}
	}

	out, err := u.placeOrder(ctx, owner, in, key)
	if err != nil {
		u.metrics.CheckoutFailed(KindOf(err).String())
		return OrderOutput{}, err
	}
	u.metrics.OrderCreated()
	return out, nil
}

func (u *OrderUsecase) placeOrder(ctx context.Context, owner model.CartOwner, in CreateOrderInput, key string) (OrderOutput, error) {
	cart, err := u.carts.FindByOwner(ctx, owner)
	if errors.Is(err, repo.ErrNotFound) {
		return OrderOutput{}, &EmptyCartError{}
	}
	if err != nil {
		return OrderOutput{}, fmt.Errorf("find cart: %w", err)
	}

	included := cart.IncludedItems()
	if len(included) == 0 {
		return OrderOutput{}, &EmptyCartError{}
	}
	if u.maxLines > 0 && len(included) > u.maxLines {
		return OrderOutput{}, invalid("items", fmt.Sprintf("too many items in cart (max %d)", u.maxLines))
	}

	now := u.clock.Now()

	//在庫チェック＋スナップショット（ここでは何も変更しない）
	items, requested, err := u.snapshotItems(ctx, included)
	if err != nil {
		return OrderOutput{}, err
	}

	order := model.Order{
		OrderNumber:     newOrderNumber(now, u.ids.NewID()),
		GuestEmail:      strings.TrimSpace(in.GuestEmail),
		OwnerKey:        owner.Key(),
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  in.BillingAddress,
		PaymentMethod:   model.PaymentMethod(in.PaymentMethod),
		ShippingMethod:  model.ShippingMethod(in.ShippingMethod),
		Notes:           strings.TrimSpace(in.Notes),
		Totals:          cart.Totals,
		CouponCodes:     strings.Join(cart.CouponCodes(), ","),
		Items:           items,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if !owner.IsGuest() {
		uid := owner.UserID
		order.UserID = &uid
	}
	if key != "" {
		k := key
		order.IdempotencyKey = &k
	}
	order.Start(now)

	//在庫減算（商品ごとに条件付き更新）
	res := newStockReservation(u.inventory)
	for _, it := range items {
		ok, err := res.reserve(ctx, it.ProductID, it.Quantity)
		if err != nil {
			return u.rollback(ctx, res, err)
		}
		if !ok {
			available, _ := u.inventory.FindStock(context.WithoutCancel(ctx), it.ProductID)
			return u.rollback(ctx, res, &InsufficientStockError{
				ProductID: it.ProductID,
				Name:      it.ProductNameSnapshot,
				Requested: requested[it.ProductID],
				Available: available,
			})
		}
	}

	//在庫を減らした後は中断せず最後まで進める
	persistCtx := context.WithoutCancel(ctx)
	err = u.tx.WithinTx(persistCtx, func(r repo.TxRepos) error {
		//カート行をロックして読み直す（同じカートの同時注文・途中の変更を弾く）
		locked, err := r.Carts().FindByIDForUpdate(persistCtx, cart.ID)
		if errors.Is(err, repo.ErrNotFound) {
			return &EmptyCartError{}
		}
		if err != nil {
			return fmt.Errorf("lock cart: %w", err)
		}
		if len(locked.IncludedItems()) == 0 {
			return &EmptyCartError{}
		}
		if !locked.SameContent(cart) {
			return &ConflictError{Message: "cart changed during checkout"}
		}

		if err := r.Orders().Create(persistCtx, &order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		for _, l := range res.lines() {
			if err := r.Inventory().CreateAdjustment(persistCtx, model.InventoryAdjustment{
				ProductID:   l.productID,
				ActorUserID: order.UserID,
				OrderNumber: order.OrderNumber,
				Delta:       -l.qty,
				Reason:      model.AdjustmentOrderReserved,
				CreatedAt:   now,
			}); err != nil {
				return fmt.Errorf("create adjustment: %w", err)
			}
		}
		//カートを空に（明細・クーポン・集計）
		if err := r.Carts().Clear(persistCtx, cart.ID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		return nil
	})
	if err != nil {
		if key != "" && errors.Is(err, repo.ErrDuplicate) {
			return u.resolveDuplicate(persistCtx, res, owner, key, err)
		}
		return u.rollback(persistCtx, res, err)
	}

	u.log.Info("order created",
		zap.String("order_number", order.OrderNumber),
		zap.String("owner", owner.Key()),
		zap.Int("lines", len(order.Items)),
		zap.Int64("grand_total", order.Totals.GrandTotal),
	)
	return toOrderOutput(order), nil
}

// 各明細の商品を読み直し、名前/SKUは最新、単価はカート追加時点の値で固定する。
// 同じ商品が複数行ある場合は合計数量で在庫を確認する。
func (u *OrderUsecase) snapshotItems(ctx context.Context, lines []model.CartItem) ([]model.OrderItem, map[int64]int64, error) {
	requested := make(map[int64]int64, len(lines))
	for _, l := range lines {
		requested[l.ProductID] += l.Quantity
	}

	products := make(map[int64]model.Product, len(requested))
	items := make([]model.OrderItem, 0, len(lines))

	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok {
			var err error
			p, err = u.products.FindByID(ctx, l.ProductID)
			if errors.Is(err, repo.ErrNotFound) || (err == nil && !p.IsActive) {
				return nil, nil, notFound("product", l.ProductID)
			}
			if err != nil {
				return nil, nil, fmt.Errorf("find product %d: %w", l.ProductID, err)
			}

			stock, err := u.inventory.FindStock(ctx, l.ProductID)
			if err != nil {
				return nil, nil, fmt.Errorf("read stock %d: %w", l.ProductID, err)
			}
			if stock < requested[l.ProductID] {
				return nil, nil, &InsufficientStockError{
					ProductID: p.ID,
					Name:      p.Name,
					Requested: requested[l.ProductID],
					Available: stock,
				}
			}
			products[l.ProductID] = p
		}

		item := model.OrderItem{
			ProductID:           p.ID,
			ProductNameSnapshot: p.Name,
			SKUSnapshot:         p.SKU,
			UnitPriceSnapshot:   l.UnitPriceSnapshot,
			Quantity:            l.Quantity,
			Subtotal:            l.LineTotal(),
		}
		if l.VariantID != nil {
			v, err := u.products.FindVariant(ctx, p.ID, *l.VariantID)
			if errors.Is(err, repo.ErrNotFound) {
				return nil, nil, notFound("variant", *l.VariantID)
			}
			if err != nil {
				return nil, nil, fmt.Errorf("find variant %d: %w", *l.VariantID, err)
			}
			vid := v.ID
			item.VariantID = &vid
			item.VariantName = v.Name
			item.SKUSnapshot = v.SKU
		}
		items = append(items, item)
	}
	return items, requested, nil
}

// 減らした在庫を戻してから元のエラーを返す。戻せなければ RollbackError。
func (u *OrderUsecase) rollback(ctx context.Context, res *stockReservation, cause error) (OrderOutput, error) {
	if rbErr := res.release(context.WithoutCancel(ctx)); rbErr != nil {
		u.metrics.StockRollbackFailed()
		u.log.Error("stock rollback failed; stock and orders may be inconsistent",
			zap.NamedError("cause", cause),
			zap.Error(rbErr),
		)
		return OrderOutput{}, &RollbackError{Cause: cause, Failures: rbErr}
	}
	return OrderOutput{}, cause
}

// 同じ冪等キーの注文が先に保存された（ロック無しで同時に来た場合）
func (u *OrderUsecase) resolveDuplicate(ctx context.Context, res *stockReservation, owner model.CartOwner, key string, cause error) (OrderOutput, error) {
	if _, err := u.rollback(ctx, res, cause); err != nil && KindOf(err) == KindRollback {
		return OrderOutput{}, err
	}
	existing, found, err := u.orders.FindByIdempotencyKey(ctx, owner.Key(), key)
	if err == nil && found {
		return toOrderOutput(existing), nil
	}
	return OrderOutput{}, &ConflictError{Message: "idempotency conflict"}
}

// 注文詳細。本人（または管理者）以外は「存在しない扱い」にする
func (u *OrderUsecase) GetOrder(ctx context.Context, requester Identity, orderID int64) (OrderOutput, error) {
	if requester.UserID <= 0 {
		return OrderOutput{}, &UnauthorizedError{}
	}
	if orderID <= 0 {
		return OrderOutput{}, invalid("id", "invalid id")
	}

	o, err := u.orders.FindByID(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return OrderOutput{}, notFound("order", orderID)
	}
	if err != nil {
		return OrderOutput{}, fmt.Errorf("find order: %w", err)
	}
	if !requester.IsAdmin() && !o.OwnedBy(requester.UserID) {
		return OrderOutput{}, notFound("order", orderID)
	}
	return toOrderOutput(o), nil
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64, page, limit int) ([]OrderOutput, int64, error) {
	if userID <= 0 {
		return []OrderOutput{}, 0, &UnauthorizedError{}
	}
	if page < 1 {
		return []OrderOutput{}, 0, invalid("page", "invalid page")
	}
	if limit < 1 || limit > 100 {
		return []OrderOutput{}, 0, invalid("limit", "invalid limit")
	}

	orders, total, err := u.orders.ListByUserID(ctx, userID, page, limit)
	if err != nil {
		return []OrderOutput{}, 0, fmt.Errorf("list orders: %w", err)
	}

	outs := make([]OrderOutput, 0, len(orders))
	for _, o := range orders {
		outs = append(outs, toOrderOutput(o))
	}
	return outs, total, nil
}

// CancelOrder は本人か管理者だけが、出荷前の注文をキャンセルできる。
// 注文行をロックしてから状態を確認するので、二重キャンセル（在庫の二重戻し）は起きない。
func (u *OrderUsecase) CancelOrder(ctx context.Context, requester Identity, orderID int64, reason string) (OrderOutput, error) {
	if requester.UserID <= 0 {
		return OrderOutput{}, &UnauthorizedError{}
	}
	if orderID <= 0 {
		return OrderOutput{}, invalid("id", "invalid id")
	}

	var out OrderOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return notFound("order", orderID)
		}
		if err != nil {
			return fmt.Errorf("find order: %w", err)
		}

		if !requester.IsAdmin() && !o.OwnedBy(requester.UserID) {
			return &ForbiddenError{Reason: "not the owner of this order"}
		}

		actor := requester.UserID
		before := o.Status()
		if err := cancelInTx(ctx, r, &o, strings.TrimSpace(reason), &actor, u.clock.Now()); err != nil {
			return err
		}

		if requester.IsAdmin() {
			if err := r.AuditLogs().Create(ctx, statusAudit(actor, model.AuditActionCancelOrder, o.ID, before, o.Status(), u.clock.Now())); err != nil {
				return fmt.Errorf("create audit log: %w", err)
			}
		}

		out = toOrderOutput(o)
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}

	u.metrics.OrderCanceled()
	u.log.Info("order canceled", zap.String("order_number", out.OrderNumber), zap.Int64("by", requester.UserID))
	return out, nil
}

// 注文をキャンセルにして在庫を戻す。呼び出し側で注文行をロックしていること。
func cancelInTx(ctx context.Context, r repo.TxRepos, o *model.Order, reason string, actor *int64, now time.Time) error {
	from := o.Status()
	entry, err := o.Cancel(reason, actor, now)
	if err != nil {
		return &InvalidTransitionError{From: from, To: model.OrderStatusCanceled, Message: model.ErrOrderNotCancelable.Error()}
	}

	if err := r.Orders().AppendStatus(ctx, entry); err != nil {
		return fmt.Errorf("append status: %w", err)
	}

	//在庫戻し
	for _, it := range o.Items {
		if err := r.Inventory().IncreaseStock(ctx, it.ProductID, it.Quantity); err != nil {
			return fmt.Errorf("restore stock (product %d): %w", it.ProductID, err)
		}
		if err := r.Inventory().CreateAdjustment(ctx, model.InventoryAdjustment{
			ProductID:   it.ProductID,
			ActorUserID: actor,
			OrderNumber: o.OrderNumber,
			Delta:       it.Quantity,
			Reason:      model.AdjustmentOrderCanceled,
			Note:        entry.Note,
			CreatedAt:   now,
		}); err != nil {
			return fmt.Errorf("create adjustment: %w", err)
		}
	}
	return nil
}

func statusAudit(actor int64, action model.AuditAction, orderID int64, before, after model.OrderStatus, now time.Time) model.AuditLog {
	return model.AuditLog{
		ActorUserID:  actor,
		Action:       action,
		ResourceType: model.AuditResourceOrder,
		ResourceID:   orderID,
		BeforeJSON:   `{"status":"` + string(before) + `"}`,
		AfterJSON:    `{"status":"` + string(after) + `"}`,
		CreatedAt:    now,
	}
}

func validateCreateOrder(owner model.CartOwner, in *CreateOrderInput) error {
	if field, missing := in.ShippingAddress.MissingField(); missing {
		return invalid("shipping_address."+field, "required")
	}
	if field, missing := in.BillingAddress.MissingField(); missing {
		return invalid("billing_address."+field, "required")
	}

	in.PaymentMethod = strings.ToUpper(strings.TrimSpace(in.PaymentMethod))
	if !model.PaymentMethod(in.PaymentMethod).Valid() {
		return invalid("payment_method", "unsupported payment method")
	}
	in.ShippingMethod = strings.ToUpper(strings.TrimSpace(in.ShippingMethod))
	if !model.ShippingMethod(in.ShippingMethod).Valid() {
		return invalid("shipping_method", "unsupported shipping method")
	}

	if len(in.Notes) > 1000 {
		return invalid("notes", "too long")
	}

	//ゲスト注文はメール必須
	if owner.IsGuest() && !validator.IsEmailLike(strings.TrimSpace(in.GuestEmail)) {
		return invalid("email", "valid email required for guest checkout")
	}
	return nil
}

func newOrderNumber(now time.Time, id string) string {
	id = strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(id) > 8 {
		id = id[:8]
	}
	return "ORD-" + now.UTC().Format("20060102") + "-" + id
}

func toOrderOutput(o model.Order) OrderOutput {
	items := make([]OrderItemOutput, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemOutput{
			ProductID:   it.ProductID,
			VariantID:   it.VariantID,
			VariantName: it.VariantName,
			Name:        it.ProductNameSnapshot,
			SKU:         it.SKUSnapshot,
			Price:       it.UnitPriceSnapshot,
			Quantity:    it.Quantity,
			Subtotal:    it.Subtotal,
		})
	}

	history := make([]OrderHistoryOutput, 0, len(o.History))
	for _, h := range o.History {
		history = append(history, OrderHistoryOutput{
			Status:    string(h.Status),
			Note:      h.Note,
			CreatedAt: h.CreatedAt,
		})
	}

	return OrderOutput{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		UserID:          o.UserID,
		GuestEmail:      o.GuestEmail,
		Status:          string(o.Status()),
		Totals:          o.Totals,
		Coupons:         o.Coupons(),
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		PaymentMethod:   string(o.PaymentMethod),
		ShippingMethod:  string(o.ShippingMethod),
		Notes:           o.Notes,
		CreatedAt:       o.CreatedAt,
		Items:           items,
		History:         history,
	}
}
