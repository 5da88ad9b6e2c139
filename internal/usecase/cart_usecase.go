package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storefront/internal/domain/model"
	"storefront/internal/domain/pricing"
	repo "storefront/internal/repository"

	"go.uber.org/zap"
)

type CartDeps struct {
	Tx        repo.TransactionManager
	Carts     repo.CartRepository
	Products  repo.ProductRepository
	Inventory repo.InventoryRepository
	Coupons   repo.CouponRepository

	Tax      pricing.TaxPolicy
	Shipping pricing.ShippingPolicy

	Clock  Clock
	Logger *zap.Logger

	// 1明細あたりの数量上限（0なら無制限）
	MaxLineQuantity int64
}

// CartUsecase は /cart の業務ロジック。
// 変更はすべて「最新を読む → 変更 → 集計し直す → 保存」の順で行う。
type CartUsecase struct {
	tx        repo.TransactionManager
	carts     repo.CartRepository
	products  repo.ProductRepository
	inventory repo.InventoryRepository
	coupons   repo.CouponRepository
	tax       pricing.TaxPolicy
	shipping  pricing.ShippingPolicy
	clock     Clock
	log       *zap.Logger
	maxQty    int64
}

func NewCartUsecase(d CartDeps) *CartUsecase {
	u := &CartUsecase{
		tx:        d.Tx,
		carts:     d.Carts,
		products:  d.Products,
		inventory: d.Inventory,
		coupons:   d.Coupons,
		tax:       d.Tax,
		shipping:  d.Shipping,
		clock:     d.Clock,
		log:       d.Logger,
		maxQty:    d.MaxLineQuantity,
	}
	if u.clock == nil {
		u.clock = systemClock{}
	}
	if u.log == nil {
		u.log = zap.NewNop()
	}
	return u
}

// price は unit_price_snapshot（追加時点の価格）
type CartItemOutput struct {
	ID            int64  `json:"id"`
	ProductID     int64  `json:"product_id"`
	VariantID     *int64 `json:"variant_id,omitempty"`
	Name          string `json:"name"`
	Price         int64  `json:"price"`
	Quantity      int64  `json:"quantity"`
	LineTotal     int64  `json:"line_total"`
	SavedForLater bool   `json:"saved_for_later"`
}

type CartOutput struct {
	ID      int64            `json:"id"`
	Items   []CartItemOutput `json:"items"`
	Coupons []string         `json:"coupons"`
	Totals  pricing.Totals   `json:"totals"`
}

type AddCartItemInput struct {
	ProductID int64
	VariantID *int64
	Quantity  int64
}

// GetCart はカート取得（無ければ作って空を返す）。
func (u *CartUsecase) GetCart(ctx context.Context, id Identity) (CartOutput, error) {
	owner, err := id.CartOwner()
	if err != nil {
		return CartOutput{}, err
	}

	cart, err := u.carts.GetOrCreateByOwner(ctx, owner)
	if err != nil {
		return CartOutput{}, fmt.Errorf("get cart: %w", err)
	}
	return u.toCartOutput(ctx, cart), nil
}

// AddItem はカートに追加（同じ商品・同じバリエーションは数量加算）。
func (u *CartUsecase) AddItem(ctx context.Context, id Identity, in AddCartItemInput) (CartOutput, error) {
	owner, err := id.CartOwner()
	if err != nil {
		return CartOutput{}, err
	}
	if in.ProductID <= 0 {
		return CartOutput{}, invalid("product_id", "invalid product_id")
	}
	if err := u.checkQuantity(in.Quantity); err != nil {
		return CartOutput{}, err
	}

	// 商品チェック（公開のみ）
	p, err := u.products.FindByID(ctx, in.ProductID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && !p.IsActive) {
		return CartOutput{}, notFound("product", in.ProductID)
	}
	if err != nil {
		return CartOutput{}, fmt.Errorf("find product: %w", err)
	}
	if in.VariantID != nil {
		if _, err := u.products.FindVariant(ctx, p.ID, *in.VariantID); errors.Is(err, repo.ErrNotFound) {
			return CartOutput{}, notFound("variant", *in.VariantID)
		} else if err != nil {
			return CartOutput{}, fmt.Errorf("find variant: %w", err)
		}
	}

	cart, err := u.carts.GetOrCreateByOwner(ctx, owner)
	if err != nil {
		return CartOutput{}, fmt.Errorf("get cart: %w", err)
	}

	newQty := in.Quantity
	idx, exists := cart.FindLine(in.ProductID, in.VariantID)
	if exists {
		newQty += cart.Items[idx].Quantity
	}
	if err := u.checkQuantity(newQty); err != nil {
		return CartOutput{}, err
	}
	if err := u.checkStock(ctx, p, newQty); err != nil {
		return CartOutput{}, err
	}

	if exists {
		cart.Items[idx].Quantity = newQty
	} else {
		cart.Items = append(cart.Items, model.CartItem{
			CartID:    cart.ID,
			ProductID: p.ID,
			VariantID: in.VariantID,
			Quantity:  newQty,
			// 追加時点の価格
			UnitPriceSnapshot: p.Price,
		})
	}

	return u.save(ctx, &cart)
}

// UpdateItemQuantity は数量を上書き（0は削除と同じ）。
func (u *CartUsecase) UpdateItemQuantity(ctx context.Context, id Identity, itemID int64, qty int64) (CartOutput, error) {
	if qty == 0 {
		return u.RemoveItem(ctx, id, itemID)
	}
	if err := u.checkQuantity(qty); err != nil {
		return CartOutput{}, err
	}

	cart, idx, err := u.loadLine(ctx, id, itemID)
	if err != nil {
		return CartOutput{}, err
	}

	// 非公開になった商品は増やせない
	p, err := u.products.FindByID(ctx, cart.Items[idx].ProductID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && !p.IsActive) {
		return CartOutput{}, notFound("product", cart.Items[idx].ProductID)
	}
	if err != nil {
		return CartOutput{}, fmt.Errorf("find product: %w", err)
	}
	if err := u.checkStock(ctx, p, qty); err != nil {
		return CartOutput{}, err
	}

	cart.Items[idx].Quantity = qty
	return u.save(ctx, &cart)
}

func (u *CartUsecase) RemoveItem(ctx context.Context, id Identity, itemID int64) (CartOutput, error) {
	cart, idx, err := u.loadLine(ctx, id, itemID)
	if err != nil {
		return CartOutput{}, err
	}

	cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
	return u.save(ctx, &cart)
}

// あとで買う（集計・注文の対象外）の切り替え
func (u *CartUsecase) SetSavedForLater(ctx context.Context, id Identity, itemID int64, saved bool) (CartOutput, error) {
	cart, idx, err := u.loadLine(ctx, id, itemID)
	if err != nil {
		return CartOutput{}, err
	}

	cart.Items[idx].SavedForLater = saved
	return u.save(ctx, &cart)
}

// Clear は明細・クーポンを削除して集計を0にする。
func (u *CartUsecase) Clear(ctx context.Context, id Identity) (CartOutput, error) {
	owner, err := id.CartOwner()
	if err != nil {
		return CartOutput{}, err
	}

	cart, err := u.carts.GetOrCreateByOwner(ctx, owner)
	if err != nil {
		return CartOutput{}, fmt.Errorf("get cart: %w", err)
	}

	cart.Items = []model.CartItem{}
	cart.Coupons = []model.CartCoupon{}
	return u.save(ctx, &cart)
}

func (u *CartUsecase) ApplyCoupon(ctx context.Context, id Identity, code string) (CartOutput, error) {
	owner, err := id.CartOwner()
	if err != nil {
		return CartOutput{}, err
	}
	code = normalizeCode(code)
	if code == "" {
		return CartOutput{}, invalid("code", "required")
	}

	c, err := u.coupons.FindByCode(ctx, code)
	if errors.Is(err, repo.ErrNotFound) {
		return CartOutput{}, &NotFoundError{Resource: "coupon", ID: code}
	}
	if err != nil {
		return CartOutput{}, fmt.Errorf("find coupon: %w", err)
	}
	if !c.Usable(u.clock.Now()) {
		return CartOutput{}, invalid("code", "coupon is not available")
	}

	cart, err := u.carts.GetOrCreateByOwner(ctx, owner)
	if err != nil {
		return CartOutput{}, fmt.Errorf("get cart: %w", err)
	}

	cart.AddCoupon(c.Code)
	return u.save(ctx, &cart)
}

func (u *CartUsecase) RemoveCoupon(ctx context.Context, id Identity, code string) (CartOutput, error) {
	owner, err := id.CartOwner()
	if err != nil {
		return CartOutput{}, err
	}

	cart, err := u.carts.FindByOwner(ctx, owner)
	if errors.Is(err, repo.ErrNotFound) {
		return CartOutput{}, notFound("cart", 0)
	}
	if err != nil {
		return CartOutput{}, fmt.Errorf("find cart: %w", err)
	}

	if !cart.RemoveCoupon(normalizeCode(code)) {
		return CartOutput{}, &NotFoundError{Resource: "coupon", ID: normalizeCode(code)}
	}
	return u.save(ctx, &cart)
}

// MergeGuestCart はログイン時にゲストのカートをユーザーのカートへ移す。
// 同じ商品は数量を合算し（上限で切り詰め）、ゲストのカートは空にする。
func (u *CartUsecase) MergeGuestCart(ctx context.Context, userID int64, sessionID string) (CartOutput, error) {
	if userID <= 0 {
		return CartOutput{}, &UnauthorizedError{}
	}
	guestOwner, err := model.NewCartOwner(0, sessionID)
	if err != nil {
		return CartOutput{}, invalid("session_id", "required")
	}
	userOwner, err := model.NewCartOwner(userID, "")
	if err != nil {
		return CartOutput{}, invalid("user_id", "invalid user")
	}

	var merged model.Cart
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		userCart, err := r.Carts().GetOrCreateByOwner(ctx, userOwner)
		if err != nil {
			return fmt.Errorf("get user cart: %w", err)
		}

		guest, err := r.Carts().FindByOwner(ctx, guestOwner)
		if errors.Is(err, repo.ErrNotFound) {
			merged = userCart
			return nil
		}
		if err != nil {
			return fmt.Errorf("find guest cart: %w", err)
		}

		moved := 0
		for _, it := range guest.Items {
			if idx, ok := userCart.FindLine(it.ProductID, it.VariantID); ok {
				q := userCart.Items[idx].Quantity + it.Quantity
				if u.maxQty > 0 && q > u.maxQty {
					q = u.maxQty
				}
				userCart.Items[idx].Quantity = q
			} else {
				userCart.Items = append(userCart.Items, model.CartItem{
					CartID:            userCart.ID,
					ProductID:         it.ProductID,
					VariantID:         it.VariantID,
					Quantity:          it.Quantity,
					UnitPriceSnapshot: it.UnitPriceSnapshot,
					SavedForLater:     it.SavedForLater,
				})
			}
			moved++
		}
		for _, code := range guest.CouponCodes() {
			userCart.AddCoupon(code)
		}

		if err := u.recalculate(ctx, &userCart); err != nil {
			return err
		}
		if err := r.Carts().Save(ctx, &userCart); err != nil {
			return fmt.Errorf("save user cart: %w", err)
		}
		if err := r.Carts().Clear(ctx, guest.ID); err != nil {
			return fmt.Errorf("clear guest cart: %w", err)
		}

		u.log.Info("guest cart merged", zap.Int64("user_id", userID), zap.Int("lines", moved))
		merged = userCart
		return nil
	})
	if err != nil {
		return CartOutput{}, err
	}
	return u.toCartOutput(ctx, merged), nil
}

func (u *CartUsecase) loadLine(ctx context.Context, id Identity, itemID int64) (model.Cart, int, error) {
	owner, err := id.CartOwner()
	if err != nil {
		return model.Cart{}, -1, err
	}
	if itemID <= 0 {
		return model.Cart{}, -1, invalid("id", "invalid id")
	}

	cart, err := u.carts.FindByOwner(ctx, owner)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Cart{}, -1, notFound("cart item", itemID)
	}
	if err != nil {
		return model.Cart{}, -1, fmt.Errorf("find cart: %w", err)
	}

	//他人の明細は「存在しない」
	idx, ok := cart.FindItem(itemID)
	if !ok {
		return model.Cart{}, -1, notFound("cart item", itemID)
	}
	return cart, idx, nil
}

func (u *CartUsecase) checkQuantity(qty int64) error {
	if qty < 1 {
		return invalid("quantity", "must be at least 1")
	}
	if u.maxQty > 0 && qty > u.maxQty {
		return invalid("quantity", fmt.Sprintf("must be at most %d", u.maxQty))
	}
	return nil
}

func (u *CartUsecase) checkStock(ctx context.Context, p model.Product, qty int64) error {
	stock, err := u.inventory.FindStock(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("read stock: %w", err)
	}
	if qty > stock {
		return &InsufficientStockError{ProductID: p.ID, Name: p.Name, Requested: qty, Available: stock}
	}
	return nil
}

// 集計し直してから保存
func (u *CartUsecase) save(ctx context.Context, cart *model.Cart) (CartOutput, error) {
	if err := u.recalculate(ctx, cart); err != nil {
		return CartOutput{}, err
	}
	if err := u.carts.Save(ctx, cart); err != nil {
		return CartOutput{}, fmt.Errorf("save cart: %w", err)
	}
	return u.toCartOutput(ctx, *cart), nil
}

// 適用中のクーポンを読み直し、使えなくなったものは外してから集計する。
func (u *CartUsecase) recalculate(ctx context.Context, cart *model.Cart) error {
	var discounts []pricing.Discount

	if codes := cart.CouponCodes(); len(codes) > 0 {
		coupons, err := u.coupons.FindByCodes(ctx, codes)
		if err != nil {
			return fmt.Errorf("find coupons: %w", err)
		}

		now := u.clock.Now()
		usable := make(map[string]bool, len(coupons))
		for _, c := range coupons {
			if c.Usable(now) {
				discounts = append(discounts, c)
				usable[normalizeCode(c.Code)] = true
			}
		}
		for _, code := range codes {
			if !usable[normalizeCode(code)] {
				cart.RemoveCoupon(code)
			}
		}
	}

	cart.Recalculate(discounts, u.tax, u.shipping)
	return nil
}

func (u *CartUsecase) toCartOutput(ctx context.Context, cart model.Cart) CartOutput {
	names := make(map[int64]string, len(cart.Items))
	items := make([]CartItemOutput, 0, len(cart.Items))
	for _, it := range cart.Items {
		name, ok := names[it.ProductID]
		if !ok {
			//表示用なので取れなくても続ける
			if p, err := u.products.FindByID(ctx, it.ProductID); err == nil {
				name = p.Name
			}
			names[it.ProductID] = name
		}
		items = append(items, CartItemOutput{
			ID:            it.ID,
			ProductID:     it.ProductID,
			VariantID:     it.VariantID,
			Name:          name,
			Price:         it.UnitPriceSnapshot,
			Quantity:      it.Quantity,
			LineTotal:     it.LineTotal(),
			SavedForLater: it.SavedForLater,
		})
	}

	return CartOutput{
		ID:      cart.ID,
		Items:   items,
		Coupons: cart.CouponCodes(),
		Totals:  cart.Totals,
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
