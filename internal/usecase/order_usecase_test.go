package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"storefront/internal/domain/model"
	"storefront/internal/domain/pricing"
	repo "storefront/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 指定した商品だけ減算に失敗する（在庫チェック後に売り切れた状態）
type soldOutOnReserve struct {
	repo.InventoryRepository
	productID int64
}

func (s soldOutOnReserve) DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error) {
	if productID == s.productID {
		return false, nil
	}
	return s.InventoryRepository.DecreaseStockIfEnough(ctx, productID, qty)
}

func TestCreateOrder_SnapshotsCartAndReservesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out := f.placeOrder(t, user(1))

	assert.Equal(t, int64(40), out.Totals.Subtotal)
	assert.Equal(t, int64(40), out.Totals.GrandTotal)
	assert.Equal(t, string(model.OrderStatusPending), out.Status)
	assert.Equal(t, "CARD", out.PaymentMethod)
	assert.Equal(t, "STANDARD", out.ShippingMethod)
	assert.Equal(t, "ORD-20250314-00000001", out.OrderNumber)
	require.NotNil(t, out.UserID)
	assert.Equal(t, int64(1), *out.UserID)

	require.Len(t, out.Items, 2)
	assert.Equal(t, "Product P", out.Items[0].Name)
	assert.Equal(t, "P-001", out.Items[0].SKU)
	assert.Equal(t, int64(10), out.Items[0].Price)
	assert.Equal(t, int64(2), out.Items[0].Quantity)
	assert.Equal(t, int64(20), out.Items[0].Subtotal)
	assert.Equal(t, "Product Q", out.Items[1].Name)
	assert.Equal(t, int64(20), out.Items[1].Subtotal)

	require.Len(t, out.History, 1)
	assert.Equal(t, "Order created", out.History[0].Note)

	assert.Equal(t, int64(3), f.stock(t, f.p))
	assert.Equal(t, int64(0), f.stock(t, f.q))

	//カートは空
	cart, err := f.carts.GetCart(ctx, user(1))
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Equal(t, int64(0), cart.Totals.GrandTotal)

	adjs := f.store.Adjustments()
	require.Len(t, adjs, 2)
	for _, a := range adjs {
		assert.Equal(t, model.AdjustmentOrderReserved, a.Reason)
		assert.Equal(t, out.OrderNumber, a.OrderNumber)
	}
	assert.Equal(t, int64(-2), adjs[0].Delta)
	assert.Equal(t, int64(-1), adjs[1].Delta)

	assert.Equal(t, 1, f.metrics.created)
}

func TestCreateOrder_CopiesCartTotalsWithTaxShippingAndCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddCoupon(model.Coupon{Code: "OFF5", Kind: model.CouponKindFixed, Value: 5, IsActive: true})

	f.carts.tax = pricing.BasisPointTax{Bps: 1000}
	f.carts.shipping = pricing.FlatShipping{Fee: 300}

	f.addItem(t, user(1), f.p, 2)
	f.addItem(t, user(1), f.q, 1)
	cart, err := f.carts.ApplyCoupon(ctx, user(1), "off5")
	require.NoError(t, err)

	out, err := f.orders.CreateOrder(ctx, user(1), validOrderInput())
	require.NoError(t, err)

	assert.Equal(t, cart.Totals, out.Totals)
	assert.Equal(t, int64(35+3+300), out.Totals.GrandTotal)
	assert.Equal(t, []string{"OFF5"}, out.Coupons)
}

func TestCreateOrder_InsufficientStockLeavesEverythingUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addItem(t, user(1), f.p, 2)
	f.addItem(t, user(1), f.q, 1)
	//カート追加後にQが売り切れた
	require.NoError(t, f.store.Inventory().SetStock(ctx, f.q.ID, 0))

	_, err := f.orders.CreateOrder(ctx, user(1), validOrderInput())
	require.Error(t, err)
	assert.Equal(t, KindInsufficientStock, KindOf(err))

	var se *InsufficientStockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, f.q.ID, se.ProductID)
	assert.Equal(t, "Product Q", se.Name)
	assert.Equal(t, int64(1), se.Requested)
	assert.Equal(t, int64(0), se.Available)

	assert.Equal(t, int64(5), f.stock(t, f.p))
	cart, err := f.carts.GetCart(ctx, user(1))
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)
	assert.Empty(t, f.store.Adjustments())
	assert.Equal(t, 1, f.metrics.failed["insufficient_stock"])
}

// 在庫チェックは通ったが減算時に無くなっていた場合、先に減らした分は戻す
func TestCreateOrder_ReserveFailureReleasesEarlierLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uc := f.newOrderUsecase(func(d *OrderDeps) {
		d.Inventory = soldOutOnReserve{InventoryRepository: f.store.Inventory(), productID: f.q.ID}
	})

	f.addItem(t, user(1), f.p, 2)
	f.addItem(t, user(1), f.q, 1)

	_, err := uc.CreateOrder(ctx, user(1), validOrderInput())
	var se *InsufficientStockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, f.q.ID, se.ProductID)

	assert.Equal(t, int64(5), f.stock(t, f.p))
	assert.Equal(t, int64(1), f.stock(t, f.q))
}

// 同じ商品が複数行（バリエーション違い）でも合計数量で判定する
func TestCreateOrder_AggregatesQuantityPerProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shirt := f.store.AddProduct(model.Product{SKU: "SHIRT", Name: "Shirt", Price: 100, Stock: 3, IsActive: true,
		Variants: []model.ProductVariant{{Name: "S", SKU: "SHIRT-S"}, {Name: "M", SKU: "SHIRT-M"}},
	})
	s, m := shirt.Variants[0].ID, shirt.Variants[1].ID

	_, err := f.carts.AddItem(ctx, user(1), AddCartItemInput{ProductID: shirt.ID, VariantID: &s, Quantity: 2})
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, user(1), AddCartItemInput{ProductID: shirt.ID, VariantID: &m, Quantity: 2})
	require.NoError(t, err)

	_, err = f.orders.CreateOrder(ctx, user(1), validOrderInput())
	var se *InsufficientStockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, int64(4), se.Requested)
	assert.Equal(t, int64(3), se.Available)
	assert.Equal(t, int64(3), f.stock(t, shirt))
}

func TestCreateOrder_VariantSKUSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shirt := f.store.AddProduct(model.Product{SKU: "SHIRT", Name: "Shirt", Price: 100, Stock: 3, IsActive: true,
		Variants: []model.ProductVariant{{Name: "L", SKU: "SHIRT-L"}},
	})
	l := shirt.Variants[0].ID

	_, err := f.carts.AddItem(ctx, user(1), AddCartItemInput{ProductID: shirt.ID, VariantID: &l, Quantity: 1})
	require.NoError(t, err)

	out, err := f.orders.CreateOrder(ctx, user(1), validOrderInput())
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, "SHIRT-L", out.Items[0].SKU)
	assert.Equal(t, "L", out.Items[0].VariantName)
	assert.Equal(t, &l, out.Items[0].VariantID)
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	//カート自体が無い
	_, err := f.orders.CreateOrder(ctx, user(1), validOrderInput())
	assert.Equal(t, KindEmptyCart, KindOf(err))

	//あとで買うだけのカート
	cart := f.addItem(t, user(1), f.p, 1)
	_, err = f.carts.SetSavedForLater(ctx, user(1), cart.Items[0].ID, true)
	require.NoError(t, err)

	_, err = f.orders.CreateOrder(ctx, user(1), validOrderInput())
	assert.Equal(t, KindEmptyCart, KindOf(err))
	assert.Equal(t, int64(5), f.stock(t, f.p))
}

func TestCreateOrder_SavedForLaterNotOrderedButCleared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addItem(t, user(1), f.p, 1)
	cart := f.addItem(t, user(1), f.q, 1)
	_, err := f.carts.SetSavedForLater(ctx, user(1), cart.Items[1].ID, true)
	require.NoError(t, err)

	out, err := f.orders.CreateOrder(ctx, user(1), validOrderInput())
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, f.p.ID, out.Items[0].ProductID)
	assert.Equal(t, int64(10), out.Totals.GrandTotal)
	assert.Equal(t, int64(1), f.stock(t, f.q))

	after, err := f.carts.GetCart(ctx, user(1))
	require.NoError(t, err)
	assert.Empty(t, after.Items)
}

func TestCreateOrder_TooManyLines(t *testing.T) {
	f := newFixture(t)
	uc := f.newOrderUsecase(func(d *OrderDeps) { d.MaxOrderLines = 1 })

	f.addItem(t, user(1), f.p, 1)
	f.addItem(t, user(1), f.q, 1)

	_, err := uc.CreateOrder(context.Background(), user(1), validOrderInput())
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "items", ve.Field)
}

func TestCreateOrder_Validation(t *testing.T) {
	cases := []struct {
		name  string
		id    Identity
		edit  func(in *CreateOrderInput)
		field string
	}{
		{"no caller", Identity{}, func(in *CreateOrderInput) {}, "session_id"},
		{"shipping address", user(1), func(in *CreateOrderInput) { in.ShippingAddress.City = " " }, "shipping_address.city"},
		{"billing address", user(1), func(in *CreateOrderInput) { in.BillingAddress = model.Address{} }, "billing_address.name"},
		{"payment method", user(1), func(in *CreateOrderInput) { in.PaymentMethod = "bitcoin" }, "payment_method"},
		{"shipping method", user(1), func(in *CreateOrderInput) { in.ShippingMethod = "" }, "shipping_method"},
		{"notes", user(1), func(in *CreateOrderInput) { in.Notes = strings.Repeat("a", 1001) }, "notes"},
		{"guest email", guest("s1"), func(in *CreateOrderInput) { in.GuestEmail = "nope" }, "email"},
		{"idempotency key", user(1), func(in *CreateOrderInput) { in.IdempotencyKey = strings.Repeat("k", 256) }, "idempotency_key"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			in := validOrderInput()
			tc.edit(&in)

			_, err := f.orders.CreateOrder(context.Background(), tc.id, in)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestCreateOrder_GuestCheckout(t *testing.T) {
	f := newFixture(t)
	in := validOrderInput()
	in.GuestEmail = " guest@example.com "

	f.addItem(t, guest("sess-1"), f.p, 1)
	out, err := f.orders.CreateOrder(context.Background(), guest("sess-1"), in)
	require.NoError(t, err)

	assert.Nil(t, out.UserID)
	assert.Equal(t, "guest@example.com", out.GuestEmail)
	assert.Equal(t, int64(4), f.stock(t, f.p))
}

// 最後の1個に同時注文 → 成功は1件だけ、在庫はマイナスにならない
func TestCreateOrder_LastUnitSoldOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	last := f.store.AddProduct(model.Product{SKU: "LAST", Name: "Last One", Price: 50, Stock: 1, IsActive: true})

	const buyers = 10
	for i := 1; i <= buyers; i++ {
		f.addItem(t, user(int64(i)), last, 1)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		soldOut   int
	)
	for i := 1; i <= buyers; i++ {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			_, err := f.orders.CreateOrder(ctx, user(uid), validOrderInput())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case KindOf(err) == KindInsufficientStock:
				soldOut++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(i))
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, buyers-1, soldOut)
	assert.Equal(t, int64(0), f.stock(t, last))
}

// 全員がカートを読み終えるまで待たせる（同じカートの同時注文）
type cartReadBarrier struct {
	repo.CartRepository
	arrived sync.WaitGroup
}

func (b *cartReadBarrier) FindByOwner(ctx context.Context, owner model.CartOwner) (model.Cart, error) {
	c, err := b.CartRepository.FindByOwner(ctx, owner)
	b.arrived.Done()
	b.arrived.Wait()
	return c, err
}

// 在庫を押さえた直後に1回だけ fn を呼ぶ
type afterReserve struct {
	repo.InventoryRepository
	once sync.Once
	fn   func()
}

func (a *afterReserve) DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error) {
	ok, err := a.InventoryRepository.DecreaseStockIfEnough(ctx, productID, qty)
	a.once.Do(a.fn)
	return ok, err
}

// ダブルクリック：同じカートから注文は1つだけ
func TestCreateOrder_SameCartTwiceOrdersOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addItem(t, user(1), f.p, 2)

	carts := &cartReadBarrier{CartRepository: f.store.Carts()}
	carts.arrived.Add(2)
	uc := f.newOrderUsecase(func(d *OrderDeps) { d.Carts = carts })

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = uc.CreateOrder(ctx, user(1), validOrderInput())
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, KindEmptyCart, KindOf(err))
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(3), f.stock(t, f.p))

	_, total, err := uc.ListMyOrders(ctx, 1, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, f.store.Adjustments(), 1)
}

// 注文中に追加された明細は消さずに残し、在庫も戻す
func TestCreateOrder_CartChangedDuringCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addItem(t, user(1), f.p, 2)

	inv := &afterReserve{InventoryRepository: f.store.Inventory()}
	inv.fn = func() { f.addItem(t, user(1), f.q, 1) }
	uc := f.newOrderUsecase(func(d *OrderDeps) { d.Inventory = inv })

	_, err := uc.CreateOrder(ctx, user(1), validOrderInput())
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, int64(5), f.stock(t, f.p))
	assert.Equal(t, int64(1), f.stock(t, f.q))

	cart, err := f.carts.GetCart(ctx, user(1))
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)
	assert.Empty(t, f.store.Adjustments())
}

func TestCreateOrder_IdempotencyKeyReturnsSameOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := validOrderInput()
	in.IdempotencyKey = "idem-1"

	first := f.placeOrderWith(t, user(1), in)

	//カートは空だが同じ注文が返る
	second, err := f.orders.CreateOrder(ctx, user(1), in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.OrderNumber, second.OrderNumber)
	assert.Equal(t, int64(3), f.stock(t, f.p))

	//別の持ち主なら同じキーでも別扱い
	f.addItem(t, user(2), f.p, 1)
	other, err := f.orders.CreateOrder(ctx, user(2), in)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestCreateOrder_IdempotencyLockBusy(t *testing.T) {
	f := newFixture(t)
	uc := f.newOrderUsecase(func(d *OrderDeps) { d.Locker = &stubLocker{locked: false} })
	in := validOrderInput()
	in.IdempotencyKey = "idem-1"

	f.addItem(t, user(1), f.p, 2)
	_, err := uc.CreateOrder(context.Background(), user(1), in)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, int64(5), f.stock(t, f.p))
	assert.Equal(t, 1, f.metrics.failed["conflict"])
}

func TestCreateOrder_IdempotencyLockReleasedWithToken(t *testing.T) {
	f := newFixture(t)
	locker := &stubLocker{locked: true}
	uc := f.newOrderUsecase(func(d *OrderDeps) { d.Locker = locker })
	in := validOrderInput()
	in.IdempotencyKey = "idem-1"

	f.addItem(t, user(1), f.p, 2)
	_, err := uc.CreateOrder(context.Background(), user(1), in)
	require.NoError(t, err)
	assert.Equal(t, []string{"token"}, locker.released)
}

func TestCreateOrder_IdempotencyLockError(t *testing.T) {
	f := newFixture(t)
	uc := f.newOrderUsecase(func(d *OrderDeps) { d.Locker = &stubLocker{err: errors.New("redis down")} })
	in := validOrderInput()
	in.IdempotencyKey = "idem-1"

	f.addItem(t, user(1), f.p, 2)
	_, err := uc.CreateOrder(context.Background(), user(1), in)
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, int64(5), f.stock(t, f.p))
}

// 在庫を減らした後に保存が失敗 → 在庫は元に戻り、カートも残る
func TestCreateOrder_PersistFailureRestoresStock(t *testing.T) {
	f := newFixture(t)
	dbErr := errors.New("db down")
	uc := f.newOrderUsecase(func(d *OrderDeps) { d.Tx = failingTx{err: dbErr} })

	f.addItem(t, user(1), f.p, 2)
	f.addItem(t, user(1), f.q, 1)

	_, err := uc.CreateOrder(context.Background(), user(1), validOrderInput())
	require.ErrorIs(t, err, dbErr)
	assert.Equal(t, KindInternal, KindOf(err))

	assert.Equal(t, int64(5), f.stock(t, f.p))
	assert.Equal(t, int64(1), f.stock(t, f.q))
	cart, err := f.carts.GetCart(context.Background(), user(1))
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)
	assert.Equal(t, 0, f.metrics.rollbackFailed)
}

// 在庫戻しまで失敗 → RollbackError（元の原因も辿れる）
func TestCreateOrder_RollbackFailureIsReported(t *testing.T) {
	f := newFixture(t)
	dbErr := errors.New("db down")
	uc := f.newOrderUsecase(func(d *OrderDeps) {
		d.Tx = failingTx{err: dbErr}
		d.Inventory = brokenRestoreInventory{InventoryRepository: f.store.Inventory()}
	})

	f.addItem(t, user(1), f.p, 2)
	f.addItem(t, user(1), f.q, 1)

	_, err := uc.CreateOrder(context.Background(), user(1), validOrderInput())
	require.Error(t, err)
	assert.Equal(t, KindRollback, KindOf(err))
	assert.ErrorIs(t, err, dbErr)

	var rb *RollbackError
	require.ErrorAs(t, err, &rb)
	assert.Contains(t, rb.Failures.Error(), "inventory unavailable")
	assert.Equal(t, 1, f.metrics.rollbackFailed)
	assert.Equal(t, 1, f.metrics.failed["rollback"])
}

// 呼び出し元がキャンセルしても、在庫を減らした後の保存は最後まで進む
func TestCreateOrder_CanceledContextAfterReserveStillPersists(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	uc := f.newOrderUsecase(func(d *OrderDeps) {
		d.Inventory = cancelAfterReserve{InventoryRepository: f.store.Inventory(), cancel: cancel}
	})

	f.addItem(t, user(1), f.p, 1)
	out, err := uc.CreateOrder(ctx, user(1), validOrderInput())
	require.NoError(t, err)

	stored, err := f.store.Orders().FindByID(context.Background(), out.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, stored.Status())
	assert.Equal(t, int64(4), f.stock(t, f.p))
}

type cancelAfterReserve struct {
	repo.InventoryRepository
	cancel context.CancelFunc
}

func (c cancelAfterReserve) DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error) {
	ok, err := c.InventoryRepository.DecreaseStockIfEnough(ctx, productID, qty)
	c.cancel()
	return ok, err
}

func (f *fixture) placeOrderWith(t *testing.T, id Identity, in CreateOrderInput) OrderOutput {
	t.Helper()
	f.addItem(t, id, f.p, 2)
	f.addItem(t, id, f.q, 1)
	out, err := f.orders.CreateOrder(context.Background(), id, in)
	require.NoError(t, err)
	return out
}

// =====================
// 参照
// =====================

func TestGetOrder_OnlyOwnerOrAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	placed := f.placeOrder(t, user(1))

	got, err := f.orders.GetOrder(ctx, user(1), placed.ID)
	require.NoError(t, err)
	assert.Equal(t, placed.OrderNumber, got.OrderNumber)

	_, err = f.orders.GetOrder(ctx, user(2), placed.ID)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = f.orders.GetOrder(ctx, admin(99), placed.ID)
	assert.NoError(t, err)

	_, err = f.orders.GetOrder(ctx, user(1), 12345)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestListMyOrders_NewestFirstWithPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		f.addItem(t, user(1), f.p, 1)
		out, err := f.orders.CreateOrder(ctx, user(1), validOrderInput())
		require.NoError(t, err)
		ids = append(ids, out.ID)
	}
	f.addItem(t, user(2), f.p, 1)
	_, err := f.orders.CreateOrder(ctx, user(2), validOrderInput())
	require.NoError(t, err)

	page1, total, err := f.orders.ListMyOrders(ctx, user(1).UserID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page1, 2)
	assert.Equal(t, ids[2], page1[0].ID)
	assert.Equal(t, ids[1], page1[1].ID)

	page2, _, err := f.orders.ListMyOrders(ctx, 1, 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, ids[0], page2[0].ID)

	_, _, err = f.orders.ListMyOrders(ctx, 1, 0, 2)
	assert.Equal(t, KindValidation, KindOf(err))
	_, _, err = f.orders.ListMyOrders(ctx, 0, 1, 2)
	assert.Equal(t, KindUnauthorized, KindOf(err))
}

// =====================
// キャンセル
// =====================

func TestCancelOrder_RestoresStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	placed := f.placeOrder(t, user(1))

	out, err := f.orders.CancelOrder(ctx, user(1), placed.ID, " changed my mind ")
	require.NoError(t, err)

	assert.Equal(t, string(model.OrderStatusCanceled), out.Status)
	require.Len(t, out.History, 2)
	assert.Equal(t, "changed my mind", out.History[1].Note)
	assert.Equal(t, int64(5), f.stock(t, f.p))
	assert.Equal(t, int64(1), f.stock(t, f.q))

	var restored int
	for _, a := range f.store.Adjustments() {
		if a.Reason == model.AdjustmentOrderCanceled {
			restored++
			assert.Positive(t, a.Delta)
		}
	}
	assert.Equal(t, 2, restored)
	assert.Equal(t, 1, f.metrics.canceled)
	//本人のキャンセルは監査ログに残さない
	assert.Empty(t, f.store.AuditLogs())
}

func TestCancelOrder_SecondCancelRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	placed := f.placeOrder(t, user(1))

	_, err := f.orders.CancelOrder(ctx, user(1), placed.ID, "")
	require.NoError(t, err)

	_, err = f.orders.CancelOrder(ctx, user(1), placed.ID, "")
	assert.Equal(t, KindInvalidTransition, KindOf(err))
	assert.Equal(t, int64(5), f.stock(t, f.p))
	assert.Equal(t, int64(1), f.stock(t, f.q))
}

func TestCancelOrder_ConcurrentCancelRestoresOnce(t *testing.T) {
	f := newFixture(t)
	placed := f.placeOrder(t, user(1))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.orders.CancelOrder(context.Background(), user(1), placed.ID, ""); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(5), f.stock(t, f.p))
}

func TestCancelOrder_ShippedRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	placed := f.placeOrder(t, user(1))

	_, err := f.admin.UpdateStatus(ctx, 99, placed.ID, AdminUpdateOrderStatusInput{Status: "SHIPPED"})
	require.NoError(t, err)

	_, err = f.orders.CancelOrder(ctx, user(1), placed.ID, "")
	assert.Equal(t, KindInvalidTransition, KindOf(err))
	assert.Equal(t, int64(3), f.stock(t, f.p))

	got, err := f.orders.GetOrder(ctx, user(1), placed.ID)
	require.NoError(t, err)
	assert.Equal(t, string(model.OrderStatusShipped), got.Status)
}

func TestCancelOrder_Permissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	placed := f.placeOrder(t, user(1))

	_, err := f.orders.CancelOrder(ctx, user(2), placed.ID, "")
	assert.Equal(t, KindForbidden, KindOf(err))

	_, err = f.orders.CancelOrder(ctx, guest("s1"), placed.ID, "")
	assert.Equal(t, KindUnauthorized, KindOf(err))

	_, err = f.orders.CancelOrder(ctx, user(1), 9999, "")
	assert.Equal(t, KindNotFound, KindOf(err))

	assert.Equal(t, int64(3), f.stock(t, f.p))
}

func TestCancelOrder_AdminWritesAuditLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	placed := f.placeOrder(t, user(1))

	_, err := f.orders.CancelOrder(ctx, admin(99), placed.ID, "fraud")
	require.NoError(t, err)

	logs := f.store.AuditLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, model.AuditActionCancelOrder, logs[0].Action)
	assert.Equal(t, int64(99), logs[0].ActorUserID)
	assert.Equal(t, placed.ID, logs[0].ResourceID)
	assert.Equal(t, `{"status":"PENDING"}`, logs[0].BeforeJSON)
	assert.Equal(t, `{"status":"CANCELED"}`, logs[0].AfterJSON)
}

func TestNewOrderNumber(t *testing.T) {
	got := newOrderNumber(testNow, "3f2a9c1d-7b4e-4c1a-9f00-123456789abc")
	assert.Equal(t, "ORD-20250314-3F2A9C1D", got)
}
