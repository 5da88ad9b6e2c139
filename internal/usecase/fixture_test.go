package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/infra/memory"
	repo "storefront/internal/repository"

	"github.com/stretchr/testify/require"
)

// =====================
// テスト用の部品
// =====================

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%08x-0000-4000-8000-000000000000", g.n)
}

type recordingMetrics struct {
	mu             sync.Mutex
	created        int
	failed         map[string]int
	rollbackFailed int
	canceled       int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{failed: map[string]int{}}
}

func (m *recordingMetrics) OrderCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
}

func (m *recordingMetrics) CheckoutFailed(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[reason]++
}

func (m *recordingMetrics) StockRollbackFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbackFailed++
}

func (m *recordingMetrics) OrderCanceled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canceled++
}

// 注文の保存が必ず失敗するTx（在庫戻しの確認用）
type failingTx struct{ err error }

func (f failingTx) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	return f.err
}

// 在庫戻しが失敗する在庫リポジトリ
type brokenRestoreInventory struct {
	repo.InventoryRepository
}

func (b brokenRestoreInventory) IncreaseStock(ctx context.Context, productID int64, qty int64) error {
	return errors.New("inventory unavailable")
}

type stubLocker struct {
	locked   bool
	err      error
	released []string
}

func (s *stubLocker) TryLock(ctx context.Context, scope, key string) (string, bool, error) {
	if !s.locked {
		return "", false, s.err
	}
	return "token", true, s.err
}

func (s *stubLocker) Unlock(ctx context.Context, scope, key, token string) error {
	s.released = append(s.released, token)
	return nil
}

// =====================
// fixture
// =====================

type fixture struct {
	store   *memory.Store
	metrics *recordingMetrics
	carts   *CartUsecase
	orders  *OrderUsecase
	admin   *AdminOrderUsecase

	// P: 10円 在庫5 / Q: 20円 在庫1
	p model.Product
	q model.Product
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s := memory.NewStore()
	f := &fixture{store: s, metrics: newRecordingMetrics()}
	f.p = s.AddProduct(model.Product{SKU: "P-001", Name: "Product P", Price: 10, Stock: 5, IsActive: true})
	f.q = s.AddProduct(model.Product{SKU: "Q-001", Name: "Product Q", Price: 20, Stock: 1, IsActive: true})

	f.carts = NewCartUsecase(CartDeps{
		Tx:        s.TxManager(),
		Carts:     s.Carts(),
		Products:  s.Products(),
		Inventory: s.Inventory(),
		Coupons:   s.Coupons(),
		Clock:     fixedClock{testNow},
	})
	f.orders = f.newOrderUsecase(func(d *OrderDeps) {})
	f.admin = NewAdminOrderUsecase(s.TxManager(), s.Orders(), f.metrics, nil)
	return f
}

func (f *fixture) newOrderUsecase(override func(d *OrderDeps)) *OrderUsecase {
	d := OrderDeps{
		Tx:        f.store.TxManager(),
		Carts:     f.store.Carts(),
		Products:  f.store.Products(),
		Inventory: f.store.Inventory(),
		Orders:    f.store.Orders(),
		Metrics:   f.metrics,
		Clock:     fixedClock{testNow},
		IDs:       &seqIDs{},
	}
	override(&d)
	return NewOrderUsecase(d)
}

func (f *fixture) addItem(t *testing.T, id Identity, p model.Product, qty int64) CartOutput {
	t.Helper()
	out, err := f.carts.AddItem(context.Background(), id, AddCartItemInput{ProductID: p.ID, Quantity: qty})
	require.NoError(t, err)
	return out
}

func (f *fixture) stock(t *testing.T, p model.Product) int64 {
	t.Helper()
	n, err := f.store.Inventory().FindStock(context.Background(), p.ID)
	require.NoError(t, err)
	return n
}

// 2×P + 1×Q のカートで注文する
func (f *fixture) placeOrder(t *testing.T, id Identity) OrderOutput {
	t.Helper()
	f.addItem(t, id, f.p, 2)
	f.addItem(t, id, f.q, 1)
	out, err := f.orders.CreateOrder(context.Background(), id, validOrderInput())
	require.NoError(t, err)
	return out
}

func testAddress() model.Address {
	return model.Address{
		Name:       "Taro Yamada",
		PostalCode: "100-0001",
		Prefecture: "Tokyo",
		City:       "Chiyoda",
		Line1:      "1-1",
	}
}

func validOrderInput() CreateOrderInput {
	return CreateOrderInput{
		ShippingAddress: testAddress(),
		BillingAddress:  testAddress(),
		PaymentMethod:   "card",
		ShippingMethod:  "standard",
	}
}

func user(id int64) Identity { return Identity{UserID: id, Role: model.RoleUser} }

func admin(id int64) Identity { return Identity{UserID: id, Role: model.RoleAdmin} }

func guest(session string) Identity { return Identity{SessionID: session} }
