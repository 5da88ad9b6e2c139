package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/internal/config"
	"storefront/internal/domain/model"
	"storefront/internal/domain/pricing"
	"storefront/internal/handler"
	"storefront/internal/infra/cache"
	"storefront/internal/infra/db"
	"storefront/internal/infra/memory"
	infraRepo "storefront/internal/infra/repository"
	"storefront/internal/infra/token"
	"storefront/internal/logger"
	"storefront/internal/observability"
	"storefront/internal/repository"
	"storefront/internal/server"
	"storefront/internal/usecase"
	"storefront/internal/validator"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 永続化の実装一式（postgres / memory）
type stores struct {
	tx        repository.TransactionManager
	carts     repository.CartRepository
	coupons   repository.CouponRepository
	products  repository.ProductRepository
	inventory repository.InventoryRepository
	orders    repository.OrderRepository
	users     repository.UserRepository
}

func main() {
	// .env は無くてもよい（本番は環境変数で渡す）
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.GoEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}

	//冪等キーのロック（REDIS_ADDRがあるときだけ）
	var locker usecase.IdempotencyLocker
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		locker = cache.NewRedisIdempotencyLock(rdb, cfg.IdempotencyTTL)
		log.Info("idempotency lock enabled", zap.String("redis", cfg.RedisAddr))
	}

	metrics := observability.NewMetrics()

	//Usecase生成
	cartUC := usecase.NewCartUsecase(usecase.CartDeps{
		Tx:              st.tx,
		Carts:           st.carts,
		Products:        st.products,
		Inventory:       st.inventory,
		Coupons:         st.coupons,
		Tax:             pricing.BasisPointTax{Bps: cfg.TaxBps},
		Shipping:        pricing.FlatShipping{Fee: cfg.ShippingFee, FreeOver: cfg.FreeShippingOver},
		Logger:          log.Named("cart"),
		MaxLineQuantity: cfg.MaxLineQuantity,
	})
	orderUC := usecase.NewOrderUsecase(usecase.OrderDeps{
		Tx:            st.tx,
		Carts:         st.carts,
		Products:      st.products,
		Inventory:     st.inventory,
		Orders:        st.orders,
		Locker:        locker,
		Metrics:       metrics,
		Logger:        log.Named("order"),
		MaxOrderLines: cfg.MaxOrderLines,
	})
	adminOrderUC := usecase.NewAdminOrderUsecase(st.tx, st.orders, metrics, log.Named("admin_order"))
	inventoryUC := usecase.NewInventoryUsecase(st.tx, log.Named("inventory"))
	authUC := usecase.NewAuthUsecase(st.users, validator.NewAuthValidator(st.users), token.NewJWTIssuer(cfg.JWTSecret))

	//Handler生成
	h := server.Handlers{
		Auth:           handler.NewAuthHandler(authUC),
		Cart:           handler.NewCartHandler(cartUC),
		Order:          handler.NewOrderHandler(orderUC),
		AdminOrder:     handler.NewAdminOrderHandler(adminOrderUC),
		AdminInventory: handler.NewAdminInventoryHandler(inventoryUC),
	}

	e := server.New(cfg, log, metrics, st.users, h)
	return server.Start(ctx, e, ":"+cfg.Port, log)
}

func openStores(ctx context.Context, cfg config.Config, log *zap.Logger) (stores, error) {
	if cfg.Store == config.StoreMemory {
		s := memory.NewStore()
		seed(s)
		log.Warn("using in-memory store; data is lost on restart")
		return stores{
			tx:        s.TxManager(),
			carts:     s.Carts(),
			coupons:   s.Coupons(),
			products:  s.Products(),
			inventory: s.Inventory(),
			orders:    s.Orders(),
			users:     s.Users(),
		}, nil
	}

	//DB接続
	gormDB, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		return stores{}, err
	}
	if err := db.Migrate(gormDB); err != nil {
		return stores{}, fmt.Errorf("migrate: %w", err)
	}

	//Repository（GORM実装）生成
	return stores{
		tx:        infraRepo.NewTxManagerGorm(gormDB),
		carts:     infraRepo.NewCartGormRepository(gormDB),
		coupons:   infraRepo.NewCouponGormRepository(gormDB),
		products:  infraRepo.NewProductGormRepository(gormDB),
		inventory: infraRepo.NewInventoryGormRepository(gormDB),
		orders:    infraRepo.NewOrderGormRepository(gormDB),
		users:     infraRepo.NewUserGormRepository(gormDB),
	}, nil
}

// memoryモードの初期データ
func seed(s *memory.Store) {
	s.AddProduct(model.Product{SKU: "TSHIRT-001", Name: "Basic T-Shirt", Category: "apparel", Price: 1500, Stock: 20, IsActive: true,
		Variants: []model.ProductVariant{
			{Name: "S", SKU: "TSHIRT-001-S"},
			{Name: "M", SKU: "TSHIRT-001-M"},
			{Name: "L", SKU: "TSHIRT-001-L"},
		},
	})
	s.AddProduct(model.Product{SKU: "MUG-001", Name: "Coffee Mug", Category: "kitchen", Price: 800, Stock: 50, IsActive: true})
	s.AddProduct(model.Product{SKU: "BAG-001", Name: "Tote Bag", Category: "apparel", Price: 2400, Stock: 5, IsActive: true})

	s.AddCoupon(model.Coupon{Code: "WELCOME10", Kind: model.CouponKindPercent, Value: 1000, IsActive: true})
	s.AddCoupon(model.Coupon{Code: "OFF500", Kind: model.CouponKindFixed, Value: 500, MinSubtotal: 3000, IsActive: true})
}
