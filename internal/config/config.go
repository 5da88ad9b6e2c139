package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Configはアプリ全体の設定
type Config struct {
	Port string // サーバーポート（8080）

	// postgres / memory
	Store string

	DatabaseURL      string // あれば最優先
	PostgresUser     string // DBユーザー
	PostgresPassword string // DBパスワード
	PostgresDB       string // DB名
	PostgresHost     string // DBホスト（localhost）
	PostgresPort     int    // DBポート（5432）
	PostgresSSLMode  string

	// 空なら冪等キーのロックは無効（DBの一意制約だけ）
	RedisAddr      string
	IdempotencyTTL time.Duration

	JWTSecret string // JWT署名シークレット

	GoEnv string // dev/prod

	TaxBps           int64 // 税率（10% = 1000）
	ShippingFee      int64 // 送料
	FreeShippingOver int64 // この小計以上で送料無料（0なら無効）

	MaxOrderLines   int   // 1注文の明細数の上限
	MaxLineQuantity int64 // 1明細の数量上限
}

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Loadは環境変数から読む（.envはmainで読み込み済み）
func Load() (Config, error) {
	cfg := Config{
		Port:  getenv("PORT", "8080"),
		Store: getenv("STORE", StorePostgres),

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     getenv("POSTGRES_HOST", "localhost"),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", "disable"),

		RedisAddr: os.Getenv("REDIS_ADDR"),

		JWTSecret: os.Getenv("JWT_SECRET"),
		GoEnv:     getenv("GO_ENV", "dev"),
	}

	var err error
	if cfg.PostgresPort, err = atoiDefault("POSTGRES_PORT", 5432); err != nil {
		return Config{}, err
	}
	if cfg.TaxBps, err = int64Default("TAX_BPS", 1000); err != nil {
		return Config{}, err
	}
	if cfg.ShippingFee, err = int64Default("SHIPPING_FEE", 500); err != nil {
		return Config{}, err
	}
	if cfg.FreeShippingOver, err = int64Default("FREE_SHIPPING_OVER", 5000); err != nil {
		return Config{}, err
	}
	if cfg.MaxOrderLines, err = atoiDefault("MAX_ORDER_LINES", 50); err != nil {
		return Config{}, err
	}
	if cfg.MaxLineQuantity, err = int64Default("MAX_LINE_QUANTITY", 99); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationDefault("IDEMPOTENCY_TTL", 30*time.Second); err != nil {
		return Config{}, err
	}

	//必須チェック
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	switch cfg.Store {
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			if cfg.PostgresUser == "" {
				return Config{}, fmt.Errorf("POSTGRES_USER is required")
			}
			if cfg.PostgresDB == "" {
				return Config{}, fmt.Errorf("POSTGRES_DB is required")
			}
		}
	default:
		return Config{}, fmt.Errorf("STORE must be %q or %q", StorePostgres, StoreMemory)
	}
	if cfg.TaxBps < 0 || cfg.ShippingFee < 0 || cfg.FreeShippingOver < 0 {
		return Config{}, fmt.Errorf("TAX_BPS, SHIPPING_FEE and FREE_SHIPPING_OVER must be >= 0")
	}
	if cfg.MaxOrderLines < 1 || cfg.MaxLineQuantity < 1 {
		return Config{}, fmt.Errorf("MAX_ORDER_LINES and MAX_LINE_QUANTITY must be >= 1")
	}

	return cfg, nil
}

// postgresのDSN
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode,
	)
}

func (c Config) IsProd() bool { return c.GoEnv == "prod" }

func getenv(key string, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func atoiDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func int64Default(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func durationDefault(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be duration: %w", key, err)
	}
	return d, nil
}
