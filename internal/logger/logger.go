package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New は GO_ENV に合わせてロガーを作る。
// prod は JSON（ts/msg, RFC3339Nano）、それ以外は人が読みやすいコンソール出力。
func New(env string) (*zap.Logger, error) {
	if env != "prod" {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}

	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stdout"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	cfg.InitialFields = map[string]any{"service": "storefront"}
	return cfg.Build()
}
