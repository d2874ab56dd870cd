package observ

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger.
//
// Why two encoders?
//   - In production the log shipper wants one JSON object per line with
//     ISO8601 timestamps.
//   - Locally a human reads the console, so levels are colored and stack
//     traces only show up for errors.
//
// An unparseable level falls back to info instead of failing startup.
func NewLogger(env, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if env == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build(opts...)
	if err != nil {
		return nil, err
	}
	return logger.Named("arenachat").With(zap.String("env", env)), nil
}
