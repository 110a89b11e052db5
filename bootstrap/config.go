package bootstrap

import (
	"fmt"
	"io"
	"os"
	"strings"

	"snap/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger builds the process logger. The console format uses colored levels;
// json is meant for log shippers.
func InitLogger(format, level string) (*zap.Logger, *zap.SugaredLogger, error) {
	lvl := zapcore.DebugLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(format) {
	case "json":
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "", "console":
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, nil, fmt.Errorf("invalid log format %q (must be console or json)", format)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), lvl)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads the application configuration. Failures are printed to stderr
// because the logger may not exist yet.
func InitConfig(configFile string, stderr io.Writer) (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// logConfig records the settings that shape this boot
func logConfig(cfg *config.Config, cs config.ConnectionString, sugar *zap.SugaredLogger) {
	sugar.Infow("Config loaded",
		"environment", cfg.Profile(),
		"data_dir", cfg.DataDir,
		"store", cs.Redacted(),
		"api_port", cfg.API.Port,
		"https_port", cfg.API.HTTPSPort,
		"mail_enabled", cfg.Mail.Enabled,
		"seed_enabled", cfg.Seed.Enabled)
}
