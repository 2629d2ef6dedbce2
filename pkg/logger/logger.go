package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggerConfig configures the process logger.
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	FilePath    string // optional rotated JSON log file
	Development bool   // console encoder instead of JSON on stderr
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
}

// NewWithConfig builds a zap logger that writes to stderr and, when FilePath is set, to a
// rotated JSON file.
func NewWithConfig(config LoggerConfig) (*zap.Logger, error) {
	if config.Level == "" {
		config.Level = "info"
	}
	if config.MaxSizeMB == 0 {
		config.MaxSizeMB = 10
	}
	if config.MaxBackups == 0 {
		config.MaxBackups = 5
	}
	if config.MaxAgeDays == 0 {
		config.MaxAgeDays = 30
	}

	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	jsonEncoder := zapcore.NewJSONEncoder(encoderConfig)

	var consoleEncoder zapcore.Encoder
	if config.Development {
		consoleEncoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		consoleEncoder = jsonEncoder
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level),
	}

	if config.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(jsonEncoder, zapcore.AddSync(rotator), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
