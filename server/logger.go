package server

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log 是全局可用的 SugaredLogger；未初始化时为 Nop，测试无需配置
var Log = zap.NewNop().Sugar()

// InitLogger 初始化 zap 日志：滚动文件 + stderr 双路输出
func InitLogger(cfg LogConfig) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}
	// 文件滚动策略：MaxSize MB 每文件，保留 MaxBackups 个备份
	lj := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   false,
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}
	encoder := zapcore.NewConsoleEncoder(encCfg)
	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(lj), level),
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level),
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	Log = logger.Sugar()
	return nil
}

// SyncLogger 清理和同步缓冲
func SyncLogger() {
	if Log != nil {
		_ = Log.Sync()
	}
}

func parseLevel(raw string) (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("FPS_LOG_LEVEL: %w", err)
	}
	return lvl, nil
}
