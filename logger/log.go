package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level"`       // debug/info/warn/error
	File       string `yaml:"file"`        // 为空则只输出到 stdout
	MaxSizeMB  int    `yaml:"max_size_mb"` // 单文件大小
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

var (
	mu  sync.RWMutex
	Log *zap.Logger
)

func init() {
	Log = build(Config{Level: "debug"})
}

// Init 按配置重建全局 logger
func Init(cfg Config) {
	l := build(cfg)
	mu.Lock()
	old := Log
	Log = l
	mu.Unlock()
	if old != nil {
		_ = old.Sync()
	}
}

func build(cfg Config) *zap.Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeLevel:   zapcore.CapitalColorLevelEncoder, // 彩色等级
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}
	level := parseLevel(cfg.Level)

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(os.Stdout), level),
	}
	if cfg.File != "" {
		fileEnc := encCfg
		fileEnc.EncodeLevel = zapcore.CapitalLevelEncoder // 文件里不要颜色
		rotate := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 14),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEnc), zapcore.AddSync(rotate), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(0))
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.DebugLevel
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return Log
}

// Named 返回带组件名的 logger，组件自己持有
func Named(component string) *zap.Logger {
	return current().Named(component)
}

// 快捷方法
func Info(msg string, fields ...zap.Field) {
	current().WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}
func Infof(format string, args ...interface{}) {
	current().WithOptions(zap.AddCallerSkip(1)).Info(fmt.Sprintf(format, args...))
}
func Warn(msg string, fields ...zap.Field) {
	current().WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}
func Warnf(format string, args ...interface{}) {
	current().WithOptions(zap.AddCallerSkip(1)).Warn(fmt.Sprintf(format, args...))
}
func Error(msg string, fields ...zap.Field) {
	current().WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}

func Errorf(format string, args ...interface{}) {
	current().WithOptions(zap.AddCallerSkip(1)).Error(fmt.Sprintf(format, args...))
}

func Debug(msg string, fields ...zap.Field) {
	current().WithOptions(zap.AddCallerSkip(1)).Debug(msg, fields...)
}
func Debugf(format string, args ...interface{}) {
	current().WithOptions(zap.AddCallerSkip(1)).Debug(fmt.Sprintf(format, args...))
}

// Sync 刷盘
func Sync() { _ = current().Sync() }
