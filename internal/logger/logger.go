// 包 logger：统一初始化与获取日志器；通过环境变量控制日志级别与输出格式，批处理与工具命令共用
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
)

// Options：日志器构造参数
// 约束：Level 为空时按 info 处理；Format 仅识别 json，其余均为文本格式
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// Setup：按环境变量 LOG_LEVEL / LOG_FORMAT 初始化默认日志器
// 背景：集中化日志配置，逐点生成任务耗时长，需要统一的进度与告警输出
// 约束：输出目标固定为标准错误
func Setup() *slog.Logger {
	return SetupWith(Options{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
		Output: os.Stderr,
	})
}

// SetupWith：使用显式参数初始化默认日志器，测试中可注入缓冲区
func SetupWith(o Options) *slog.Logger {
	w := o.Output
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(o.Level)}
	var h slog.Handler
	if strings.EqualFold(o.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	l := slog.New(h)
	mu.Lock()
	defaultLogger = l
	mu.Unlock()
	return l
}

// ParseLevel：解析级别文本，未知值回退到 info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// L：获取默认日志器；若未初始化则回退到 Setup
func L() *slog.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l == nil {
		return Setup()
	}
	return l
}
