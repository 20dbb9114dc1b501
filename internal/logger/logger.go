// Package logger 提供带轮转的日志输出
package logger

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 日志配置
type Config struct {
	LogDir     string
	LogFile    string
	MaxSize    int  // 单个日志文件最大大小 (MB)
	MaxBackups int  // 保留的旧日志文件最大数量
	MaxAge     int  // 保留的旧日志文件最大天数
	Compress   bool // 是否压缩旧日志文件
	Console    bool // 是否同时输出到控制台
}

var rotator *lumberjack.Logger

// Setup 初始化日志系统：标准库 log 输出到轮转文件，可选同时输出到控制台
func Setup(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return err
	}

	rotator = &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, cfg.LogFile),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	var out io.Writer = rotator
	if cfg.Console {
		out = io.MultiWriter(os.Stdout, rotator)
	}

	log.SetOutput(out)
	log.SetFlags(log.LstdFlags)
	return nil
}

// Close 关闭日志文件
func Close() {
	if rotator != nil {
		_ = rotator.Close()
	}
}
