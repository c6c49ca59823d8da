package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/any-hub/xk6-cache/internal/config"
)

// Component 标记本模块产生的日志，便于与 k6 自身日志区分。
const Component = "xk6-cache"

// InitLogger 根据日志配置初始化 JSON 结构化日志。未配置文件时写 stderr，stdout 留给 k6 的 summary 输出。
// 同时同步 logrus 标准 logger，便于 k6 扩展在拿到 output.Params 之前复用。
func InitLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	output, outErr := buildOutput(cfg)

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	logger.AddHook(componentHook{})

	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())

	if outErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(outErr.Error())
	}

	return logger, nil
}

// buildOutput 选择日志去向：未配置 LogFilePath 时写 stderr，避免混入 k6 的 stdout summary；
// 配置了文件则交给 lumberjack 轮转。目录无法创建时仍返回 stderr，错误交由调用方以 logger_fallback 上报，
// 日志问题不会阻止 k6 运行或 CLI 命令。
func buildOutput(cfg config.LogConfig) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return os.Stderr, nil
	}

	dir := filepath.Dir(cfg.LogFilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return os.Stderr, fmt.Errorf("创建日志目录失败: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}
	return rotator, nil
}

// componentHook 为每条日志补充 component 字段，调用方已设置时不覆盖。
type componentHook struct{}

func (componentHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (componentHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["component"]; !ok {
		entry.Data["component"] = Component
	}
	return nil
}
