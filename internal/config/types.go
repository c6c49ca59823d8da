package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/xk6-cache/internal/cache"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// LogConfig 描述日志输出，CLI、镜像服务与 k6 扩展共用。
type LogConfig struct {
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
}

// Config 是 TOML 文件与 XK6_CACHE* 环境变量映射的整体结构。
type Config struct {
	// CachePath 为空表示本次运行只使用内存缓存，不读写文件。
	CachePath       string    `mapstructure:"CachePath"`
	Mode            string    `mapstructure:"Mode"`
	MetricPrefix    string    `mapstructure:"MetricPrefix"`
	Measure         bool      `mapstructure:"Measure"`
	ListenPort      int       `mapstructure:"ListenPort"`
	UpstreamTimeout Duration  `mapstructure:"UpstreamTimeout"`
	UpstreamProxy   string    `mapstructure:"UpstreamProxy"`
	MaxContentSize  int64     `mapstructure:"MaxContentSize"`
	Log             LogConfig `mapstructure:",squash"`
}

// Persistent 表示是否配置了缓存文件。
func (c *Config) Persistent() bool {
	return c != nil && c.CachePath != ""
}

// CacheMode 返回规范化后的解析模式（假定 Validate 已经通过）。
func (c *Config) CacheMode() cache.Mode {
	mode, err := cache.ParseMode(c.Mode)
	if err != nil {
		return cache.ModeHybrid
	}
	return mode
}

// EffectivePrefix 返回生效的指标前缀。
func (c *Config) EffectivePrefix() string {
	if prefix := strings.TrimSpace(c.MetricPrefix); prefix != "" {
		return prefix
	}
	return cache.DefaultMetricPrefix
}
