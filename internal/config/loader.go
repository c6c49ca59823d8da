package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	defaultListenPort     = 5000
	defaultMaxContentSize = 32 * 1024 * 1024
	defaultTimeout        = 30 * time.Second
)

// envBindings 将配置键映射到环境变量，k6 扩展在 init 阶段只能通过环境变量配置。
var envBindings = map[string]string{
	"CachePath":       "XK6_CACHE",
	"Mode":            "XK6_CACHE_MODE",
	"MetricPrefix":    "XK6_CACHE_PREFIX",
	"Measure":         "XK6_CACHE_MEASURE",
	"LogLevel":        "XK6_CACHE_LOG_LEVEL",
	"LogFilePath":     "XK6_CACHE_LOG_FILE",
	"UpstreamTimeout": "XK6_CACHE_UPSTREAM_TIMEOUT",
	"UpstreamProxy":   "XK6_CACHE_UPSTREAM_PROXY",
	"MaxContentSize":  "XK6_CACHE_MAX_CONTENT_SIZE",
	"ListenPort":      "XK6_CACHE_LISTEN_PORT",
}

// Load 读取可选的 TOML 配置文件与环境变量，注入默认值并校验。path 为空时只使用环境变量与默认值。
func Load(path string) (*Config, error) {
	return LoadWith(path, nil)
}

// LoadWith 与 Load 相同，但 overrides 中的键（如命令行参数）优先于文件与环境变量。
func LoadWith(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.CachePath != "" {
		absPath, err := filepath.Abs(cfg.CachePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存文件路径: %w", err)
		}
		cfg.CachePath = absPath
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("CachePath", "")
	v.SetDefault("Mode", "hybrid")
	v.SetDefault("MetricPrefix", "")
	v.SetDefault("Measure", false)
	v.SetDefault("ListenPort", defaultListenPort)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("UpstreamProxy", "")
	v.SetDefault("MaxContentSize", defaultMaxContentSize)
}

func bindEnv(v *viper.Viper) error {
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("绑定环境变量 %s 失败: %w", env, err)
		}
	}
	return nil
}

func applyDefaults(c *Config) {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	c.CachePath = strings.TrimSpace(c.CachePath)
	if c.ListenPort == 0 {
		c.ListenPort = defaultListenPort
	}
	if c.UpstreamTimeout.DurationValue() == 0 {
		c.UpstreamTimeout = Duration(defaultTimeout)
	}
	if c.MaxContentSize == 0 {
		c.MaxContentSize = defaultMaxContentSize
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
