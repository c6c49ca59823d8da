package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/xk6-cache/internal/cache"
)

// metricPrefixPattern 约束前缀只使用 k6 指标名允许且便于查询的字符。
var metricPrefixPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// Validate 针对语义级别做进一步校验，防止非法配置进入执行阶段。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	mode, err := cache.ParseMode(c.Mode)
	if err != nil {
		return newFieldError(envField("Mode"), "仅支持 hybrid|strict")
	}
	if mode == cache.ModeStrict && c.CachePath == "" {
		return newFieldError(envField("CachePath"), "strict 模式必须指定缓存文件")
	}
	if c.MetricPrefix != "" && !metricPrefixPattern.MatchString(c.MetricPrefix) {
		return newFieldError(envField("MetricPrefix"), "只能包含字母、数字与下划线，且不能以数字开头")
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return newFieldError(envField("ListenPort"), "必须在 1-65535")
	}
	if c.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError(envField("UpstreamTimeout"), "必须大于 0")
	}
	if c.MaxContentSize <= 0 {
		return newFieldError(envField("MaxContentSize"), "必须大于 0")
	}
	if c.UpstreamProxy != "" {
		if err := validateUpstream(c.UpstreamProxy); err != nil {
			return fmt.Errorf("%s: %w", envField("UpstreamProxy"), err)
		}
	}
	if _, err := logrus.ParseLevel(c.Log.LogLevel); err != nil {
		return newFieldError(envField("LogLevel"), "无法识别的日志级别")
	}
	if c.Log.LogMaxSize < 0 || c.Log.LogMaxBackups < 0 {
		return newFieldError("LogMaxSize/LogMaxBackups", "不能为负数")
	}

	return nil
}

func validateUpstream(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，代理: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("代理缺少 Host: %s", raw)
	}
	return nil
}
