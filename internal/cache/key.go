package cache

import (
	"fmt"
	"net/url"
)

const (
	k6QueryVar    = "_k6"
	k6QuerySuffix = k6QueryVar + "=1"
)

// KeyFor 返回模块 URL 对应的缓存 key：去掉 fragment，并确保带有 k6 模块加载器附加的 _k6=1 标记。
// 原 URL 不会被修改。
func KeyFor(loc *url.URL) string {
	key := *loc
	key.Fragment = ""
	key.RawFragment = ""
	if key.Query().Has(k6QueryVar) {
		return key.String()
	}
	if key.RawQuery == "" {
		key.RawQuery = k6QuerySuffix
	} else {
		key.RawQuery += "&" + k6QuerySuffix
	}
	return key.String()
}

// ParseKey 解析命令行等外部输入的模块地址，只接受带 host 的 http/https URL。
func ParseKey(raw string) (string, error) {
	loc, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if loc.Scheme != "http" && loc.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidKey, loc.Scheme)
	}
	if loc.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidKey)
	}
	key := KeyFor(loc)
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}
