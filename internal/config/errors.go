package config

import (
	"fmt"

	"github.com/any-hub/xk6-cache/internal/cache"
)

// FieldError 提供字段路径与错误原因，便于 CLI 向用户反馈。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is 让 errors.Is(err, cache.ErrConfiguration) 对所有字段错误成立。
func (e FieldError) Is(target error) bool {
	return target == cache.ErrConfiguration
}

// newFieldError 创建包含字段路径与原因的 error，便于 CLI 定位。
func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// envField 拼接字段与其环境变量名，输出 Mode(XK6_CACHE_MODE) 形式。
func envField(field string) string {
	if env, ok := envBindings[field]; ok {
		return fmt.Sprintf("%s(%s)", field, env)
	}
	return field
}
