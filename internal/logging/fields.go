package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 缓存文件路径等基础字段，便于不同入口复用。
func BaseFields(action, cachePath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"cache_path": cachePath,
	}
}

// ResolveFields 提供 key/模式/命中状态字段，供模块解析日志复用。
func ResolveFields(key, mode string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"key":       key,
		"mode":      mode,
		"cache_hit": cacheHit,
	}
}
