package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/xk6-cache/internal/cache"
)

// CacheInfo 描述当前运行的缓存文件与模式，仅用于诊断输出。
type CacheInfo struct {
	Mode      cache.Mode
	CachePath string
}

// RegisterCacheRoutes 暴露 /-/cache 诊断接口，供排查 vendoring 状态与命中率。
func RegisterCacheRoutes(app *fiber.App, store *cache.Store, metrics *cache.Metrics, info CacheInfo) {
	if app == nil || store == nil {
		return
	}

	app.Get("/-/cache", func(c fiber.Ctx) error {
		return c.JSON(encodeStats(store, metrics, info))
	})

	app.Get("/-/cache/entries", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"entries": encodeEntries(store.Entries()),
		})
	})
}

type statsPayload struct {
	Mode      string                `json:"mode"`
	CachePath string                `json:"cache_path,omitempty"`
	Entries   int                   `json:"entries"`
	Dirty     bool                  `json:"dirty"`
	Metrics   cache.MetricsSnapshot `json:"metrics"`
}

type entryPayload struct {
	Key       string `json:"key"`
	SizeBytes int    `json:"size_bytes"`
}

func encodeStats(store *cache.Store, metrics *cache.Metrics, info CacheInfo) statsPayload {
	return statsPayload{
		Mode:      string(info.Mode),
		CachePath: info.CachePath,
		Entries:   store.Size(),
		Dirty:     store.Dirty(),
		Metrics:   metrics.Snapshot(),
	}
}

func encodeEntries(entries []cache.Entry) []entryPayload {
	result := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		result = append(result, entryPayload{
			Key:       entry.Key,
			SizeBytes: len(entry.Content),
		})
	}
	return result
}
