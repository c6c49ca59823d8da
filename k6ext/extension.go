package k6ext

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/xk6-cache/internal/cache"
	"github.com/any-hub/xk6-cache/internal/config"
	"github.com/any-hub/xk6-cache/internal/logging"
	"github.com/any-hub/xk6-cache/internal/server"
)

// Extension 是进程级单例：持有 Store、Metrics 与 Resolver，JS 模块、output 与 Transport 共享它。
type Extension struct {
	cfg *config.Config

	mu     sync.RWMutex
	logger logrus.FieldLogger

	store     *cache.Store
	metrics   *cache.Metrics
	resolver  *cache.Resolver
	transport *Transport
	registrar *registrar
}

// NewExtension 按配置加载缓存文件并组装解析链路。next 是替换前的 http.DefaultTransport，用于回源与透传。
func NewExtension(cfg *config.Config, next http.RoundTripper, logger logrus.FieldLogger) (*Extension, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if next == nil {
		next = http.DefaultTransport
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	reg := &registrar{}
	metrics := cache.NewMetrics(cache.WithRegistrar(reg))

	var store *cache.Store
	if cfg.Persistent() {
		loaded, err := cache.Open(cfg.CachePath, cache.WithMetrics(metrics))
		if err != nil {
			return nil, fmt.Errorf("load cache file: %w", err)
		}
		store = loaded
	} else {
		store = cache.NewStore(cache.WithMetrics(metrics))
	}

	mode := cfg.CacheMode()
	network := server.NewHTTPFetcher(server.NewUpstreamClientWithTransport(cfg, next), logger, cfg.MaxContentSize)
	resolver, err := cache.NewResolver(cache.ResolverOptions{
		Store:   store,
		Fetcher: cache.FetcherForMode(mode, network),
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	ext := &Extension{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		metrics:   metrics,
		resolver:  resolver,
		transport: NewTransport(resolver, next, logger),
		registrar: reg,
	}

	if cfg.Measure {
		if err := metrics.Enable(cfg.EffectivePrefix()); err != nil {
			return nil, err
		}
	}

	fields := logging.BaseFields("extension_init", cfg.CachePath)
	fields["mode"] = string(mode)
	fields["entries"] = store.Size()
	logger.WithFields(fields).Debug("cache_ready")

	return ext, nil
}

// Persistent 表示是否配置了缓存文件；未配置时不替换 DefaultTransport，也不落盘。
func (e *Extension) Persistent() bool {
	return e.cfg.Persistent()
}

// Transport 返回缓存 RoundTripper。
func (e *Extension) Transport() *Transport {
	return e.transport
}

// Store 返回内存中的缓存条目集合。
func (e *Extension) Store() *cache.Store {
	return e.store
}

// Metrics 返回计量注册表。
func (e *Extension) Metrics() *cache.Metrics {
	return e.metrics
}

func (e *Extension) log() logrus.FieldLogger {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.logger
}

// setLogger 替换扩展自身的 logger；output 启动时 k6 会提供带运行上下文的 logger。
func (e *Extension) setLogger(logger logrus.FieldLogger) {
	e.mu.Lock()
	e.logger = logger
	e.mu.Unlock()
}

// Save 在有新条目且配置了文件时原子地写回缓存文件。
func (e *Extension) Save() error {
	if !e.Persistent() || !e.store.Dirty() {
		return nil
	}
	if err := e.store.Save(e.cfg.CachePath); err != nil {
		e.log().WithFields(logging.BaseFields("cache_save", e.cfg.CachePath)).WithError(err).Error("cache_save_failed")
		return err
	}
	fields := logging.BaseFields("cache_save", e.cfg.CachePath)
	fields["entries"] = e.store.Size()
	e.log().WithFields(fields).Info("cache_saved")
	return nil
}
