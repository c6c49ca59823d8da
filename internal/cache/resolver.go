package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Mode 决定未命中时的行为。
type Mode string

const (
	// ModeHybrid 未命中时回源并写入缓存，用于增量 vendoring（默认）。
	ModeHybrid Mode = "hybrid"
	// ModeStrict 未命中即致命错误，不做任何网络访问。
	ModeStrict Mode = "strict"
)

// ParseMode 规范化配置中的 mode 字段，空值回退到 ModeHybrid。
func ParseMode(raw string) (Mode, error) {
	switch normalized := Mode(strings.ToLower(strings.TrimSpace(raw))); normalized {
	case "":
		return ModeHybrid, nil
	case ModeHybrid, ModeStrict:
		return normalized, nil
	default:
		return "", fmt.Errorf("%w: unsupported mode %q (hybrid|strict)", ErrConfiguration, raw)
	}
}

// Fetcher 是模块加载链路中的拉取能力：按标识返回完整正文。
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// FetcherFunc 把函数适配为 Fetcher。
type FetcherFunc func(ctx context.Context, key string) ([]byte, error)

// Fetch 实现 Fetcher。
func (f FetcherFunc) Fetch(ctx context.Context, key string) ([]byte, error) {
	return f(ctx, key)
}

// OfflineFetcher 用于严格模式：永远不访问网络，直接返回 *StrictMissError。
type OfflineFetcher struct{}

// Fetch 实现 Fetcher。
func (OfflineFetcher) Fetch(_ context.Context, key string) ([]byte, error) {
	return nil, &StrictMissError{Key: key}
}

// FetcherForMode 根据模式选择注入 Resolver 的拉取能力，resolver 本身不感知模式。
func FetcherForMode(mode Mode, network Fetcher) Fetcher {
	if mode == ModeStrict || network == nil {
		return OfflineFetcher{}
	}
	return network
}

// Resolution 是一次解析的结果。
type Resolution struct {
	Key     string
	Content []byte
	Hit     bool
}

// Resolver 组合 Store 与 Fetcher 实现 read-through 缓存，是执行引擎模块加载器调用的入口。
type Resolver struct {
	store   *Store
	fetcher Fetcher
	metrics *Metrics
	logger  logrus.FieldLogger
}

// ResolverOptions 描述 Resolver 的依赖；Metrics/Logger 可为空。
type ResolverOptions struct {
	Store   *Store
	Fetcher Fetcher
	Metrics *Metrics
	Logger  logrus.FieldLogger
}

// NewResolver 构造 Resolver，Store 与 Fetcher 必须提供。
func NewResolver(opts ResolverOptions) (*Resolver, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Resolver{
		store:   opts.Store,
		fetcher: opts.Fetcher,
		metrics: opts.Metrics,
		logger:  logger,
	}, nil
}

// Store 返回底层 Store，供持久化与诊断使用。
func (r *Resolver) Store() *Store {
	return r.store
}

// Resolve 返回 key 对应的正文，语义见 ResolveEntry。
func (r *Resolver) Resolve(ctx context.Context, key string) ([]byte, error) {
	res, err := r.ResolveEntry(ctx, key)
	if err != nil {
		return nil, err
	}
	return res.Content, nil
}

// ResolveEntry 先查缓存：命中直接返回并记 hit；未命中在锁外调用 Fetcher，
// 成功后 Put 并记 miss。拉取失败原样返回，不修改 Store，也不记 hit/miss。
func (r *Resolver) ResolveEntry(ctx context.Context, key string) (Resolution, error) {
	if err := ctx.Err(); err != nil {
		return Resolution{}, err
	}
	if err := ValidateKey(key); err != nil {
		return Resolution{}, err
	}

	log := r.logger.WithField("key", key)

	if content, ok := r.store.Get(key); ok {
		r.metrics.recordHit()
		log.Debug("cache_hit")
		return Resolution{Key: key, Content: content, Hit: true}, nil
	}

	content, err := r.fetcher.Fetch(ctx, key)
	if err != nil {
		return Resolution{}, wrapFetchError(key, err)
	}

	if err := r.store.Put(key, content); err != nil {
		if errors.Is(err, ErrConflict) {
			log.Warn("cache_conflict")
		}
		return Resolution{}, err
	}
	r.metrics.recordMiss()
	log.WithField("size", len(content)).Debug("cache_miss")

	return Resolution{Key: key, Content: content, Hit: false}, nil
}

// wrapFetchError 保留已分类的错误（严格未命中、FetchError、不可缓存、ctx 取消），其余统一包装为 *FetchError。
func wrapFetchError(key string, err error) error {
	switch {
	case errors.Is(err, ErrStrictMiss),
		errors.Is(err, ErrFetch),
		errors.Is(err, ErrUncacheable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return &FetchError{Key: key, Err: err}
	}
}
