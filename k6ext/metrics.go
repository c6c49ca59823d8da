package k6ext

import (
	"errors"
	"sync"
	"time"

	"go.k6.io/k6/metrics"

	"github.com/any-hub/xk6-cache/internal/cache"
)

// registrar 把 cache.Metrics 的指标名注册到 k6 metrics registry。
// registry 只在 VU 初始化阶段可见，因此在此之前的启用请求会被挂起，attach 时再补注册。
type registrar struct {
	mu       sync.Mutex
	registry *metrics.Registry
	pending  *cache.MetricNames

	// err 记录 attach 时补注册失败的原因，measure() 据此返回 false。
	err error

	entries *metrics.Metric
	hits    *metrics.Metric
	misses  *metrics.Metric

	// pushed* 记录已推送的计数器值，计数器样本只推送增量。
	pushedHits   int64
	pushedMisses int64
}

var _ cache.Registrar = (*registrar)(nil)

// RegisterMetrics 实现 cache.Registrar。
func (r *registrar) RegisterMetrics(names cache.MetricNames) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.registry == nil {
		r.pending = &names
		return nil
	}
	return r.registerLocked(names)
}

// attach 绑定 k6 registry，重复调用只保留第一个。
func (r *registrar) attach(registry *metrics.Registry) error {
	if registry == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.registry != nil {
		return nil
	}
	r.registry = registry
	if r.pending == nil {
		return nil
	}
	names := *r.pending
	r.pending = nil
	if err := r.registerLocked(names); err != nil {
		r.err = err
		return err
	}
	return nil
}

// failure 返回延迟注册时的错误；Metrics 已启用但 k6 未接受这些指标时非空。
func (r *registrar) failure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *registrar) registerLocked(names cache.MetricNames) error {
	entries, err := r.registry.NewMetric(names.Entries, metrics.Gauge)
	if err != nil {
		return err
	}
	hits, err := r.registry.NewMetric(names.Hits, metrics.Counter)
	if err != nil {
		return err
	}
	misses, err := r.registry.NewMetric(names.Misses, metrics.Counter)
	if err != nil {
		return err
	}

	r.entries, r.hits, r.misses = entries, hits, misses
	return nil
}

var errNotRegistered = errors.New("cache metrics are not registered with k6")

// samples 根据快照生成一组样本：entry 为绝对值，hit/miss 为自上次推送以来的增量。
func (r *registrar) samples(snapshot cache.MetricsSnapshot, tags *metrics.TagSet, now time.Time) (metrics.Samples, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries == nil {
		return nil, errNotRegistered
	}

	hits := snapshot.Hits - r.pushedHits
	misses := snapshot.Misses - r.pushedMisses
	if hits < 0 {
		hits = 0
	}
	if misses < 0 {
		misses = 0
	}
	r.pushedHits += hits
	r.pushedMisses += misses

	return metrics.Samples{
		newSample(r.entries, tags, now, snapshot.Entries),
		newSample(r.hits, tags, now, hits),
		newSample(r.misses, tags, now, misses),
	}, nil
}

func newSample(metric *metrics.Metric, tags *metrics.TagSet, now time.Time, value int64) metrics.Sample {
	return metrics.Sample{
		TimeSeries: metrics.TimeSeries{
			Metric: metric,
			Tags:   tags,
		},
		Time:  now,
		Value: float64(value),
	}
}
