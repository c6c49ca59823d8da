package cache

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"
)

// DefaultMetricPrefix 是未指定前缀时的指标名前缀。
const DefaultMetricPrefix = "xk6_cache"

// MetricNames 是启用后对外暴露的三个指标名。
type MetricNames struct {
	Entries string
	Hits    string
	Misses  string
}

// NamesFor 根据前缀生成指标名，空前缀回退到 DefaultMetricPrefix。
func NamesFor(prefix string) MetricNames {
	if prefix == "" {
		prefix = DefaultMetricPrefix
	}
	return MetricNames{
		Entries: prefix + "_entry_count",
		Hits:    prefix + "_hit_count",
		Misses:  prefix + "_miss_count",
	}
}

// Registrar 由外部指标管线实现（例如 k6 metrics registry），同名指标已被其它 owner 占用时返回错误。
type Registrar interface {
	RegisterMetrics(names MetricNames) error
}

// RegistrarFunc 把函数适配为 Registrar。
type RegistrarFunc func(MetricNames) error

// RegisterMetrics 实现 Registrar。
func (f RegistrarFunc) RegisterMetrics(names MetricNames) error {
	return f(names)
}

// MetricsOption 调整 Metrics 的可选依赖。
type MetricsOption func(*Metrics)

// WithRegistrar 在 Enable 时向外部管线注册指标名。
func WithRegistrar(r Registrar) MetricsOption {
	return func(m *Metrics) {
		m.registrar = r
	}
}

// MetricsSnapshot 是某一时刻的计量读数。
type MetricsSnapshot struct {
	Enabled bool   `json:"enabled"`
	Prefix  string `json:"prefix,omitempty"`
	Entries int64  `json:"entry_count"`
	Hits    int64  `json:"hit_count"`
	Misses  int64  `json:"miss_count"`
}

// Metrics 是显式持有的计量注册表：启用一次后在进程结束前持续有效。
// 启用前所有更新都是空操作；计数器可被多个执行上下文并发更新。
type Metrics struct {
	mu        sync.Mutex
	registrar Registrar
	source    *Store

	enabled atomic.Bool
	prefix  atomic.String
	entries atomic.Int64
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewMetrics 创建一个未启用的 Metrics。
func NewMetrics(opts ...MetricsOption) *Metrics {
	m := &Metrics{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enable 以 prefix 启用计量。相同前缀重复调用是幂等的；
// 已用其它前缀启用、或 Registrar 拒绝注册时返回 ErrMetricsConflict。
func (m *Metrics) Enable(prefix string) error {
	if prefix == "" {
		prefix = DefaultMetricPrefix
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.enabled.Load() {
		if current := m.prefix.Load(); current != prefix {
			return fmt.Errorf("%w: enabled with prefix %q, requested %q", ErrMetricsConflict, current, prefix)
		}
		return nil
	}

	if m.registrar != nil {
		if err := m.registrar.RegisterMetrics(NamesFor(prefix)); err != nil {
			return fmt.Errorf("%w: %v", ErrMetricsConflict, err)
		}
	}

	m.prefix.Store(prefix)
	m.enabled.Store(true)
	if m.source != nil {
		m.setEntries(m.source.Size())
	}
	return nil
}

// Measure 是 measure(prefix?) 的入口：成功启用返回 true。
func (m *Metrics) Measure(prefix string) bool {
	return m.Enable(prefix) == nil
}

// Enabled 返回是否已启用。
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled.Load()
}

// Names 返回当前生效的指标名；未启用时返回默认前缀下的名称。
func (m *Metrics) Names() MetricNames {
	return NamesFor(m.prefix.Load())
}

// Snapshot 读取当前计量值。
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Enabled: m.enabled.Load(),
		Prefix:  m.prefix.Load(),
		Entries: m.entries.Load(),
		Hits:    m.hits.Load(),
		Misses:  m.misses.Load(),
	}
}

func (m *Metrics) bind(s *Store) {
	m.mu.Lock()
	m.source = s
	m.mu.Unlock()
	m.setEntries(s.Size())
}

func (m *Metrics) recordHit() {
	if m.Enabled() {
		m.hits.Inc()
	}
}

func (m *Metrics) recordMiss() {
	if m.Enabled() {
		m.misses.Inc()
	}
}

// setEntries 刷新 entry 计量。Store 只增不减，因此取最大值可避免并发写入时的乱序回退。
func (m *Metrics) setEntries(size int) {
	if !m.Enabled() {
		return
	}
	next := int64(size)
	for {
		current := m.entries.Load()
		if next <= current || m.entries.CompareAndSwap(current, next) {
			return
		}
	}
}
