package cache

import (
	"bytes"
	"sort"
	"sync"
)

// Entry 是一条 key → 正文 的缓存记录。Content 在写入后不可变。
type Entry struct {
	Key     string `json:"key"`
	Content []byte `json:"-"`
}

// Option 调整 Store 的可选依赖。
type Option func(*Store)

// WithMetrics 让 Store 在每次成功写入后刷新 entry 计量，并作为 Metrics 的 size 来源。
func WithMetrics(m *Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// Store 是本次运行内存中的权威条目集合，单把读写锁保护：
// 并发 Get 走读锁，Put/Update 只在修改 map 的瞬间持有写锁。
type Store struct {
	mu      sync.RWMutex
	entries map[string][]byte
	// rev 在每次修改时递增，saved 记录最近一次成功保存时的 rev。
	rev   uint64
	saved uint64

	metrics *Metrics
}

// NewStore 创建空 Store。
func NewStore(opts ...Option) *Store {
	return newStore(make(map[string][]byte), opts...)
}

// Load 从编码字节构建 Store；解码失败时不返回任何部分结果。
func Load(data []byte, opts ...Option) (*Store, error) {
	entries, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return newStore(entries, opts...), nil
}

func newStore(entries map[string][]byte, opts ...Option) *Store {
	s := &Store{entries: entries}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics != nil {
		s.metrics.bind(s)
	}
	return s
}

// Get 返回 key 对应正文的副本；未命中时第二个返回值为 false。
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	content, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return bytes.Clone(content), true
}

// Put 在 key 不存在时写入；内容相同视为幂等成功，内容不同返回 *ConflictError 且保留原值。
func (s *Store) Put(key string, content []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	existing, ok := s.entries[key]
	if ok {
		s.mu.Unlock()
		if bytes.Equal(existing, content) {
			return nil
		}
		return &ConflictError{Key: key}
	}
	s.entries[key] = bytes.Clone(content)
	s.rev++
	size := len(s.entries)
	s.mu.Unlock()

	s.metrics.setEntries(size)
	return nil
}

// Update 是显式刷新路径：无条件覆盖已固定的条目。默认解析流程不会调用它。
func (s *Store) Update(key string, content []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	existing, ok := s.entries[key]
	if ok && bytes.Equal(existing, content) {
		s.mu.Unlock()
		return nil
	}
	s.entries[key] = bytes.Clone(content)
	s.rev++
	size := len(s.entries)
	s.mu.Unlock()

	s.metrics.setEntries(size)
	return nil
}

// Size 返回当前条目数，entry 计量直接取自这里以避免计数漂移。
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Dirty 表示自加载或上次保存以来是否有新的条目。
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.rev != s.saved
}

// Keys 返回按字节序升序排列的 key 列表。
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Entries 返回按 key 排序的条目快照，正文均为副本。
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	result := make([]Entry, 0, len(s.entries))
	for key, content := range s.entries {
		result = append(result, Entry{Key: key, Content: bytes.Clone(content)})
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result
}

// Dump 以确定性格式序列化当前条目。
func (s *Store) Dump() ([]byte, error) {
	data, _, err := s.snapshot()
	return data, err
}

func (s *Store) snapshot() ([]byte, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := Encode(s.entries)
	return data, s.rev, err
}

// markSaved 只在保存期间没有新写入时清除 dirty 状态。
func (s *Store) markSaved(rev uint64) {
	s.mu.Lock()
	if rev > s.saved {
		s.saved = rev
	}
	s.mu.Unlock()
}
