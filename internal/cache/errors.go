package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey 表示 key 不满足编码约束（空串、非 UTF-8、包含 NUL 或超长）。
	ErrInvalidKey = errors.New("invalid cache key")

	// ErrConfiguration 是所有配置类错误（严格模式缺少路径、指标重复注册等）的公共哨兵。
	ErrConfiguration = errors.New("cache configuration error")

	// ErrMetricsConflict 表示指标已被其它前缀或其它 owner 注册。
	ErrMetricsConflict = fmt.Errorf("%w: metrics already registered", ErrConfiguration)

	// ErrStrictMiss 表示严格（离线）模式下请求了未缓存的 key。
	ErrStrictMiss = fmt.Errorf("%w: entry missing in strict mode", ErrConfiguration)

	// ErrDecode 表示缓存文件的帧结构或版本不合法。
	ErrDecode = errors.New("cache decode error")

	// ErrConflict 表示同一 key 写入了与已固定内容不同的正文。
	ErrConflict = errors.New("cache content conflict")

	// ErrFetch 表示底层拉取能力失败（网络、超时或 HTTP 状态码）。
	ErrFetch = errors.New("cache fetch error")

	// ErrUncacheable 表示上游返回的不是模块内容（如二进制或 JSON），正文只透传、不记录。
	ErrUncacheable = errors.New("response is not cacheable")

	// ErrPersistence 表示缓存文件的原子保存或读取失败。
	ErrPersistence = errors.New("cache persistence error")
)

// DecodeError 描述解码失败的位置与原因；Path 仅在从文件加载时填充。
type DecodeError struct {
	Path   string
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("decode %s: offset %d: %s", e.Path, e.Offset, e.Reason)
	}
	return fmt.Sprintf("decode: offset %d: %s", e.Offset, e.Reason)
}

// Is 让 errors.Is(err, ErrDecode) 成立。
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// ConflictError 表示 key 已经固定为其它内容，上游源可能已不稳定。
type ConflictError struct {
	Key string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("content conflict for %s: pinned entry differs from fetched content", e.Key)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// FetchError 包装拉取失败；StatusCode 为 0 表示非 HTTP 层错误。
type FetchError struct {
	Key        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: status %d: %v", e.Key, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: unexpected status %d", e.Key, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
	default:
		return fmt.Sprintf("fetch %s failed", e.Key)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == ErrFetch
}

// UncacheableError 携带未记录的上游正文，调用方可以原样返回给请求方。
type UncacheableError struct {
	Key         string
	ContentType string
	Content     []byte
}

func (e *UncacheableError) Error() string {
	return fmt.Sprintf("%s is not cached: content type %q is not a module", e.Key, e.ContentType)
}

func (e *UncacheableError) Is(target error) bool {
	return target == ErrUncacheable
}

// StrictMissError 表示严格模式下的未命中，不会触发任何网络访问。
type StrictMissError struct {
	Key string
}

func (e *StrictMissError) Error() string {
	return fmt.Sprintf("strict mode: %s is not vendored in the cache file", e.Key)
}

func (e *StrictMissError) Is(target error) bool {
	return target == ErrStrictMiss || target == ErrConfiguration
}

// PersistenceError 记录失败的操作（read/write/rename 等）及目标路径。
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
