package server

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/xk6-cache/internal/cache"
	"github.com/any-hub/xk6-cache/internal/config"
	"github.com/any-hub/xk6-cache/internal/version"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient 返回共享 http.Client，用于所有回源请求。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	return NewUpstreamClientWithTransport(cfg, defaultTransport.Clone())
}

// NewUpstreamClientWithTransport 使用给定 transport 构建 http.Client，k6 扩展用它包裹替换前的 DefaultTransport。
func NewUpstreamClientWithTransport(cfg *config.Config, transport http.RoundTripper) *http.Client {
	timeout := 30 * time.Second
	if cfg != nil && cfg.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.UpstreamTimeout.DurationValue()
	}

	if cfg != nil && cfg.UpstreamProxy != "" {
		if base, ok := transport.(*http.Transport); ok && base != nil {
			if proxyURL, err := url.Parse(cfg.UpstreamProxy); err == nil {
				cloned := base.Clone()
				cloned.Proxy = http.ProxyURL(proxyURL)
				transport = cloned
			}
		}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

// CopyHeaders 将 src 中允许透传的头复制到 dst，自动忽略 hop-by-hop 字段。
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func isHopByHopHeader(key string) bool {
	canonical := textproto.CanonicalMIMEHeaderKey(key)
	if _, ok := hopByHopHeaders[canonical]; ok {
		return true
	}

	return false
}

type forwardHeadersKey struct{}

// WithForwardHeaders 把调用方的请求头挂到 ctx 上，HTTPFetcher 回源时会透传它们。
func WithForwardHeaders(ctx context.Context, header http.Header) context.Context {
	if len(header) == 0 {
		return ctx
	}
	return context.WithValue(ctx, forwardHeadersKey{}, header)
}

func forwardHeaders(ctx context.Context) http.Header {
	if header, ok := ctx.Value(forwardHeadersKey{}).(http.Header); ok {
		return header
	}
	return nil
}

// HTTPFetcher 是 hybrid 模式下的网络拉取实现：只缓存 200 响应的完整正文。
type HTTPFetcher struct {
	client  *http.Client
	logger  logrus.FieldLogger
	maxSize int64
}

var _ cache.Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher 创建 HTTPFetcher；maxSize <= 0 表示不限制正文大小。
func NewHTTPFetcher(client *http.Client, logger logrus.FieldLogger, maxSize int64) *HTTPFetcher {
	if client == nil {
		client = NewUpstreamClient(nil)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HTTPFetcher{client: client, logger: logger, maxSize: maxSize}
}

// Fetch 以 GET 拉取 key。非 200 状态返回带状态码的 *cache.FetchError；
// 非模块类型的 200 正文以 *cache.UncacheableError 返回，同样不会被缓存。
func (f *HTTPFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key, http.NoBody)
	if err != nil {
		return nil, &cache.FetchError{Key: key, Err: err}
	}
	if header := forwardHeaders(ctx); header != nil {
		CopyHeaders(req.Header, header)
	}
	// 交给 transport 协商压缩，保证缓存里永远是解压后的正文。
	req.Header.Del("Accept-Encoding")
	req.Header.Del("Host")
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", version.UserAgent())
	}

	started := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &cache.FetchError{Key: key, Err: err}
	}
	defer resp.Body.Close()

	fields := logrus.Fields{
		"action":          "upstream_fetch",
		"key":             key,
		"upstream_status": resp.StatusCode,
		"elapsed_ms":      time.Since(started).Milliseconds(),
	}

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		f.logger.WithFields(fields).Warn("upstream_status_rejected")
		return nil, &cache.FetchError{
			Key:        key,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("upstream returned %s", resp.Status),
		}
	}

	reader := io.Reader(resp.Body)
	if f.maxSize > 0 {
		reader = io.LimitReader(resp.Body, f.maxSize+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &cache.FetchError{Key: key, Err: err}
	}
	if f.maxSize > 0 && int64(len(body)) > f.maxSize {
		return nil, &cache.FetchError{Key: key, Err: fmt.Errorf("content exceeds %d bytes", f.maxSize)}
	}

	fields["size"] = len(body)
	contentType := resp.Header.Get("Content-Type")
	if !IsModuleContentType(contentType) {
		fields["content_type"] = contentType
		f.logger.WithFields(fields).Debug("upstream_not_cacheable")
		return nil, &cache.UncacheableError{Key: key, ContentType: contentType, Content: body}
	}

	f.logger.WithFields(fields).Debug("upstream_fetch_complete")
	return body, nil
}

// IsModuleContentType 判断 200 响应是否可以作为模块记录：text/* 或 *javascript*；
// 缺失或无法解析的 Content-Type 也按模块处理，部分 CDN 不会返回该头。
func IsModuleContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return true
	}
	return strings.HasPrefix(mediaType, "text/") || strings.Contains(mediaType, "javascript")
}
