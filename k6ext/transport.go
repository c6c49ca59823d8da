package k6ext

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/xk6-cache/internal/cache"
	"github.com/any-hub/xk6-cache/internal/server"
)

// Transport 是替换 http.DefaultTransport 的 RoundTripper：GET 请求走缓存解析，其余原样透传。
type Transport struct {
	resolver *cache.Resolver
	next     http.RoundTripper
	logger   logrus.FieldLogger
}

var _ http.RoundTripper = (*Transport)(nil)

// NewTransport 创建 Transport；next 用于透传非 GET 请求。
func NewTransport(resolver *cache.Resolver, next http.RoundTripper, logger logrus.FieldLogger) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Transport{resolver: resolver, next: next, logger: logger}
}

// RoundTrip 实现 http.RoundTripper。非模块类型的响应原样返回给调用方，不写入缓存。
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet || req.URL == nil || (req.URL.Scheme != "http" && req.URL.Scheme != "https") {
		return t.next.RoundTrip(req)
	}

	key := cache.KeyFor(req.URL)
	ctx := server.WithForwardHeaders(req.Context(), req.Header)
	res, err := t.resolver.ResolveEntry(ctx, key)
	if err != nil {
		var fetchErr *cache.FetchError
		if errors.As(err, &fetchErr) && fetchErr.StatusCode != 0 {
			return newResponse(req, fetchErr.StatusCode, nil, false), nil
		}
		var uncached *cache.UncacheableError
		if errors.As(err, &uncached) {
			resp := newResponse(req, http.StatusOK, uncached.Content, false)
			if uncached.ContentType != "" {
				resp.Header.Set("Content-Type", uncached.ContentType)
			}
			return resp, nil
		}
		t.logger.WithError(err).WithField("key", key).Warn("cache_resolve_failed")
		return nil, err
	}

	return newResponse(req, http.StatusOK, res.Content, res.Hit), nil
}

func newResponse(req *http.Request, status int, body []byte, hit bool) *http.Response {
	header := make(http.Header)
	header.Set("Content-Length", strconv.Itoa(len(body)))
	header.Set("X-Xk6-Cache-Hit", strconv.FormatBool(hit))

	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
		Header:        header,
	}
}
