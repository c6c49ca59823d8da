package server

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	perrors "github.com/jmgilman/go/errors"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/xk6-cache/internal/cache"
	"github.com/any-hub/xk6-cache/internal/logging"
)

// AppOptions controls how the module mirror resolves requests.
type AppOptions struct {
	Logger   *logrus.Logger
	Resolver *cache.Resolver
	Mode     cache.Mode
}

const contextKeyRequestID = "_xk6cache_request_id"

// NewApp builds a Fiber application that serves vendored modules under
// /<scheme>/<host>/<path> with structured error payloads.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if opts.Mode == "" {
		opts.Mode = cache.ModeHybrid
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	mirror := &mirrorHandler{
		logger:   opts.Logger,
		resolver: opts.Resolver,
		mode:     opts.Mode,
	}
	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return mirror.Handle(c)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID 并回写到响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}

// MirrorKey 把镜像路径 /<scheme>/<host>/<path> 与原始查询串还原为模块 URL，并按 cache.KeyFor 规范化为缓存 key。
func MirrorKey(rawPath, rawQuery string) (string, error) {
	trimmed := strings.TrimPrefix(rawPath, "/")
	parts := strings.SplitN(trimmed, "/", 3)
	if len(parts) < 2 {
		return "", fmt.Errorf("%w: mirror path must be /<scheme>/<host>/<path>", cache.ErrInvalidKey)
	}

	scheme := strings.ToLower(parts[0])
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", cache.ErrInvalidKey, parts[0])
	}
	host := parts[1]
	if host == "" {
		return "", fmt.Errorf("%w: missing host", cache.ErrInvalidKey)
	}

	rest := "/"
	if len(parts) == 3 {
		rest += parts[2]
	}

	raw := scheme + "://" + host + rest
	if rawQuery != "" {
		raw += "?" + rawQuery
	}
	loc, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", cache.ErrInvalidKey, err)
	}
	// 与 vendor 命令和 k6 Transport 共用同一套 key（带 _k6=1 标记）。
	return cache.KeyFor(loc), nil
}

type mirrorHandler struct {
	logger   *logrus.Logger
	resolver *cache.Resolver
	mode     cache.Mode
}

func (h *mirrorHandler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := RequestID(c)

	method := c.Method()
	if method != fiber.MethodGet && method != fiber.MethodHead {
		err := perrors.New(perrors.CodeInvalidInput, "only GET and HEAD are served from the cache")
		return c.Status(fiber.StatusMethodNotAllowed).JSON(perrors.ToJSON(err))
	}

	uri := c.Request().URI()
	key, err := MirrorKey(string(uri.PathOriginal()), string(uri.QueryString()))
	if err != nil {
		status, payload := classifyError("", err)
		h.logResult(key, requestID, status, false, started, err)
		return c.Status(status).JSON(payload)
	}

	ctx := WithForwardHeaders(c.Context(), fiberHeadersAsHTTP(c))
	res, err := h.resolver.ResolveEntry(ctx, key)
	var uncached *cache.UncacheableError
	if errors.As(err, &uncached) {
		if uncached.ContentType != "" {
			c.Set(fiber.HeaderContentType, uncached.ContentType)
		}
		c.Set("X-Xk6-Cache-Hit", "false")
		h.logResult(key, requestID, fiber.StatusOK, false, started, nil)
		return c.Status(fiber.StatusOK).Send(uncached.Content)
	}
	if err != nil {
		status, payload := classifyError(key, err)
		h.logResult(key, requestID, status, false, started, err)
		return c.Status(status).JSON(payload)
	}

	if contentType := inferContentType(key, res.Content); contentType != "" {
		c.Set(fiber.HeaderContentType, contentType)
	}
	c.Set("X-Xk6-Cache-Hit", strconv.FormatBool(res.Hit))
	h.logResult(key, requestID, fiber.StatusOK, res.Hit, started, nil)

	return c.Status(fiber.StatusOK).Send(res.Content)
}

func (h *mirrorHandler) logResult(key, requestID string, status int, hit bool, started time.Time, err error) {
	fields := logging.ResolveFields(key, string(h.mode), hit)
	fields["action"] = "mirror"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Warn("mirror_failed")
		return
	}
	h.logger.WithFields(fields).Info("mirror_complete")
}

// classifyError 将解析错误映射为 HTTP 状态与稳定的错误码载荷。
func classifyError(key string, err error) (int, *perrors.ErrorResponse) {
	ctx := map[string]interface{}{}
	if key != "" {
		ctx["key"] = key
	}

	status := fiber.StatusInternalServerError
	code := perrors.CodeInternal
	message := "cache resolution failed"

	var fetchErr *cache.FetchError
	switch {
	case errors.Is(err, cache.ErrInvalidKey):
		status, code, message = fiber.StatusBadRequest, perrors.CodeInvalidInput, "invalid module identifier"
	case errors.Is(err, cache.ErrConflict):
		status, code, message = fiber.StatusConflict, perrors.CodeConflict, "vendored content differs from upstream"
	case errors.Is(err, cache.ErrStrictMiss):
		status, code, message = fiber.StatusNotFound, perrors.CodeNotFound, "module is not vendored and strict mode forbids fetching"
	case errors.As(err, &fetchErr):
		status, code, message = fiber.StatusBadGateway, perrors.CodeNetwork, "upstream fetch failed"
		if fetchErr.StatusCode >= 400 {
			status = fetchErr.StatusCode
			ctx["upstream_status"] = fetchErr.StatusCode
			if fetchErr.StatusCode == http.StatusNotFound {
				code = perrors.CodeNotFound
			}
		}
	case errors.Is(err, context.DeadlineExceeded):
		status, code, message = fiber.StatusGatewayTimeout, perrors.CodeTimeout, "upstream fetch timed out"
	case errors.Is(err, context.Canceled):
		status, code, message = fiber.StatusServiceUnavailable, perrors.CodeUnavailable, "request canceled"
	}

	wrapped := perrors.WrapWithContext(err, code, message, ctx)
	return status, perrors.ToJSON(wrapped)
}

// inferContentType 优先按扩展名推断，k6 脚本常见的 .js/.mjs/.ts 单独处理。
func inferContentType(key string, content []byte) string {
	clean := key
	if parsed, err := url.Parse(key); err == nil {
		clean = parsed.Path
	}
	switch ext := strings.ToLower(path.Ext(clean)); ext {
	case ".js", ".mjs", ".cjs":
		return "application/javascript"
	case ".ts":
		return "application/typescript"
	case ".json":
		return "application/json"
	case "":
	default:
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			return byExt
		}
	}
	if len(content) == 0 {
		return ""
	}
	return http.DetectContentType(content)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}
