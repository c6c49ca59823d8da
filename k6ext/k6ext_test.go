package k6ext

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/xk6-cache/internal/config"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// upstream 模拟替换前的 DefaultTransport，按 URL 路径返回固定正文。
type upstream struct {
	calls  atomic.Int32
	bodies map[string]string
}

func (u *upstream) RoundTrip(req *http.Request) (*http.Response, error) {
	u.calls.Add(1)
	body, ok := u.bodies[req.URL.Path]
	status := http.StatusOK
	if !ok {
		status = http.StatusNotFound
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func newTestConfig(t *testing.T, mode string, persistent bool) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Mode:            mode,
		UpstreamTimeout: config.Duration(5 * time.Second),
		MaxContentSize:  1 << 20,
	}
	if persistent {
		cfg.CachePath = filepath.Join(t.TempDir(), "vendor.k6c")
	}
	return cfg
}

func newTestExtension(t *testing.T, cfg *config.Config, next http.RoundTripper) *Extension {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	ext, err := NewExtension(cfg, next, logger)
	require.NoError(t, err)
	return ext
}

func get(t *testing.T, rt http.RoundTripper, rawURL string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, rawURL, http.NoBody)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestNewExtensionRequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := NewExtension(nil, nil, nil)
	require.Error(t, err)
}

func TestNewExtensionRejectsMalformedFile(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t, "hybrid", true)
	require.NoError(t, writeFile(cfg.CachePath, []byte("not a cache file")))

	_, err := NewExtension(cfg, &upstream{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load cache file")
}

func TestExtensionSaveVendorsThenServesStrict(t *testing.T) {
	t.Parallel()

	up := &upstream{bodies: map[string]string{"/lib/a.js": "export const a = 1"}}
	cfg := newTestConfig(t, "hybrid", true)
	ext := newTestExtension(t, cfg, up)

	resp, body := get(t, ext.Transport(), "https://example.com/lib/a.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "export const a = 1", body)
	assert.Equal(t, "false", resp.Header.Get("X-Xk6-Cache-Hit"))
	require.NoError(t, ext.Save())

	strictCfg := *cfg
	strictCfg.Mode = "strict"
	offline := roundTripperFunc(func(*http.Request) (*http.Response, error) {
		t.Fatalf("strict mode must not reach the network")
		return nil, nil
	})
	reloaded := newTestExtension(t, &strictCfg, offline)
	assert.Equal(t, 1, reloaded.Store().Size())

	resp, body = get(t, reloaded.Transport(), "https://example.com/lib/a.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "export const a = 1", body)
	assert.Equal(t, "true", resp.Header.Get("X-Xk6-Cache-Hit"))
}

func TestExtensionSaveSkipsCleanStore(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t, "hybrid", true)
	ext := newTestExtension(t, cfg, &upstream{})

	require.NoError(t, ext.Save())
	assert.NoFileExists(t, cfg.CachePath)
}

func TestExtensionSaveWithoutFileIsNoop(t *testing.T) {
	t.Parallel()

	up := &upstream{bodies: map[string]string{"/a.js": "a"}}
	ext := newTestExtension(t, newTestConfig(t, "hybrid", false), up)

	get(t, ext.Transport(), "https://example.com/a.js")
	assert.False(t, ext.Persistent())
	require.NoError(t, ext.Save())
}

func TestNewExtensionEnablesMeasureFromConfig(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t, "hybrid", false)
	cfg.Measure = true
	cfg.MetricPrefix = "vendor"
	ext := newTestExtension(t, cfg, &upstream{})

	snapshot := ext.Metrics().Snapshot()
	assert.True(t, snapshot.Enabled)
	assert.Equal(t, "vendor", snapshot.Prefix)
}

func TestOutputLifecycle(t *testing.T) {
	t.Parallel()

	up := &upstream{bodies: map[string]string{"/b.js": "export default 2"}}
	cfg := newTestConfig(t, "hybrid", true)
	ext := newTestExtension(t, cfg, up)

	out, err := ext.NewOutput(outputParams())
	require.NoError(t, err)
	assert.Equal(t, "cache ("+cfg.CachePath+")", out.Description())
	require.NoError(t, out.Start())
	out.AddMetricSamples(nil)

	get(t, ext.Transport(), "https://example.com/b.js")
	require.NoError(t, out.Stop())
	assert.FileExists(t, cfg.CachePath)
}

func TestOutputDescriptionWithoutFile(t *testing.T) {
	t.Parallel()

	ext := newTestExtension(t, newTestConfig(t, "hybrid", false), &upstream{})
	out, err := ext.NewOutput(outputParams())
	require.NoError(t, err)
	assert.Equal(t, "cache (-)", out.Description())
	require.NoError(t, out.Stop())
}

func TestRegister(t *testing.T) {
	t.Parallel()

	assert.Panics(t, register) // already registered by init
}
