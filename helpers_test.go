package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// useBufferWriters swaps stdOut/stdErr with in-memory buffers for the duration
// of a test, allowing assertions on CLI output without polluting test logs.
func useBufferWriters(t *testing.T) {
	t.Helper()

	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = &bytes.Buffer{}, &bytes.Buffer{}

	t.Cleanup(func() {
		stdOut = prevOut
		stdErr = prevErr
	})
}

func stdOutString() string {
	buf, _ := stdOut.(*bytes.Buffer)
	return buf.String()
}

func stdErrString() string {
	buf, _ := stdErr.(*bytes.Buffer)
	return buf.String()
}

// isolateEnv 清空会影响配置加载的环境变量。
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"XK6_CACHE", "XK6_CACHE_CONFIG", "XK6_CACHE_MODE", "XK6_CACHE_LOG_FILE"} {
		t.Setenv(key, "")
	}
}

func configFixture(t *testing.T, name string) string {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("internal", "config", "testdata", name))
	if err != nil {
		t.Fatalf("无法定位配置样例: %v", err)
	}
	return path
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}

// moduleServer 是可在测试中修改正文的模块源站。
type moduleServer struct {
	*httptest.Server

	mu      sync.Mutex
	modules map[string]string
	hits    map[string]int
}

func newModuleServer(t *testing.T, modules map[string]string) *moduleServer {
	t.Helper()
	srv := &moduleServer{modules: modules, hits: map[string]int{}}
	srv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.mu.Lock()
		body, ok := srv.modules[r.URL.Path]
		srv.hits[r.URL.Path]++
		srv.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (s *moduleServer) set(path, body string) {
	s.mu.Lock()
	s.modules[path] = body
	s.mu.Unlock()
}

func (s *moduleServer) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}
