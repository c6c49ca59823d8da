package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestCheckConfigLogFallbackToStderr(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root 用户无视目录权限")
	}
	isolateEnv(t)

	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	logPath := filepath.Join(blocked, "sub", "xk6-cache.log")
	configPath := writeConfigFile(t, fmt.Sprintf(`
LogLevel = "info"
LogFilePath = "%s"
CachePath = "%s"
Mode = "hybrid"
`, logPath, filepath.Join(dir, "vendor.k6c")))

	useBufferWriters(t)
	if code := run([]string{"check-config", "--config", configPath}); code != 0 {
		t.Fatalf("日志 fallback 不应导致失败，得到 %d: %s", code, stdErrString())
	}
}
