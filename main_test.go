package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/any-hub/xk6-cache/internal/cache"
)

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	if code := run([]string{"version"}); code != 0 {
		t.Fatalf("version 应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutString(), "xk6-cache") {
		t.Fatalf("version 输出应包含 xk6-cache 标识: %s", stdOutString())
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	isolateEnv(t)
	useBufferWriters(t)
	if code := run([]string{"check-config", "--config", configFixture(t, "valid.toml")}); code != 0 {
		t.Fatalf("期望退出码 0，得到 %d: %s", code, stdErrString())
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	isolateEnv(t)
	useBufferWriters(t)
	if code := run([]string{"check-config", "--config", configFixture(t, "missing.toml")}); code == 0 {
		t.Fatalf("缺失的配置文件应返回非零退出码")
	}
	if code := run([]string{"check-config", "--config", configFixture(t, "strict-no-path.toml")}); code == 0 {
		t.Fatalf("strict 模式缺少缓存文件应返回非零退出码")
	}
}

func TestRunCheckConfigFlagOverridesMode(t *testing.T) {
	isolateEnv(t)
	useBufferWriters(t)
	if code := run([]string{"check-config", "--mode", "offline"}); code == 0 {
		t.Fatalf("未知模式应被拒绝")
	}
}

func TestVendorRequiresCacheFile(t *testing.T) {
	isolateEnv(t)
	useBufferWriters(t)
	if code := run([]string{"vendor", "https://example.com/a.js"}); code == 0 {
		t.Fatalf("未配置缓存文件时 vendor 应失败")
	}
	if !strings.Contains(stdErrString(), "XK6_CACHE") {
		t.Fatalf("错误信息应提示 XK6_CACHE: %s", stdErrString())
	}
}

func TestVendorRejectsInvalidURL(t *testing.T) {
	isolateEnv(t)
	useBufferWriters(t)
	file := filepath.Join(t.TempDir(), "vendor.k6c")
	if code := run([]string{"vendor", "--file", file, "ftp://example.com/a.js"}); code == 0 {
		t.Fatalf("非 http(s) 地址应被拒绝")
	}
}

func TestVendorListVerifyFlow(t *testing.T) {
	isolateEnv(t)
	useBufferWriters(t)

	srv := newModuleServer(t, map[string]string{
		"/lib/a.js": "export const a = 1",
		"/lib/b.js": "export const b = 2",
	})
	file := filepath.Join(t.TempDir(), "vendor.k6c")
	a := srv.URL + "/lib/a.js"
	b := srv.URL + "/lib/b.js"

	if code := run([]string{"vendor", "--file", file, "-j", "2", a, b}); code != 0 {
		t.Fatalf("vendor 失败，退出码 %d: %s", code, stdErrString())
	}

	store, err := cache.Open(file)
	if err != nil {
		t.Fatalf("打开缓存文件失败: %v", err)
	}
	if store.Size() != 2 {
		t.Fatalf("期望 2 个条目，得到 %d", store.Size())
	}
	if got, ok := store.Get(a + "?_k6=1"); !ok || string(got) != "export const a = 1" {
		t.Fatalf("条目内容不符: %q", got)
	}

	if code := run([]string{"vendor", "--file", file, a}); code != 0 {
		t.Fatalf("重复 vendor 应成功")
	}
	if srv.hitCount("/lib/a.js") != 1 {
		t.Fatalf("已缓存的模块不应再次回源，得到 %d 次", srv.hitCount("/lib/a.js"))
	}

	if code := run([]string{"list", "--file", file}); code != 0 {
		t.Fatalf("list 失败: %s", stdErrString())
	}
	if !strings.Contains(stdOutString(), "/lib/b.js?_k6=1") {
		t.Fatalf("list 输出应包含条目 key: %s", stdOutString())
	}

	if code := run([]string{"verify", "--file", file, a, b}); code != 0 {
		t.Fatalf("已 vendoring 的模块应通过校验: %s", stdErrString())
	}
	if code := run([]string{"verify", "--file", file, srv.URL + "/lib/c.js"}); code != 1 {
		t.Fatalf("缺失模块应返回退出码 1，得到 %d", code)
	}
	if !strings.Contains(stdOutString(), "MISSING") {
		t.Fatalf("verify 输出应标记 MISSING: %s", stdOutString())
	}
	if srv.hitCount("/lib/c.js") != 0 {
		t.Fatalf("verify 不应访问网络")
	}
}

func TestVendorStrictModeFailsOnMiss(t *testing.T) {
	isolateEnv(t)
	useBufferWriters(t)

	srv := newModuleServer(t, map[string]string{"/a.js": "a"})
	file := filepath.Join(t.TempDir(), "vendor.k6c")
	if code := run([]string{"vendor", "--file", file, "--mode", "strict", srv.URL + "/a.js"}); code == 0 {
		t.Fatalf("strict 模式下未缓存的模块应失败")
	}
	if srv.hitCount("/a.js") != 0 {
		t.Fatalf("strict 模式不应访问网络")
	}
}

func TestVendorRefreshOverwrites(t *testing.T) {
	isolateEnv(t)
	useBufferWriters(t)

	srv := newModuleServer(t, map[string]string{"/a.js": "v1"})
	file := filepath.Join(t.TempDir(), "vendor.k6c")
	url := srv.URL + "/a.js"

	if code := run([]string{"vendor", "--file", file, url}); code != 0 {
		t.Fatalf("vendor 失败: %s", stdErrString())
	}
	srv.set("/a.js", "v2")
	if code := run([]string{"vendor", "--file", file, url}); code != 0 {
		t.Fatalf("未 refresh 时应保留旧条目: %s", stdErrString())
	}
	if code := run([]string{"vendor", "--file", file, "--refresh", url}); code != 0 {
		t.Fatalf("refresh 失败: %s", stdErrString())
	}

	store, err := cache.Open(file)
	if err != nil {
		t.Fatalf("打开缓存文件失败: %v", err)
	}
	if got, _ := store.Get(url + "?_k6=1"); string(got) != "v2" {
		t.Fatalf("refresh 后应得到新内容，得到 %q", got)
	}
}

func TestVendorUpstreamErrorIsNotRecorded(t *testing.T) {
	isolateEnv(t)
	useBufferWriters(t)

	srv := newModuleServer(t, map[string]string{})
	file := filepath.Join(t.TempDir(), "vendor.k6c")
	if code := run([]string{"vendor", "--file", file, srv.URL + "/missing.js"}); code == 0 {
		t.Fatalf("上游 404 应导致 vendor 失败")
	}
	store, err := cache.Open(file)
	if err != nil {
		t.Fatalf("打开缓存文件失败: %v", err)
	}
	if store.Size() != 0 {
		t.Fatalf("失败的响应不应写入缓存文件")
	}
}
