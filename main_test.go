package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("THROTTLECACHE_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml", "--check-config"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" || !opts.checkOnly {
		t.Fatalf("flag 应高于环境变量，得到 %+v", opts)
	}
}

func TestParseCLIFlagsDefaultPath(t *testing.T) {
	t.Setenv("THROTTLECACHE_CONFIG", "")
	opts, err := parseCLIFlags(nil)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "config.toml" {
		t.Fatalf("默认配置路径应为 config.toml，得到 %s", opts.configPath)
	}
}

func TestParseCLIFlagsUnknownFlag(t *testing.T) {
	if _, err := parseCLIFlags([]string{"--nope"}); err == nil {
		t.Fatalf("未知 flag 应返回错误")
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	_, errBuf := useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(errBuf.String(), "加载配置失败") {
		t.Fatalf("stderr 应包含失败原因，得到 %q", errBuf.String())
	}
}

func TestRunCheckConfigRejectsBadPolicy(t *testing.T) {
	_, errBuf := useBufferWriters(t)
	path := writeConfigFile(t, fmt.Sprintf(`
CacheDir = "%s"

[[Rule]]
Host = 'api\.example\.com'

  [[Rule.Path]]
  Pattern = '/v1/'
  Policy = "forever"
`, filepath.ToSlash(t.TempDir())))

	if code := run(cliOptions{configPath: path, checkOnly: true}); code == 0 {
		t.Fatalf("非法 Policy 应返回非零退出码")
	}
	if !strings.Contains(errBuf.String(), "Rule") {
		t.Fatalf("错误应指向 Rule 配置，得到 %q", errBuf.String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	outBuf, _ := useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(outBuf.String(), "throttlecache") {
		t.Fatalf("version 输出应包含 throttlecache 标识")
	}
}
