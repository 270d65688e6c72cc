package version

import (
	"fmt"
	"runtime"
)

// 构建时通过 -ldflags "-X .../internal/version.Version=..." 注入。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Full 返回 CLI 打印用的版本串，附带编译所用的 Go 版本。
func Full() string {
	return fmt.Sprintf("throttlecache %s (%s, %s)", Version, Commit, runtime.Version())
}

// UserAgent 是未配置 UserAgent 时发往上游的默认值。
func UserAgent() string {
	return "throttlecache/" + Version
}
