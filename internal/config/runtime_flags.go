package config

import (
	"fmt"
	"strings"
)

// CacheMode 控制客户端是否挂载磁盘缓存层。
// - disabled：只保留限速层，所有请求直达上游。
// - filecache：缓存 → 限速 → 网络，按 [[Rule]] 决定哪些 GET 请求落盘。
type CacheMode string

const (
	CacheModeDisabled CacheMode = "disabled"
	CacheModeFile     CacheMode = "filecache"
)

// parseCacheMode 将配置中的 CacheMode 标准化，空值视为 filecache。
func parseCacheMode(raw string) (CacheMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(CacheModeFile):
		return CacheModeFile, nil
	case string(CacheModeDisabled), "false", "off":
		return CacheModeDisabled, nil
	default:
		return "", fmt.Errorf("不支持的 CacheMode 值: %s", raw)
	}
}

// CacheModeValue 返回生效的缓存模式（假定 Validate 已经通过）。
func (g GlobalConfig) CacheModeValue() CacheMode {
	mode, err := parseCacheMode(g.CacheMode)
	if err != nil {
		return CacheModeDisabled
	}
	return mode
}

// CachingEnabled 表示是否需要构建磁盘缓存。
func (g GlobalConfig) CachingEnabled() bool {
	return g.CacheModeValue() == CacheModeFile
}
