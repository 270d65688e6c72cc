package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/throttlecache/internal/cache"
	"github.com/any-hub/throttlecache/internal/rules"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", fmt.Sprintf("无法识别: %s", g.LogLevel))
	}

	mode, err := parseCacheMode(g.CacheMode)
	if err != nil {
		return newFieldError("Global.CacheMode", "仅支持 disabled|filecache")
	}
	if mode == CacheModeFile && strings.TrimSpace(g.CacheDir) == "" {
		return newFieldError("Global.CacheDir", "filecache 模式下不能为空")
	}
	if _, err := cache.ParseLockMode(g.LockMode); err != nil {
		return newFieldError("Global.LockMode", "仅支持 try|block|none")
	}
	if _, err := cache.ParseWriteMode(g.WriteMode); err != nil {
		return newFieldError("Global.WriteMode", "仅支持 inline|offload")
	}

	if g.RateLimitEnabled && g.RequestsPerSecond <= 0 {
		return newFieldError("Global.RequestsPerSecond", "启用限速时必须大于 0")
	}
	if g.RateBurst < 0 {
		return newFieldError("Global.RateBurst", "不能为负数")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	switch g.UpstreamScheme {
	case "http", "https":
	default:
		return newFieldError("Global.UpstreamScheme", "仅支持 http/https")
	}

	for _, rule := range c.Rules {
		if err := validateRule(rule); err != nil {
			return err
		}
	}
	if err := rules.Validate(c.HostRules()); err != nil {
		return ruleError(err)
	}

	return nil
}

func validateRule(rule RuleConfig) error {
	if strings.TrimSpace(rule.Host) == "" {
		return newFieldError("Rule[].Host", "不能为空")
	}
	if strings.Contains(rule.Host, "/") {
		return newFieldError(ruleField(rule.Host, "Host"), "不允许包含路径")
	}
	if strings.HasPrefix(rule.Host, "http") && strings.Contains(rule.Host, "://") {
		return newFieldError(ruleField(rule.Host, "Host"), "不应包含协议头")
	}
	seen := map[string]struct{}{}
	for _, p := range rule.Paths {
		if p.Pattern == "" {
			return newFieldError(ruleField(rule.Host, "Path.Pattern"), "不能为空")
		}
		if _, exists := seen[p.Pattern]; exists {
			return newFieldError(ruleField(rule.Host, "Path.Pattern"), "重复: "+p.Pattern)
		}
		seen[p.Pattern] = struct{}{}
	}
	return nil
}
