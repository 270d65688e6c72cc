package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/throttlecache/internal/rules"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级行为：日志、磁盘缓存、限速与上游访问。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	CacheDir  string `mapstructure:"CacheDir"`
	CacheMode string `mapstructure:"CacheMode"`
	LockMode  string `mapstructure:"LockMode"`
	WriteMode string `mapstructure:"WriteMode"`
	FailOpen  bool   `mapstructure:"FailOpen"`

	RateLimitEnabled  bool    `mapstructure:"RateLimitEnabled"`
	RequestsPerSecond float64 `mapstructure:"RequestsPerSecond"`
	RateBurst         int     `mapstructure:"RateBurst"`

	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	UpstreamScheme  string   `mapstructure:"UpstreamScheme"`
	UserAgent       string   `mapstructure:"UserAgent"`
	// RestrictHosts 为 true 时镜像入口只接受命中 [[Rule]] 的 host。
	RestrictHosts bool `mapstructure:"RestrictHosts"`
}

// PathConfig 是 [[Rule.Path]] 表。Policy 保留原始值：
// true 永久缓存，false 禁止缓存，整数为新鲜期秒数，省略表示不缓存。
type PathConfig struct {
	Pattern string `mapstructure:"Pattern"`
	Policy  any    `mapstructure:"Policy"`
}

// RuleConfig 是 [[Rule]] 表，声明顺序即匹配顺序。
type RuleConfig struct {
	Host  string       `mapstructure:"Host"`
	Paths []PathConfig `mapstructure:"Path"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Rules  []RuleConfig `mapstructure:"Rule"`
}

// HostRules 按声明顺序转换为规则表的输入。
func (c *Config) HostRules() []rules.HostRule {
	if c == nil || len(c.Rules) == 0 {
		return nil
	}
	hosts := make([]rules.HostRule, len(c.Rules))
	for i, rule := range c.Rules {
		paths := make([]rules.PathRule, len(rule.Paths))
		for j, p := range rule.Paths {
			paths[j] = rules.PathRule{Pattern: p.Pattern, Value: p.Policy}
		}
		hosts[i] = rules.HostRule{Pattern: rule.Host, Paths: paths}
	}
	return hosts
}

// RuleSummaries 返回 host:规则数 形式的摘要，供启动日志使用。
func RuleSummaries(rs []RuleConfig) []string {
	if len(rs) == 0 {
		return nil
	}
	result := make([]string, len(rs))
	for i, rule := range rs {
		result[i] = fmt.Sprintf("%s:%d", rule.Host, len(rule.Paths))
	}
	return result
}
