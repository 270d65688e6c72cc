package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/throttlecache/internal/version"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := checkRuleShape(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.CacheDir != "" {
		absCache, err := filepath.Abs(cfg.Global.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.CacheDir = absCache
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("CacheDir", "./cache")
	v.SetDefault("CacheMode", string(CacheModeFile))
	v.SetDefault("LockMode", "try")
	v.SetDefault("WriteMode", "inline")
	v.SetDefault("FailOpen", true)
	v.SetDefault("RateLimitEnabled", true)
	v.SetDefault("RequestsPerSecond", 10)
	v.SetDefault("RateBurst", 1)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("UpstreamScheme", "https")
	v.SetDefault("RestrictHosts", false)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	g.CacheMode = strings.ToLower(strings.TrimSpace(g.CacheMode))
	g.LockMode = strings.ToLower(strings.TrimSpace(g.LockMode))
	g.WriteMode = strings.ToLower(strings.TrimSpace(g.WriteMode))
	g.UpstreamScheme = strings.ToLower(strings.TrimSpace(g.UpstreamScheme))
	if g.RateBurst <= 0 {
		g.RateBurst = 1
	}
	if strings.TrimSpace(g.UserAgent) == "" {
		g.UserAgent = version.UserAgent()
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// checkRuleShape 拒绝无法保持顺序的写法：规则必须是 [[Rule]] 数组表，
// 策略必须写在 [[Rule.Path]] 中。
func checkRuleShape(v *viper.Viper) error {
	raw := v.Get("Rule")
	if raw == nil {
		return nil
	}
	if _, ok := raw.(map[string]interface{}); ok {
		return newFieldError("Rule", "必须使用 [[Rule]] 数组表，普通表无法保证匹配顺序")
	}
	var entries []map[string]interface{}
	switch list := raw.(type) {
	case []map[string]interface{}:
		entries = list
	case []interface{}:
		for _, entry := range list {
			if m, ok := entry.(map[string]interface{}); ok {
				entries = append(entries, m)
			}
		}
	}

	for idx, m := range entries {
		for key := range m {
			if strings.EqualFold(key, "Policy") {
				name := fmt.Sprintf("#%d", idx)
				if host, ok := lookupFold(m, "Host").(string); ok && host != "" {
					name = host
				}
				return newFieldError(ruleField(name, "Policy"), "策略需写在 [[Rule.Path]] 中")
			}
		}
	}
	return nil
}

func lookupFold(m map[string]interface{}, key string) interface{} {
	for k, val := range m {
		if strings.EqualFold(k, key) {
			return val
		}
	}
	return nil
}
