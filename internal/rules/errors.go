package rules

import "fmt"

// ConfigError 表示规则表本身不可用（非法正则或非法策略值）。
type ConfigError struct {
	Host   string
	Path   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	target := e.Host
	if e.Path != "" {
		target = fmt.Sprintf("%s -> %s", e.Host, e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("invalid cache rule %q: %s: %v", target, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid cache rule %q: %s", target, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
