package rules

import (
	"regexp"
	"strings"
	"sync"
)

// PathRule 将一个 path(+query) 正则映射到原始策略值（true/false/整数/nil）。
type PathRule struct {
	Pattern string
	Value   any
}

// HostRule 将一个 host 正则映射到有序的 PathRule 列表。
type HostRule struct {
	Pattern string
	Paths   []PathRule
}

// Table 是调用方持有的可变规则表。声明顺序即匹配顺序。
// 所有方法均可并发调用；Resolve 每次都会重新读取当前内容。
type Table struct {
	mu    sync.RWMutex
	hosts []HostRule
}

// NewTable 校验并构建规则表，任何非法正则或策略值都会返回 *ConfigError。
func NewTable(hosts ...HostRule) (*Table, error) {
	if err := Validate(hosts); err != nil {
		return nil, err
	}
	return &Table{hosts: cloneHosts(hosts)}, nil
}

// Replace 整体替换规则表内容，校验失败时保持原表不变。
func (t *Table) Replace(hosts []HostRule) error {
	if err := Validate(hosts); err != nil {
		return err
	}
	cloned := cloneHosts(hosts)
	t.mu.Lock()
	t.hosts = cloned
	t.mu.Unlock()
	return nil
}

// Set 写入单条规则。已存在的 host/path 原位更新，否则追加到末尾，
// 因此不会改变既有规则之间的先后关系。
func (t *Table) Set(hostPattern, pathPattern string, value any) error {
	rule := HostRule{Pattern: hostPattern, Paths: []PathRule{{Pattern: pathPattern, Value: value}}}
	if err := Validate([]HostRule{rule}); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.hosts {
		if t.hosts[i].Pattern != hostPattern {
			continue
		}
		for j := range t.hosts[i].Paths {
			if t.hosts[i].Paths[j].Pattern == pathPattern {
				t.hosts[i].Paths[j].Value = value
				return nil
			}
		}
		t.hosts[i].Paths = append(t.hosts[i].Paths, PathRule{Pattern: pathPattern, Value: value})
		return nil
	}
	t.hosts = append(t.hosts, rule)
	return nil
}

// Remove 删除一个 host 规则及其全部 path 规则。
func (t *Table) Remove(hostPattern string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.hosts {
		if t.hosts[i].Pattern == hostPattern {
			t.hosts = append(t.hosts[:i], t.hosts[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot 返回当前规则的深拷贝，用于诊断输出。
func (t *Table) Snapshot() []HostRule {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneHosts(t.hosts)
}

// Resolve 按当前规则解析 host/path/query 对应的策略。
func (t *Table) Resolve(host, path, query string) (Policy, error) {
	if t == nil {
		return NoRule(), nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Resolve(t.hosts, host, path, query)
}

// MatchHost 报告是否有 host 规则匹配该主机名。
func (t *Table) MatchHost(host string) bool {
	if t == nil {
		return false
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, hr := range t.hosts {
		if re, err := compile(hr.Pattern); err == nil && re.MatchString(host) {
			return true
		}
	}
	return false
}

// Resolve 是无状态的解析函数：host 与 path(+query) 分别独立匹配，
// 各层均取第一条命中的规则。
func Resolve(hosts []HostRule, host, path, query string) (Policy, error) {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	target := path
	if query != "" {
		target = path + "?" + query
	}

	for _, hr := range hosts {
		re, err := compile(hr.Pattern)
		if err != nil {
			return Policy{}, &ConfigError{Host: hr.Pattern, Reason: "bad host pattern", Err: err}
		}
		if !re.MatchString(host) {
			continue
		}
		for _, pr := range hr.Paths {
			pre, err := compile(pr.Pattern)
			if err != nil {
				return Policy{}, &ConfigError{Host: hr.Pattern, Path: pr.Pattern, Reason: "bad path pattern", Err: err}
			}
			if !pre.MatchString(target) {
				continue
			}
			policy, err := ParsePolicy(pr.Value)
			if err != nil {
				return Policy{}, &ConfigError{Host: hr.Pattern, Path: pr.Pattern, Reason: "bad policy value", Err: err}
			}
			return policy, nil
		}
		return NoRule(), nil
	}
	return NoRule(), nil
}

// Validate 预编译全部正则并检查策略值。
func Validate(hosts []HostRule) error {
	for _, hr := range hosts {
		if _, err := compile(hr.Pattern); err != nil {
			return &ConfigError{Host: hr.Pattern, Reason: "bad host pattern", Err: err}
		}
		for _, pr := range hr.Paths {
			if _, err := compile(pr.Pattern); err != nil {
				return &ConfigError{Host: hr.Pattern, Path: pr.Pattern, Reason: "bad path pattern", Err: err}
			}
			if _, err := ParsePolicy(pr.Value); err != nil {
				return &ConfigError{Host: hr.Pattern, Path: pr.Pattern, Reason: "bad policy value", Err: err}
			}
		}
	}
	return nil
}

// compiled 缓存的是正则编译结果而不是解析结论，规则变更不受影响。
var compiled sync.Map // pattern -> *regexp.Regexp

// compile 以前缀锚定方式编译模式：模式必须从 host/path 的开头匹配。
func compile(pattern string) (*regexp.Regexp, error) {
	if v, ok := compiled.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		return nil, err
	}
	compiled.Store(pattern, re)
	return re, nil
}

func cloneHosts(hosts []HostRule) []HostRule {
	if hosts == nil {
		return nil
	}
	out := make([]HostRule, len(hosts))
	for i, hr := range hosts {
		out[i] = HostRule{Pattern: hr.Pattern, Paths: append([]PathRule(nil), hr.Paths...)}
	}
	return out
}
