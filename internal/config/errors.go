package config

import (
	"errors"
	"fmt"

	"github.com/any-hub/throttlecache/internal/rules"
)

// FieldError 指向出错的配置字段。Err 保留底层原因（如 rules.ConfigError），
// 可通过 errors.As 取出。
type FieldError struct {
	Field  string
	Reason string
	Err    error
}

func (e FieldError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e FieldError) Unwrap() error {
	return e.Err
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// ruleField 输出 Rule[host].Field 形式的字段路径。
func ruleField(host, field string) string {
	if host == "" {
		return fmt.Sprintf("Rule[].%s", field)
	}
	return fmt.Sprintf("Rule[%s].%s", host, field)
}

// ruleError 把规则表编译错误挂到对应的 Rule 字段上。
func ruleError(err error) error {
	var cfgErr *rules.ConfigError
	if !errors.As(err, &cfgErr) {
		return FieldError{Field: "Rule", Reason: "规则表无效", Err: err}
	}
	field := ruleField(cfgErr.Host, "Host")
	if cfgErr.Path != "" {
		field = ruleField(cfgErr.Host, "Path["+cfgErr.Path+"]")
	}
	return FieldError{Field: field, Reason: "规则无效", Err: err}
}
