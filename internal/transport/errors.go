package transport

import "fmt"

// ProtocolInvariantError 表示上游返回了本地状态无法解释的响应，
// 例如在没有缓存条目时收到 304。属于配置或上游缺陷，直接返回给调用方。
type ProtocolInvariantError struct {
	URL    string
	Status int
	Reason string
}

func (e *ProtocolInvariantError) Error() string {
	return fmt.Sprintf("protocol invariant violated for %s (status %d): %s", e.URL, e.Status, e.Reason)
}
