// Package transport 提供可组合的 http.RoundTripper：
// CachingTransport 负责磁盘缓存的命中/再验证/回源落盘，
// ThrottleTransport 在转发前按令牌桶限速。
package transport
