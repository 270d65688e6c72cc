package transport

import (
	"context"
	"net/http"

	"golang.org/x/time/rate"
)

// Throttler 在请求发出前阻塞，直到被允许或 ctx 结束。*rate.Limiter 即满足该接口。
type Throttler interface {
	Wait(ctx context.Context) error
}

// NewLimiter 返回每秒 perSecond 个令牌、桶容量 burst 的令牌桶。
// burst 小于 1 时按 1 处理，否则 Wait 会永远失败。
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return rate.NewLimiter(limit, burst)
}

// ThrottleTransport 对所有方法的请求统一限速，限速不属于缓存逻辑。
type ThrottleTransport struct {
	inner     http.RoundTripper
	throttler Throttler
}

// NewThrottleTransport 包装 inner，inner 为 nil 时使用 http.DefaultTransport。
func NewThrottleTransport(inner http.RoundTripper, throttler Throttler) *ThrottleTransport {
	if inner == nil {
		inner = http.DefaultTransport
	}
	return &ThrottleTransport{inner: inner, throttler: throttler}
}

func (t *ThrottleTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.throttler != nil {
		if err := t.throttler.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	return t.inner.RoundTrip(req)
}

// NewChain 按 缓存 → 限速 → 网络 的顺序组装传输链。
// throttler 为 nil 时不限速，caching 为 nil 时不缓存。
// 缓存命中不会经过限速层，也就不会消耗令牌。
func NewChain(network http.RoundTripper, throttler Throttler, caching *Options) (http.RoundTripper, error) {
	next := network
	if next == nil {
		next = http.DefaultTransport
	}
	if throttler != nil {
		next = NewThrottleTransport(next, throttler)
	}
	if caching == nil {
		return next, nil
	}
	return NewCachingTransport(next, *caching)
}
