// Package client 组装带缓存与限速的共享 http.Client。
package client

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/any-hub/throttlecache/internal/cache"
	"github.com/any-hub/throttlecache/internal/config"
	"github.com/any-hub/throttlecache/internal/logging"
	"github.com/any-hub/throttlecache/internal/rules"
	"github.com/any-hub/throttlecache/internal/transport"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// Manager 持有一条 缓存 → 限速 → 网络 的传输链，并按需创建共享的 http.Client。
// 同一 Manager 创建的所有请求共用一个令牌桶。
type Manager struct {
	global  config.GlobalConfig
	logger  *logrus.Logger
	rules   *rules.Table
	store   *cache.Store
	limiter *rate.Limiter
	network http.RoundTripper

	mu     sync.Mutex
	client *http.Client
}

// Options 允许测试替换网络层。
type Options struct {
	Logger  *logrus.Logger
	Network http.RoundTripper
}

// New 根据配置构建 Manager。filecache 模式下会创建缓存目录。
func New(cfg *config.Config, opts Options) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("client requires config")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	table, err := cfg.RuleTable()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		global:  cfg.Global,
		logger:  logger,
		rules:   table,
		network: opts.Network,
	}
	if m.network == nil {
		m.network = defaultTransport.Clone()
	}

	if cfg.Global.CachingEnabled() {
		store, err := cache.NewStore(cfg.Global.CacheDir, cfg.Global.StoreOptions(logger))
		if err != nil {
			return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
		}
		m.store = store
		if len(cfg.Rules) == 0 {
			logger.WithField("action", "client_init").Info("cache enabled without rules, nothing will be cached")
		}
	}
	if cfg.Global.RateLimitEnabled {
		m.limiter = transport.NewLimiter(cfg.Global.RequestsPerSecond, cfg.Global.RateBurst)
	}
	return m, nil
}

// Client 返回共享的 http.Client，首次调用时构建传输链。
func (m *Manager) Client() (*http.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return m.client, nil
	}

	rt, err := m.chain()
	if err != nil {
		return nil, err
	}
	timeout := m.global.UpstreamTimeout.DurationValue()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	m.client = &http.Client{Timeout: timeout, Transport: rt}
	m.logger.WithFields(logrus.Fields{
		"action":     "client_init",
		"cache_mode": m.global.CacheModeValue(),
		"rate_limit": m.limiter != nil,
	}).Info("http client created")
	return m.client, nil
}

func (m *Manager) chain() (http.RoundTripper, error) {
	network := m.network
	if m.global.UserAgent != "" {
		network = &userAgentTransport{inner: network, userAgent: m.global.UserAgent}
	}

	var throttler transport.Throttler
	if m.limiter != nil {
		throttler = m.limiter
	}

	var caching *transport.Options
	if m.store != nil {
		caching = &transport.Options{
			Rules:      m.rules,
			Store:      m.store,
			Logger:     m.logger,
			FailClosed: !m.global.FailOpen,
		}
	}
	return transport.NewChain(network, throttler, caching)
}

// Rules 返回调用方可在运行期修改的规则表，修改在下一次请求生效。
func (m *Manager) Rules() *rules.Table { return m.rules }

// Store 返回磁盘缓存，缓存关闭时为 nil。
func (m *Manager) Store() *cache.Store { return m.store }

// UpdateRateLimit 原地调整令牌桶，已创建的 client 无需重建。
func (m *Manager) UpdateRateLimit(perSecond float64, burst int) error {
	if m.limiter == nil {
		return errors.New("rate limiting disabled")
	}
	if perSecond <= 0 {
		return fmt.Errorf("invalid rate %v", perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	m.limiter.SetLimit(rate.Limit(perSecond))
	m.limiter.SetBurst(burst)
	return nil
}

// Close 释放空闲连接，之后再调用 Client 会重新创建。
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		m.client.CloseIdleConnections()
		m.client = nil
	}
}

// userAgentTransport 为未设置 User-Agent 的请求补上配置值。
type userAgentTransport struct {
	inner     http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.inner.RoundTrip(req)
	}
	out := req.Clone(req.Context())
	out.Header.Set("User-Agent", t.userAgent)
	return t.inner.RoundTrip(out)
}
