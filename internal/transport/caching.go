package transport

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/throttlecache/internal/cache"
	"github.com/any-hub/throttlecache/internal/logging"
	"github.com/any-hub/throttlecache/internal/rules"
)

// framingHeaders 描述的是本次传输的线上编码，不能随落盘内容一起重放。
var framingHeaders = []string{"Content-Encoding", "Content-Length", "Transfer-Encoding"}

// Options 配置 CachingTransport。
type Options struct {
	Rules  *rules.Table
	Store  *cache.Store
	Logger *logrus.Logger
	// FailClosed 为 true 时，读取缓存条目出错会直接返回错误；
	// 默认（false）记录日志后按未命中回源。
	FailClosed bool
}

// CachingTransport 是带磁盘缓存的 http.RoundTripper。只有 GET 请求参与缓存，
// 其他方法原样交给 inner。
type CachingTransport struct {
	inner      http.RoundTripper
	rules      *rules.Table
	store      *cache.Store
	logger     *logrus.Logger
	failClosed bool
}

// NewCachingTransport 构造缓存层，inner 为 nil 时使用 http.DefaultTransport。
func NewCachingTransport(inner http.RoundTripper, opts Options) (*CachingTransport, error) {
	if opts.Rules == nil {
		return nil, errors.New("caching transport requires a rule table")
	}
	if opts.Store == nil {
		return nil, errors.New("caching transport requires a cache store")
	}
	if inner == nil {
		inner = http.DefaultTransport
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &CachingTransport{
		inner:      inner,
		rules:      opts.Rules,
		store:      opts.Store,
		logger:     logger,
		failClosed: opts.FailClosed,
	}, nil
}

// RoundTrip 实现 http.RoundTripper。
func (t *CachingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet || req.URL == nil {
		return t.inner.RoundTrip(req)
	}

	host := req.URL.Hostname()
	policy, err := t.rules.Resolve(host, req.URL.Path, req.URL.RawQuery)
	if err != nil {
		t.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_rule_failed",
			"host":   host,
			"path":   req.URL.Path,
		}).Warn("cache rule resolution failed")
		if t.failClosed {
			return nil, err
		}
		return t.inner.RoundTrip(req)
	}
	if !policy.Cacheable() {
		return t.inner.RoundTrip(req)
	}

	loc := t.store.Locate(host, req.URL.Path, req.URL.RawQuery)
	fields := logging.CacheFields(host, req.URL.Path, loc.String(), policy.String())

	state, meta, err := t.store.Freshness(loc, policy)
	if err != nil {
		if !t.tolerate(fields, err) {
			return nil, err
		}
		state = cache.Absent
	}

	if state == cache.Fresh {
		resp, err := t.serve(req, loc)
		switch {
		case err == nil:
			t.log(fields, "cache_hit").Debug("served from cache")
			return resp, nil
		case errors.Is(err, cache.ErrNotFound):
		case !t.tolerate(fields, err):
			return nil, err
		}
		state = cache.Absent
	}

	out := req
	if state == cache.Stale {
		t.log(fields, "cache_stale").Debug("revalidating cached entry")
		if !meta.OriginLastModified.IsZero() {
			out = req.Clone(req.Context())
			out.Header.Set("If-Modified-Since", meta.OriginLastModified.UTC().Format(http.TimeFormat))
		}
	} else {
		t.log(fields, "cache_miss").Debug("cache miss")
	}

	fetched := t.store.Now()
	resp, err := t.inner.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotModified {
		return t.notModified(req, resp, loc, state == cache.Stale, fetched, fields)
	}
	return t.relay(req, resp, loc, fetched, fields), nil
}

// notModified 处理 304：刷新 fetched 让新鲜期重新计时，并以磁盘内容应答 200。
func (t *CachingTransport) notModified(req *http.Request, resp *http.Response, loc cache.Location, hadEntry bool, fetched time.Time, fields logrus.Fields) (*http.Response, error) {
	if !hadEntry {
		if isConditional(req) {
			return resp, nil
		}
		discard(resp)
		return nil, &ProtocolInvariantError{URL: req.URL.String(), Status: resp.StatusCode, Reason: "304 without cached entry"}
	}
	discard(resp)

	if err := t.store.Touch(req.Context(), loc, fetched); err != nil {
		if errors.Is(err, cache.ErrCacheRace) {
			t.log(fields, "cache_race").Info("entry busy, freshness not refreshed")
		} else {
			t.log(fields, "cache_read_failed").WithError(err).Warn("refresh cache metadata failed")
		}
	}

	hit, err := t.serve(req, loc)
	if err == nil {
		t.log(fields, "not_modified").Debug("origin confirmed cached entry")
		return hit, nil
	}
	if !errors.Is(err, cache.ErrNotFound) && !t.tolerate(fields, err) {
		return nil, err
	}

	// 条目在确认后消失，重新发起不带条件头的请求。
	full, err := t.inner.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	return t.relay(req, full, loc, t.store.Now(), fields), nil
}

// relay 处理非 304 的上游响应：只有带 Last-Modified 的 200 会被边读边落盘。
func (t *CachingTransport) relay(req *http.Request, resp *http.Response, loc cache.Location, fetched time.Time, fields logrus.Fields) *http.Response {
	if resp.StatusCode != http.StatusOK {
		return resp
	}

	raw := resp.Header.Get("Last-Modified")
	lastModified, err := http.ParseTime(raw)
	if raw == "" || err != nil {
		t.log(fields, "no_last_modified").Debug("response not cacheable")
		resp.Header.Set("X-Cache", "MISS")
		return resp
	}

	for _, key := range framingHeaders {
		resp.Header.Del(key)
	}
	resp.ContentLength = -1
	resp.TransferEncoding = nil
	resp.Header.Set("X-Cache", "MISS")
	resp.Body = cache.NewTee(req.Context(), t.store, loc, resp.Body, cache.Meta{
		Fetched:            fetched,
		OriginLastModified: lastModified,
	})
	return resp
}

// serve 以磁盘内容合成 200 响应。
func (t *CachingTransport) serve(req *http.Request, loc cache.Location) (*http.Response, error) {
	result, err := t.store.Open(loc)
	if err != nil {
		return nil, err
	}
	meta := result.Entry.Meta

	header := make(http.Header)
	header.Set("Content-Type", "application/octet-stream")
	header.Set("X-Cache", "HIT")
	header.Set("Content-Length", strconv.FormatInt(result.Entry.SizeBytes, 10))
	header.Set("Date", meta.Fetched.UTC().Format(http.TimeFormat))
	if !meta.OriginLastModified.IsZero() {
		header.Set("Last-Modified", meta.OriginLastModified.UTC().Format(http.TimeFormat))
	}

	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          result.Reader,
		ContentLength: result.Entry.SizeBytes,
		Request:       req,
	}, nil
}

// tolerate 记录读缓存失败，返回是否按未命中继续。
func (t *CachingTransport) tolerate(fields logrus.Fields, err error) bool {
	action := "cache_read_failed"
	var corrupt *cache.CorruptMetadataError
	if errors.As(err, &corrupt) {
		action = "cache_corrupt_meta"
	}
	t.log(fields, action).WithError(err).Warn("cache entry unusable")
	return !t.failClosed
}

func (t *CachingTransport) log(fields logrus.Fields, action string) *logrus.Entry {
	return t.logger.WithFields(fields).WithField("action", action)
}

func isConditional(req *http.Request) bool {
	return req.Header.Get("If-Modified-Since") != "" || req.Header.Get("If-None-Match") != ""
}

func discard(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
