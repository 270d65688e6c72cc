package cache

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Tee 把上游响应体同时交给调用方与磁盘：每个分片先写入临时文件，
// 再返回给调用方。读到 EOF 时提交条目；上游出错时丢弃临时文件并把
// 原始错误交还调用方。锁在任何结束路径上都会被释放。
type Tee struct {
	mu sync.Mutex

	ctx    context.Context
	store  *Store
	loc    Location
	body   io.ReadCloser
	sink   persister
	logger *logrus.Entry

	started    bool
	persisting bool
	finished   bool
	closed     bool
	written    int64
}

// NewTee 包装上游 body。meta.Fetched 应为发起请求时的时间，
// 这样后续的 age 计算以本次抓取开始为准。
func NewTee(ctx context.Context, store *Store, loc Location, body io.ReadCloser, meta Meta) *Tee {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Tee{
		ctx:   ctx,
		store: store,
		loc:   loc,
		body:  body,
		sink:  store.newPersister(loc, meta),
		logger: store.logger.WithFields(logrus.Fields{
			"host":     loc.Host,
			"location": loc.ContentPath(),
		}),
	}
}

func (t *Tee) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, errors.New("read on closed cache tee")
	}
	return t.read(p)
}

func (t *Tee) read(p []byte) (int, error) {
	if !t.started {
		t.start()
	}
	if t.finished {
		return t.body.Read(p)
	}

	n, err := t.body.Read(p)
	if n > 0 && t.persisting {
		if _, werr := t.sink.Write(p[:n]); werr != nil {
			t.logger.WithError(werr).WithField("action", "cache_abort").Warn("cache write failed, response still streamed")
			t.sink.Abort()
			t.persisting = false
		} else {
			t.written += int64(n)
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		t.finish(true)
	default:
		t.finish(false)
	}
	return n, err
}

func (t *Tee) start() {
	t.started = true
	if err := t.sink.Begin(t.ctx); err != nil {
		t.logBeginFailure(err)
		return
	}
	t.persisting = true
}

func (t *Tee) finish(commit bool) {
	if t.finished {
		return
	}
	t.finished = true
	if !t.persisting {
		return
	}
	t.persisting = false

	if !commit {
		t.sink.Abort()
		t.logger.WithFields(logrus.Fields{"action": "cache_abort", "bytes": t.written}).Info("cache write discarded")
		return
	}
	if err := t.sink.Commit(); err != nil {
		t.logBeginFailure(err)
		return
	}
	t.logger.WithFields(logrus.Fields{"action": "cache_commit", "bytes": t.written}).Debug("cache entry stored")
}

func (t *Tee) logBeginFailure(err error) {
	if errors.Is(err, ErrCacheRace) {
		t.logger.WithField("action", "cache_race").Info("cache entry busy, skip persisting")
		return
	}
	t.logger.WithError(err).WithField("action", "cache_abort").Warn("cache write failed, response still streamed")
}

// Close 结束读取。若调用方未读到 EOF，最多再读取 DrainLimit 字节尝试完成落盘，
// 仍未结束则放弃写入。若有 Read 正在阻塞，先关闭上游 body 将其唤醒。
func (t *Tee) Close() error {
	if !t.mu.TryLock() {
		err := t.body.Close()
		t.mu.Lock()
		t.finish(false)
		t.closed = true
		t.mu.Unlock()
		return err
	}
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	if !t.finished {
		t.drain()
	}
	return t.body.Close()
}

func (t *Tee) drain() {
	if !t.started {
		t.start()
	}
	if !t.persisting {
		t.finish(false)
		return
	}
	buf := make([]byte, 32*1024)
	var drained int64
	for !t.finished {
		if drained >= t.store.opts.DrainLimit {
			t.finish(false)
			return
		}
		n, err := t.read(buf)
		drained += int64(n)
		if err != nil {
			return
		}
	}
}
