package cache

import (
	"context"
	"errors"
	"io"
	"os"
	"time"
)

// persister 是 Tee 写盘一侧的抽象：Begin 加锁并打开临时文件，
// Write 追加数据，Commit/Abort 二选一结束并释放锁。
type persister interface {
	io.Writer
	Begin(ctx context.Context) error
	Commit() error
	Abort()
}

var errWriterClosed = errors.New("cache writer already finished")

// entryWriter 在调用方 goroutine 上同步完成一次条目写入。
type entryWriter struct {
	store *Store
	loc   Location
	meta  Meta
	lock  *EntryLock

	file *os.File
	tmp  string
	done bool
}

func (s *Store) newEntryWriter(loc Location, meta Meta) *entryWriter {
	return &entryWriter{store: s, loc: loc, meta: meta, lock: s.lock(loc)}
}

func (s *Store) newPersister(loc Location, meta Meta) persister {
	w := s.newEntryWriter(loc, meta)
	if s.opts.WriteMode == WriteModeOffload {
		return newOffloadWriter(w)
	}
	return w
}

func (w *entryWriter) Begin(ctx context.Context) error {
	if err := os.MkdirAll(w.loc.Dir, 0o755); err != nil {
		return err
	}
	if err := w.lock.Acquire(ctx); err != nil {
		return err
	}

	w.tmp = w.store.tmpName(w.loc.ContentPath())
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if w.store.opts.LockMode == LockModeNone {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(w.tmp, flags, 0o644)
	if err != nil {
		w.lock.Release()
		return err
	}
	w.file = f
	return nil
}

func (w *entryWriter) Write(p []byte) (int, error) {
	if w.file == nil || w.done {
		return 0, errWriterClosed
	}
	return w.file.Write(p)
}

// Commit 依次执行 fsync → 写入 stamp → rename 覆盖正文 → 替换元数据，
// 元数据只会在正文落定之后出现。
func (w *entryWriter) Commit() error {
	if w.file == nil || w.done {
		return errWriterClosed
	}
	w.done = true
	defer w.lock.Release()

	if err := w.file.Sync(); err != nil {
		w.discard()
		return err
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmp)
		return err
	}

	stamped := time.Now()
	if err := os.Chtimes(w.tmp, stamped, stamped); err != nil {
		os.Remove(w.tmp)
		return err
	}
	info, err := os.Stat(w.tmp)
	if err != nil {
		os.Remove(w.tmp)
		return err
	}
	w.meta.stamp = info.ModTime().UnixNano()

	if err := os.Rename(w.tmp, w.loc.ContentPath()); err != nil {
		os.Remove(w.tmp)
		return err
	}
	return writeMetaFile(w.loc.MetaPath(), w.store.tmpName(w.loc.MetaPath()), w.meta)
}

// Abort 丢弃临时文件并释放锁，可重复调用，也可在 Begin 失败后调用。
func (w *entryWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	if w.file != nil {
		w.discard()
	}
	w.lock.Release()
}

func (w *entryWriter) discard() {
	w.file.Close()
	os.Remove(w.tmp)
}

// offloadWriter 把 entryWriter 的全部文件系统操作（加锁、写入、fsync、rename）
// 放到单独的 goroutine 上执行，Write 只负责把数据副本投递到队列。
// 结束时 Commit/Abort 会等待后台 goroutine 完成，保证返回后磁盘状态已确定。
type offloadWriter struct {
	inner  *entryWriter
	ops    chan []byte
	done   chan struct{}
	commit bool
	closed bool
	err    error
}

const offloadQueue = 64

func newOffloadWriter(inner *entryWriter) *offloadWriter {
	return &offloadWriter{
		inner: inner,
		ops:   make(chan []byte, offloadQueue),
		done:  make(chan struct{}),
	}
}

func (w *offloadWriter) Begin(ctx context.Context) error {
	go w.run(ctx)
	return nil
}

func (w *offloadWriter) run(ctx context.Context) {
	defer close(w.done)

	began := w.inner.Begin(ctx)
	w.err = began
	for chunk := range w.ops {
		if w.err != nil {
			continue
		}
		if _, err := w.inner.Write(chunk); err != nil {
			w.err = err
		}
	}
	if began != nil {
		return
	}
	if w.err == nil && w.commit {
		w.err = w.inner.Commit()
		return
	}
	w.inner.Abort()
}

func (w *offloadWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errWriterClosed
	}
	w.ops <- append([]byte(nil), p...)
	return len(p), nil
}

func (w *offloadWriter) Commit() error {
	if w.closed {
		return errWriterClosed
	}
	w.closed = true
	w.commit = true
	close(w.ops)
	<-w.done
	return w.err
}

func (w *offloadWriter) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	close(w.ops)
	<-w.done
}
