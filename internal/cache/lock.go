package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 10 * time.Millisecond

// EntryLock 是单个条目的文件系统建议锁（flock），跨进程可见。
// 锁文件在释放后保留，删除它会让等待者与新加锁者拿到不同 inode 上的锁。
type EntryLock struct {
	fl   *flock.Flock
	mode LockMode
	held bool
}

func newEntryLock(loc Location, mode LockMode) *EntryLock {
	return &EntryLock{fl: flock.New(loc.LockPath()), mode: mode}
}

// Acquire 按锁模式获取锁：try 模式下锁被占用返回 ErrCacheRace，
// block 模式下等待直到获取或 ctx 结束，none 模式直接成功。
func (l *EntryLock) Acquire(ctx context.Context) error {
	if l.mode == LockModeNone {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.fl.Path()), 0o755); err != nil {
		return err
	}

	var (
		ok  bool
		err error
	)
	if l.mode == LockModeBlock {
		if ctx == nil {
			ctx = context.Background()
		}
		ok, err = l.fl.TryLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = l.fl.TryLock()
	}
	if err != nil {
		return fmt.Errorf("acquire %s: %w", l.fl.Path(), err)
	}
	if !ok {
		return ErrCacheRace
	}
	l.held = true
	return nil
}

// Release 释放锁，可重复调用。
func (l *EntryLock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	return l.fl.Unlock()
}

// Held 报告当前实例是否持有锁。
func (l *EntryLock) Held() bool {
	return l.held
}

// withLock 在持锁期间执行 fn，并保证所有路径都会释放锁。
func withLock(ctx context.Context, lock *EntryLock, fn func() error) error {
	if err := lock.Acquire(ctx); err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}
