package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/throttlecache/internal/rules"
)

const (
	defaultDrainLimit = 64 * 1024
	consistentReads   = 5
)

// Options 控制 Store 的加锁、写入与时钟行为。
type Options struct {
	LockMode  LockMode
	WriteMode WriteMode
	// DrainLimit 是调用方提前 Close 时，为完成落盘最多继续读取的字节数；
	// 超出则放弃本次写入。
	DrainLimit int64
	Logger     *logrus.Logger
	// Now 为测试注入时钟，默认 time.Now。
	Now func() time.Time
}

// Store 负责管理磁盘缓存的读写，整站复用一份实例。
type Store struct {
	basePath string
	opts     Options
	logger   *logrus.Logger
	now      func() time.Time
}

// NewStore 以 basePath 为根目录构建磁盘缓存。
func NewStore(basePath string, opts Options) (*Store, error) {
	if basePath == "" {
		return nil, errors.New("cache dir required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	if opts.LockMode, err = ParseLockMode(string(opts.LockMode)); err != nil {
		return nil, err
	}
	if opts.WriteMode, err = ParseWriteMode(string(opts.WriteMode)); err != nil {
		return nil, err
	}
	if opts.DrainLimit <= 0 {
		opts.DrainLimit = defaultDrainLimit
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		basePath: abs,
		opts:     opts,
		logger:   logger,
		now:      now,
	}, nil
}

// BasePath 返回缓存根目录的绝对路径。
func (s *Store) BasePath() string { return s.basePath }

// Now 返回 Store 使用的当前时间。
func (s *Store) Now() time.Time { return s.now() }

// Options 返回规范化后的配置。
func (s *Store) Options() Options { return s.opts }

// Locate 是纯函数：相同请求总是得到相同位置，且不创建任何文件。
func (s *Store) Locate(host, path, rawQuery string) Location {
	return locate(s.basePath, host, path, rawQuery)
}

// Freshness 根据策略计算条目状态，并在条目存在时返回其元数据。
// 时钟回拨导致的负 age 与无法解析的元数据都以 *CorruptMetadataError 返回。
func (s *Store) Freshness(loc Location, policy rules.Policy) (Freshness, Meta, error) {
	if !policy.Cacheable() {
		return Absent, Meta{}, nil
	}

	info, err := os.Stat(loc.ContentPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Absent, Meta{}, nil
		}
		return Absent, Meta{}, err
	}
	if info.IsDir() {
		return Absent, Meta{}, nil
	}

	meta, err := readMetaFile(loc.MetaPath())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Absent, Meta{}, nil
		}
		return Absent, Meta{}, err
	}
	if meta.Fetched.IsZero() {
		return Absent, Meta{}, nil
	}

	if policy.Kind == rules.KindUnlimited {
		return Fresh, meta, nil
	}

	age := s.now().Sub(meta.Fetched)
	if age < 0 {
		return Absent, meta, &CorruptMetadataError{
			Path:   loc.MetaPath(),
			Reason: fmt.Sprintf("negative age %s", age),
		}
	}
	if policy.MaxAgeSeconds > 0 && age <= time.Duration(policy.MaxAgeSeconds)*time.Second {
		return Fresh, meta, nil
	}
	return Stale, meta, nil
}

// Open 返回一对一致的正文与元数据。正文文件的 mtime 与元数据中的 stamp
// 必须一致，否则说明恰好有写入者处于 rename 与写元数据之间，稍后重试。
func (s *Store) Open(loc Location) (*ReadResult, error) {
	for attempt := 0; attempt < consistentReads; attempt++ {
		f, err := os.Open(loc.ContentPath())
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		if info.IsDir() {
			f.Close()
			return nil, ErrNotFound
		}

		meta, err := readMetaFile(loc.MetaPath())
		if err != nil {
			f.Close()
			return nil, err
		}
		if meta.stamp == 0 || meta.stamp == info.ModTime().UnixNano() {
			return &ReadResult{
				Entry:  Entry{Location: loc, Meta: meta, SizeBytes: info.Size()},
				Reader: f,
			}, nil
		}
		f.Close()
		time.Sleep(time.Duration(attempt+1) * time.Millisecond)
	}
	return nil, &CorruptMetadataError{Path: loc.MetaPath(), Reason: "content and metadata out of sync"}
}

// ReadContent 读取完整正文。
func (s *Store) ReadContent(loc Location) ([]byte, error) {
	result, err := s.Open(loc)
	if err != nil {
		return nil, err
	}
	defer result.Reader.Close()
	return io.ReadAll(result.Reader)
}

// ReadMeta 读取元数据，不存在时返回 ErrNotFound。
func (s *Store) ReadMeta(loc Location) (Meta, error) {
	return readMetaFile(loc.MetaPath())
}

// Write 将 body 完整写入条目，返回 ErrCacheRace 表示锁被占用、本次未写入。
func (s *Store) Write(ctx context.Context, loc Location, body io.Reader, meta Meta) error {
	w := s.newEntryWriter(loc, meta)
	if err := w.Begin(ctx); err != nil {
		return err
	}
	if _, err := copyWithContext(ctx, w, body); err != nil {
		w.Abort()
		return err
	}
	return w.Commit()
}

// Touch 在不改动正文的情况下刷新 Fetched（304 确认后重置新鲜期）。
func (s *Store) Touch(ctx context.Context, loc Location, fetched time.Time) error {
	return withLock(ctx, s.lock(loc), func() error {
		meta, err := readMetaFile(loc.MetaPath())
		if err != nil {
			return err
		}
		meta.Fetched = fetched
		return writeMetaFile(loc.MetaPath(), s.tmpName(loc.MetaPath()), meta)
	})
}

// Lock 返回条目锁，调用方负责 Acquire/Release。
func (s *Store) Lock(loc Location) *EntryLock {
	return s.lock(loc)
}

func (s *Store) lock(loc Location) *EntryLock {
	return newEntryLock(loc, s.opts.LockMode)
}

// tmpName 持锁时使用固定的 .tmp 后缀；无锁模式下多个写入者可能并存，
// 因此加上随机段避免互相截断。
func (s *Store) tmpName(path string) string {
	if s.opts.LockMode == LockModeNone {
		return path + "." + uuid.NewString() + tmpSuffix
	}
	return path + tmpSuffix
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
