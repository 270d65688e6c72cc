package cache

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Freshness 描述缓存条目相对于策略的状态。
type Freshness int

const (
	// Absent 表示正文或元数据不存在。
	Absent Freshness = iota
	// Fresh 表示可以直接从磁盘返回。
	Fresh
	// Stale 表示需要带条件头回源再验证。
	Stale
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "absent"
	}
}

// Meta 是 <key>.meta 中记录的条目元数据。
type Meta struct {
	// Fetched 是该条目最近一次被写入或被 304 确认的时间。
	Fetched time.Time
	// OriginLastModified 是源站 Last-Modified 的解析值，零值表示未知。
	OriginLastModified time.Time

	// stamp 与正文文件的 mtime（纳秒）一致，用于识别正文/元数据错配。
	stamp int64
}

// Entry 表示一次读取到的缓存条目。
type Entry struct {
	Location  Location
	Meta      Meta
	SizeBytes int64
}

// ReadResult 组合 Entry 与正文 Reader，便于调用方直接流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadCloser
}

// LockMode 控制写入时如何获取条目锁。
type LockMode string

const (
	// LockModeTry 立即尝试加锁，失败则放弃本次落盘（默认）。
	LockModeTry LockMode = "try"
	// LockModeBlock 等待锁释放或请求 context 结束。
	LockModeBlock LockMode = "block"
	// LockModeNone 不加锁，临时文件名唯一，最后一次 rename 生效。
	LockModeNone LockMode = "none"
)

// WriteMode 控制 Tee 的磁盘写入在哪个 goroutine 上执行。
type WriteMode string

const (
	// WriteModeInline 在读取响应体的 goroutine 上同步写盘。
	WriteModeInline WriteMode = "inline"
	// WriteModeOffload 把加锁/写入/fsync/rename 交给后台 goroutine，
	// 读取方只在网络数据上等待。
	WriteModeOffload WriteMode = "offload"
)

// ParseLockMode 解析配置中的锁模式，空字符串返回默认值。
func ParseLockMode(raw string) (LockMode, error) {
	switch mode := LockMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "":
		return LockModeTry, nil
	case LockModeTry, LockModeBlock, LockModeNone:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported lock mode: %s", raw)
	}
}

// ParseWriteMode 解析配置中的写入模式，空字符串返回默认值。
func ParseWriteMode(raw string) (WriteMode, error) {
	switch mode := WriteMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "":
		return WriteModeInline, nil
	case WriteModeInline, WriteModeOffload:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported write mode: %s", raw)
	}
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrCacheRace 表示条目锁被其他写入者持有，本次写入被跳过。
	ErrCacheRace = errors.New("cache entry locked by another writer")
)

// CorruptMetadataError 表示元数据无法解析，或与正文/时钟不一致。
type CorruptMetadataError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CorruptMetadataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt cache metadata %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt cache metadata %s: %s", e.Path, e.Reason)
}

func (e *CorruptMetadataError) Unwrap() error {
	return e.Err
}
