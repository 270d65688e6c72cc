package cache

import (
	"encoding/json"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"
)

// metaRecord 是 <key>.meta 的磁盘格式，时间以浮点秒表示。
type metaRecord struct {
	Fetched  float64 `json:"fetched"`
	OriginLM float64 `json:"origin_lm"`
	Stamp    int64   `json:"stamp,omitempty"`
}

func toSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromSeconds(v float64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}

// readMetaFile 读取元数据。文件不存在返回 ErrNotFound，无法解析返回 *CorruptMetadataError。
func readMetaFile(path string) (Meta, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Meta{}, ErrNotFound
		}
		return Meta{}, err
	}
	var rec metaRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Meta{}, &CorruptMetadataError{Path: path, Reason: "decode", Err: err}
	}
	if math.IsNaN(rec.Fetched) || math.IsInf(rec.Fetched, 0) || math.IsNaN(rec.OriginLM) || math.IsInf(rec.OriginLM, 0) {
		return Meta{}, &CorruptMetadataError{Path: path, Reason: "non-finite timestamp"}
	}
	return Meta{
		Fetched:            fromSeconds(rec.Fetched),
		OriginLastModified: fromSeconds(rec.OriginLM),
		stamp:              rec.Stamp,
	}, nil
}

// writeMetaFile 通过临时文件 + rename 原子替换元数据。tmp 由调用方决定，
// 持锁时固定为 <key>.meta.tmp，无锁模式下带随机后缀。
func writeMetaFile(path, tmp string, meta Meta) error {
	raw, err := json.Marshal(metaRecord{
		Fetched:  toSeconds(meta.Fetched),
		OriginLM: toSeconds(meta.OriginLastModified),
		Stamp:    meta.stamp,
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
