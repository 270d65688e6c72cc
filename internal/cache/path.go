package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path/filepath"
	"strings"
)

const (
	metaSuffix = ".meta"
	tmpSuffix  = ".tmp"
	lockSuffix = ".lock"

	rootName       = "~root"
	queryMarker    = "~q"
	hashMarker     = "~h"
	maxNameBytes   = 200
	truncatedBytes = 160
)

// Location 是一个缓存条目在磁盘上的位置，由 (host, path, query) 纯函数推导。
type Location struct {
	Host string
	Key  string
	Dir  string
}

// ContentPath 返回正文文件路径。
func (l Location) ContentPath() string { return filepath.Join(l.Dir, l.Key) }

// MetaPath 返回元数据文件路径。
func (l Location) MetaPath() string { return l.ContentPath() + metaSuffix }

// TmpPath 返回持锁写入时使用的临时文件路径。
func (l Location) TmpPath() string { return l.ContentPath() + tmpSuffix }

// LockPath 返回条目锁文件路径。
func (l Location) LockPath() string { return l.ContentPath() + lockSuffix }

func (l Location) String() string { return l.ContentPath() }

// locate 将请求映射到 basePath 下的位置：
//
//	<basePath>/<host>/<seg1>-<seg2>...[~q<query>]
//
// path 必须是已解码的 URL 路径（http.Request.URL.Path），rawQuery 为原始查询串。
// 每个片段按字节转义，只保留 [A-Za-z0-9._]，因此 '-' 与 '~' 只会以分隔符出现，
// 不同的 path/query 组合不会映射到同一文件名。
func locate(basePath, host, path, rawQuery string) Location {
	site := strings.TrimSuffix(strings.ToLower(host), ".")
	if site == "" {
		site = "_"
	}
	hostDir := escapeName(site)

	trimmed := strings.Trim(path, "/")
	name := rootName
	if trimmed != "" {
		segments := strings.Split(trimmed, "/")
		for i, seg := range segments {
			segments[i] = escapeName(seg)
		}
		name = strings.Join(segments, "-")
	}

	if rawQuery != "" {
		query, err := url.PathUnescape(rawQuery)
		if err != nil {
			query = rawQuery
		}
		name += queryMarker + escapeName(query)
	}

	name = protectName(name)
	return Location{
		Host: site,
		Key:  name,
		Dir:  filepath.Join(basePath, hostDir),
	}
}

// escapeName 对文件名中不安全的字节做 %XX 转义。
func escapeName(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isSafeByte(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0F])
	}
	return b.String()
}

func isSafeByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '.' || c == '_'
}

// protectName 避免文件名与 sidecar 后缀或 "."/".." 冲突，并限制长度。
func protectName(name string) string {
	if strings.Trim(name, ".") == "" {
		name = strings.ReplaceAll(name, ".", "%2E")
	}
	for _, suffix := range []string{metaSuffix, tmpSuffix, lockSuffix} {
		if strings.HasSuffix(name, suffix) {
			name = name[:len(name)-len(suffix)] + "%2E" + suffix[1:]
			break
		}
	}
	if len(name) > maxNameBytes {
		sum := sha256.Sum256([]byte(name))
		name = name[:truncatedBytes] + hashMarker + hex.EncodeToString(sum[:16])
	}
	return name
}
