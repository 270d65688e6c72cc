// Package cache implements the flat-file entry store behind the caching
// transport. A request maps to <CacheDir>/<host>/<key>; the body lives in
// <key>, a small JSON record in <key>.meta, and <key>.tmp / <key>.lock exist
// while a write is in flight. Writes go through a temp file that is fsynced
// and renamed over the final name before the metadata is replaced, so a
// reader never sees a partially written body. Tee streams an upstream body to
// the caller while persisting the same bytes under the entry's file lock.
package cache
