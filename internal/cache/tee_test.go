package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestTeeCommitsOnEOF(t *testing.T) {
	for _, mode := range []WriteMode{WriteModeInline, WriteModeOffload} {
		t.Run(string(mode), func(t *testing.T) {
			store := newTestStore(t, Options{WriteMode: mode})
			loc := store.Locate("example.com", "/pkg.tgz", "")
			payload := strings.Repeat("0123456789", 10_000)

			tee := NewTee(context.Background(), store, loc, newChunkedBody(payload, 4096, nil), Meta{Fetched: epoch, OriginLastModified: epoch})
			got, err := io.ReadAll(tee)
			if err != nil {
				t.Fatalf("read tee error: %v", err)
			}
			if err := tee.Close(); err != nil {
				t.Fatalf("close tee error: %v", err)
			}
			if string(got) != payload {
				t.Fatalf("caller received %d bytes, want %d", len(got), len(payload))
			}

			stored, err := store.ReadContent(loc)
			if err != nil {
				t.Fatalf("read stored content error: %v", err)
			}
			if string(stored) != payload {
				t.Fatalf("stored %d bytes, want %d", len(stored), len(payload))
			}
			meta, err := store.ReadMeta(loc)
			if err != nil {
				t.Fatalf("read meta error: %v", err)
			}
			if !meta.Fetched.Equal(epoch) || !meta.OriginLastModified.Equal(epoch) {
				t.Fatalf("unexpected meta: %+v", meta)
			}
			assertNoFile(t, loc.TmpPath())
			assertLockFree(t, store, loc)
		})
	}
}

func TestTeeAbortsOnUpstreamError(t *testing.T) {
	for _, mode := range []WriteMode{WriteModeInline, WriteModeOffload} {
		t.Run(string(mode), func(t *testing.T) {
			store := newTestStore(t, Options{WriteMode: mode})
			loc := store.Locate("example.com", "/broken", "")
			upstreamErr := errors.New("connection reset")

			tee := NewTee(context.Background(), store, loc, newChunkedBody("partial-data", 4, upstreamErr), Meta{Fetched: epoch, OriginLastModified: epoch})
			got, err := io.ReadAll(tee)
			if !errors.Is(err, upstreamErr) {
				t.Fatalf("expected upstream error to reach caller, got %v", err)
			}
			if string(got) != "partial-data" {
				t.Fatalf("caller should still see streamed bytes, got %q", got)
			}
			tee.Close()

			assertNoFile(t, loc.ContentPath())
			assertNoFile(t, loc.MetaPath())
			assertNoFile(t, loc.TmpPath())
			assertLockFree(t, store, loc)
		})
	}
}

func TestTeeStreamsWhenEntryBusy(t *testing.T) {
	store := newTestStore(t, Options{})
	loc := store.Locate("example.com", "/busy", "")

	holder := store.Lock(loc)
	if err := holder.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire error: %v", err)
	}
	defer holder.Release()

	tee := NewTee(context.Background(), store, loc, newChunkedBody("hello", 2, nil), Meta{Fetched: epoch})
	got, err := io.ReadAll(tee)
	if err != nil {
		t.Fatalf("read tee error: %v", err)
	}
	tee.Close()
	if string(got) != "hello" {
		t.Fatalf("unexpected body %q", got)
	}
	assertNoFile(t, loc.ContentPath())
	assertNoFile(t, loc.TmpPath())
}

func TestTeeCloseDrainsShortRemainder(t *testing.T) {
	store := newTestStore(t, Options{DrainLimit: 1024})
	loc := store.Locate("example.com", "/short", "")
	payload := strings.Repeat("x", 600)

	tee := NewTee(context.Background(), store, loc, newChunkedBody(payload, 100, nil), Meta{Fetched: epoch})
	buf := make([]byte, 100)
	if _, err := tee.Read(buf); err != nil {
		t.Fatalf("first read error: %v", err)
	}
	if err := tee.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}

	stored, err := store.ReadContent(loc)
	if err != nil {
		t.Fatalf("expected drained entry to be committed: %v", err)
	}
	if string(stored) != payload {
		t.Fatalf("stored %d bytes, want %d", len(stored), len(payload))
	}
	if _, err := tee.Read(buf); err == nil {
		t.Fatalf("expected read after close to fail")
	}
}

func TestTeeCloseAbandonsLongRemainder(t *testing.T) {
	store := newTestStore(t, Options{DrainLimit: 1024})
	loc := store.Locate("example.com", "/long", "")
	payload := strings.Repeat("x", 64*1024)

	body := newChunkedBody(payload, 256, nil)
	tee := NewTee(context.Background(), store, loc, body, Meta{Fetched: epoch})
	buf := make([]byte, 256)
	if _, err := tee.Read(buf); err != nil {
		t.Fatalf("first read error: %v", err)
	}
	tee.Close()

	if !body.closed {
		t.Fatalf("upstream body must be closed")
	}
	assertNoFile(t, loc.ContentPath())
	assertNoFile(t, loc.TmpPath())
	assertLockFree(t, store, loc)
}

func TestTeeCloseWithoutReading(t *testing.T) {
	store := newTestStore(t, Options{})
	loc := store.Locate("example.com", "/unread", "")

	tee := NewTee(context.Background(), store, loc, newChunkedBody("tiny", 4, nil), Meta{Fetched: epoch})
	if err := tee.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
	if got, err := store.ReadContent(loc); err != nil || string(got) != "tiny" {
		t.Fatalf("small unread body should be committed on close, got %q / %v", got, err)
	}
}

func TestTeeCloseUnblocksPendingRead(t *testing.T) {
	store := newTestStore(t, Options{})
	loc := store.Locate("example.com", "/stall", "")

	body := newBlockingBody()
	tee := NewTee(context.Background(), store, loc, body, Meta{Fetched: epoch})

	readDone := make(chan error, 1)
	go func() {
		_, err := tee.Read(make([]byte, 16))
		readDone <- err
	}()
	<-body.reading

	closeDone := make(chan struct{})
	go func() {
		tee.Close()
		close(closeDone)
	}()

	select {
	case err := <-readDone:
		if err == nil {
			t.Fatalf("expected pending read to fail after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pending read was not released by close")
	}
	select {
	case <-closeDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("close did not return")
	}
	assertNoFile(t, loc.ContentPath())
	assertNoFile(t, loc.TmpPath())
	assertLockFree(t, store, loc)
}

func TestTeeOffloadMatchesInline(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 8192)

	var stored [][]byte
	for _, mode := range []WriteMode{WriteModeInline, WriteModeOffload} {
		store := newTestStore(t, Options{WriteMode: mode})
		loc := store.Locate("example.com", "/same", "v=1")
		tee := NewTee(context.Background(), store, loc, newChunkedBody(string(payload), 1000, nil), Meta{Fetched: epoch})
		if _, err := io.Copy(io.Discard, tee); err != nil {
			t.Fatalf("%s: copy error: %v", mode, err)
		}
		tee.Close()
		content, err := store.ReadContent(loc)
		if err != nil {
			t.Fatalf("%s: read content error: %v", mode, err)
		}
		stored = append(stored, content)
	}
	if !bytes.Equal(stored[0], stored[1]) || !bytes.Equal(stored[0], payload) {
		t.Fatalf("inline and offload writers produced different entries")
	}
}

// chunkedBody 按固定大小分片返回数据，结束时返回 EOF 或指定错误。
type chunkedBody struct {
	data   []byte
	chunk  int
	err    error
	closed bool
}

func newChunkedBody(payload string, chunk int, err error) *chunkedBody {
	return &chunkedBody{data: []byte(payload), chunk: chunk, err: err}
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	if b.closed {
		return 0, errors.New("read on closed body")
	}
	if len(b.data) == 0 {
		if b.err != nil {
			return 0, b.err
		}
		return 0, io.EOF
	}
	n := b.chunk
	if n > len(p) {
		n = len(p)
	}
	if n > len(b.data) {
		n = len(b.data)
	}
	copy(p, b.data[:n])
	b.data = b.data[n:]
	return n, nil
}

func (b *chunkedBody) Close() error {
	b.closed = true
	return nil
}

// blockingBody 的 Read 会一直阻塞直到 Close 被调用。
type blockingBody struct {
	reading chan struct{}
	release chan struct{}
}

func newBlockingBody() *blockingBody {
	return &blockingBody{reading: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingBody) Read(p []byte) (int, error) {
	close(b.reading)
	<-b.release
	return 0, errors.New("body closed")
}

func (b *blockingBody) Close() error {
	close(b.release)
	return nil
}

func assertLockFree(t *testing.T, store *Store, loc Location) {
	t.Helper()
	lock := store.Lock(loc)
	if err := lock.Acquire(context.Background()); err != nil {
		t.Fatalf("expected entry lock to be free, got %v", err)
	}
	lock.Release()
}
