package server

import (
	"net/http"
	"testing"
)

func TestCopyHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Add("Connection", "keep-alive")
	src.Add("Keep-Alive", "timeout=5")
	src.Add("proxy-connection", "close")
	src.Add("If-Modified-Since", "Mon, 01 Jan 2024 00:00:00 GMT")
	src.Add("X-Test-Header", "1")
	src.Add("x-test-header", "2")

	dst := http.Header{}
	CopyHeaders(dst, src)

	for _, key := range []string{"Connection", "Keep-Alive", "Proxy-Connection"} {
		if _, exists := dst[key]; exists {
			t.Fatalf("%s header should not be copied", key)
		}
	}
	if dst.Get("If-Modified-Since") == "" {
		t.Fatalf("conditional headers must be forwarded")
	}
	if got := dst.Values("X-Test-Header"); len(got) != 2 {
		t.Fatalf("expected 2 values, got %v", got)
	}
}
