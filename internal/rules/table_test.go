package rules

import (
	"errors"
	"testing"
)

func TestResolveTranslatesRawValues(t *testing.T) {
	table, err := NewTable(HostRule{
		Pattern: `example\.com`,
		Paths: []PathRule{
			{Pattern: `/forever`, Value: true},
			{Pattern: `/never`, Value: false},
			{Pattern: `/ttl`, Value: int64(30)},
			{Pattern: `/zero`, Value: 0},
			{Pattern: `/default`, Value: nil},
		},
	})
	if err != nil {
		t.Fatalf("new table error: %v", err)
	}

	cases := map[string]Policy{
		"/forever/a.bin": Unlimited(),
		"/never":         Never(),
		"/ttl":           MaxAge(30),
		"/zero":          MaxAge(0),
		"/default":       Default(),
		"/unknown":       NoRule(),
	}
	for path, want := range cases {
		got, err := table.Resolve("example.com", path, "")
		if err != nil {
			t.Fatalf("resolve %s error: %v", path, err)
		}
		if got != want {
			t.Fatalf("resolve %s: expected %s, got %s", path, want, got)
		}
	}
}

func TestResolveFirstMatchWins(t *testing.T) {
	table, err := NewTable(
		HostRule{Pattern: `.*\.sec\.gov`, Paths: []PathRule{{Pattern: `/Archives`, Value: 60}, {Pattern: `/`, Value: true}}},
		HostRule{Pattern: `www\.sec\.gov`, Paths: []PathRule{{Pattern: `/`, Value: false}}},
	)
	if err != nil {
		t.Fatalf("new table error: %v", err)
	}

	got, _ := table.Resolve("www.sec.gov", "/Archives/edgar/data", "")
	if got != MaxAge(60) {
		t.Fatalf("expected first path rule, got %s", got)
	}
	got, _ = table.Resolve("www.sec.gov", "/cgi-bin/browse", "")
	if got != Unlimited() {
		t.Fatalf("expected first host rule to shadow later ones, got %s", got)
	}
}

func TestResolveHostIsCaseInsensitiveAndAnchored(t *testing.T) {
	table, err := NewTable(HostRule{Pattern: `example\.com`, Paths: []PathRule{{Pattern: `/a`, Value: true}}})
	if err != nil {
		t.Fatalf("new table error: %v", err)
	}
	if got, _ := table.Resolve("EXAMPLE.com.", "/a", ""); got != Unlimited() {
		t.Fatalf("expected case-insensitive host match, got %s", got)
	}
	if got, _ := table.Resolve("evil-example.com", "/a", ""); got != NoRule() {
		t.Fatalf("host patterns must match from the start, got %s", got)
	}
	if got, _ := table.Resolve("example.com", "/b/a", ""); got != NoRule() {
		t.Fatalf("path patterns must match from the start, got %s", got)
	}
}

func TestResolveMatchesQuery(t *testing.T) {
	table, err := NewTable(HostRule{Pattern: `api\.local`, Paths: []PathRule{
		{Pattern: `/search\?q=`, Value: 10},
		{Pattern: `/search`, Value: false},
	}})
	if err != nil {
		t.Fatalf("new table error: %v", err)
	}
	if got, _ := table.Resolve("api.local", "/search", "q=go"); got != MaxAge(10) {
		t.Fatalf("expected query-aware match, got %s", got)
	}
	if got, _ := table.Resolve("api.local", "/search", ""); got != Never() {
		t.Fatalf("expected fallthrough to second rule, got %s", got)
	}
}

func TestNewTableRejectsBadPattern(t *testing.T) {
	_, err := NewTable(HostRule{Pattern: `([`, Paths: nil})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}

	_, err = NewTable(HostRule{Pattern: `ok`, Paths: []PathRule{{Pattern: `/`, Value: -1}}})
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for negative max age, got %v", err)
	}

	_, err = NewTable(HostRule{Pattern: `ok`, Paths: []PathRule{{Pattern: `/`, Value: "soon"}}})
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for string policy, got %v", err)
	}
}

func TestTableMutationIsVisibleOnNextResolve(t *testing.T) {
	table, err := NewTable()
	if err != nil {
		t.Fatalf("new table error: %v", err)
	}
	if got, _ := table.Resolve("example.com", "/file.bin", ""); got != NoRule() {
		t.Fatalf("empty table should yield no rule, got %s", got)
	}

	if err := table.Set(`example\.com`, `/file\.bin`, 1); err != nil {
		t.Fatalf("set error: %v", err)
	}
	if got, _ := table.Resolve("example.com", "/file.bin", ""); got != MaxAge(1) {
		t.Fatalf("expected new rule to apply, got %s", got)
	}

	if err := table.Set(`example\.com`, `/file\.bin`, false); err != nil {
		t.Fatalf("set error: %v", err)
	}
	if got, _ := table.Resolve("example.com", "/file.bin", ""); got != Never() {
		t.Fatalf("expected updated rule to apply, got %s", got)
	}

	if !table.Remove(`example\.com`) {
		t.Fatalf("expected host rule to be removed")
	}
	if got, _ := table.Resolve("example.com", "/file.bin", ""); got != NoRule() {
		t.Fatalf("expected no rule after removal, got %s", got)
	}
}

func TestReplaceKeepsTableOnInvalidInput(t *testing.T) {
	table, err := NewTable(HostRule{Pattern: `a`, Paths: []PathRule{{Pattern: `/`, Value: true}}})
	if err != nil {
		t.Fatalf("new table error: %v", err)
	}
	if err := table.Replace([]HostRule{{Pattern: `(`}}); err == nil {
		t.Fatalf("expected replace to fail")
	}
	if got, _ := table.Resolve("a", "/x", ""); got != Unlimited() {
		t.Fatalf("table should be unchanged, got %s", got)
	}
}

func TestParsePolicyAcceptsDecoderNumbers(t *testing.T) {
	for _, raw := range []any{int64(5), uint32(5), float64(5), 5} {
		got, err := ParsePolicy(raw)
		if err != nil || got != MaxAge(5) {
			t.Fatalf("ParsePolicy(%T) = %s, %v", raw, got, err)
		}
	}
	if _, err := ParsePolicy(1.5); err == nil {
		t.Fatalf("fractional seconds should be rejected")
	}
}

func TestPolicyCacheable(t *testing.T) {
	for _, p := range []Policy{NoRule(), Default(), Never()} {
		if p.Cacheable() {
			t.Fatalf("%s must not be cacheable", p)
		}
	}
	for _, p := range []Policy{Unlimited(), MaxAge(0), MaxAge(10)} {
		if !p.Cacheable() {
			t.Fatalf("%s must be cacheable", p)
		}
	}
}

func TestMatchHost(t *testing.T) {
	table, err := NewTable(HostRule{Pattern: `.*\.example\.com`, Paths: nil})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if !table.MatchHost("CDN.Example.com.") {
		t.Fatalf("host match should be case-insensitive and ignore the trailing dot")
	}
	if table.MatchHost("example.org") {
		t.Fatalf("unexpected host match")
	}
	var nilTable *Table
	if nilTable.MatchHost("example.com") {
		t.Fatalf("nil table matches nothing")
	}
}
