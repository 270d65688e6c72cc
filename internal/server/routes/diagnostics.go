package routes

import (
	"errors"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/throttlecache/internal/cache"
	"github.com/any-hub/throttlecache/internal/rules"
)

// RegisterDiagnostics 暴露 /-/rules 与 /-/cache/:host/* 诊断接口，
// 供运维查询当前规则表以及某个 URL 在磁盘上的缓存状态。store 为 nil 表示缓存关闭。
func RegisterDiagnostics(app fiber.Router, table *rules.Table, store *cache.Store) {
	if app == nil {
		return
	}

	app.Get("/-/rules", func(c fiber.Ctx) error {
		return c.JSON(encodeRules(table.Snapshot()))
	})

	app.Get("/-/cache/:host/*", func(c fiber.Ctx) error {
		if store == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "cache_disabled"})
		}
		host := hostOnly(c.Params("host"))
		if host == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "host_required"})
		}
		path := "/" + c.Params("*")
		query := string(c.Request().URI().QueryString())
		return c.JSON(inspectEntry(table, store, host, path, query))
	})
}

type pathPayload struct {
	Pattern string `json:"pattern"`
	Policy  string `json:"policy"`
}

type rulePayload struct {
	Host  string        `json:"host"`
	Paths []pathPayload `json:"paths"`
}

type entryPayload struct {
	Host               string `json:"host"`
	Path               string `json:"path"`
	Query              string `json:"query,omitempty"`
	Policy             string `json:"policy"`
	Location           string `json:"location,omitempty"`
	State              string `json:"state"`
	Fetched            string `json:"fetched,omitempty"`
	OriginLastModified string `json:"origin_last_modified,omitempty"`
	AgeSeconds         int64  `json:"age_seconds,omitempty"`
	Error              string `json:"error,omitempty"`
}

func encodeRules(hosts []rules.HostRule) []rulePayload {
	result := make([]rulePayload, 0, len(hosts))
	for _, hr := range hosts {
		paths := make([]pathPayload, 0, len(hr.Paths))
		for _, pr := range hr.Paths {
			policy := "invalid"
			if parsed, err := rules.ParsePolicy(pr.Value); err == nil {
				policy = parsed.String()
			}
			paths = append(paths, pathPayload{Pattern: pr.Pattern, Policy: policy})
		}
		result = append(result, rulePayload{Host: hr.Pattern, Paths: paths})
	}
	return result
}

func inspectEntry(table *rules.Table, store *cache.Store, host, path, query string) entryPayload {
	payload := entryPayload{Host: host, Path: path, Query: query}

	policy, err := table.Resolve(host, path, query)
	if err != nil {
		payload.Policy = "invalid"
		payload.State = cache.Absent.String()
		payload.Error = err.Error()
		return payload
	}
	payload.Policy = policy.String()
	if !policy.Cacheable() {
		payload.State = cache.Absent.String()
		return payload
	}

	loc := store.Locate(host, path, query)
	payload.Location = loc.String()
	state, meta, err := store.Freshness(loc, policy)
	payload.State = state.String()
	if err != nil {
		var corrupt *cache.CorruptMetadataError
		if errors.As(err, &corrupt) {
			payload.State = "corrupt"
		}
		payload.Error = err.Error()
	}
	if !meta.Fetched.IsZero() {
		payload.Fetched = meta.Fetched.UTC().Format(time.RFC3339)
		payload.AgeSeconds = int64(store.Now().Sub(meta.Fetched) / time.Second)
	}
	if !meta.OriginLastModified.IsZero() {
		payload.OriginLastModified = meta.OriginLastModified.UTC().Format(time.RFC3339)
	}
	return payload
}

// hostOnly 去掉 host:port 中的端口部分。
func hostOnly(raw string) string {
	if u, err := url.Parse("//" + raw); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return raw
}
