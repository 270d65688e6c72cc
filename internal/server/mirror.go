package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/throttlecache/internal/logging"
	"github.com/any-hub/throttlecache/internal/rules"
	"github.com/any-hub/throttlecache/internal/transport"
)

// mirror 将 /<host>/<path> 转发到上游，所有请求都经过共享的缓存 client。
type mirror struct {
	client        *http.Client
	logger        *logrus.Logger
	rules         *rules.Table
	scheme        string
	restrictHosts bool
}

// Handle 构造上游请求、回写响应并输出结构化日志。
func (m *mirror) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := RequestID(c)
	rawPath := string(c.Request().URI().Path())
	if isDiagnosticsPath(rawPath) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	}

	host := strings.ToLower(strings.TrimSpace(c.Params("host")))
	if host == "" || strings.ContainsAny(host, "@/\\") {
		return m.writeError(c, fiber.StatusBadRequest, "invalid_host")
	}
	if m.restrictHosts && !m.rules.MatchHost(hostname(host)) {
		m.logger.WithFields(logrus.Fields{
			"action":     "host_lookup",
			"host":       host,
			"request_id": requestID,
		}).Warn("host unmapped")
		return m.writeError(c, fiber.StatusNotFound, "host_unmapped")
	}

	upstream := &url.URL{
		Scheme:   m.scheme,
		Host:     host,
		Path:     "/" + c.Params("*"),
		RawQuery: string(c.Request().URI().QueryString()),
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	var body io.Reader = http.NoBody
	if payload := c.Body(); len(payload) > 0 {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, c.Method(), upstream.String(), body)
	if err != nil {
		return m.writeError(c, fiber.StatusBadRequest, "invalid_request")
	}
	CopyHeaders(req.Header, requestHeaders(c))
	req.Header.Del("Accept-Encoding")

	resp, err := m.client.Do(req)
	if err != nil {
		m.logResult(requestID, upstream, 0, "", started, err)
		var invariant *transport.ProtocolInvariantError
		if errors.As(err, &invariant) {
			return m.writeError(c, fiber.StatusBadGateway, "protocol_invariant")
		}
		return m.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set("X-Request-ID", requestID)
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		m.logResult(requestID, upstream, resp.StatusCode, resp.Header.Get("X-Cache"), started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	m.logResult(requestID, upstream, resp.StatusCode, resp.Header.Get("X-Cache"), started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, "mirror stream failed: "+err.Error())
	}
	return nil
}

func (m *mirror) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (m *mirror) logResult(requestID string, upstream *url.URL, status int, cacheStatus string, started time.Time, err error) {
	fields := logging.RequestFields(requestID, upstream.Host, upstream.Path, status, cacheStatus)
	fields["action"] = "mirror"
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		m.logger.WithFields(fields).WithError(err).Error("mirror request failed")
		return
	}
	m.logger.WithFields(fields).Info("mirror request completed")
}

// hostname 去掉 host:port 中的端口部分。
func hostname(host string) string {
	if u, err := url.Parse("//" + host); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return host
}
