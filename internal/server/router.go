package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/throttlecache/internal/cache"
	"github.com/any-hub/throttlecache/internal/rules"
	"github.com/any-hub/throttlecache/internal/server/routes"
)

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger *logrus.Logger
	Client *http.Client
	Rules  *rules.Table
	// Store backs the /-/cache diagnostics, nil when caching is disabled.
	Store *cache.Store
	// Scheme is used to reach upstream hosts, http or https.
	Scheme string
	// RestrictHosts only mirrors hosts matched by a host rule.
	RestrictHosts bool
	ListenPort    int
}

const contextKeyRequestID = "_throttlecache_request_id"

// NewApp builds a Fiber application with request ID middleware, diagnostics
// endpoints and the mirror route.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Client == nil {
		return nil, errors.New("http client is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}
	if opts.Scheme == "" {
		opts.Scheme = "https"
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	routes.RegisterDiagnostics(app, opts.Rules, opts.Store)

	m := &mirror{
		client:        opts.Client,
		logger:        opts.Logger,
		rules:         opts.Rules,
		scheme:        opts.Scheme,
		restrictHosts: opts.RestrictHosts,
	}
	app.All("/:host/*", m.Handle)
	app.All("/*", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	})

	return app, nil
}

// requestContextMiddleware 为每个请求生成 ID 并写入响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
