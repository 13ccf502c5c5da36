package router

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/erp/batchalloc/internal/interfaces/http/handler"
	"github.com/erp/batchalloc/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(engine *gin.Engine, method, target string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestRouter(t *testing.T) {
	t.Run("defaults to v1", func(t *testing.T) {
		r := NewRouter(gin.New())
		assert.Equal(t, "/api/v1", r.BasePath())
		assert.Empty(t, r.registrars)
	})

	t.Run("custom version", func(t *testing.T) {
		r := NewRouter(gin.New(), WithAPIVersion("v2"))
		assert.Equal(t, "/api/v2", r.BasePath())
	})

	t.Run("setup mounts registrars", func(t *testing.T) {
		engine := gin.New()
		group := NewDomainGroup("batches", "/batches")
		group.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

		NewRouter(engine).Register(group).Setup()

		w := serve(engine, http.MethodGet, "/api/v1/batches/ping", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "pong", w.Body.String())
	})
}

func TestDomainGroup(t *testing.T) {
	t.Run("name and prefix", func(t *testing.T) {
		g := NewDomainGroup("orders", "/orders")
		assert.Equal(t, "orders", g.Name())
		assert.Equal(t, "/orders", g.Prefix())
	})

	t.Run("methods", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("batches", "/batches")
		g.POST("", func(c *gin.Context) { c.Status(http.StatusCreated) }).
			GET("/:id", func(c *gin.Context) { c.String(http.StatusOK, c.Param("id")) }).
			PATCH("/:id", func(c *gin.Context) { c.Status(http.StatusOK) }).
			Handle(http.MethodDelete, "/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
		g.RegisterRoutes(engine.Group("/api/v1"))

		tests := []struct {
			method string
			path   string
			want   int
		}{
			{http.MethodPost, "/api/v1/batches", http.StatusCreated},
			{http.MethodGet, "/api/v1/batches/b-1", http.StatusOK},
			{http.MethodPatch, "/api/v1/batches/b-1", http.StatusOK},
			{http.MethodDelete, "/api/v1/batches/b-1", http.StatusNoContent},
		}
		for _, tt := range tests {
			w := serve(engine, tt.method, tt.path, "")
			assert.Equal(t, tt.want, w.Code, "%s %s", tt.method, tt.path)
		}
	})

	t.Run("middleware applies to the group only", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("orders", "/orders")
		g.Use(func(c *gin.Context) {
			c.Header("X-Group", "orders")
			c.Next()
		})
		g.GET("", func(c *gin.Context) { c.Status(http.StatusOK) })
		g.RegisterRoutes(engine.Group("/api/v1"))
		engine.GET("/other", func(c *gin.Context) { c.Status(http.StatusOK) })

		assert.Equal(t, "orders", serve(engine, http.MethodGet, "/api/v1/orders", "").Header().Get("X-Group"))
		assert.Empty(t, serve(engine, http.MethodGet, "/other", "").Header().Get("X-Group"))
	})

	t.Run("subgroups", func(t *testing.T) {
		engine := gin.New()
		g := NewDomainGroup("inventory", "/inventory")
		g.Group("availability", "/availability").GET("", func(c *gin.Context) { c.String(http.StatusOK, "avail") })
		g.RegisterRoutes(engine.Group("/api/v1"))

		w := serve(engine, http.MethodGet, "/api/v1/inventory/availability", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "avail", w.Body.String())
		assert.Equal(t, []string{"GET /inventory/availability"}, g.Routes())
	})
}

func TestHandlers_Groups(t *testing.T) {
	h := Handlers{
		Batch:     handler.NewBatchHandler(nil),
		Inventory: handler.NewInventoryHandler(nil),
		Order:     handler.NewOrderHandler(nil),
	}

	var routes []string
	for _, g := range h.Groups() {
		routes = append(routes, g.Routes()...)
	}
	assert.ElementsMatch(t, []string{
		"POST /batches",
		"GET /batches",
		"GET /batches/:id",
		"PATCH /batches/:id",
		"GET /inventory/availability",
		"POST /orders",
		"GET /orders",
		"GET /orders/:id",
		"PATCH /orders/:id/status",
	}, routes)

	assert.Empty(t, Handlers{}.Groups())
}

func TestNewEngine(t *testing.T) {
	newEngine := func(t *testing.T, cfg EngineConfig) *gin.Engine {
		t.Helper()
		engine, err := NewEngine(cfg)
		require.NoError(t, err)
		return engine
	}

	t.Run("common middleware", func(t *testing.T) {
		engine := newEngine(t, EngineConfig{})
		Mount(engine, Handlers{Health: handler.NewHealthHandler("test", nil)})

		w := serve(engine, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	})

	t.Run("degraded health is 503", func(t *testing.T) {
		engine := newEngine(t, EngineConfig{})
		Mount(engine, Handlers{Health: handler.NewHealthHandler("test", map[string]handler.Pinger{
			"database": handler.PingerFunc(func() error { return errors.New("connection refused") }),
		})})

		w := serve(engine, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), `"database":"connection refused"`)
	})

	t.Run("body limit", func(t *testing.T) {
		engine := newEngine(t, EngineConfig{MaxBodySize: 16})
		Mount(engine, Handlers{Order: handler.NewOrderHandler(nil)})

		w := serve(engine, http.MethodPost, "/api/v1/orders", `{"order_number":"SO-1","items":[{"product":"x","quantity":1}]}`)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("swagger disabled", func(t *testing.T) {
		engine := newEngine(t, EngineConfig{Swagger: middleware.SwaggerConfig{Enabled: false}})
		w := serve(engine, http.MethodGet, "/swagger/index.html", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("rejects malformed trusted proxies", func(t *testing.T) {
		_, err := NewEngine(EngineConfig{TrustedProxies: []string{"not-an-ip"}})
		assert.Error(t, err)
	})
}
