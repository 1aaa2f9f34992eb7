// Package httpapi wires the HTTP transport (Gin) to the todo list service,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, rate limiting and compression.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-todo-backend/docs"
	"github.com/tbourn/go-todo-backend/internal/config"
	"github.com/tbourn/go-todo-backend/internal/domain"
	"github.com/tbourn/go-todo-backend/internal/http/handlers"
	"github.com/tbourn/go-todo-backend/internal/http/middleware"
	"github.com/tbourn/go-todo-backend/internal/repo"
	"github.com/tbourn/go-todo-backend/internal/services"
)

// itemRepoShim adapts the repository free functions to services.ItemRepo.
type itemRepoShim struct{}

func (itemRepoShim) CreateItem(ctx context.Context, db *gorm.DB, text string) (*domain.Item, error) {
	return repo.CreateItem(ctx, db, text)
}

func (itemRepoShim) GetItem(ctx context.Context, db *gorm.DB, id int64) (*domain.Item, error) {
	return repo.GetItem(ctx, db, id)
}

func (itemRepoShim) ListItems(ctx context.Context, db *gorm.DB) ([]domain.Item, error) {
	return repo.ListItems(ctx, db)
}

func (itemRepoShim) UpdateItemText(ctx context.Context, db *gorm.DB, id int64, text string) (*domain.Item, error) {
	return repo.UpdateItemText(ctx, db, id, text)
}

func (itemRepoShim) DeleteItem(ctx context.Context, db *gorm.DB, id int64) error {
	return repo.DeleteItem(ctx, db, id)
}

func (itemRepoShim) ItemsStats(ctx context.Context, db *gorm.DB) (int64, *time.Time, error) {
	return repo.ItemsStats(ctx, db)
}

// idemRepoShim adapts the idempotency repository to services.IdempotencyRepo.
type idemRepoShim struct{}

func (idemRepoShim) GetIdempotency(ctx context.Context, db *gorm.DB, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, db, key, now)
}

func (idemRepoShim) CreateIdempotency(ctx context.Context, db *gorm.DB, key string, itemID int64, status int, ttl time.Duration) (*domain.Idempotency, error) {
	return repo.CreateIdempotency(ctx, db, key, itemID, status, ttl)
}

func (idemRepoShim) DeleteIdempotency(ctx context.Context, db *gorm.DB, key string, itemID int64) error {
	return repo.DeleteIdempotency(ctx, db, key, itemID)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the item routes under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. ContextLogger: request-scoped zerolog logger on gin + request context
//  4. RedactingLogger: access log with PII scrubbing
//  5. Recovery: capture panics after the loggers
//  6. Body size limiter
//  7. Metrics
//  8. Idempotency validator on POST /items (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per client IP, bypass on replay)
//  10. CORS, security headers and optional gzip
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.ContextLogger())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
		SkipPaths:   []string{"/health", "/metrics"},
	}))
	r.Use(middleware.Recovery())
	r.Use(middleware.BodyLimit(cfg.MaxBodyBytes))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Only item creation honours Idempotency-Key; other routes ignore it.
	createRoute := strings.TrimSuffix(cfg.APIBasePath, "/") + "/items"
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
			Match: func(c *gin.Context) bool {
				return c.Request.Method == http.MethodPost && c.FullPath() == createRoute
			},
		},
		func(ctx context.Context, key string, now time.Time) (bool, error) {
			_, err := repo.GetIdempotency(ctx, db, key, now)
			if errors.Is(err, repo.ErrNotFound) {
				return false, nil
			}
			return err == nil, err
		},
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	r.Use(rl.Handler())

	r.Use(cors.New(corsConfig(cfg.CORS.AllowedOrigins)))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))
	if cfg.GzipEnabled {
		r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	}

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services <- repo/db
	svc := services.NewListService(db, itemRepoShim{}, idemRepoShim{})
	if cfg.IdempotencyTTL > 0 {
		svc.IdempotencyTTL = cfg.IdempotencyTTL
	}
	h := handlers.New(svc)

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.GET("/items", h.ListItems)
		api.GET("/items/:id", h.GetItem)
		api.POST("/items", h.CreateItem)
		api.PUT("/items/:id", h.UpdateItem)
		api.DELETE("/items/:id", h.DeleteItem)
	}
}

// corsConfig allows the configured origins, or every origin when the list is
// empty or contains "*". Credentials are never allowed.
func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "If-None-Match", middleware.HeaderIdempotencyKey},
		ExposeHeaders:    []string{"X-Request-ID", "ETag", "Idempotent-Replay", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
