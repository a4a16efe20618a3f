package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// NewServer creates the HTTP engine with all routes configured. A nil
// metrics handler leaves /metrics unrouted.
func NewServer(handler *Handler, apiAccessKey string, metrics http.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health", "/metrics"},
	}))

	r.Use(gin.Recovery())

	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-Key")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	setupRoutes(r, handler, apiAccessKey, metrics)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler, apiAccessKey string, metrics http.Handler) {
	r.GET("/health", handler.GetHealth)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	feeds := r.Group("/feeds")
	api := r.Group("/api")
	if apiAccessKey != "" {
		feeds.Use(authMiddleware(apiAccessKey))
		api.Use(authMiddleware(apiAccessKey))
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled (API_ACCESS_KEY not set)")
	}

	feeds.GET("/:type", handler.GetFeed)

	api.GET("/items/:type", handler.APIGetItems)
	api.PATCH("/items/:id/flags", handler.APISetFlags)
	api.GET("/search", handler.APISearch)
	api.GET("/bookmarks", handler.APIGetBookmarks)
	api.GET("/summary", handler.APIGetSummary)
	api.GET("/stats", handler.APIGetStats)
	api.POST("/refresh", handler.APIRefresh)

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":     "AIFeed",
			"version":     handler.version,
			"description": "AI content aggregator with LLM enrichment",
			"endpoints": map[string]string{
				"health":    "/health",
				"metrics":   "/metrics",
				"feed":      "/feeds/<paper|news|video|blog>",
				"items":     "/api/items/<type>",
				"search":    "/api/search?q=<query>",
				"bookmarks": "/api/bookmarks",
				"summary":   "/api/summary",
				"stats":     "/api/stats",
				"flags":     "/api/items/<id>/flags (PATCH)",
				"refresh":   "/api/refresh (POST)",
			},
			"api_status": map[string]any{
				"auth_required": apiAccessKey != "",
				"header":        "X-API-Key",
			},
		})
	})

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
}

func authMiddleware(apiAccessKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		providedKey := c.GetHeader("X-API-Key")

		if providedKey == "" {
			if token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
				providedKey = token
			}
		}

		if providedKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "API key required",
				"message": "Provide API key in X-API-Key header or Authorization: Bearer <key>",
			})
			return
		}

		if providedKey != apiAccessKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid API key",
				"message": "The provided API key is not valid",
			})
			return
		}

		c.Next()
	}
}
