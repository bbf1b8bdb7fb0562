package router

import (
	"time"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	_ "github.com/d60-Lab/feedsync/docs"
	"github.com/d60-Lab/feedsync/internal/api/handler"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

// Setup wires every route of the remote authority onto a new gin engine.
func Setup(h *handler.Handler, mode, serviceName string) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}
	r := gin.New()
	r.Use(
		accessLog(),
		gin.Recovery(),
		sentrygin.New(sentrygin.Options{Repanic: true}),
		otelgin.Middleware(serviceName),
		// websocket upgrades need the raw writer
		gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{`/changes$`})),
	)

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")
	{
		tables := v1.Group("/tables")
		tables.GET("/:table", h.QueryRows)
		tables.POST("/:table", h.InsertRow)
		tables.GET("/:table/changes", h.Changes)
		tables.PATCH("/:table/:id", h.UpdateRow)
		tables.DELETE("/:table/:id", h.DeleteRow)

		relations := v1.Group("/relations")
		relations.GET("/:user_id/following", h.ListFollowing)
		relations.GET("/:user_id/following/:target_id", h.CheckFollowing)
		relations.GET("/:user_id/fans", h.ListFans)
	}
	return r
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
