package routes

import (
	"net/http"

	"github.com/cityshield/YuntuWeb/internal/http/handlers"
	"github.com/cityshield/YuntuWeb/internal/http/middleware"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Options struct {
	// StaticDir, when set, is served at / for the web front end.
	StaticDir      string
	TrustedProxies []string
	MaxBodyBytes   int64
	Debug          bool
}

type Router struct {
	aisrHandler *handlers.AISRHandler
	logger      *zap.Logger
	opts        Options
}

func NewRouter(
	aisrHandler *handlers.AISRHandler,
	logger *zap.Logger,
	opts Options,
) *Router {
	return &Router{
		aisrHandler: aisrHandler,
		logger:      logger,
		opts:        opts,
	}
}

func (r *Router) SetupRoutes() *gin.Engine {
	if r.opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	if err := router.SetTrustedProxies(r.opts.TrustedProxies); err != nil {
		r.logger.Warn("Invalid trusted proxies, trusting none", zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(r.logger))
	router.Use(middleware.ErrorHandler(r.logger))
	router.Use(middleware.CORS())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.NoCache())

	if r.opts.StaticDir != "" {
		router.Use(static.Serve("/", static.LocalFile(r.opts.StaticDir, true)))
	}

	router.GET("/health", r.aisrHandler.HealthCheck)

	api := router.Group("/api")
	{
		api.GET("/health", r.aisrHandler.HealthCheck)
		api.GET("/usage-stats", r.aisrHandler.UsageStats)

		upload := api.Group("", middleware.BodyLimit(r.opts.MaxBodyBytes))
		{
			upload.POST("/aisr-process", r.aisrHandler.Process)
			upload.POST("/convert-tiff", r.aisrHandler.ConvertTIFF)
			upload.POST("/convert-exr", r.aisrHandler.ConvertEXR)
		}
	}

	if r.opts.StaticDir == "" {
		router.GET("/", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{
				"status":  "OK",
				"message": "AISR gateway is running",
			})
		})
	}

	return router
}
