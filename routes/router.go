package routes

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cppla/fhost/config"
	"github.com/cppla/fhost/controllers"
	"github.com/cppla/fhost/middleware"
	"github.com/cppla/fhost/services"
	"github.com/cppla/fhost/utils"
)

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(cfg config.AppConfig, app *controllers.FhostController, filters *services.FilterEngine, log *zap.Logger) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.HandleMethodNotAllowed = false
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Warn("invalid trusted proxies, trusting none", zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}

	// access log goes to its own rolling file when configured
	accessLog := log
	if cfg.GinPath != "" {
		if gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress); err == nil {
			accessLog = gl
		} else {
			log.Warn("gin access log unavailable, using app logger", zap.Error(err))
		}
	}
	r.Use(utils.Ginzap(accessLog, time.RFC3339, true))
	r.Use(utils.RecoveryWithZap(accessLog, true))
	r.Use(middleware.Metrics())

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type"},
		ExposeHeaders: []string{"Content-Length", "X-Expires", "X-Token"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/", app.Index)
	r.HEAD("/", app.Index)
	r.POST("/",
		middleware.RateLimitMiddleware(cfg),
		middleware.ParseUpload(cfg),
		middleware.RequestFilter(filters, log),
		app.Upload,
	)
	r.GET("/robots.txt", app.Robots)
	r.GET("/health", app.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// /<name>, /<name>/<filename>, /s/<secret>/<name>...
	r.NoRoute(middleware.ParseUpload(cfg), app.Get)

	return r
}
