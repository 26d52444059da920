package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"auctionhouse/internal/auth"
	"auctionhouse/internal/chain"
	"auctionhouse/internal/metrics"
	"auctionhouse/internal/paas"
	"auctionhouse/internal/repository"
	"auctionhouse/internal/service"
)

// Deps is everything the HTTP surface needs. Nil optional members disable
// the feature they back.
type Deps struct {
	DB        *gorm.DB
	Chain     chain.Reader
	Repo      repository.Repository
	Machine   *service.Machine
	Projector *service.Projector
	Settings  *service.SystemSettingsService
	Auth      *auth.Service
	JWT       auth.JWT
	PaaS      *paas.Client
	Limiter   *RateLimiter
	Logger    *zap.Logger

	LiveInterval time.Duration
	Swagger      bool
	Debug        bool
}

func NewRouter(d Deps) *gin.Engine {
	if d.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(metrics.GinMiddleware())
	engine.Use(auth.Middleware(d.JWT, false))
	if d.Limiter != nil {
		engine.Use(d.Limiter.Middleware())
	}
	if d.PaaS != nil {
		engine.Use(paas.WriteAuditMiddleware(d.PaaS, CallerAddress, d.Logger))
	}

	(&HealthHandler{DB: d.DB, Chain: d.Chain}).Register(engine)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	paas.RegisterDocs(engine)

	(&AuthHandler{Service: d.Auth}).Register(engine)
	(&AuctionHandler{Repo: d.Repo, Machine: d.Machine}).Register(engine)
	(&LiveHandler{Projector: d.Projector, Machine: d.Machine, Interval: d.LiveInterval, Logger: d.Logger}).Register(engine)
	(&AdminHandler{Repo: d.Repo, Machine: d.Machine}).Register(engine)
	(&SystemSettingsHandler{Repo: d.Repo, Settings: d.Settings}).Register(engine)

	if d.Swagger {
		engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	return engine
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
