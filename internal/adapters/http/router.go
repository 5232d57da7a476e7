package http

import (
	"context"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/adapters/signal"
	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/storage"
	"github.com/dkeye/Meet/internal/transcribe"
)

// Deps is everything the HTTP surface serves from.
type Deps struct {
	Orch      *orch.Orchestrator
	Store     *storage.Storage
	Limiter   *signal.RateLimiter
	Xfyun     *transcribe.XfyunRelay
	Assembly  *transcribe.AssemblyDialer
	Streaming bool
	Started   time.Time
}

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Strs("proxies", cfg.TrustedProxies).Msg("trusted proxies")
	}

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("MeetSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ctrl := signal.NewSignalWSController(d.Orch, d.Limiter)
	if cfg.ReadLimit > 0 {
		ctrl.ReadLimit = cfg.ReadLimit
	}
	if cfg.PingPeriod > 0 {
		ctrl.PingPeriod = cfg.PingPeriod
	}

	h := &handlers{deps: d}
	if h.deps.Started.IsZero() {
		h.deps.Started = time.Now()
	}

	r.GET("/health", h.serviceHealth)

	api := r.Group("/api")
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})
	if d.Xfyun != nil {
		api.GET("/ws/xfyun", func(c *gin.Context) {
			signal.HandleXfyun(ctx, c, d.Xfyun)
		})
	}
	api.GET("/health", h.health)
	api.GET("/xfyun/status", h.xfyunStatus)
	api.GET("/transcription/health", h.transcriptionHealth)
	api.GET("/rooms/:roomId/messages", h.messages)
	api.GET("/rooms/:roomId/participants", h.participants)

	return r
}
