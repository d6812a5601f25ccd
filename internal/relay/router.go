package relay

import (
	"context"
	"net/http"
	"os"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/orbit/internal/config"
	"github.com/dkeye/orbit/internal/domain"
)

func SetupRouter(ctx context.Context, cfg *config.Config, srv *Server) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("OrbitSessions", store))

	if st, err := os.Stat(cfg.StaticPath); err == nil && st.IsDir() {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	if cfg.JWTSecret != "" {
		api.Use(JWTAuth(cfg.JWTSecret))
	} else {
		api.Use(ClientTokenMiddleware())
	}

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": srv.Hub.Rooms()})
	})
	api.GET("/rooms/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"members": srv.Hub.Members(domain.RoomID(c.Param("id")))})
	})
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "relay.http").Str("user", c.GetString(ctxUserID)).Msg("ws signal endpoint hit")
		srv.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "relay.http").Bool("jwt", cfg.JWTSecret != "").Msg("router setup")
	return r
}
