package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/telecare/consult/internal/adapters/signal"
	"github.com/telecare/consult/internal/app"
	"github.com/telecare/consult/internal/config"
	"github.com/telecare/consult/internal/domain"
)

// ClientTokenMiddleware gives every browser a sticky device token so
// reconnects of the same tab can be correlated in the logs. It is not
// an identity; identity comes from the auth collaborator.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// SetupRouter wires the WS signaling endpoint plus a small read-only
// REST surface the surrounding platform polls (doctor reachability,
// call state).
func SetupRouter(ctx context.Context, cfg *config.Config, rt *app.Router, ctl *signal.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ConsultSessions", store))
	r.Use(ClientTokenMiddleware())

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("device", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	// GET /api/presence/:userID — is this user reachable right now
	api.GET("/presence/:userID", func(c *gin.Context) {
		user := domain.UserID(c.Param("userID"))
		c.JSON(http.StatusOK, gin.H{
			"user":        user,
			"online":      rt.Presence.Online(user),
			"connections": rt.Presence.ConnectionCount(user),
		})
	})

	// GET /api/calls — live calls overview
	api.GET("/calls", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"calls": rt.Sessions.Live()})
	})

	// GET /api/calls/:callID — one call's state
	api.GET("/calls/:callID", func(c *gin.Context) {
		call, ok := rt.Sessions.Get(domain.CallID(c.Param("callID")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		c.JSON(http.StatusOK, call)
	})

	return r
}
