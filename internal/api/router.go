package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/arenachat/internal/middleware"
)

// Routes is every handler the server exposes. Auth is nil outside
// self-contained mode.
type Routes struct {
	Channels    *ChannelHandler
	Messages    *MessageHandler
	Users       *UserHandler
	Memberships *MembershipHandler
	Gateway     *Gateway
	Auth        *AuthHandler

	JWTSecret string
	// Health reports whether the backing stores are reachable.
	Health func(ctx context.Context) error
}

// Register mounts the routes on r.
func (rt Routes) Register(r *gin.Engine) {
	// Health check is PUBLIC so load balancers can reach it.
	r.GET("/v1/health", func(c *gin.Context) {
		if rt.Health != nil {
			if err := rt.Health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if rt.Auth != nil {
		r.POST("/v1/auth/dev-token", rt.Auth.DevToken)
	}

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(rt.JWTSecret))

	v1.GET("/users/me", rt.Users.GetMe)
	v1.GET("/users/:id", rt.Users.GetByID)
	v1.GET("/events/:event_id/captains", rt.Memberships.Captains)
	v1.GET("/channels/resolve", rt.Channels.Resolve)
	v1.GET("/channels/messages", rt.Channels.History)
	v1.POST("/messages", rt.Messages.Create)
	v1.DELETE("/messages/:id", rt.Messages.Delete)
	v1.GET("/ws", rt.Gateway.Handle)
}
