package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/auth"
	"github.com/lalith-99/arenachat/internal/identity"
)

// Context keys for storing the caller in gin.Context.
const (
	ContextKeyUserID = "user_id"
	ContextKeyCaller = "caller"
)

// AdminModeHeader toggles admin mode for a request. Websocket clients,
// which cannot set headers from a browser, use the admin_mode query
// parameter instead.
const AdminModeHeader = "X-Admin-Mode"

// AuthMiddleware returns a Gin middleware that validates JWT tokens.
//
// The token comes from "Authorization: Bearer <token>". A websocket
// upgrade request from a browser cannot carry that header, so a `token`
// query parameter is accepted as well. If the token is invalid the chain is
// aborted with 401 and the handler never runs.
//
// Why take `secret` as a parameter?
//   - So the middleware doesn't import the config package directly.
//   - Tests pass any secret they like.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or malformed credentials, expected: Bearer <token>",
			})
			return
		}

		claims, err := auth.ParseToken(tokenString, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyCaller, claims.Caller(adminModeRequested(c)))
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}

func adminModeRequested(c *gin.Context) bool {
	raw := c.GetHeader(AdminModeHeader)
	if raw == "" {
		raw = c.Query("admin_mode")
	}
	on, err := strconv.ParseBool(raw)
	return err == nil && on
}

// GetUserID returns uuid.Nil when the middleware did not run.
func GetUserID(c *gin.Context) uuid.UUID {
	val, exists := c.Get(ContextKeyUserID)
	if !exists {
		return uuid.Nil
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

// GetCaller returns the authenticated caller. ok is false when the
// middleware did not run.
func GetCaller(c *gin.Context) (identity.Caller, bool) {
	val, exists := c.Get(ContextKeyCaller)
	if !exists {
		return identity.Caller{}, false
	}
	caller, ok := val.(identity.Caller)
	return caller, ok
}
