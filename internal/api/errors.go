package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/arenachat/internal/apperr"
	"go.uber.org/zap"
)

// respondError maps the error taxonomy onto a status code. Errors outside
// the taxonomy are internal: logged, and answered with a generic message so
// driver or SQL text never reaches the client.
func respondError(c *gin.Context, logger *zap.Logger, action string, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		logger.Error("failed to "+action, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + action})
		return
	}

	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		logger.Error("failed to "+action,
			zap.String("kind", string(appErr.Kind)),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{
		"error": appErr.Message,
		"kind":  appErr.Kind,
	})
}
