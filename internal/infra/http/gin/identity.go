package ginserver

import (
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"
)

const viewerContextKey = "viewer_id"

// Identity reads the viewer from X-User-ID, falling back to the user_id query
// parameter for browser WebSocket clients that cannot set headers. Identity is
// trusted as given; authentication happens upstream.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader("X-User-ID"))
		if id == "" {
			id = strings.TrimSpace(c.Query("user_id"))
		}
		if id != "" {
			c.Set(viewerContextKey, id)
		}
		c.Next()
	}
}

func requireViewer(c *gin.Context) (string, bool) {
	id := c.GetString(viewerContextKey)
	if id == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "X-User-ID required"})
		return "", false
	}
	return id, true
}
