package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/delivery"
	"messaging-service/internal/ws"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, manager *ws.ConnectionManager, failures *delivery.FailureTracker, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/connections", func(c *gin.Context) {
		if userID := c.Query("user_id"); userID != "" {
			c.JSON(http.StatusOK, gin.H{
				"user_id":   userID,
				"connected": manager.IsUserConnected(userID),
				"sockets":   manager.ActiveConnectionCount(userID),
			})
			return
		}
		c.JSON(http.StatusOK, manager.Stats())
	})

	router.GET("/debug/delivery-failures", func(c *gin.Context) {
		c.JSON(http.StatusOK, failures.Stats())
	})
}
