package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheck responds to health check requests
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "stocktake-service",
	})
}
