package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"example.com/backstage/services/stocktake/internal/tenant"
)

// Identity resolves the acting company and user from the gateway headers and
// stores them on the request context. Authentication itself happens at the
// gateway; this service trusts the forwarded identity.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyHeader := c.GetHeader("X-Company-ID")
		if companyHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "X-Company-ID header required",
			})
			c.Abort()
			return
		}
		companyID, err := strconv.ParseUint(companyHeader, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid X-Company-ID header",
			})
			c.Abort()
			return
		}

		actorID := c.GetHeader("X-Actor-ID")
		if actorID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "X-Actor-ID header required",
			})
			c.Abort()
			return
		}

		ctx := tenant.WithCompany(c.Request.Context(), uint(companyID))
		ctx = tenant.WithActor(ctx, actorID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
