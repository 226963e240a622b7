package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"example.com/backstage/services/stocktake/api/handlers"
	"example.com/backstage/services/stocktake/api/middleware"
	"example.com/backstage/services/stocktake/internal/service"
)

// SetupRoutes sets up all the routes for the server
func SetupRoutes(r *gin.Engine, svc service.Service, log *logrus.Logger) {
	// Health check
	r.GET("/health", handlers.HealthCheck)

	// API routes; every operation requires the forwarded identity
	api := r.Group("/api/v1")
	api.Use(middleware.Identity())

	countingHandler := handlers.NewCountingHandler(svc, log)
	countings := api.Group("/countings")
	{
		countings.POST("", countingHandler.CreateCounting)
		countings.GET("", countingHandler.ListCountings)
		countings.GET("/:id", countingHandler.GetCounting)
		countings.POST("/:id/activate", countingHandler.Activate)
		countings.POST("/:id/cancel", countingHandler.Cancel)
		countings.POST("/:id/finalize", countingHandler.Finalize)
		countings.POST("/:id/third-count", countingHandler.TriggerThirdCount)

		// Counter-facing routes; responses follow the blind contract
		countings.GET("/:id/counter-view", countingHandler.GetCounterView)
		countings.POST("/:id/items", countingHandler.AddUnexpectedItem)
		countings.POST("/:id/items/:itemId/counts", countingHandler.SubmitCount)
		countings.POST("/:id/items/:itemId/override", countingHandler.OverrideItem)

		// Audit trail
		countings.GET("/:id/events", countingHandler.ListEvents)
		countings.GET("/:id/events/verify", countingHandler.VerifyChain)
	}
}
