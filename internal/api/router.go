package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes registers /health and the /api routes on router.
func SetupRoutes(router gin.IRouter, h *Handler) {
	router.GET("/health", h.Health)

	api := router.Group("/api")
	{
		api.GET("/docker/status", h.DockerStatus)
		api.GET("/tasks", h.ListTasks)
	}

	task := api.Group("/task/:id")
	{
		task.POST("/start", h.StartTask)
		task.POST("/stop", h.StopTask)
		task.POST("/reset", h.ResetTask)
		task.POST("/check", h.CheckTask)
		task.GET("/environment", h.GetEnvironment)
	}
}
