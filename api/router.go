package api

import (
	"torrentforge/config"
	"torrentforge/task"

	"github.com/gin-gonic/gin"
)

func SetupRouter(tm *task.Manager, cfg *config.Config) *gin.Engine {
	r := gin.Default()
	h := NewHandler(tm, cfg)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.POST("/metafiles", h.handleCreateTask)
		v1.GET("/metafiles", h.handleListTasks)
		v1.GET("/metafiles/:taskId", h.handleGetTaskStatus)
		v1.GET("/metafiles/:taskId/file", h.handleGetTorrentFile)
		v1.DELETE("/metafiles/:taskId", h.handleDeleteTask)
	}
	return r
}
