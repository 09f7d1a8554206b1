package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRouter wires the job queue's HTTP surface (SPEC_FULL.md §6.1).
func SetupRouter(deps *Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "jobq-api"})
	})

	h := NewJobHandler(deps)

	v1 := r.Group("/v1")
	{
		jobs := v1.Group("/jobs")
		jobs.POST("", h.CreateJob)
		jobs.GET("", h.ListJobs)
		jobs.GET("/:id", h.GetJob)
		jobs.POST("/:id/cancel", h.CancelJob)
		jobs.POST("/:id/kill", h.KillJob)
		v1.GET("/metrics", h.GetMetrics)
	}

	return r
}
