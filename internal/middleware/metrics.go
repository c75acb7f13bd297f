package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carewell/scheduling-api/internal/service"
)

// Metrics records request metrics for every handled request.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metricsSvc.ObserveRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
