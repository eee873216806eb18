package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// RequestObserver records request durations.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, seconds float64)
}

// MetricsMiddleware records the duration of every request against its
// route template, so path parameters do not explode label cardinality.
func MetricsMiddleware(observer RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		observer.ObserveRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start).Seconds())
	}
}
