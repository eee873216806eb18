package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// MetricsHandler exposes the Prometheus registry.
type MetricsHandler struct {
	handler gin.HandlerFunc
	logger  zerolog.Logger
}

// NewMetricsHandler creates a new MetricsHandler serving gatherer.
func NewMetricsHandler(gatherer prometheus.Gatherer, logger zerolog.Logger) *MetricsHandler {
	l := logger.With().Str("component", "metrics_handler").Logger()
	h := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog:      promLogger{l},
		ErrorHandling: promhttp.ContinueOnError,
	})
	return &MetricsHandler{
		handler: gin.WrapH(h),
		logger:  l,
	}
}

// RegisterPublicRoutes registers metrics routes that don't require authentication.
func (h *MetricsHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/metrics", h.Metrics)
}

// Metrics returns metrics in Prometheus exposition format.
// GET /metrics
func (h *MetricsHandler) Metrics(c *gin.Context) {
	h.handler(c)
}

// promLogger adapts zerolog to promhttp.Logger.
type promLogger struct {
	logger zerolog.Logger
}

func (l promLogger) Println(v ...any) {
	l.logger.Error().Msgf("%v", v)
}
