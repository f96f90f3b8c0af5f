// Package api is the HTTP surface of the observatory: flows, per-country trends,
// health and Prometheus metrics.
package api

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/rewired-gh/observatory/internal/metrics"
)

type RouterConfig struct {
	FlowsHandler  *FlowsHandler
	HealthHandler *HealthHandler
	Metrics       *metrics.Metrics
	// MetricsPath exposes the registry when non-empty.
	MetricsPath string
	// ServiceName enables otelgin spans when non-empty.
	ServiceName string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(RequestContext())
	r.Use(RequestLog())
	r.Use(Metrics(cfg.Metrics))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}
	if cfg.MetricsPath != "" {
		r.GET(cfg.MetricsPath, gin.WrapH(cfg.Metrics.Handler()))
	}

	v1 := r.Group("/v1")
	{
		if cfg.FlowsHandler != nil {
			v1.GET("/flows", cfg.FlowsHandler.GetFlows)
			v1.GET("/trends/:country", cfg.FlowsHandler.GetTrends)
		}
	}

	return r
}
