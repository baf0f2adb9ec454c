package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SessionStatus is the externally visible health of one session.
type SessionStatus struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
	TLS      bool   `json:"tls"`
	State    string `json:"state"`
	Failures int    `json:"probe_failures"`
}

// Healthy reports whether the session is usable right now.
func (s SessionStatus) Healthy() bool {
	return s.State == "healthy" || s.State == "suspect"
}

// StatusFunc snapshots session status for the status router.
type StatusFunc func() SessionStatus

func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http_request")
	}
}

// NewStatusRouter serves /healthz from status and /metrics from the default
// prometheus registry.
func NewStatusRouter(logger zerolog.Logger, status StatusFunc) *gin.Engine {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger))
	r.GET("/healthz", func(c *gin.Context) {
		st := status()
		code := http.StatusOK
		if !st.Healthy() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, st)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}
