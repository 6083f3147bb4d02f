package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/slipstream/anomaly-detector/internal/models"
)

// DashboardServer serves the monitoring REST API, the Prometheus scrape
// endpoint and the static dashboard page.
type DashboardServer struct {
	collector *Collector
	engine    *gin.Engine
	srv       *http.Server
	port      int
}

// NewDashboardServer wires the router. Call Start to bind the port.
func NewDashboardServer(collector *Collector, port int) *DashboardServer {
	s := &DashboardServer{
		collector: collector,
		port:      port,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())
	router.HandleMethodNotAllowed = true

	api := router.Group("/api")
	{
		api.GET("/metrics", metricsHandler(collector))
		api.GET("/anomalies", anomaliesHandler(collector))
		api.GET("/distribution", distributionHandler(collector))
		api.GET("/health", healthHandler(collector))
	}

	router.GET("/metrics", PrometheusHandler())
	router.GET("/", dashboardPageHandler())

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})

	s.engine = router
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Start binds the listen port and serves in the background. A bind
// failure is returned synchronously so startup can abort.
func (s *DashboardServer) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("dashboard listen on %s: %w", s.srv.Addr, err)
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Dashboard server failed")
		}
	}()

	log.Info().Int("port", s.port).Msgf("Dashboard available at http://localhost:%d/", s.port)
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *DashboardServer) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	if err == nil {
		log.Info().Msg("Dashboard server stopped")
	}
	return err
}

// Port returns the configured listen port.
func (s *DashboardServer) Port() int {
	return s.port
}

// Handlers

func metricsHandler(collector *Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, collector.Snapshot())
	}
}

func anomaliesHandler(collector *Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, collector.RecentAnomalies())
	}
}

func distributionHandler(collector *Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, collector.Distribution())
	}
}

func healthHandler(collector *Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		healthy := collector.Healthy()
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, gin.H{
			"healthy":         healthy,
			"timestamp":       models.NewCivilTime(collector.clk.Now()),
			"processing_rate": collector.ProcessingRate(),
			"uptime_check":    "OK",
		})
	}
}

func dashboardPageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(dashboardHTML))
	}
}

// Middleware

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Debug().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("request_id", c.GetString("request_id")).
			Str("client_ip", c.ClientIP()).
			Msg("Request completed")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
