package node

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/osistack/osistack/internal/config"
	"github.com/osistack/osistack/internal/observability"
)

// serveAdmin exposes health, metrics, and table snapshots over HTTP. This is
// operator plumbing next to the simulated stack, not part of the pipeline.
func serveAdmin(cfg config.AdminConfig, s *Stack) {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	if len(cfg.CorsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CorsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}

	startedAt := time.Now()
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(startedAt).String(),
			"service": "osistack",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/stack", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"mac_address": s.DataLink.MACAddress(),
			"ip_address":  s.Network.IPAddress(),
			"connections": s.Transport.Snapshot(),
			"sessions":    s.Session.Snapshot(),
		})
	})

	log.Info().Str("addr", cfg.Addr).Msg("admin server listening")
	if err := r.Run(cfg.Addr); err != nil {
		log.Error().Err(err).Msg("admin server stopped")
	}
}
