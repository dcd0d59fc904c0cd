package admin

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyrodovalexey/dbpool/internal/pool"
)

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleLiveness)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	pools := s.engine.Group("/pools")
	pools.GET("", s.handleStats)
	pools.GET("/health", s.handleHealth)
	pools.POST("/sweep", s.handleSweep)
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.pools.Stats())
}

type healthResponse struct {
	Status pool.Status                  `json:"status"`
	Pools  map[string]pool.HealthStatus `json:"pools"`
}

func (s *Server) handleHealth(c *gin.Context) {
	statuses := s.pools.HealthStatus()
	c.JSON(http.StatusOK, healthResponse{
		Status: overallStatus(statuses),
		Pools:  statuses,
	})
}

// handleLiveness fails only when some pool is critical.
func (s *Server) handleLiveness(c *gin.Context) {
	var critical []string
	for name, h := range s.pools.HealthStatus() {
		if h.Status == pool.StatusCritical {
			critical = append(critical, name)
		}
	}
	if len(critical) > 0 {
		sort.Strings(critical)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": pool.StatusCritical,
			"pools":  critical,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSweep(c *gin.Context) {
	results := s.pools.RunHealthChecks(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"pools": results})
}

func overallStatus(statuses map[string]pool.HealthStatus) pool.Status {
	out := pool.StatusHealthy
	for _, h := range statuses {
		switch h.Status {
		case pool.StatusCritical:
			return pool.StatusCritical
		case pool.StatusWarning:
			out = pool.StatusWarning
		}
	}
	return out
}
