package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/courtyard-project/courtyard/internal/util"
)

// Version is reported by the ping and info endpoints.
const Version = "1.0.0"

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "courtyard",
		"role":    s.src.Role,
		"version": Version,
	})
}

func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"role":    s.src.Role,
		"version": Version,
		"host":    util.GetHostInfo(),
		"process": util.GetProcessStats(s.started),
	})
}
