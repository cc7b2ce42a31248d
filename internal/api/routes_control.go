package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/courtyard-project/courtyard/internal/protocol"
)

func (s *Server) handleSweep(c *gin.Context) {
	if s.src.Gateway == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session table on this role", "role": s.src.Role})
		return
	}
	expired := s.src.Gateway.Sweep()
	log.Info().Int("expired", len(expired)).Str("client_ip", c.ClientIP()).Msg("API: session sweep")
	c.JSON(http.StatusOK, gin.H{
		"expired":   len(expired),
		"remaining": s.src.Gateway.Sessions().Len(),
	})
}

func (s *Server) handleDropSession(c *gin.Context) {
	if s.src.Gateway == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session table on this role", "role": s.src.Role})
		return
	}
	token, err := protocol.ParseToken(c.Param("token"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session token"})
		return
	}
	if !s.src.Gateway.Revoke(token) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	log.Info().Str("session", token.String()).Str("client_ip", c.ClientIP()).Msg("API: session revoked")
	c.JSON(http.StatusOK, gin.H{"status": "revoked", "session": token})
}
