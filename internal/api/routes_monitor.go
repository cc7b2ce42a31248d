package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/courtyard-project/courtyard/internal/network"
)

func (s *Server) handleSessions(c *gin.Context) {
	if s.src.Gateway == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session table on this role", "role": s.src.Role})
		return
	}
	sessions := s.src.Gateway.Sessions().Snapshot()
	bound := 0
	for _, sess := range sessions {
		if sess.Bound {
			bound++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"total":    len(sessions),
		"bound":    bound,
	})
}

type listenerView struct {
	Name        string                   `json:"name"`
	Addr        string                   `json:"addr"`
	Connections []network.ConnectionInfo `json:"connections"`
}

func (s *Server) handleConnections(c *gin.Context) {
	if len(s.src.Listeners) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no listeners on this role", "role": s.src.Role})
		return
	}
	views := make([]listenerView, 0, len(s.src.Listeners))
	total := 0
	for _, srv := range s.src.Listeners {
		v := listenerView{Name: srv.Name(), Connections: srv.Snapshot()}
		if addr := srv.Addr(); addr != nil {
			v.Addr = addr.String()
		}
		total += len(v.Connections)
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{
		"listeners": views,
		"total":     total,
	})
}

func (s *Server) handleMesh(c *gin.Context) {
	if s.src.Mesh == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no mesh link on this role", "role": s.src.Role})
		return
	}
	resp := gin.H{
		"flavor":    s.src.Mesh.Flavor(),
		"connected": s.src.Mesh.Connected(),
	}
	if id, ok := s.src.Mesh.ID(); ok {
		resp["id"] = id
	}
	c.JSON(http.StatusOK, resp)
}
