package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/courtyard-project/courtyard/internal/config"
	"github.com/courtyard-project/courtyard/internal/gateway"
	"github.com/courtyard-project/courtyard/internal/network"
)

// Sources is what a role exposes to the admin API. Any field may be empty;
// endpoints backed by a missing source answer 404.
type Sources struct {
	Role      string
	Listeners []*network.Server
	Mesh      *network.Client
	Gateway   *gateway.Gateway
}

// Server is the admin HTTP API of one courtyard process.
type Server struct {
	cfg     config.APIConfig
	src     Sources
	started time.Time

	router     *gin.Engine
	httpServer *http.Server
	ready      chan struct{}
	addr       net.Addr
}

// NewServer builds the router. Nothing is bound until Run.
func NewServer(cfg config.APIConfig, src Sources) *Server {
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		src:     src,
		started: time.Now(),
		ready:   make(chan struct{}),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router, for serving without a listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Ready is closed once Run has bound its listener.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the bound address. It is nil before Ready.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := network.Listen(ctx, s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}
	s.addr = ln.Addr()

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	close(s.ready)

	log.Info().Str("addr", s.addr.String()).Str("role", s.src.Role).Msg("admin API starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(s.cfg.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleInfo)
	}

	protected := router.Group("/api")
	protected.Use(RequireToken(s.cfg.Token))

	monitor := protected.Group("/monitor")
	{
		monitor.GET("/sessions", s.handleSessions)
		monitor.GET("/connections", s.handleConnections)
		monitor.GET("/mesh", s.handleMesh)
	}

	control := protected.Group("/control")
	{
		control.POST("/sweep", s.handleSweep)
		control.DELETE("/sessions/:token", s.handleDropSession)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Courtyard admin API is running."})
	})

	return router
}
