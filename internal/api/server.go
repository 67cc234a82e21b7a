// Package api exposes the ops surface: authentication, signal submission,
// account management, and the health/status stream.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"signal-core/internal/events"
	"signal-core/internal/health"
	"signal-core/internal/session"
	"signal-core/internal/signal"
	"signal-core/pkg/db"
	"signal-core/pkg/vault"
)

// Server wires HTTP endpoints around the pipeline and its collaborators.
type Server struct {
	Router   *gin.Engine
	Pipeline *signal.Pipeline
	Queries  *db.Queries
	Vault    *vault.Vault
	Sessions *session.Manager
	Health   *health.Aggregator
	Bus      *events.Bus
}

func NewServer(p *signal.Pipeline, q *db.Queries, v *vault.Vault, sm *session.Manager, h *health.Aggregator, bus *events.Bus) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:   r,
		Pipeline: p,
		Queries:  q,
		Vault:    v,
		Sessions: sm,
		Health:   h,
		Bus:      bus,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.getHealth)
	s.Router.GET("/ws/status", s.statusStream)

	api := s.Router.Group("/api/v1")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
			auth.POST("/logout", s.logoutUser)
		}

		protected := api.Group("")
		protected.Use(s.AuthMiddleware())
		{
			protected.POST("/signals", s.submitSignal)
			protected.GET("/signals/:id", s.getSignal)
			protected.POST("/signals/:id/cancel", s.cancelSignal)

			protected.GET("/accounts", s.listAccounts)
			protected.POST("/accounts", s.createAccount)
			protected.DELETE("/accounts/:id", s.deactivateAccount)
			protected.PUT("/accounts/:id/default", s.setDefaultAccount)
			protected.GET("/accounts/:id/results", s.accountResults)
		}
	}
}

func (s *Server) getHealth(c *gin.Context) {
	if s.Health == nil {
		c.JSON(http.StatusOK, gin.H{"overall": "ok"})
		return
	}
	snap := s.Health.Snapshot()
	status := http.StatusOK
	if snap.Overall == health.OverallDown {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, snap)
}

// Start runs the HTTP server until it fails.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
