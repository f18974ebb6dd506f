// Package api exposes the HTTP surface of the memory graph core.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evan-ryan-york/umg/internal/archivist"
	"github.com/evan-ryan-york/umg/internal/config"
	"github.com/evan-ryan-york/umg/internal/feedback"
	"github.com/evan-ryan-york/umg/internal/inbox"
	"github.com/evan-ryan-york/umg/internal/mentor"
	"github.com/evan-ryan-york/umg/internal/relationship"
	"github.com/evan-ryan-york/umg/internal/storage"
)

// Server is the HTTP API server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config
	store      storage.Store
	inbox      *inbox.Inbox
	archivist  *archivist.Archivist
	relEngine  *relationship.Engine
	mentor     *mentor.Mentor
	feedback   *feedback.Processor
	logger     *slog.Logger
}

// NewServer wires the API server and its routes.
func NewServer(
	cfg *config.Config,
	store storage.Store,
	ib *inbox.Inbox,
	arch *archivist.Archivist,
	relEngine *relationship.Engine,
	m *mentor.Mentor,
	fb *feedback.Processor,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:    gin.New(),
		cfg:       cfg,
		store:     store,
		inbox:     ib,
		archivist: arch,
		relEngine: relEngine,
		mentor:    m,
		feedback:  fb,
		logger:    slog.Default().With("component", "api"),
	}
	s.engine.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.Health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.engine.POST("/events", s.IngestEvent)
	s.engine.POST("/process", s.Process)
	s.engine.GET("/status", s.Status)

	s.engine.POST("/relationship-engine", s.RunRelationshipEngine)
	s.engine.GET("/relationship-engine", s.RelationshipEngineStatus)

	s.engine.POST("/mentor/chat", s.MentorChat)
	s.engine.POST("/mentor/generate-digest", s.GenerateDigest)
	s.engine.GET("/mentor/status", s.MentorStatus)

	s.engine.POST("/feedback/acknowledge", s.Acknowledge)
	s.engine.POST("/feedback/dismiss", s.Dismiss)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start begins serving and blocks until the listener fails.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.API.ListenAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("api server listening", "addr", s.cfg.API.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
