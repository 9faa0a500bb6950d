// Package admin serves the operator HTTP API: processing counters and the
// quarantined jobs of one consumer. Every route requires HTTP basic auth.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"redis-job-consumer/internal/config"
	"redis-job-consumer/internal/journal"
	"redis-job-consumer/internal/stats"
)

// Consumer is what the API needs from the running consumer.
type Consumer interface {
	Stats() stats.Snapshot
	Enqueue(ctx context.Context, jobType string, data map[string]any) (string, error)
}

// Journal is the read/delete view of quarantined jobs.
type Journal interface {
	List() []journal.Entry
	Get(id string) (journal.Entry, error)
	Remove(id string) error
}

type Server struct {
	cfg      config.Admin
	consumer Consumer
	journal  Journal
	engine   *gin.Engine
	srv      *http.Server
	log      *zap.Logger
}

func New(cfg config.Admin, c Consumer, j Journal, log *zap.Logger) *Server {
	if cfg.Port == 0 {
		cfg.Port = config.DefaultAdminPort
	}

	s := &Server{
		cfg:      cfg,
		consumer: c,
		journal:  j,
		engine:   gin.New(),
		log:      log.Named("admin"),
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	s.srv = &http.Server{
		Addr:    cfg.Addr(),
		Handler: s.engine,
	}
	return s
}

func (s *Server) routes() {
	r := s.engine.Group("/", gin.BasicAuth(gin.Accounts{s.cfg.User: s.cfg.Password}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/status", s.handleStatus)
	r.GET("/failed-jobs", s.handleListFailed)
	r.GET("/failed-jobs/:id", s.handleGetFailed)
	r.DELETE("/failed-jobs/:id", s.handleDeleteFailed)
	r.POST("/jobs", s.handleEnqueue)
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Addr() string {
	return s.srv.Addr
}

// Start binds the listener and serves in the background. Bind errors are
// returned directly.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.log.Info("admin server listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.consumer.Stats())
}

func (s *Server) handleListFailed(c *gin.Context) {
	entries := s.journal.List()
	queue := make(map[string]journal.Entry, len(entries))
	for _, e := range entries {
		queue[e.ID] = e
	}
	c.JSON(http.StatusOK, gin.H{"queue": queue})
}

func (s *Server) handleGetFailed(c *gin.Context) {
	e, err := s.journal.Get(c.Param("id"))
	if err != nil {
		s.journalError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) handleDeleteFailed(c *gin.Context) {
	id := c.Param("id")
	if err := s.journal.Remove(id); err != nil {
		s.journalError(c, err)
		return
	}
	s.log.Info("failed job deleted", zap.String("journal_id", id))
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "deleted"})
}

func (s *Server) handleEnqueue(c *gin.Context) {
	var req struct {
		Type string         `json:"type" binding:"required"`
		Data map[string]any `json:"data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.consumer.Enqueue(c.Request.Context(), req.Type, req.Data)
	if err != nil {
		s.log.Error("enqueue job", zap.String("type", req.Type), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "accepted"})
}

func (s *Server) journalError(c *gin.Context, err error) {
	if errors.Is(err, journal.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "failed job not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
