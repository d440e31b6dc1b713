// Package api exposes sync passes, status and the schedule over HTTP, plus a
// websocket stream of finished passes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/harrisonrobin/sheetsync/pkg/model"
	"github.com/harrisonrobin/sheetsync/pkg/syncer"
)

// Syncer runs passes.
type Syncer interface {
	Run(ctx context.Context, dir model.Direction) (model.SyncResult, error)
	RunScheduled(ctx context.Context) (model.ScheduledOutcome, error)
	Status(ctx context.Context) (model.StatusCounts, error)
}

// Settings reads and updates the persisted schedule.
type Settings interface {
	GetSyncSettings(ctx context.Context) (model.SyncSettings, error)
	SaveSchedule(ctx context.Context, enabled bool, intervalMinutes int) error
}

type Server struct {
	syncer   Syncer
	settings Settings
	hub      *Hub
	router   *gin.Engine
	logger   *log.Logger

	// ctx bounds passes started over HTTP; a client hanging up does not stop
	// a pass, shutting the server down does.
	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(s Syncer, settings Settings, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(os.Stderr, "[api] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())

	router := gin.New()
	router.Use(gin.Recovery())

	srv := &Server{
		syncer:   s,
		settings: settings,
		hub:      NewHub(logger),
		router:   router,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	go srv.hub.Run(ctx)

	router.GET("/health", srv.handleHealth)
	api := router.Group("/sync")
	{
		api.POST("/now", srv.handleSyncNow)
		api.GET("/status", srv.handleStatus)
		api.POST("/scheduled", srv.handleScheduled)
		api.GET("/settings", srv.handleGetSettings)
		api.PUT("/settings", srv.handlePutSettings)
		api.GET("/events", srv.handleEvents)
	}
	return srv
}

// Handler is the routed HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Publish streams a finished pass to event subscribers. It is meant to be
// installed as the syncer's result hook.
func (s *Server) Publish(res model.SyncResult) { s.hub.Publish(res) }

// Serve listens on addr until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("Listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.cancel()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Println("Shutting down")
	s.cancel()
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

// Close stops in-flight passes and the event hub. Serve calls it on return.
func (s *Server) Close() { s.cancel() }

type syncNowRequest struct {
	Direction string `json:"direction"`
}

type scheduleRequest struct {
	Enabled         *bool `json:"enabled"`
	IntervalMinutes *int  `json:"intervalMinutes"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": s.hub.ClientCount()})
}

func (s *Server) handleSyncNow(c *gin.Context) {
	var req syncNowRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	dir, err := model.ParseDirection(req.Direction)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.syncer.Run(s.ctx, dir)
	if errors.Is(err, syncer.ErrAlreadyRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": "already running"})
		return
	}
	if errors.Is(err, syncer.ErrClosed) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	}
	if err != nil {
		s.logger.Printf("WARNING: sync failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleStatus(c *gin.Context) {
	counts, err := s.syncer.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (s *Server) handleScheduled(c *gin.Context) {
	out, err := s.syncer.RunScheduled(s.ctx)
	if err != nil {
		s.logger.Printf("WARNING: scheduled sync failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetSettings(c *gin.Context) {
	st, err := s.settings.GetSyncSettings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handlePutSettings(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ctx := c.Request.Context()
	st, err := s.settings.GetSyncSettings(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if req.Enabled != nil {
		st.Enabled = *req.Enabled
	}
	if req.IntervalMinutes != nil {
		if *req.IntervalMinutes < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "intervalMinutes must not be negative"})
			return
		}
		st.IntervalMinutes = *req.IntervalMinutes
	}
	if err := s.settings.SaveSchedule(ctx, st.Enabled, st.IntervalMinutes); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleEvents(c *gin.Context) {
	var hello *Message
	if counts, err := s.syncer.Status(c.Request.Context()); err == nil {
		if data, err := json.Marshal(counts); err == nil {
			hello = &Message{Type: MessageTypeHello, Timestamp: time.Now(), Data: data}
		}
	}
	s.hub.Serve(s.ctx, c.Writer, c.Request, hello)
}
