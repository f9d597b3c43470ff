// Package server exposes the bot's operator surface over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/evdnx/gotsma/engine"
	"github.com/evdnx/gotsma/logger"
	"github.com/evdnx/gotsma/types"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Controller is the part of the engine the operator can reach.
type Controller interface {
	Status() engine.Status
	ManualSell(ctx context.Context) (engine.ExitResult, error)
	SetCrossunder(on bool)
	CrossunderEnabled() bool
}

// Config wires the server. OnToggle, when set, runs after the crossunder
// flag changes so the caller can persist it.
type Config struct {
	Addr     string
	Control  Controller
	Log      logger.Logger
	OnToggle func(enabled bool) error
}

type Server struct {
	addr   string
	router *gin.Engine
	cfg    Config
}

func New(cfg Config) (*Server, error) {
	if cfg.Control == nil {
		return nil, errors.New("ops server requires a controller")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	s := &Server{addr: cfg.Addr, router: router, cfg: cfg}
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", s.handleStatus)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/sell", s.handleSell)
	router.POST("/crossunder", s.handleCrossunder)
	return s, nil
}

// Handler is the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Addr() string { return s.addr }

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.cfg.Log.Debug("http_request",
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("dur", time.Since(start)),
		)
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg.Control.Status())
}

func (s *Server) handleSell(c *gin.Context) {
	res, err := s.cfg.Control.ManualSell(c.Request.Context())
	switch {
	case errors.Is(err, types.ErrNoPosition):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.cfg.Log.Error("manual_sell_failed", logger.Err(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reason":     res.Reason,
		"qty":        res.Qty,
		"exit_price": res.ExitPrice,
		"pnl":        res.PnL,
		"pnl_pct":    res.PnLPct,
		"order_id":   res.OrderID,
	})
}

type crossunderRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleCrossunder sets the flag from {"enabled": bool}, or flips it when
// the body is empty.
func (s *Server) handleCrossunder(c *gin.Context) {
	var req crossunderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	on := !s.cfg.Control.CrossunderEnabled()
	if req.Enabled != nil {
		on = *req.Enabled
	}
	s.cfg.Control.SetCrossunder(on)
	resp := gin.H{"enabled": on}
	if s.cfg.OnToggle != nil {
		if err := s.cfg.OnToggle(on); err != nil {
			s.cfg.Log.Warn("config_snapshot_failed", logger.Err(err))
			resp["persisted"] = false
		} else {
			resp["persisted"] = true
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.cfg.Log.Info("ops_server_listening", logger.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
