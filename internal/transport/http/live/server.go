package livehttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"oitrader/internal/logger"
	"oitrader/internal/types"
)

const (
	defaultAddr     = ":9991"
	shutdownTimeout = 5 * time.Second
)

// RequestObserver receives one call per served request.
type RequestObserver interface {
	ObserveHTTP(method, route string, code int, took time.Duration)
}

// Server exposes health, metrics and the /api/live surface of the engine.
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig lists what the HTTP surface reads from and writes to.
type ServerConfig struct {
	Addr      string
	Engine    Engine
	Positions Positions
	Stats     Stats
	Audit     Audit
	Metrics   http.Handler
	Observer  RequestObserver
	// Anomalies receives events posted to /api/live/anomalies. Nil disables
	// the ingestion endpoint.
	Anomalies chan<- types.AnomalyEvent
	Now       func() time.Time
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil || cfg.Positions == nil {
		return nil, errors.New("live http server requires engine and positions")
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), accessLog(cfg.Observer))

	engine.GET("/healthz", func(c *gin.Context) {
		st := cfg.Engine.Status()
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": st.Mode, "running": st.Running})
	})
	if cfg.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	NewRouter(cfg).Register(engine.Group("/api/live"))

	return &Server{addr: cfg.Addr, router: engine}, nil
}

// Handler returns the underlying gin engine, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// accessLog logs every request at debug, server errors at warn, and feeds
// the observer when one is set.
func accessLog(obs RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		begin := time.Now()
		c.Next()
		took := time.Since(begin)
		code := c.Writer.Status()
		if obs != nil {
			obs.ObserveHTTP(c.Request.Method, c.FullPath(), code, took)
		}
		logf := logger.Debugf
		if code >= http.StatusInternalServerError {
			logf = logger.Warnf
		}
		logf("[http] %s %s -> %d in %s from %s", c.Request.Method, c.Request.URL.RequestURI(), code, took, c.ClientIP())
	}
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start serves until ctx is cancelled or the listener fails. Cancellation
// drains in-flight requests for up to five seconds.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	failed := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		failed <- err
	}()
	logger.Infof("[http] listening on %s", s.addr)

	select {
	case err := <-failed:
		return err
	case <-ctx.Done():
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		logger.Warnf("[http] shutdown: %v", err)
	}
	return nil
}
