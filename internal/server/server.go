// Package server exposes the orchestrator over HTTP.
//
// Routes:
//
//	POST   /chat/stream          server-sent events for one turn
//	GET    /chat/ws              the same stream over a websocket
//	POST   /chat                 one turn, answered as JSON
//	DELETE /history              clear every thread
//	DELETE /history/:thread_id   clear one thread
//	GET    /health               liveness and wiring summary
//	GET    /workers              registered workers
//	PUT    /workers              toggle every worker matching a glob pattern
//	PUT    /workers/:name        toggle a worker's availability
package server

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/event"
	"github.com/Iron-Ham/relay/internal/logging"
	"github.com/Iron-Ham/relay/internal/orchestrator"
	"github.com/Iron-Ham/relay/internal/registry"
)

const shutdownTimeout = 10 * time.Second

// Options configures a Server.
type Options struct {
	AllowedOrigins []string
	Version        string
	Logger         *logging.Logger
	// Events, when set, receives worker availability changes made through
	// the API.
	Events *event.Bus
}

// Server is the HTTP front end.
type Server struct {
	orch     *orchestrator.Orchestrator
	registry *registry.Registry
	events   *event.Bus
	logger   *logging.Logger
	version  string
	origins  []string

	engine   *gin.Engine
	handler  http.Handler
	upgrader websocket.Upgrader
}

// New builds the router.
func New(orch *orchestrator.Orchestrator, reg *registry.Registry, opts Options) *Server {
	s := &Server{
		orch:     orch,
		registry: reg,
		events:   opts.Events,
		logger:   opts.Logger,
		version:  opts.Version,
		origins:  opts.AllowedOrigins,
	}
	if s.logger == nil {
		s.logger = logging.NopLogger()
	}
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes()

	s.handler = cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(s.engine)

	return s
}

func (s *Server) routes() {
	chat := s.engine.Group("/chat")
	{
		chat.POST("", s.handleChat)
		chat.POST("/stream", s.handleChatStream)
		chat.GET("/ws", s.handleChatWebsocket)
	}

	history := s.engine.Group("/history")
	{
		history.DELETE("", s.handleClearHistory)
		history.DELETE("/:thread_id", s.handleDeleteThread)
	}

	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/workers", s.handleListWorkers)
	s.engine.PUT("/workers", s.handleSetWorkers)
	s.engine.PUT("/workers/:name", s.handleSetWorker)
}

// Handler returns the CORS-wrapped router.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readHeaderTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.origins, "*") {
		return true
	}
	return slices.Contains(s.origins, origin)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// statusFor maps an error class to an HTTP status.
func statusFor(err error) int {
	switch errors.Class(err) {
	case "validation":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "timeout":
		return http.StatusGatewayTimeout
	case "canceled":
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err.Error())
	}
	c.JSON(status, gin.H{"error": err.Error(), "type": errors.Class(err)})
}
