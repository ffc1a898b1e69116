// Package api is the HTTP admin/submission surface for the task queue: a
// thin gin layer over internal/queue.Client and Manager, authenticated with
// bearer JWTs and exposing a websocket event stream. Adapted from the
// teacher's internal/server + internal/routes, narrowed to this domain.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pytake/pytake-go/internal/api/auth"
	"github.com/pytake/pytake-go/internal/config"
	"github.com/pytake/pytake-go/internal/jobstore"
	"github.com/pytake/pytake-go/internal/logger"
	"github.com/pytake/pytake-go/internal/middleware"
	"github.com/pytake/pytake-go/internal/queue"
)

// Server wraps a gin.Engine bound to a queue.System's public surface.
type Server struct {
	cfg    *config.Config
	router *gin.Engine
	hub    *Hub
	http   *http.Server
	log    *logger.Logger
}

// NewServer builds the router and wires every route. tokens may be nil if
// no Postgres-backed job store was configured, in which case /v1/auth/token
// is unavailable and bearer tokens must be minted out of band.
func NewServer(
	cfg *config.Config,
	rdb goredis.UniversalClient,
	client *queue.Client,
	manager *queue.Manager,
	scheduler *queue.Scheduler,
	tokens *jobstore.WorkerTokenStore,
	log *logger.Logger,
) *Server {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	hub := NewHub(log)

	s := &Server{cfg: cfg, router: router, hub: hub, log: log}
	s.setupMiddleware(rdb)
	s.setupRoutes(client, manager, scheduler, tokens)

	return s
}

// Hub returns the websocket broadcaster, so callers can register it as a
// queue.EventListener on every engine.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupMiddleware(rdb goredis.UniversalClient) {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.RequestLogging(s.log))
	s.router.Use(middleware.SecurityHeaders(middleware.APISecurityHeadersConfig()))
	s.router.Use(middleware.CORS(s.cfg))
	s.router.Use(middleware.RateLimiter(rdb, s.cfg))
}

func (s *Server) setupRoutes(client *queue.Client, manager *queue.Manager, scheduler *queue.Scheduler, tokens *jobstore.WorkerTokenStore) {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.cfg.AppVersion})
	})

	jwtManager := auth.NewManager(s.cfg)
	tasks := &taskHandlers{client: client}
	queues := &queueHandlers{manager: manager, client: client}
	jobs := &schedulerHandlers{scheduler: scheduler}

	v1 := s.router.Group("/v1")

	if tokens != nil {
		authH := &authHandlers{tokens: tokens, jwt: jwtManager}
		v1.POST("/auth/token", authH.ExchangeToken)
	}

	protected := v1.Group("/")
	protected.Use(requireAuth(jwtManager))
	{
		protected.POST("/tasks", tasks.SubmitTask)
		protected.GET("/tasks/:id", tasks.GetTaskStatus)

		protected.GET("/queues", queues.ListQueues)
		protected.GET("/queues/:name/stats", queues.GetQueueStats)
		protected.GET("/stats", queues.GetSystemStats)

		protected.GET("/scheduler/jobs", jobs.ListJobs)
		protected.GET("/scheduler/jobs/:id", jobs.GetJob)
		protected.GET("/scheduler/stats", jobs.GetSchedulerStats)

		protected.GET("/events", s.hub.handleEvents)

		// Detailed broker/store health, as opposed to the liveness probe at
		// the unauthenticated "/health" above. No route currently issues an
		// "admin" role token, so this sits behind requireAuth only — any
		// worker holding a valid bearer token may read it.
		protected.GET("/health", queues.GetHealth)
	}
}

// Run starts the HTTP server on cfg.HTTP.ListenAddr and blocks until ctx is
// cancelled, at which point it shuts down gracefully within 10s.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:           s.cfg.HTTP.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen and serve: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
