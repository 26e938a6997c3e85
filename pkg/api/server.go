// Package api exposes the substrate's HTTP surface: record CRUD with
// optimistic concurrency, selector subscriptions, the SSE stream and
// the admin/ops endpoints.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rcrt-io/rcrt/pkg/auth"
	"github.com/rcrt-io/rcrt/pkg/database"
	"github.com/rcrt-io/rcrt/pkg/delivery"
	"github.com/rcrt-io/rcrt/pkg/embedding"
	"github.com/rcrt-io/rcrt/pkg/events"
	"github.com/rcrt-io/rcrt/pkg/hygiene"
	"github.com/rcrt-io/rcrt/pkg/metrics"
	"github.com/rcrt-io/rcrt/pkg/secrets"
	"github.com/rcrt-io/rcrt/pkg/store"
	"github.com/rcrt-io/rcrt/pkg/transform"
)

// Server wires the HTTP surface to the storage, fabric and delivery
// components. Every dependency is injected; main owns construction
// order and lifecycle.
type Server struct {
	cfg        Config
	db         *database.Client
	store      *store.Store
	publisher  *events.Publisher
	bus        *events.Bus
	dispatcher *delivery.Dispatcher
	sweeper    *hygiene.Sweeper
	secrets    *secrets.Service
	engine     *transform.Engine
	cache      *transform.SchemaCache
	provider   embedding.Provider
	authn      *auth.Authenticator
	metrics    *metrics.Metrics
	validator  *defValidator
	logger     *slog.Logger

	httpServer *http.Server
}

// Deps bundles the constructor arguments; all fields are required
// except Sweeper and Dispatcher, which admin endpoints degrade without.
type Deps struct {
	DB         *database.Client
	Store      *store.Store
	Publisher  *events.Publisher
	Bus        *events.Bus
	Dispatcher *delivery.Dispatcher
	Sweeper    *hygiene.Sweeper
	Secrets    *secrets.Service
	Engine     *transform.Engine
	Cache      *transform.SchemaCache
	Provider   embedding.Provider
	Authn      *auth.Authenticator
	Metrics    *metrics.Metrics
}

// NewServer creates the server and compiles the definition meta-schemas.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	validator, err := newDefValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to compile meta-schemas: %w", err)
	}
	return &Server{
		cfg:        cfg,
		db:         deps.DB,
		store:      deps.Store,
		publisher:  deps.Publisher,
		bus:        deps.Bus,
		dispatcher: deps.Dispatcher,
		sweeper:    deps.Sweeper,
		secrets:    deps.Secrets,
		engine:     deps.Engine,
		cache:      deps.Cache,
		provider:   deps.Provider,
		authn:      deps.Authn,
		metrics:    deps.Metrics,
		validator:  validator,
		logger:     slog.Default().With("component", "api"),
	}, nil
}

// Router builds the gin engine with the full route table.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), securityHeaders(), s.metricsMiddleware())

	// Unauthenticated surface.
	router.GET("/health", s.healthHandler)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	authed := router.Group("/", s.identityMiddleware())

	records := authed.Group("/records")
	{
		records.POST("", s.createRecord)
		records.GET("", s.listRecords)
		records.GET("/search", s.searchRecords)
		records.POST("/batch-transform", s.batchTransform)
		records.GET("/:id", s.getRecord)
		records.GET("/:id/full", s.getRecordFull)
		records.GET("/:id/history", s.getHistory)
		records.PATCH("/:id", s.updateRecord)
		records.DELETE("/:id", s.deleteRecord)
		records.POST("/:id/subscribe", s.subscribeRecord)
		records.POST("/:id/unsubscribe", s.unsubscribeRecord)
		records.GET("/:id/acl", s.listGrants)
	}

	subs := authed.Group("/subscriptions/selectors")
	{
		subs.POST("", s.createSelector)
		subs.GET("", s.listSelectors)
		subs.GET("/:id", s.getSelector)
		subs.PUT("/:id", s.updateSelector)
		subs.DELETE("/:id", s.deleteSelector)
	}

	authed.GET("/events/stream", s.streamEvents)

	tenants := authed.Group("/tenants")
	{
		tenants.POST("", s.createTenant)
		tenants.POST("/:id", s.createTenant)
		tenants.GET("", s.listTenants)
		tenants.GET("/:id", s.getTenant)
		tenants.DELETE("/:id", s.deleteTenant)
	}

	agents := authed.Group("/agents")
	{
		agents.GET("", s.listAgents)
		agents.POST("/:id", s.registerAgent)
		agents.POST("/:id/secret", s.rotateAgentSecret)
		agents.POST("/:id/webhooks", s.createWebhook)
		agents.GET("/:id/webhooks", s.listWebhooks)
		agents.DELETE("/:id/webhooks/:webhook_id", s.deleteWebhook)
	}

	acl := authed.Group("/acl")
	{
		acl.POST("/grant", s.createGrant)
		acl.POST("/revoke", s.revokeGrant)
		acl.GET("/:id", s.listGrants)
	}

	secretsGroup := authed.Group("/secrets")
	{
		secretsGroup.POST("", s.createSecret)
		secretsGroup.GET("", s.listSecrets)
		secretsGroup.GET("/:name", s.getSecretMeta)
		secretsGroup.PUT("/:name", s.updateSecret)
		secretsGroup.DELETE("/:name", s.deleteSecret)
		secretsGroup.POST("/:name/decrypt", s.decryptSecret)
		secretsGroup.GET("/:name/audit", s.secretAudit)
	}

	dlq := authed.Group("/dlq")
	{
		dlq.GET("", s.listDLQ)
		dlq.POST("/:id/retry", s.retryDLQ)
		dlq.DELETE("/:id", s.deleteDLQ)
	}

	authed.POST("/admin/purge", s.adminPurge)

	return router
}

// Start begins serving; it returns once the listener is bound, errors
// surface on the returned channel.
func (s *Server) Start() <-chan error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "port", s.cfg.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Stop drains in-flight requests within the shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// healthHandler reports component health: unhealthy when the database
// is unreachable, degraded when the embedding provider is configured
// but the vector column dimension disagrees with it.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	checks := gin.H{}

	dbHealth, err := database.Health(reqCtx, s.db.DB())
	if err != nil {
		status = "unhealthy"
		checks["database"] = gin.H{"status": "unhealthy", "error": err.Error()}
	} else {
		if !dbHealth.VectorReady {
			status = "degraded"
		}
		checks["database"] = dbHealth
	}

	if s.provider != nil && s.provider.Dimension() > 0 {
		checks["embedding"] = gin.H{"status": "healthy", "provider": s.provider.Name(), "dim": s.provider.Dimension()}
	} else {
		checks["embedding"] = gin.H{"status": "disabled"}
	}

	httpStatus := http.StatusOK
	if status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, gin.H{"status": status, "checks": checks})
}
