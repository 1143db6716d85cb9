// Package server wires the billing services into an HTTP server.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/billflow/internal/auth"
	"github.com/mbd888/billflow/internal/config"
	"github.com/mbd888/billflow/internal/credentials"
	"github.com/mbd888/billflow/internal/health"
	"github.com/mbd888/billflow/internal/invoice"
	"github.com/mbd888/billflow/internal/logging"
	"github.com/mbd888/billflow/internal/metrics"
	"github.com/mbd888/billflow/internal/notify"
	"github.com/mbd888/billflow/internal/paylink"
	"github.com/mbd888/billflow/internal/ratelimit"
	"github.com/mbd888/billflow/internal/security"
	"github.com/mbd888/billflow/internal/traces"
	"github.com/mbd888/billflow/internal/validation"
	"github.com/mbd888/billflow/internal/vault"
)

// Version is reported by the health endpoint.
var Version = "dev"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	db           *sql.DB // nil if using in-memory
	authMgr      *auth.Manager
	credentials  *credentials.Resolver
	invoices     *invoice.Service
	invoiceStore invoice.Store
	sweeper      *invoice.Sweeper
	links        *paylink.Generator
	adapters     []paylink.Adapter
	dispatcher   *notify.Dispatcher // nil when notifications are only logged
	health       *health.Registry
	rateLimiter  *ratelimit.Limiter
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	drainDelay   time.Duration

	shutdownTraces func(context.Context) error
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAdapters replaces the payment network adapters (for testing).
func WithAdapters(adapters ...paylink.Adapter) Option {
	return func(s *Server) {
		s.adapters = adapters
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers to stop
// routing traffic before closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: 5 * time.Second,
		health:     health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	v, err := vault.New(cfg.VaultSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential vault: %w", err)
	}

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory
	var (
		credStore credentials.Store
		authStore auth.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if err := metrics.RegisterDB(db, "billflow"); err != nil {
			s.logger.Warn("database pool metrics unavailable", "error", err)
		}

		s.db = db
		s.invoiceStore = invoice.NewPostgresStore(db)
		credStore = credentials.NewPostgresStore(db)
		authStore = auth.NewPostgresStore(db)
		s.health.Register("database", health.Ping("database", db.PingContext))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.invoiceStore = invoice.NewMemoryStore()
		credStore = credentials.NewMemoryStore()
		authStore = auth.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.authMgr = auth.NewManager(authStore)
	s.credentials = credentials.NewResolver(credStore, v)
	s.logger.Info("credential vault ready", "fingerprint", v.Fingerprint())

	notifier, err := s.buildNotifier()
	if err != nil {
		s.closeDB()
		return nil, err
	}

	if s.adapters == nil {
		s.adapters = []paylink.Adapter{
			paylink.NewPaystack(cfg.PaystackBaseURL, nil),
			paylink.NewPayPal(cfg.PayPalSandboxURL, cfg.PayPalLiveURL, nil),
			paylink.NewStripe(cfg.StripeAPIURL, nil),
		}
	}

	s.invoices = invoice.NewService(s.invoiceStore).WithNotifier(notifier)
	s.links = paylink.NewGenerator(s.invoices, s.credentials, s.linkConfig(), s.adapters...).
		WithNotifier(notifier).
		WithLogger(s.logger)
	s.invoices.WithLinkTrigger(s.links)

	s.sweeper = invoice.NewSweeper(s.invoices, s.invoiceStore, cfg.SweepInterval, s.logger)
	s.health.Register("sweeper", s.sweeperHealth)

	s.shutdownTraces, err = traces.Init(ctx, traces.Options{
		Endpoint:    cfg.OTLPEndpoint,
		Version:     Version,
		Environment: cfg.Env,
		SampleRatio: cfg.TraceSampleRatio,
	}, s.logger)
	if err != nil {
		s.closeDB()
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	if cfg.BootstrapAccount != "" {
		if err := s.bootstrapKey(ctx); err != nil {
			s.closeDB()
			return nil, err
		}
	}

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) buildNotifier() (notify.Notifier, error) {
	if s.cfg.NotifyWebhookURL == "" {
		return notify.LogNotifier{Logger: s.logger}, nil
	}
	if s.cfg.IsProduction() {
		if err := security.ValidateWebhookURL(s.cfg.NotifyWebhookURL, true); err != nil {
			return nil, fmt.Errorf("invalid NOTIFY_WEBHOOK_URL: %w", err)
		}
	}
	s.dispatcher = notify.NewDispatcher(s.cfg.NotifyWebhookURL, s.cfg.NotifyWebhookSecret, s.logger)
	return s.dispatcher, nil
}

func (s *Server) linkConfig() paylink.Config {
	cfg := paylink.DefaultConfig()
	cfg.Timeout = s.cfg.LinkTimeout
	cfg.MaxRetries = s.cfg.LinkMaxRetries
	cfg.BaseDelay = s.cfg.LinkBaseDelay
	cfg.Workers = s.cfg.LinkWorkers
	cfg.PublicBaseURL = s.cfg.PublicBaseURL
	return cfg
}

// bootstrapKey issues an admin key for the configured development account
// so a fresh in-memory instance is usable without a database seed.
func (s *Server) bootstrapKey(ctx context.Context) error {
	raw, key, err := s.authMgr.GenerateKey(ctx, s.cfg.BootstrapAccount, "bootstrap", true)
	if err != nil {
		return fmt.Errorf("failed to create bootstrap key: %w", err)
	}
	s.logger.Warn("bootstrap admin key created (development only)",
		"accountId", key.AccountID, "keyId", key.ID, "bootstrapKey", raw)
	return nil
}

func (s *Server) sweeperHealth(context.Context) health.Status {
	if !s.ready.Load() {
		// Not started yet; Run starts the loop before marking ready.
		return health.Status{Name: "sweeper", Healthy: true, Detail: "starting"}
	}
	if !s.sweeper.Running() {
		return health.Status{Name: "sweeper", Healthy: false, Detail: "overdue sweeper stopped"}
	}
	return health.Status{Name: "sweeper", Healthy: true}
}

func (s *Server) closeDB() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	rl := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rl.RequestsPerMinute = s.cfg.RateLimitRPM
		rl.BurstSize = max(rl.BurstSize, rl.RequestsPerMinute/4)
	}
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an upstream request ID (load balancer, gateway) when present
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}
		if p, ok := auth.GetPrincipal(c); ok {
			attrs = append(attrs, "accountId", p.AccountID)
		}

		logger := logging.L(c.Request.Context())
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware(s.authMgr))
	v1.Use(auth.RequireAuth())

	invoiceHandler := invoice.NewHandler(s.invoices).WithSweeper(s.sweeper)
	invoiceHandler.RegisterRoutes(v1)
	paylink.NewHandler(s.links).RegisterRoutes(v1)
	auth.NewHandler(s.authMgr).RegisterRoutes(v1)

	admin := v1.Group("")
	admin.Use(auth.RequireAdmin())
	invoiceHandler.RegisterAdminRoutes(admin)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Route not found",
		})
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.health.CheckAll(c.Request.Context())

	status, httpStatus := "healthy", http.StatusOK
	if !ok {
		status, httpStatus = "degraded", http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.sweeper.Start(runCtx)
	s.logger.Info("overdue sweeper started", "interval", s.cfg.SweepInterval)

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server. In-flight link generation and
// notification deliveries are drained before the database closes.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	s.sweeper.Stop()
	s.logger.Info("overdue sweeper stopped")

	s.links.Wait()
	s.logger.Info("payment link jobs drained")

	if s.dispatcher != nil {
		s.dispatcher.Wait()
		s.logger.Info("notification deliveries drained")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return shutdownErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
