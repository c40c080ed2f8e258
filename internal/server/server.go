// Package server sets up the HTTP server with all routes
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

	"github.com/dealerdesk/marketplace/internal/auth"
	"github.com/dealerdesk/marketplace/internal/config"
	"github.com/dealerdesk/marketplace/internal/health"
	"github.com/dealerdesk/marketplace/internal/leads"
	"github.com/dealerdesk/marketplace/internal/ledger"
	"github.com/dealerdesk/marketplace/internal/listings"
	"github.com/dealerdesk/marketplace/internal/logging"
	"github.com/dealerdesk/marketplace/internal/metrics"
	"github.com/dealerdesk/marketplace/internal/payments"
	"github.com/dealerdesk/marketplace/internal/ratelimit"
	"github.com/dealerdesk/marketplace/internal/realtime"
	"github.com/dealerdesk/marketplace/internal/security"
	"github.com/dealerdesk/marketplace/internal/traces"
	"github.com/dealerdesk/marketplace/internal/validation"
	"github.com/dealerdesk/marketplace/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg            *config.Config
	engine         *ledger.Engine
	authMgr        *auth.Manager
	adminAuth      *auth.AdminAuth
	leadService    *leads.Service
	listingService *listings.Service
	payService     *payments.Service
	dispatcher     *webhooks.Dispatcher
	webhookStore   webhooks.Store
	realtimeHub    *realtime.Hub
	rateLimiter    *ratelimit.Limiter
	healthReg      *health.Registry
	db             *sql.DB // nil if using in-memory
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run
	tracesShutdown func(context.Context) error

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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.healthReg = health.NewRegistry()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		ledgerStore  ledger.Store
		authStore    auth.Store
		leadStore    leads.Store
		listingStore listings.Store
		orderStore   payments.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		ledgerStore = ledger.NewPostgresStore(db)
		authStore = auth.NewPostgresStore(db)
		leadStore = leads.NewPostgresStore(db)
		listingStore = listings.NewPostgresStore(db)
		orderStore = payments.NewPostgresStore(db)
		s.webhookStore = webhooks.NewPostgresStore(db)

		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")

		ledgerStore = ledger.NewMemoryStore()
		authStore = auth.NewMemoryStore()
		leadStore = leads.NewMemoryStore()
		listingStore = listings.NewMemoryStore()
		orderStore = payments.NewMemoryStore()
		s.webhookStore = webhooks.NewMemoryStore()
	}

	// Credit ledger
	s.engine = ledger.NewEngine(ledgerStore)
	s.logger.Info("credit ledger enabled")

	// Dealer API keys and admin sessions
	s.authMgr = auth.NewManager(authStore)
	s.adminAuth = auth.NewAdminAuth(cfg.AdminEmail, cfg.AdminPasswordHash)
	s.logger.Info("API authentication enabled")

	// Listings catalog
	s.listingService = listings.NewService(listingStore)

	// Leads with paid unlock
	s.leadService = leads.NewService(leadStore, s.engine, cfg.LeadUnlockPrice)
	s.logger.Info("lead unlock enabled", "price", cfg.LeadUnlockPrice)

	// Payments (Razorpay in production, local fake gateway otherwise)
	var gateway payments.Gateway
	if cfg.RazorpayKeyID != "" && cfg.RazorpayKeySecret != "" {
		gateway = payments.NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpayKeySecret)
		s.logger.Info("razorpay gateway enabled", "keyId", cfg.RazorpayKeyID)
	} else {
		gateway = payments.NewLocalGateway()
		s.logger.Info("local payment gateway enabled (orders are not real)")
	}
	s.payService = payments.NewService(orderStore, gateway, s.engine, payments.Pricing{
		LeadUnlockPrice:  cfg.LeadUnlockPrice,
		MinLeadsPurchase: cfg.MinLeadsPurchase,
		GSTRatePercent:   cfg.GSTRatePercent,
	}, cfg.RazorpayKeyID)

	// Outbound webhooks to dealer endpoints
	s.dispatcher = webhooks.NewDispatcher(s.webhookStore)
	s.logger.Info("webhooks enabled")

	// Realtime hub for the live lead feed
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Fan lead lifecycle events out to webhooks and the live feed
	webhookNotifier := webhooks.NewNotifier(s.dispatcher, s.logger)
	feedNotifier := realtime.NewNotifier(s.realtimeHub)
	s.leadService.SetNotifier(&fanoutNotifier{webhookNotifier, feedNotifier})
	s.payService.SetTopupNotifier(func(dealerID string, credits, balance int64) {
		webhookNotifier.CreditsTopup(dealerID, credits, balance)
		feedNotifier.CreditsTopup(dealerID, credits, balance)
	})

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
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

// fanoutNotifier forwards lead events to every registered receiver.
type fanoutNotifier struct {
	webhook *webhooks.Notifier
	feed    *realtime.Notifier
}

func (f *fanoutNotifier) LeadCreated(lead *leads.Lead) {
	f.webhook.LeadCreated(lead)
	f.feed.LeadCreated(lead)
}

func (f *fanoutNotifier) LeadUnlocked(dealerID string, lead *leads.Lead) {
	f.webhook.LeadUnlocked(dealerID, lead)
	f.feed.LeadUnlocked(dealerID, lead)
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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
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

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for the live lead feed
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/", s.infoHandler)

	api := s.router.Group("/api")

	authHandler := auth.NewHandler(s.authMgr, s.adminAuth, s.engine, s.cfg.OnboardingBonus)
	ledgerHandler := ledger.NewHandler(s.engine)
	leadHandler := leads.NewHandler(s.leadService)
	listingHandler := listings.NewHandler(s.listingService)
	payHandler := payments.NewHandler(s.payService, s.cfg.RazorpayWebhookSecret, s.cfg.RazorpayKeySecret)
	webhookHandler := webhooks.NewHandler(s.webhookStore)

	// PUBLIC ROUTES (no auth required)
	// Buyers browse listings and submit inquiries without an account.
	authHandler.RegisterPublicRoutes(api)
	listingHandler.RegisterPublicRoutes(api)
	leadHandler.RegisterPublicRoutes(api)

	// Gateway callback, authenticated by its HMAC signature
	payHandler.RegisterWebhookRoutes(api)

	// DEALER ROUTES (require API key)
	dealer := api.Group("")
	dealer.Use(auth.Middleware(s.authMgr), auth.RequireDealer())
	{
		authHandler.RegisterDealerRoutes(dealer)
		ledgerHandler.RegisterDealerRoutes(dealer)
		leadHandler.RegisterDealerRoutes(dealer)
		listingHandler.RegisterDealerRoutes(dealer)
		payHandler.RegisterDealerRoutes(dealer)
		webhookHandler.RegisterRoutes(dealer)
	}

	// ADMIN ROUTES (require admin session token)
	admin := api.Group("/admin")
	admin.Use(auth.RequireAdmin(s.adminAuth))
	{
		authHandler.RegisterAdminRoutes(admin)
		ledgerHandler.RegisterAdminRoutes(admin)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
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

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "DealerDesk Marketplace",
		"description": "Two-wheeler marketplace with a dealer credit economy",
		"version":     "0.1.0",
		"currency":    "INR",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Distributed tracing (no-op if no endpoint configured)
	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.tracesShutdown = shutdown
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Sample DB pool stats into Prometheus
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush pending trace spans
	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
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
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
