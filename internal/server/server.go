// Package server sets up the console HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq" // PostgreSQL driver
	"golang.org/x/sync/errgroup"

	"github.com/mbd888/masumiguard/internal/analysis"
	"github.com/mbd888/masumiguard/internal/attestation"
	"github.com/mbd888/masumiguard/internal/config"
	"github.com/mbd888/masumiguard/internal/gamification"
	"github.com/mbd888/masumiguard/internal/health"
	"github.com/mbd888/masumiguard/internal/idgen"
	"github.com/mbd888/masumiguard/internal/logging"
	"github.com/mbd888/masumiguard/internal/metrics"
	"github.com/mbd888/masumiguard/internal/notify"
	"github.com/mbd888/masumiguard/internal/ratelimit"
	"github.com/mbd888/masumiguard/internal/realtime"
	"github.com/mbd888/masumiguard/internal/scheduler"
	"github.com/mbd888/masumiguard/internal/scoring"
	"github.com/mbd888/masumiguard/internal/security"
	"github.com/mbd888/masumiguard/internal/validation"
	"github.com/mbd888/masumiguard/internal/wallet"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// redisKeyPrefix namespaces progress documents in Redis.
const redisKeyPrefix = "masumiguard:"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and the console components
type Server struct {
	cfg          *config.Config
	logger       *slog.Logger
	sched        scheduler.Scheduler
	scorer       analysis.Scorer
	host         wallet.Host
	wallets      *wallet.Manager
	progress     gamification.Store
	tracker      *gamification.Tracker
	notifier     *notify.Center
	orchestrator *analysis.Orchestrator
	attestations attestation.Store
	backend      attestation.Backend
	submitter    *attestation.Submitter
	realtimeHub  *realtime.Hub
	health       *health.Registry
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB       // nil if using in-memory
	redis        *redis.Client // nil unless STATS_BACKEND=redis
	router       *gin.Engine
	httpSrv      *http.Server
	now          func() time.Time

	// attestMu guards the analysis generation already attested or in flight.
	attestMu       sync.Mutex
	attestedGen    uint64
	attestInFlight uint64

	shutdownOnce sync.Once
	shutdownErr  error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithScorer replaces the scoring service client (for testing)
func WithScorer(scorer analysis.Scorer) Option {
	return func(s *Server) { s.scorer = scorer }
}

// WithHost replaces the wallet host built from WALLET_EXTENSIONS
func WithHost(host wallet.Host) Option {
	return func(s *Server) { s.host = host }
}

// WithScheduler replaces the wall-clock scheduler
func WithScheduler(sched scheduler.Scheduler) Option {
	return func(s *Server) { s.sched = sched }
}

// WithProgressStore replaces the store selected by STATS_BACKEND
func WithProgressStore(store gamification.Store) Option {
	return func(s *Server) { s.progress = store }
}

// WithAttestationBackend replaces the simulated ledger backend
func WithAttestationBackend(backend attestation.Backend) Option {
	return func(s *Server) { s.backend = backend }
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg: cfg,
		now: time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}

	ctx := context.Background()

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.logger.Info("connected to PostgreSQL", "dsn", maskDSN(cfg.DatabaseURL))
	}

	if err := s.setupStores(ctx); err != nil {
		s.closeConnections()
		return nil, err
	}

	if s.sched == nil {
		s.sched = scheduler.New(clock.New())
	}
	if s.scorer == nil {
		s.scorer = scoring.NewClient(scoring.Config{
			BaseURL: cfg.ScoringURL,
			Timeout: cfg.ScoringTimeout,
			RPS:     cfg.ScoringRPS,
		}, scoring.WithLogger(s.logger))
	}
	if s.host == nil {
		s.host = wallet.HostFromKeys(cfg.WalletExtensions)
	}

	s.wallets = wallet.NewManager(s.host, s.logger)
	found := s.wallets.Discover()
	s.logger.Info("wallet discovery complete", "wallets", len(found))

	s.tracker = gamification.NewTracker(s.progress, s.logger)
	st := s.tracker.Load(ctx)
	s.logger.Info("progress loaded", "analyses", st.AnalysisCount, "achievements", len(st.Achievements))

	s.notifier = notify.NewCenter(s.sched, notify.WithLogger(s.logger))
	s.orchestrator = analysis.New(s.sched, s.scorer, s.tracker, s.notifier, s.logger)

	if s.backend == nil {
		s.backend = attestation.NewLedgerBackend(s.attestations, attestation.WithDelay(cfg.AttestationDelay))
	}
	s.submitter = attestation.NewSubmitter(s.backend, attestation.WithLogger(s.logger))

	s.realtimeHub = realtime.NewHub(s.logger, cfg.CORSOrigins)
	s.orchestrator.Subscribe(s.realtimeHub.AnalysisListener())
	s.notifier.Subscribe(s.realtimeHub.NotificationListener())

	s.setupHealth()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// setupStores picks the progress and attestation stores.
func (s *Server) setupStores(ctx context.Context) error {
	if s.db != nil {
		pg := attestation.NewPostgresStore(s.db)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate attestations: %w", err)
		}
		s.attestations = pg
	} else {
		s.attestations = attestation.NewMemoryStore()
	}

	if s.progress != nil {
		return nil
	}
	switch s.cfg.StatsBackend {
	case config.StatsBackendMemory:
		s.progress = gamification.NewMemoryStore()
	case config.StatsBackendPostgres:
		if s.db == nil {
			return errors.New("postgres stats backend requires DATABASE_URL")
		}
		pg := gamification.NewPostgresStore(s.db)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate documents: %w", err)
		}
		s.progress = pg
	case config.StatsBackendRedis:
		store, client, err := gamification.NewRedisStoreFromURL(s.cfg.RedisURL, redisKeyPrefix)
		if err != nil {
			return fmt.Errorf("failed to configure redis: %w", err)
		}
		s.redis = client
		s.progress = store
	default:
		s.progress = gamification.NewFileStore(s.cfg.StatsDir)
	}
	s.logger.Info("progress store configured", "backend", s.cfg.StatsBackend)
	return nil
}

func (s *Server) setupHealth() {
	s.health = health.NewRegistry()
	if p, ok := s.scorer.(health.Pinger); ok {
		s.health.Register("scoring", p, health.DefaultTimeout)
	}
	if s.db != nil {
		s.health.Register("database", health.PingerFunc(s.db.PingContext), 2*time.Second)
	}
	if p, ok := s.progress.(health.Pinger); ok {
		s.health.Register("progress_store", p, health.DefaultTimeout)
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
		logging.LOr(c.Request.Context(), s.logger).Error("panic recovered",
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
	if s.cfg.RateLimitRPS > 0 {
		rl.RequestsPerMinute = s.cfg.RateLimitRPS * 60
		rl.BurstSize = max(rl.BurstSize, s.cfg.RateLimitRPS)
	}
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = idgen.New()
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
			logger.Debug("request completed",
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
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/v1")

	v1.POST("/analyses", s.analyzeHandler)
	v1.GET("/analysis", s.snapshotHandler)
	v1.POST("/analysis/ack", s.acknowledgeHandler)
	v1.GET("/analysis/summary", s.summaryHandler)

	v1.GET("/wallets", s.listWalletsHandler)
	v1.POST("/wallets/:key/connect", validation.WalletKeyParamMiddleware(), s.connectWalletHandler)
	v1.GET("/wallets/connected", s.connectedWalletHandler)
	v1.DELETE("/wallets/connected", s.disconnectWalletHandler)

	v1.POST("/attestations", s.attestHandler)
	v1.GET("/attestations", s.listAttestationsHandler)
	v1.GET("/attestations/:id", s.getAttestationHandler)

	v1.GET("/progress", s.progressHandler)
	v1.GET("/notification", s.notificationHandler)
	v1.GET("/realtime/stats", s.realtimeStatsHandler)
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.health.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: s.now().UTC().Format(time.RFC3339),
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

func (s *Server) realtimeStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run serves HTTP and the realtime hub until ctx is cancelled, a shutdown
// signal arrives, or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Analyses and ledger writes can take most of the scoring timeout.
		WriteTimeout: s.cfg.ScoringTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"scoring_url", s.cfg.ScoringURL,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.realtimeHub.Run(gctx)
		return nil
	})

	if db := s.db; db != nil {
		g.Go(func() error {
			metrics.StartDBStatsCollector(gctx, db, 15*time.Second)
			return nil
		})
	}

	s.ready.Store(true)
	s.logger.Info("server ready")

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutdown requested")
		return s.Shutdown()
	})

	return g.Wait()
}

// Shutdown gracefully stops the server. It is safe to call more than once.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.ready.Store(false)
		s.logger.Info("starting graceful shutdown")

		// Give load balancers time to stop sending traffic
		if s.cfg.IsProduction() {
			time.Sleep(5 * time.Second)
		}

		if s.httpSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.httpSrv.Shutdown(ctx); err != nil {
				s.logger.Error("shutdown error", "error", err)
				s.shutdownErr = err
			}
		}

		s.Close()
		s.logger.Info("server stopped")
	})
	return s.shutdownErr
}

// Close releases timers, background loops and connections without touching
// the HTTP listener.
func (s *Server) Close() {
	if s.orchestrator != nil {
		s.orchestrator.Close()
	}
	if s.notifier != nil {
		s.notifier.Close()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	s.closeConnections()
}

func (s *Server) closeConnections() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
		s.redis = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
		s.db = nil
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
