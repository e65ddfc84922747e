package stellara

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/stellara-labs/stellara/internal/apidocs"
	"github.com/stellara-labs/stellara/internal/audit"
	"github.com/stellara-labs/stellara/internal/auth"
	"github.com/stellara-labs/stellara/internal/config"
	"github.com/stellara-labs/stellara/internal/controllers"
	"github.com/stellara-labs/stellara/internal/database"
	"github.com/stellara-labs/stellara/internal/engine"
	"github.com/stellara-labs/stellara/internal/gdpr"
	"github.com/stellara-labs/stellara/internal/logging"
	"github.com/stellara-labs/stellara/internal/marketdata"
	"github.com/stellara-labs/stellara/internal/queue"
	"github.com/stellara-labs/stellara/internal/realtime"
	"github.com/stellara-labs/stellara/internal/redisconn"
	"github.com/stellara-labs/stellara/internal/repository"
	"github.com/stellara-labs/stellara/internal/scheduler"
	"github.com/stellara-labs/stellara/internal/stellar"
	"github.com/stellara-labs/stellara/internal/telemetry"
	"github.com/stellara-labs/stellara/internal/throttle"
	"github.com/stellara-labs/stellara/internal/util"
	"github.com/stellara-labs/stellara/internal/voice"
	"github.com/stellara-labs/stellara/internal/workflows"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

const (
	appName         = "Stellara API"
	shutdownTimeout = 15 * time.Second
	limiterSweep    = time.Minute
	limiterIdle     = 10 * time.Minute
	upstreamTimeout = 10 * time.Second
)

// App is one wired instance: database, redis, services, background workers and the HTTP handler.
type App struct {
	Config  *config.Config
	DB      *sql.DB
	Dialect database.Dialect
	Redis   *redis.Client

	Manager *engine.WorkflowManager
	Auth    *auth.Service
	Audit   *audit.Service
	Gdpr    *gdpr.Service
	Hub     *realtime.Hub
	Monitor *stellar.Monitor
	Voice   *voice.Service
	Market  *marketdata.Service
	Queue   *queue.Queue

	proxies   util.TrustedProxies
	limiter   throttle.Limiter
	scheduler *scheduler.Scheduler
	handler   http.Handler
}

// Open connects to the database and Redis, runs migrations when enabled and wires every service.
// Routes are added to mux, which may be nil.
func Open(ctx context.Context, cfg *config.Config, mux *http.ServeMux) (*App, error) {
	db, dialect, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Synchronize() {
		slog.InfoContext(ctx, "Running migrations", "type", dialect)
		if err := database.Migrate(dialect, cfg.Database.MigrationURL(), database.Up); err != nil {
			db.Close()
			return nil, err
		}
	}

	rdb, err := redisconn.Open(ctx, cfg.Redis)
	switch {
	case errors.Is(err, redisconn.ErrDisabled):
		slog.WarnContext(ctx, "Redis disabled, WebSocket fan-out is local and the job queue is unavailable")
	case err != nil:
		db.Close()
		return nil, err
	}

	proxies, err := util.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		db.Close()
		if rdb != nil {
			rdb.Close()
		}
		return nil, err
	}

	app := &App{Config: cfg, DB: db, Dialect: dialect, Redis: rdb, proxies: proxies}
	app.wire(mux)
	return app, nil
}

func (a *App) wire(mux *http.ServeMux) {
	cfg := a.Config
	clock := core.NewRealClock()
	db, dialect := a.DB, a.Dialect

	workflowRepo := repository.NewWorkflowRepository(db, dialect, clock)
	stepRepo := repository.NewWorkflowStepRepository(db, dialect, clock)
	executorRepo := repository.NewExecutorRepository(db, dialect, clock)
	definitionRepo := repository.NewWorkflowDefinitionRepository(db, dialect, clock)
	userRepo := repository.NewUserRepository(db, dialect, clock)
	walletRepo := repository.NewWalletBindingRepository(db, dialect, clock)
	nonceRepo := repository.NewLoginNonceRepository(db, dialect, clock)
	refreshRepo := repository.NewRefreshTokenRepository(db, dialect, clock)
	apiTokenRepo := repository.NewApiTokenRepository(db, dialect, clock)
	auditRepo := repository.NewAuditLogRepository(db, dialect, clock)
	consentRepo := repository.NewConsentRepository(db, dialect, clock)
	voiceRepo := repository.NewVoiceJobRepository(db, dialect, clock)
	stellarRepo := repository.NewStellarRepository(db, dialect, clock)

	a.Audit = audit.NewService(auditRepo, cfg.Audit.RetentionDays, clock)
	a.Auth = auth.NewService(auth.Stores{
		Users:         userRepo,
		Wallets:       walletRepo,
		Nonces:        nonceRepo,
		RefreshTokens: refreshRepo,
		ApiTokens:     apiTokenRepo,
	}, a.Audit, cfg.Auth, clock)

	gdprStores := gdpr.Stores{
		Consents:      consentRepo,
		Users:         userRepo,
		Wallets:       walletRepo,
		ApiTokens:     apiTokenRepo,
		RefreshTokens: refreshRepo,
		VoiceJobs:     voiceRepo,
		AuditLogs:     auditRepo,
		Subscriptions: stellarRepo,
	}
	registry := workflows.Registry(workflows.Deps{
		Subscriptions: stellarRepo,
		Sender:        stellar.NewWebhookSender(cfg.Stellar.WebhookTimeout),
		Eraser:        gdpr.NewEraser(gdprStores),
		Clock:         clock,
	})
	executorName := cfg.ExecutorName
	if executorName == "" {
		executorName, _ = os.Hostname()
	}
	a.Manager = engine.NewWorkflowManager(workflowRepo, stepRepo, executorRepo, definitionRepo, registry, cfg.Engine, executorName, clock)
	a.Gdpr = gdpr.NewService(gdprStores, a.Manager, clock)

	a.Hub = realtime.NewHub(a.Redis, cfg.Redis.ChannelPrefix, clock)
	stellarSvc := stellar.NewService(stellarRepo)
	a.Monitor = stellar.NewMonitor(stellarRepo, stellar.NewHorizon(cfg.Stellar.HorizonURL, upstreamTimeout),
		a.Hub, a.Manager, cfg.Stellar.PollInterval, cfg.Stellar.PageLimit, cfg.Stellar.MonitorEnabled, clock)

	a.Queue = queue.New(a.Redis, cfg.Voice.MaxAttempts, clock)
	a.Voice = voice.NewService(voiceRepo, a.Gdpr, a.Queue,
		voice.NewHTTPTranscriber(cfg.Voice.TranscribeURL, cfg.Voice.RequestTimeout), a.Hub)
	a.Market = marketdata.NewService(marketdata.NewCoinGecko(cfg.MarketData.URL, upstreamTimeout),
		a.Redis, a.Hub, cfg.MarketData.Assets, cfg.MarketData.Currency, cfg.MarketData.TTL, clock)

	if mux == nil {
		mux = http.NewServeMux()
	}
	controllers.NewAuthController(a.Auth).RegisterRoutes(mux)
	controllers.NewUsersController(a.Auth, a.Gdpr).RegisterRoutes(mux)
	controllers.NewWorkflowsController(a.Manager).RegisterRoutes(mux)
	controllers.NewExecutorsController(a.Manager).RegisterRoutes(mux)
	controllers.NewStellarController(stellarSvc, a.Monitor).RegisterRoutes(mux)
	controllers.NewVoiceController(a.Voice).RegisterRoutes(mux)
	controllers.NewMarketController(a.Market).RegisterRoutes(mux)
	controllers.NewAuditController(a.Audit).RegisterRoutes(mux)
	controllers.NewGdprController(a.Gdpr).RegisterRoutes(mux)
	controllers.NewQueueController(a.Queue).RegisterRoutes(mux)
	controllers.NewHealthController(appName, a.healthChecks()).RegisterRoutes(mux)
	if docs, err := apidocs.NewDocsController(); err != nil {
		slog.Error("API docs unavailable", "error", err)
	} else {
		docs.RegisterRoutes(mux)
	}
	mux.Handle("GET /metrics", telemetry.Handler())

	a.limiter = throttle.NewLimiter(cfg.Throttle, a.Redis, cfg.Redis.ChannelPrefix, clock)
	general, authPolicy := throttle.Policies(cfg.Throttle)
	guard := throttle.NewGuard(a.limiter, general, authPolicy)

	var h http.Handler = mux
	h = a.Audit.Middleware(h)
	h = guard.Middleware(h)
	h = a.Auth.Middleware(h)
	h = telemetry.InstrumentHandler(h)
	h = logging.RequestLogger(h)
	h = logging.CorrelationMiddleware(h)
	h = a.proxies.Middleware(h)
	h = otelhttp.NewHandler(h, "stellara")

	// The WebSocket upgrade bypasses the HTTP middleware chain and authenticates itself.
	root := http.NewServeMux()
	root.Handle("/ws", a.Hub.Handler(a.Auth, &realtime.ChannelPolicy{Wallets: walletRepo, Watches: stellarRepo}))
	root.Handle("/", h)
	a.handler = root
}

func (a *App) healthChecks() map[string]controllers.HealthCheck {
	checks := map[string]controllers.HealthCheck{
		"database": a.DB.PingContext,
		"redis":    nil,
	}
	if a.Redis != nil {
		rdb := a.Redis
		checks["redis"] = func(ctx context.Context) error { return redisconn.Ping(ctx, rdb) }
	}
	return checks
}

// Handler is the root HTTP handler including /ws.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run starts the engine, the background workers, the scheduled jobs and the HTTP server.
// It blocks until ctx is cancelled or the server fails, then drains everything.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	background := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.ErrorContext(ctx, "Background worker stopped", "worker", name, "error", err)
			}
		}()
	}

	background("engine", a.Manager.StartEngine)
	background("realtime", a.Hub.Run)
	background("stellar-monitor", func(ctx context.Context) error {
		a.Monitor.Run(ctx)
		return nil
	})
	if a.Redis != nil {
		background("voice", func(ctx context.Context) error {
			return a.Voice.Run(ctx, a.Config.Voice.Workers)
		})
	}
	if mem, ok := a.limiter.(*throttle.MemoryLimiter); ok {
		background("throttle-cleanup", func(ctx context.Context) error {
			mem.Run(ctx, limiterSweep, limiterIdle)
			return nil
		})
	}

	a.scheduler = scheduler.New()
	if err := a.schedule(ctx); err != nil {
		return err
	}
	a.scheduler.Start()

	srv := &http.Server{
		Addr:              a.Config.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	var err error
	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		} else {
			err = fmt.Errorf("serve http: %w", err)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		slog.Error("HTTP server shutdown failed", "error", serr)
	}
	a.scheduler.Stop(shutdownCtx)
	cancel()
	wg.Wait()
	return err
}

func (a *App) schedule(ctx context.Context) error {
	cfg := a.Config
	jobs := []struct {
		name string
		spec string
		job  scheduler.Job
	}{
		{"audit-purge", cfg.Audit.PurgeCron, func(ctx context.Context) error {
			n, err := a.Audit.Purge(ctx)
			if err == nil && n > 0 {
				slog.InfoContext(ctx, "Purged audit logs", "count", n)
			}
			return err
		}},
		{"auth-purge", "@hourly", func(ctx context.Context) error {
			n, err := a.Auth.PurgeExpired(ctx)
			if err == nil && n > 0 {
				slog.InfoContext(ctx, "Purged expired tokens", "count", n)
			}
			return err
		}},
		{"market-refresh", cfg.MarketData.RefreshCron, a.Market.Refresh},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if err := a.scheduler.Add(ctx, j.name, j.spec, j.job); err != nil {
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}
	return nil
}

// Close releases the database and Redis connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			slog.Warn("Closing redis failed", "error", err)
		}
	}
	if err := a.DB.Close(); err != nil {
		slog.Warn("Closing database failed", "error", err)
	}
}

// Start loads the configuration, boots the application and serves until SIGINT or SIGTERM.
// Extra routes may be registered on mux before calling Start.
func Start(mux *http.ServeMux) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("Tracing setup failed", "error", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			slog.Warn("Tracing shutdown failed", "error", err)
		}
	}()

	app, err := Open(ctx, cfg, mux)
	if err != nil {
		return err
	}
	defer app.Close()
	return app.Run(ctx)
}

// Migrate applies or rolls back the embedded migrations for the configured database.
func Migrate(direction database.Direction) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(cfg)
	return database.Migrate(database.Dialect(cfg.Database.Type), cfg.Database.MigrationURL(), direction)
}

// CreateUser adds a password user without starting the server.
func CreateUser(ctx context.Context, username, password string, role domain.Role) (*domain.User, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg)
	db, dialect, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	if cfg.Synchronize() {
		if err := database.Migrate(dialect, cfg.Database.MigrationURL(), database.Up); err != nil {
			return nil, err
		}
	}
	clock := core.NewRealClock()
	svc := auth.NewService(auth.Stores{
		Users:         repository.NewUserRepository(db, dialect, clock),
		Wallets:       repository.NewWalletBindingRepository(db, dialect, clock),
		Nonces:        repository.NewLoginNonceRepository(db, dialect, clock),
		RefreshTokens: repository.NewRefreshTokenRepository(db, dialect, clock),
		ApiTokens:     repository.NewApiTokenRepository(db, dialect, clock),
	}, audit.NewService(repository.NewAuditLogRepository(db, dialect, clock), cfg.Audit.RetentionDays, clock), cfg.Auth, clock)
	return svc.CreateUser(ctx, username, password, role)
}
