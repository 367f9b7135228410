package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicdesk/clinic/internal/config"
	"github.com/clinicdesk/clinic/internal/domain/appointment"
	"github.com/clinicdesk/clinic/internal/domain/notification"
	"github.com/clinicdesk/clinic/internal/domain/oversight"
	"github.com/clinicdesk/clinic/internal/domain/payment"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/internal/platform/middleware"
	platformnotification "github.com/clinicdesk/clinic/internal/platform/notification"
	"github.com/clinicdesk/clinic/internal/platform/telemetry"
	"github.com/clinicdesk/clinic/internal/platform/validation"
	"github.com/clinicdesk/clinic/internal/platform/websocket"
	"github.com/clinicdesk/clinic/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic appointment workflow API server",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Missing .env is fine; the environment may already be set.
			_ = godotenv.Load()
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	if os.Getenv("ENV") == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openPool(ctx context.Context, cfg *config.Config, app string) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolOptions{
		URL:               cfg.DatabaseURL,
		MaxConns:          cfg.DBMaxConns,
		MinConns:          cfg.DBMinConns,
		ApplicationName:   app,
		ChangeFeedChannel: cfg.ChangeFeedChannel,
	})
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationsFS picks the on-disk directory when one is given and the
// embedded migrations otherwise.
func migrationsFS(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg, "clinic-migrate")
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrationsFS(dir)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to a migrations directory (defaults to the embedded set)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg, "clinic-migrate")
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationsFS(dir)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(os.Stdout, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to a migrations directory (defaults to the embedded set)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Complete elapsed appointments and, when enabled, auto-confirm urgent ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg, "clinic-sweep")
			if err != nil {
				return err
			}
			defer pool.Close()

			svc, err := buildServices(cfg, pool, telemetry.NewMetrics(), logger)
			if err != nil {
				return err
			}
			return runSweep(ctx, cfg, svc, logger)
		},
	}
}

// runSweep is one pass of the system sweeper.
func runSweep(ctx context.Context, cfg *config.Config, svc *services, logger zerolog.Logger) error {
	report, err := svc.workflow.CompleteElapsed(ctx, appointment.SystemActor)
	if err != nil {
		return fmt.Errorf("complete elapsed appointments: %w", err)
	}
	logger.Info().
		Int("completed", report.Completed).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("completion sweep finished")

	if !cfg.AutoConfirmEnabled {
		return nil
	}
	summary, err := svc.monitor.AutoConfirmAll(ctx, appointment.SystemActor)
	if err != nil {
		return fmt.Errorf("auto-confirm urgent appointments: %w", err)
	}
	logger.Info().
		Int("confirmed", summary.Confirmed).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Int("warnings", summary.Warnings).
		Dur("threshold", cfg.AutoConfirmAfter).
		Msg("auto-confirm sweep finished")
	return nil
}

// services are the domain components the HTTP surface and the sweeper are
// built from.
type services struct {
	workflow      *appointment.Workflow
	monitor       *oversight.Monitor
	notifications notification.Repository
	payments      *payment.Handler
	metrics       *telemetry.Metrics
}

func buildServices(cfg *config.Config, pool *pgxpool.Pool, metrics *telemetry.Metrics, logger zerolog.Logger) (*services, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	notifRepo := notification.NewRepoPG(pool)
	dispatcher := notification.NewDispatcher(notifRepo, platformnotification.NewTemplateEngine(), metrics, logger)

	apptRepo := appointment.NewRepoPG(pool)
	wf := appointment.NewWorkflow(apptRepo, dispatcher, logger, cfg.AutoConfirmAfter,
		appointment.WithObserver(metrics),
		appointment.WithLocation(loc),
	)
	monitor := oversight.NewMonitor(apptRepo, wf, dispatcher, logger, oversight.WithGauge(metrics))

	return &services{
		workflow:      wf,
		monitor:       monitor,
		notifications: notifRepo,
		payments:      payment.NewHandler(wf, dispatcher, cfg.PaymentWebhookSecret, logger),
		metrics:       metrics,
	}, nil
}

// newEcho assembles the HTTP surface. dbHealth and hub are passed in so the
// wiring can be exercised without a database.
func newEcho(cfg *config.Config, svc *services, hub *websocket.Hub, dbHealth echo.HandlerFunc, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(svc.metrics.Middleware())
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(middleware.Sanitize(logger))
	e.Use(middleware.BodyLimit(middleware.DefaultBodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-User-ID", "X-User-Role", payment.SignatureHeader},
	}))

	// Auth middleware
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.JWTSecret),
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", dbHealth)
	e.GET("/metrics", echo.WrapHandler(svc.metrics.Handler()))

	websocket.NewWebSocketHandler(hub, cfg.CORSOrigins).RegisterRoutes(e.Group(""))

	apiV1 := e.Group("/api/v1")
	if cfg.RequestTimeout > 0 {
		apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	apiV1.GET("/session", auth.SessionHandler)
	appointment.NewHandler(svc.workflow).RegisterRoutes(apiV1)
	oversight.NewHandler(svc.monitor).RegisterRoutes(apiV1)
	notification.NewHandler(svc.notifications).RegisterRoutes(apiV1)
	svc.payments.RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	// Logger
	logger := newLogger()

	// Config
	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.IsDev() && cfg.PaymentWebhookSecret == "" {
		logger.Warn().Msg("PAYMENT_WEBHOOK_SECRET is empty; payment callbacks are accepted unsigned")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Database
	pool, err := openPool(ctx, cfg, "clinic-server")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	metrics := telemetry.NewMetrics()
	svc, err := buildServices(cfg, pool, metrics, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}

	// Realtime feed: Postgres change notifications fan out to websocket
	// subscribers.
	hub := websocket.NewHub(logger)
	metrics.GaugeFunc("websocket_clients", "Connected websocket clients", func() float64 {
		return float64(hub.ClientCount())
	})
	listener := db.NewListener(pool, cfg.ChangeFeedChannel, logger)
	go func() {
		err := listener.Run(ctx, func(n db.Notification) {
			if err := hub.Relay(n.Payload); err != nil {
				logger.Warn().Err(err).Msg("dropping malformed change event")
			}
		})
		if err != nil {
			logger.Error().Err(err).Msg("change feed stopped")
		}
	}()

	e := newEcho(cfg, svc, hub, db.HealthHandler(pool), logger)

	// Start server
	addr := ":" + cfg.Port
	logger.Info().
		Str("addr", addr).
		Str("env", cfg.Env).
		Dur("auto_confirm_after", cfg.AutoConfirmAfter).
		Msg("starting server")

	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
