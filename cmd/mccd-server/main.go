package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/mccd/mccd/internal/config"
	"github.com/mccd/mccd/internal/domain/certificate"
	"github.com/mccd/mccd/internal/domain/facility"
	"github.com/mccd/mccd/internal/domain/wizard"
	"github.com/mccd/mccd/internal/platform/auth"
	"github.com/mccd/mccd/internal/platform/db"
	"github.com/mccd/mccd/internal/platform/icd"
	"github.com/mccd/mccd/internal/platform/metrics"
	"github.com/mccd/mccd/internal/platform/middleware"
	"github.com/mccd/mccd/internal/platform/tracing"
)

const version = "0.1.0"

func main() {
	logger := newLogger(os.Getenv("ENV"))
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		logger.Debug().Msgf(format, args...)
	})); err != nil {
		logger.Warn().Err(err).Msg("failed to set GOMAXPROCS")
	}

	rootCmd := &cobra.Command{
		Use:   "mccd-server",
		Short: "Medical cause of death certificate API server",
	}

	rootCmd.AddCommand(serveCmd(logger))
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd(logger))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd(logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the certificate API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(logger)
		},
	}
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if !cfg.UsesPostgres() {
		return nil, fmt.Errorf("migrations apply to PostgreSQL only; the sqlite schema is created at startup")
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
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

			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func seedCmd(logger zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load reference data",
	}

	regionsCmd := &cobra.Command{
		Use:   "regions",
		Short: "Import regions, districts, facilities and user placements from YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")

			cat, err := facility.LoadCatalog(file)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			st, err := openStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.close()

			res, err := facility.NewService(st.facilities, logger).Import(ctx, cat)
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}
			fmt.Printf("Imported %d region(s), %d district(s), %d facility(ies), %d user(s).\n",
				res.Regions, res.Districts, res.Facilities, res.Users)
			return nil
		},
	}
	regionsCmd.Flags().String("file", "./config/regions.yaml", "Path to the region catalogue")
	cmd.AddCommand(regionsCmd)

	return cmd
}

// stores holds the repositories of the configured driver.
type stores struct {
	certificates certificate.Repository
	audit        certificate.AuditRepository
	facilities   facility.Repository
	health       echo.HandlerFunc
	close        func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.UsesPostgres() {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return &stores{
			certificates: certificate.NewRepoPG(pool),
			audit:        certificate.NewAuditRepoPG(pool),
			facilities:   facility.NewRepoPG(pool),
			health:       db.HealthHandler(pool),
			close:        pool.Close,
		}, nil
	}

	models := append(certificate.Models(), facility.Models()...)
	gdb, err := db.OpenSQLite(cfg.SQLitePath, models...)
	if err != nil {
		return nil, err
	}
	return &stores{
		certificates: certificate.NewRepoGorm(gdb),
		audit:        certificate.NewAuditRepoGorm(gdb),
		facilities:   facility.NewRepoGorm(gdb),
		health:       db.SQLiteHealthHandler(gdb),
		close: func() {
			if sqlDB, err := gdb.DB(); err == nil {
				sqlDB.Close()
			}
		},
	}, nil
}

// resolveSigningKey decodes the hex-encoded AUTH_SIGNING_KEY. An empty value
// yields no key.
func resolveSigningKey(envValue string) ([]byte, error) {
	if envValue == "" {
		return nil, nil
	}
	decoded, err := hex.DecodeString(envValue)
	if err != nil {
		return nil, fmt.Errorf("invalid AUTH_SIGNING_KEY hex value: %w", err)
	}
	if len(decoded) < 32 {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(decoded))
	}
	return decoded, nil
}

// authMiddleware picks the identity middleware for the resolved auth mode.
// Development mode accepts missing tokens as the dev doctor and validates
// tokens that are present when a key source is configured.
func authMiddleware(cfg *config.Config) (echo.MiddlewareFunc, error) {
	key, err := resolveSigningKey(cfg.AuthSigningKey)
	if err != nil {
		return nil, err
	}
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: key,
	}
	if cfg.ResolvedAuthMode() == "development" {
		var fallback echo.MiddlewareFunc
		if len(key) > 0 || cfg.AuthIssuer != "" || cfg.AuthJWKSURL != "" {
			fallback = auth.JWTMiddleware(jwtCfg)
		}
		return auth.DevAuthMiddleware(fallback), nil
	}
	return auth.JWTMiddleware(jwtCfg), nil
}

// server is the assembled HTTP service and its background work.
type server struct {
	echo     *echo.Echo
	sessions *wizard.Sessions
	close    func()
}

func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger, mt *metrics.Metrics) (*server, error) {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info().Bool("postgres", cfg.UsesPostgres()).Msg("connected to database")

	facilitySvc := facility.NewService(st.facilities, logger)
	certSvc := certificate.NewService(st.certificates, st.audit, facilitySvc, logger)
	certSvc.SetMetrics(mt)
	certSvc.SetDefaultRegion(cfg.DefaultRegionCode)

	sessions := wizard.NewSessions(certSvc, cfg.WizardSessionTTL, logger)
	sessions.SetMetrics(mt)

	authMW, err := authMiddleware(cfg)
	if err != nil {
		st.close()
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(middleware.DefaultBodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(mt.Middleware())
	e.Use(tracing.Middleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", st.health)
	e.GET("/metrics", mt.Handler())

	apiV1 := e.Group("/api/v1")
	apiV1.Use(authMW)
	apiV1.Use(middleware.Audit(logger, certSvc))

	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	certificate.NewHandler(certSvc).RegisterRoutes(apiV1)
	facility.NewHandler(facilitySvc).RegisterRoutes(apiV1)
	wizard.NewHandler(sessions).RegisterRoutes(apiV1)
	icd.NewHandler(icd.NewClient(cfg.ICDSearchURL, cfg.ICDMaxResults, logger)).RegisterRoutes(apiV1)

	return &server{echo: e, sessions: sessions, close: st.close}, nil
}

func runServer(logger zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.TracingExporter, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}

	srv, err := newServer(ctx, cfg, logger, metrics.NewWithRuntime())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start server")
	}
	defer srv.close()

	go srv.sessions.Run(ctx, time.Minute)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = srv.echo.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.echo.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracer shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
