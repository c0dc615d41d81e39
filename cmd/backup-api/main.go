package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edvin/logistica/internal/agent"
	"github.com/edvin/logistica/internal/api"
	mw "github.com/edvin/logistica/internal/api/middleware"
	"github.com/edvin/logistica/internal/config"
	"github.com/edvin/logistica/internal/core"
	"github.com/edvin/logistica/internal/db"
	"github.com/edvin/logistica/internal/logging"
	"github.com/edvin/logistica/internal/metrics"
	"github.com/edvin/logistica/internal/workflow"
)

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "issue-token" {
		issueToken(os.Args[2:])
		return
	}

	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("backup-api"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to backup database")
	}
	defer pool.Close()

	if *migrateFlag {
		logger.Info().Msg("running database migrations")
		if err := db.RunMigrations(pool); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	if err := metrics.RegisterDBStats(pool, "backup"); err != nil {
		logger.Warn().Err(err).Msg("failed to register database pool metrics")
	}

	toolEnv, err := agent.ToolEnv(cfg.ToolDSN, cfg.MySQLBinDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid BACKUP_MYSQL_DSN")
	}

	services := core.NewServices(pool)
	runner := agent.NewRunner(logger, 10*time.Second)
	ctrl := workflow.NewController(services, runner, workflow.Options{
		Defaults:   cfg.DefaultSettings(),
		Databases:  cfg.Databases,
		Shell:      cfg.Shell,
		ScriptPath: cfg.ScriptPath,
		ToolEnv:    toolEnv,
		BackupRoot: cfg.BackupRoot,
	}, logger)

	if n, err := ctrl.Reconcile(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to reconcile interrupted backup jobs")
	} else if n > 0 {
		logger.Info().Int("jobs", n).Msg("reconciled interrupted backup jobs")
	}

	srv := api.NewServer(logger, pool, pool, services, ctrl, cfg)

	// WriteTimeout stays short: triggers answer as soon as the job is
	// admitted, never after the backup finishes.
	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Strs("databases", cfg.Databases).Msg("starting backup API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server did not drain, closing connections")
		httpServer.Close()
	}
	srv.Close()

	if running := ctrl.Running(); len(running) > 0 {
		logger.Info().Int("jobs", len(running)).Msg("waiting for running backup jobs")
	}
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer waitCancel()
	if err := ctrl.Wait(waitCtx); err != nil {
		logger.Warn().Err(err).Msg("running backup jobs interrupted by shutdown")
	}
}

func issueToken(args []string) {
	fs := flag.NewFlagSet("issue-token", flag.ExitOnError)
	subject := fs.String("subject", "", "Operator name recorded as the actor (required)")
	role := fs.String("role", mw.RoleOperator, "Role claim: viewer, operator or admin")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	fs.Parse(args)

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "error: --subject is required")
		fmt.Fprintln(os.Stderr, "usage: backup-api issue-token --subject <name> [--role r] [--ttl 24h]")
		os.Exit(1)
	}
	switch *role {
	case mw.RoleViewer, mw.RoleOperator, mw.RoleAdmin:
	default:
		fmt.Fprintf(os.Stderr, "error: unknown role %q\n", *role)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "error: AUTH_JWT_SECRET is not set")
		os.Exit(1)
	}

	token, err := mw.IssueToken([]byte(cfg.JWTSecret), *subject, *role, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
