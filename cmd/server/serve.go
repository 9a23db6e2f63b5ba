package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/jzelinskie/cobrautil/v2"
	"github.com/spf13/cobra"

	"github.com/nnnkkk7/tds-bridge/pkg/connection"
	"github.com/nnnkkk7/tds-bridge/pkg/logging"
	"github.com/nnnkkk7/tds-bridge/pkg/metadata"
	"github.com/nnnkkk7/tds-bridge/pkg/query"
	"github.com/nnnkkk7/tds-bridge/pkg/remote"
	"github.com/nnnkkk7/tds-bridge/pkg/remote/sqlsession"
	"github.com/nnnkkk7/tds-bridge/pkg/scan"
	"github.com/nnnkkk7/tds-bridge/server/handlers"
)

// serveConfig is the configuration of the HTTP server.
type serveConfig struct {
	HTTPAddr    string
	CatalogPath string
	ScanTTL     time.Duration
	Loopback    bool
	AppName     string
	Stats       scan.StatsOptions

	ShutdownGracePeriod time.Duration
}

func defaultConfig() *serveConfig {
	httpAddr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		httpAddr = ":" + port
	}
	catalogPath := os.Getenv("DB_PATH")
	if catalogPath == "" {
		catalogPath = ":memory:"
	}
	return &serveConfig{
		HTTPAddr:            httpAddr,
		CatalogPath:         catalogPath,
		ScanTTL:             scan.DefaultTTL,
		AppName:             sqlsession.DefaultAppName,
		ShutdownGracePeriod: 10 * time.Second,
	}
}

func registerServeFlags(cmd *cobra.Command, cfg *serveConfig) {
	nfs := cobrautil.NewNamedFlagSets(cmd)

	httpFlags := nfs.FlagSet("http")
	httpFlags.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "address to serve the HTTP API on")
	httpFlags.DurationVar(&cfg.ShutdownGracePeriod, "shutdown-grace-period", cfg.ShutdownGracePeriod, "time to wait for in-flight requests on shutdown")

	catalogFlags := nfs.FlagSet("catalog")
	catalogFlags.StringVar(&cfg.CatalogPath, "catalog-path", cfg.CatalogPath, "DuckDB database holding the catalog (\":memory:\" for a transient catalog)")

	remoteFlags := nfs.FlagSet("remote")
	remoteFlags.BoolVar(&cfg.Loopback, "loopback", false, "run remote queries against the catalog database instead of SQL Server")
	remoteFlags.StringVar(&cfg.AppName, "app-name", cfg.AppName, "application name reported to SQL Server")
	remoteFlags.DurationVar(&cfg.ScanTTL, "scan-ttl", cfg.ScanTTL, "close scan handles left idle for this long")

	statsFlags := nfs.FlagSet("memory stats")
	statsFlags.BoolVar(&cfg.Stats.BeforeRow, "show-before-row-memory-stats", false, "log memory statistics before each row is fetched")
	statsFlags.BoolVar(&cfg.Stats.AfterRow, "show-after-row-memory-stats", false, "log memory statistics after each row is fetched")
	statsFlags.BoolVar(&cfg.Stats.Finished, "show-finished-memory-stats", false, "log memory statistics when a scan ends")

	nfs.AddFlagSets(cmd)
}

func (c *serveConfig) opener(mgr *connection.Manager) remote.Opener {
	if c.Loopback {
		return sqlsession.NewPoolOpener(mgr, sqlsession.DuckDBDialect)
	}
	o := sqlsession.NewSQLServerOpener()
	o.AppName = c.AppName
	return o
}

// run serves the API until the context is cancelled or a signal arrives.
func run(ctx context.Context, cfg *serveConfig) (err error) {
	db, err := sql.Open("duckdb", cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("failed to open catalog database: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close catalog database: %w", cerr))
		}
	}()

	connMgr := connection.NewManager(db)

	repo, err := metadata.NewRepository(connMgr)
	if err != nil {
		return fmt.Errorf("failed to create repository: %w", err)
	}

	registry := scan.NewRegistry(cfg.ScanTTL)
	defer func() {
		if cerr := registry.CloseAll(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	executor := query.NewExecutor(cfg.opener(connMgr), repo, query.WithStats(cfg.Stats))
	handler := handlers.NewHandler(repo, executor, registry)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handlers.NewRouter(handler),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logging.Info().
			Str("addr", cfg.HTTPAddr).
			Str("catalog", cfg.CatalogPath).
			Bool("loopback", cfg.Loopback).
			Msg("starting TDS bridge")
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-signalCtx.Done():
	}

	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
