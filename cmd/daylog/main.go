package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/daylog/daylog/internal/config"
	"github.com/daylog/daylog/internal/entrystore"
	"github.com/daylog/daylog/internal/server"
	"github.com/daylog/daylog/internal/sheets"
	"github.com/daylog/daylog/internal/storage/localfile"
	"github.com/daylog/daylog/internal/storage/sqlite"
	"github.com/daylog/daylog/internal/syncer"
	"github.com/daylog/daylog/internal/util"
)

func main() {
	addrFlag := flag.String("addr", util.EnvOrDefault("DAYLOG_ADDR", ":8080"), "HTTP listen address")
	dbFlag := flag.String("db", util.EnvOrDefault("DAYLOG_DB_PATH", "data/daylog.db"), "Path to sqlite database file")
	configFlag := flag.String("config", util.EnvOrDefault("DAYLOG_CONFIG", "daylog.yaml"), "Path to config file")
	staticFlag := flag.String("static", util.EnvOrDefault("DAYLOG_STATIC_DIR", "web/dist"), "Directory with built frontend")
	localFlag := flag.String("local", util.EnvOrDefault("DAYLOG_LOCAL_DIR", "data/local"), "Directory for local fallback storage")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("DayLog backend starting")

	cfg, err := config.Load(*configFlag)
	if err != nil {
		logger.Error("unable to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Error("unable to resolve timezone", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The sqlite store is authoritative. When it cannot be opened the
	// service switches to local file storage for the whole session; the
	// directory endpoints then run in a reduced mode.
	var backend entrystore.Backend
	var dir server.Directory
	var source syncer.DataSource

	store, err := sqlite.Open(*dbFlag, logger)
	if err != nil {
		logger.Warn("sqlite unavailable, switching to local fallback storage",
			slog.String("error", err.Error()))
		local, lerr := localfile.Open(*localFlag, "entries")
		if lerr != nil {
			logger.Error("unable to open local fallback storage", slog.String("error", lerr.Error()))
			os.Exit(1)
		}
		backend = local
	} else {
		defer store.Close()
		backend = store
		dir = store
		source = store
	}

	var ledger *sheets.Ledger
	if cfg.SheetsEnabled() && source != nil {
		client, err := sheets.NewClient(ctx, cfg.Sheets.CredentialsFile, cfg.Sheets.SpreadsheetID)
		if err != nil {
			logger.Warn("spreadsheet integration disabled", slog.String("error", err.Error()))
		} else {
			ledger = sheets.NewLedger(client, logger)
		}
	} else {
		logger.Warn("spreadsheet integration not configured")
	}

	sync := syncer.New(ledger, source, loc, logger)

	srv := server.New(ctx, backend, dir, sync, loc, logger, *staticFlag)

	httpServer := &http.Server{
		Addr:    *addrFlag,
		Handler: srv.Engine(),
	}

	go func() {
		logger.Info("starting server", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", slog.String("error", err.Error()))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", slog.String("error", err.Error()))
	}

	cancel()
	sync.Wait()

	logger.Info("server stopped")
}
