// CLAUDE:SUMMARY CLI entry point for pagewatch: loads YAML config, wires SQLite stores, serves the operator API and MCP, reloads on SIGHUP.
// Command pagewatch is the web page change-monitoring daemon.
//
// Usage:
//
//	pagewatch -config pagewatch.yaml
//	pagewatch -config pagewatch.yaml -listen :8790 -log-level debug
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagewatch/pagewatch"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to pagewatch.yaml config file")
	listen := flag.String("listen", "", "operator API listen address (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *listen); err != nil {
		logger.Error("pagewatch: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*pagewatch.FileConfig, error) {
	if path == "" {
		return pagewatch.ParseConfig(nil)
	}
	return pagewatch.LoadConfig(path)
}

func run(ctx context.Context, logger *slog.Logger, configPath, listen string) error {
	fc, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if listen != "" {
		fc.Listen = listen
	}

	var opts []pagewatch.Option
	if fc.ChangesDB != "" {
		db, err := pagewatch.OpenChangeDB(fc.ChangesDB)
		if err != nil {
			return err
		}
		defer db.Close()
		// The operator audit trail shares the change database.
		opts = append(opts, pagewatch.WithChangeDB(db), pagewatch.WithAuditDB(db))
	}

	eng, err := pagewatch.New(ctx, pagewatch.EngineConfig(fc, logger), opts...)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := eng.SetTaskConfigs(fc); err != nil {
		return fmt.Errorf("tasks: %w", err)
	}

	if fc.TasksDB != "" {
		db, err := pagewatch.OpenTaskDB(fc.TasksDB)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := eng.LoadTaskDB(ctx, db); err != nil {
			return fmt.Errorf("task db: %w", err)
		}
		go eng.WatchTaskDB(ctx, db)
	}

	srv := mcp.NewServer(&mcp.Implementation{Name: "pagewatch", Version: version}, nil)
	eng.RegisterMCP(srv)

	httpSrv := &http.Server{
		Addr:              fc.Listen,
		Handler:           eng.Handler(srv),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("pagewatch: http listening", "addr", fc.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return shutdown(logger, eng, httpSrv)
		case err := <-errc:
			eng.Close()
			return fmt.Errorf("http: %w", err)
		case <-hup:
			next, err := loadConfig(configPath)
			if err != nil {
				logger.Warn("pagewatch: reload failed, keeping current config", "error", err)
				continue
			}
			if err := eng.ApplyConfig(ctx, next); err != nil {
				logger.Warn("pagewatch: apply config", "error", err)
				continue
			}
			logger.Info("pagewatch: config reloaded", "tasks", len(next.Tasks))
		}
	}
}

func shutdown(logger *slog.Logger, eng *pagewatch.Engine, httpSrv *http.Server) error {
	logger.Info("pagewatch: shutting down")
	if err := eng.Close(); err != nil {
		logger.Warn("pagewatch: close engine", "error", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}
