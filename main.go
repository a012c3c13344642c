package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/horosrand/internal/api"
	"github.com/hazyhaar/horosrand/internal/auth"
	"github.com/hazyhaar/horosrand/internal/config"
	"github.com/hazyhaar/horosrand/internal/db"
	"github.com/hazyhaar/horosrand/internal/entropy"
	"github.com/hazyhaar/horosrand/internal/history"
	"github.com/hazyhaar/horosrand/internal/mcp"
	"github.com/hazyhaar/horosrand/internal/rng"
	"github.com/hazyhaar/horosrand/pkg/audit"
	"github.com/hazyhaar/horosrand/pkg/chassis"
	"github.com/hazyhaar/horosrand/pkg/trace"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "token":
		cmdToken(os.Args[2:])
	case "version":
		fmt.Printf("horosrand %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`horosrand - audited random-number service

Usage:
  horosrand serve [--config config.toml] [--addr :8080] [--http3-addr :8443]
  horosrand token --caller NAME [--config config.toml]
  horosrand version
  horosrand help

Commands:
  serve     Start the HTTP server (REST API + MCP at /mcp)
  token     Issue a bearer token identifying a caller
  version   Print version
  help      Show this help`)
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	addr := fs.String("addr", "", "listen address (overrides config)")
	h3Addr := fs.String("http3-addr", "", "HTTP/3 UDP listen address (overrides config)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *h3Addr != "" {
		cfg.Server.HTTP3Addr = *h3Addr
	}

	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer database.Close()

	tracer := trace.NewStore(database.DB)
	if err := tracer.Init(); err != nil {
		log.Fatalf("init sql traces: %v", err)
	}
	defer tracer.Close()
	database.SetTracer(tracer)

	trail := audit.NewSQLiteLogger(database.DB)
	if err := trail.Init(); err != nil {
		log.Fatalf("init op audit: %v", err)
	}
	defer trail.Close()

	source, err := entropy.New(cfg.Entropy.Source, cfg.Entropy.RawBytes)
	if err != nil {
		log.Fatalf("entropy source: %v", err)
	}

	hist := history.NewLog(cfg.History.MaxEntries,
		history.WithEvictionHook(database),
		history.WithLogger(logger),
	)
	svc := rng.New(source,
		rng.WithLog(hist),
		rng.WithExecutionContext(rng.HostContext{Revision: cfg.Instance.Revision}),
		rng.WithLogger(logger),
	)

	a := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiryMin)
	apiHandler := api.New(svc, database)
	apiHandler.SetTrail(trail)
	apiHandler.SetTraces(tracer)
	apiHandler.SetGenerateLimit(cfg.RateLimit.GeneratePerMinute)

	mux := http.NewServeMux()
	apiHandler.RegisterRoutes(mux)

	if cfg.MCP.Enabled {
		mcpSrv := mcp.NewServer(svc, trail, version)
		mux.Handle("/mcp", server.NewStreamableHTTPServer(mcpSrv))
	}

	var handler http.Handler = api.SecurityHeaders(api.RequestContext(a.Identify(mux)))

	var h3 *chassis.Server
	if cfg.Server.HTTP3Addr != "" {
		h3, err = chassis.New(chassis.Config{
			Addr:     cfg.Server.HTTP3Addr,
			CertFile: cfg.Server.CertFile,
			KeyFile:  cfg.Server.KeyFile,
			Handler:  handler,
			Logger:   logger.With("component", "chassis"),
		})
		if err != nil {
			log.Fatalf("http3 chassis: %v", err)
		}
		go func() {
			if err := h3.Start(); err != nil {
				slog.Error("http3 chassis stopped", "error", err)
			}
		}()
		handler = h3.AdvertiseHandler(handler)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("horosrand starting",
		"version", version,
		"addr", cfg.Server.Addr,
		"http3", cfg.Server.HTTP3Addr,
		"database", cfg.Database.Path,
		"entropy", cfg.Entropy.Source,
		"max_entries", hist.Capacity(),
		"mcp", cfg.MCP.Enabled,
		"instance", cfg.Instance.ID,
		"binary_hash", api.BinaryHash(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("server error", "error", err)
		}
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	if h3 != nil {
		if err := h3.Stop(); err != nil {
			slog.Error("http3 shutdown", "error", err)
		}
	}
	slog.Info("stopped", "history_entries", svc.HistoryCount(), "last_sequence", svc.LastSequence())
}

func cmdToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	caller := fs.String("caller", "", "caller identity to embed in the token")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	token, err := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiryMin).GenerateToken(*caller)
	if err != nil {
		log.Fatalf("issuing token: %v", err)
	}
	fmt.Println(token)
}
