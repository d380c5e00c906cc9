// Command cliprelay watches Twitch chat for clip links and announces them to Discord
// webhooks.
// It:
//   - Loads configuration (YAML file plus CLIPRELAY_ env overrides) and initializes logging.
//   - Opens the posted-clip store (SQLite or Postgres) and runs migrations.
//   - Exchanges Twitch app credentials for clip metadata, falling back to chat-only
//     notices without them.
//   - Joins every watched channel and relays clip links through the delivery pipeline.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, /config and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/cliprelay/chat"
	"github.com/onnwee/cliprelay/config"
	"github.com/onnwee/cliprelay/db"
	"github.com/onnwee/cliprelay/discord"
	"github.com/onnwee/cliprelay/metadata"
	"github.com/onnwee/cliprelay/relay"
	"github.com/onnwee/cliprelay/routing"
	"github.com/onnwee/cliprelay/server"
	"github.com/onnwee/cliprelay/telemetry"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "cliprelay",
		Short:        "Relay Twitch clip links from chat to Discord webhooks",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (local dev convenience only; production relies on real env)
			_ = godotenv.Load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CLIPRELAY_CONFIG"), "path to the YAML config file")
	root.AddCommand(newConfigCmd(&configPath), newMigrateCmd(&configPath))
	return root
}

func run(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, logFile, err := newLogger(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer logFile.Close()
	slog.SetDefault(logger)
	slog.Info("logger initialized", slog.String("level", cfg.LogLevel), slog.String("format", cfg.LogFormat))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		return err
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("cliprelay", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		return err
	}
	defer shutdown()

	database, dialect, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	if err := migrate(parent, database, dialect); err != nil {
		return err
	}
	store := db.NewStore(database, dialect)

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hc := &http.Client{Timeout: cfg.HTTPTimeout}
	resolver, routes := resolveRoutes(ctx, cfg, hc)
	channels := routing.Channels(routes)
	if len(channels) == 0 {
		slog.Warn("no watchable channels left; chat will not be joined")
	}

	listener := chat.NewListener(cfg.TwitchBotUsername, cfg.TwitchOAuthToken, channels, cfg.EventBuffer)
	pipeline := relay.NewPipeline(routes, store, resolver, &discord.Client{HTTPClient: hc}, cfg.MaxConcurrentDeliveries)

	startPprof()

	deps := server.Deps{
		DB:           database,
		Store:        store,
		Pipeline:     pipeline,
		MetadataMode: resolver.Mode().String(),
		Routes:       routes,
		Config:       cfg,
	}
	go func() {
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	slog.Info("starting relay",
		slog.Int("destinations", len(routes)),
		slog.Any("channels", channels),
		slog.String("metadata_mode", resolver.Mode().String()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listener.Run(gctx) })
	g.Go(func() error { return pipeline.Run(gctx, listener.Events()) })
	err = g.Wait()

	slog.Info("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// migrate runs versioned migrations, falling back to the embedded schema.
func migrate(ctx context.Context, database *sql.DB, dialect db.Dialect) error {
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database, dialect); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded schema",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database, dialect); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			return err
		}
		slog.Info("embedded schema applied", slog.String("component", "db_migrate"))
		return nil
	}
	slog.Info("versioned migrations completed successfully", slog.String("component", "db_migrate"))
	return nil
}

// resolveRoutes sets up metadata and resolves watched channels to broadcaster ids.
// If resolution fails outright every channel is dropped, as if none resolved.
func resolveRoutes(ctx context.Context, cfg *config.Config, hc *http.Client) (*metadata.Resolver, []routing.Route) {
	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	resolver := metadata.Connect(startCtx, cfg.TwitchClientID, cfg.TwitchClientSecret, "", hc)
	authenticated := resolver.Mode() == metadata.ModeAuthenticated
	telemetry.SetMetadataMode(authenticated)

	var ids map[string]string
	if authenticated {
		var err error
		ids, err = resolver.ResolveChannelIDs(startCtx, cfg.Channels())
		if err != nil {
			slog.Error("channel id resolution failed; no channel can be watched", slog.Any("err", err))
			ids = map[string]string{}
		}
	} else {
		for _, d := range cfg.Destinations {
			if d.Presentation == config.PresentationRichEmbed {
				slog.Warn("rich embeds need twitch app credentials; destination will post plain notices",
					slog.String("destination", d.ID))
			}
		}
	}
	return resolver, routing.Build(cfg.Destinations, ids, authenticated)
}

// startPprof enables profiling endpoints in debug mode (ENABLE_PPROF=1).
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	pprofAddr := os.Getenv("PPROF_ADDR")
	if pprofAddr == "" {
		pprofAddr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
		// Use an http.Server with timeouts to satisfy G114 and avoid DoS risks
		srv := &http.Server{
			Addr:              pprofAddr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
