package main

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/onnwee/cliprelay/config"
	"github.com/onnwee/cliprelay/db"
)

func newConfigCmd(configPath *string) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration, then print the destinations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			printConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	})
	return cfgCmd
}

func printConfig(w io.Writer, cfg *config.Config) {
	mode := "fallback (no twitch app credentials)"
	if cfg.HasAppCredentials() {
		mode = "authenticated"
	}
	chatIdentity := "anonymous"
	if cfg.TwitchBotUsername != "" && cfg.TwitchOAuthToken != "" {
		chatIdentity = cfg.TwitchBotUsername
	}
	fmt.Fprintf(w, "store:     %s\n", redactDSN(cfg.DBDsn))
	fmt.Fprintf(w, "http:      %s\n", cfg.HTTPAddr)
	fmt.Fprintf(w, "metadata:  %s\n", mode)
	fmt.Fprintf(w, "chat:      %s\n", chatIdentity)
	fmt.Fprintf(w, "channels:  %s\n", strings.Join(cfg.Channels(), ", "))
	for _, d := range cfg.Destinations {
		p := d.Permissions
		fmt.Fprintf(w, "destination %s\n", d.ID)
		fmt.Fprintf(w, "  channels:     %s\n", strings.Join(d.Channels, ", "))
		fmt.Fprintf(w, "  presentation: %s\n", d.Presentation)
		fmt.Fprintf(w, "  permissions:  everyone=%t subscribers=%t mods=%t broadcaster=%t watched_broadcasters_only=%t\n",
			p.AllowEveryone, p.AllowSubscribers, p.AllowMods, p.AllowBroadcaster, p.WatchedBroadcastersOnly)
		if d.DisplayName != "" {
			fmt.Fprintf(w, "  bot username: %s\n", d.DisplayName)
		}
	}
}

// redactDSN hides a Postgres password.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	userinfo := dsn[scheme+3 : at]
	if user, _, ok := strings.Cut(userinfo, ":"); ok {
		return dsn[:scheme+3] + user + ":***" + dsn[at:]
	}
	return dsn
}

func newMigrateCmd(configPath *string) *cobra.Command {
	open := func() (*sql.DB, db.Dialect, error) {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return nil, "", err
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
		return db.Connect(cfg.DBDsn)
	}
	withDB := func(fn func(cmd *cobra.Command, database *sql.DB, dialect db.Dialect) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			database, dialect, err := open()
			if err != nil {
				return err
			}
			defer database.Close()
			return fn(cmd, database, dialect)
		}
	}

	m := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the posted-clip store schema",
	}
	m.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, database *sql.DB, dialect db.Dialect) error {
				return db.RunMigrations(database, dialect)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, database *sql.DB, dialect db.Dialect) error {
				return db.MigrateDown(database, dialect)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, database *sql.DB, dialect db.Dialect) error {
				v, dirty, err := db.GetMigrationVersion(database, dialect)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t dialect=%s\n", v, dirty, dialect)
				return nil
			}),
		},
	)
	return m
}
