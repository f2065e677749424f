package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/waxlog/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "waxlog-api",
		Short: "Waxlog music logging backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newCleanupFavoritesCommand(), newRecomputeAggregatesCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, mysql)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("database-dsn", defaults.GetString("database.dsn"), "MySQL data source name")
	flags.Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Access token TTL in minutes")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("signing-secret", "", "Token signing secret (overrides env)")
	flags.String("catalog-client-id", defaults.GetString("catalog.client_id"), "Music catalog client ID")
	flags.String("catalog-client-secret", "", "Music catalog client secret (overrides env)")
	flags.Bool("strict-ranks", defaults.GetBool("lists.strict_ranks"), "Require reorder batches to be permutations of 1..N")
	flags.String("allowed-origins", defaults.GetString("cors.allowed_origins"), "Comma separated CORS origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "catalog.client_id", "catalog-client-id")
	bindFlag(cmd, "catalog.client_secret", "catalog-client-secret")
	bindFlag(cmd, "lists.strict_ranks", "strict-ranks")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	app, err := newApplication(viper.GetViper())
	if err != nil {
		return err
	}
	defer app.Close()

	handler, err := app.httpHandler()
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              app.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("server starting", zap.String("address", app.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		app.logger.Info("server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newCleanupFavoritesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup-favorites",
		Short: "Delete favorites whose album no longer resolves to a catalog entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication(viper.GetViper())
			if err != nil {
				return err
			}
			defer app.Close()

			removed, err := app.favorites.PurgeOrphaned(cmd.Context())
			if err != nil {
				return err
			}
			app.logger.Info("orphaned favorites removed", zap.Int64("count", removed))
			return nil
		},
	}
}

func newRecomputeAggregatesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recompute-aggregates",
		Short: "Rebuild average rating and log count for every album",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication(viper.GetViper())
			if err != nil {
				return err
			}
			defer app.Close()

			count, err := app.ratings.RecomputeAll(cmd.Context())
			if err != nil {
				return err
			}
			app.logger.Info("album aggregates recomputed", zap.Int("albums", count))
			return nil
		},
	}
}
