package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stoik/mailbridge/services/scim-bridge/internal/api"
	"github.com/stoik/mailbridge/services/scim-bridge/internal/config"
	"github.com/stoik/mailbridge/services/scim-bridge/internal/mailbox"
	"github.com/stoik/mailbridge/services/scim-bridge/internal/metrics"
	"github.com/stoik/mailbridge/services/scim-bridge/internal/provisioning"
	"github.com/stoik/mailbridge/services/scim-bridge/internal/store"
)

const shutdownTimeout = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:   "scim-bridge",
	Short: "SCIM 2.0 bridge for mailcow mailboxes",
	Long:  "Provisions, updates and removes mailcow mailboxes from SCIM user operations",
	// config errors are not usage errors
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the SCIM HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		env, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		if err := env.store.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate identity store: %w", err)
		}

		registry, err := metrics.NewRegistry(env.store, env.logger)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}

		gin.SetMode(gin.ReleaseMode)
		router := api.NewRouter(api.Options{
			Token:    env.cfg.SCIM.Token,
			Users:    env.service,
			Gatherer: registry,
			Logger:   env.logger,
		})

		server := &http.Server{
			Addr:              env.cfg.HTTP.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errChan := make(chan error, 1)
		go func() {
			env.logger.Info("scim bridge listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
			close(errChan)
		}()

		select {
		case <-ctx.Done():
			env.logger.Info("shutdown signal received")
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		env.logger.Info("scim bridge stopped cleanly")
		return nil
	},
}

// environment holds what every command needs once config is loaded.
type environment struct {
	cfg     config.Config
	logger  *slog.Logger
	store   store.Store
	service *provisioning.Service
}

func bootstrap(ctx context.Context) (*environment, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Database.URL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open identity store: %w", err)
	}

	if cfg.Mailbox.SkipVerifyCertificate {
		logger.Warn("TLS certificate verification disabled for the mailbox API")
	}
	client := mailbox.NewClient(cfg.MailboxOptions())
	service := provisioning.NewService(st, client, provisioning.Policy{
		AllowDelete:   cfg.Policy.AllowDelete,
		DeleteMailbox: cfg.Policy.DeleteMailbox,
	}, logger)

	return &environment{cfg: cfg, logger: logger, store: st, service: service}, nil
}

func (e *environment) close() {
	if err := e.store.Close(); err != nil {
		e.logger.Error("failed to close identity store", "error", err)
	}
}

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	// Flags
	flags := rootCmd.PersistentFlags()
	flags.String("http.addr", ":8000", "Listen address of the SCIM server")
	flags.String("database.url", "/data/data.db", "SQLite file path or postgres:// URL")
	flags.String("mailbox.api_url", "", "mailcow API base URL, e.g. https://mail.example.com/api/v1/")
	flags.Bool("mailbox.skip_verify_certificate", false, "Skip TLS verification of the mailbox API")
	flags.String("log.level", "info", "Log level: debug, info, warn or error")
	flags.String("log.format", "json", "Log format: json or text")

	// Bind flags to viper
	for _, name := range []string{"http.addr", "database.url", "mailbox.api_url", "mailbox.skip_verify_certificate", "log.level", "log.format"} {
		viper.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.AddCommand(runCmd)
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./services/scim-bridge")

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
