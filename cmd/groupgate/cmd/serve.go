package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/groupgate/groupgate/internal/adapter/inbound/rest"
	"github.com/groupgate/groupgate/internal/adapter/outbound/memory"
	"github.com/groupgate/groupgate/internal/adapter/outbound/notify"
	"github.com/groupgate/groupgate/internal/adapter/outbound/token"
	"github.com/groupgate/groupgate/internal/auth"
	"github.com/groupgate/groupgate/internal/catalog"
	"github.com/groupgate/groupgate/internal/config"
	"github.com/groupgate/groupgate/internal/deferral"
	"github.com/groupgate/groupgate/internal/port/outbound"
	"github.com/groupgate/groupgate/internal/provision"
	"github.com/groupgate/groupgate/internal/resolver"
)

// resolverParallelism bounds concurrent membership lookups per subject.
const resolverParallelism = 8

var devMode bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the groupgate API server.

Environments are registered via resource.environments in the config
file or via GROUPGATE_RESOURCE_ENVIRONMENT_<NAME> variables, each
pointing at a policy document.

Examples:
  # Start with config file settings
  groupgate serve

  # Start in dev mode with in-memory backends
  GROUPGATE_RESOURCE_ENVIRONMENT_DEV=/tmp/dev.yaml groupgate serve --dev`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (in-memory backends, verbose logging)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load without validation so the --dev flag can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}
	if cfg.DevMode {
		logger.Info("dev mode enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, logger)
}

// run wires all components together and serves until the context is
// canceled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	mapping, err := auth.NewGroupMapping(cfg.Resource.Domain)
	if err != nil {
		return fmt.Errorf("invalid domain: %w", err)
	}

	directory, resourceManager := newBackends(logger)

	provisioner := provision.NewProvisioner(mapping, directory, resourceManager, logger)
	subjects := resolver.New(directory, mapping, resolverParallelism, logger)

	signer, err := token.NewSigner([]byte(cfg.Token.Key), cfg.TokenValidity())
	if err != nil {
		return fmt.Errorf("token signer: %w", err)
	}

	var notifier outbound.Notifier
	if cfg.SMTP.Host != "" {
		var smtpAuth smtp.Auth
		if cfg.SMTP.Username != "" {
			smtpAuth = smtp.PlainAuth("", cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.Host)
		}
		addr := fmt.Sprintf("%s:%d", cfg.SMTP.Host, cfg.SMTP.Port)
		notifier = notify.NewSMTPNotifier(addr, smtpAuth, cfg.SMTP.Sender, logger)
		logger.Info("smtp notifier enabled", "addr", addr)
	}

	deferrer := deferral.NewDeferrer(signer, notifier, logger)

	loaders := make([]catalog.EnvironmentLoader, 0, len(cfg.Resource.Environments))
	for name, locator := range cfg.Resource.Environments {
		path := strings.TrimPrefix(locator, "file://")
		loaders = append(loaders, catalog.NewFileLoader(name, "", path, provisioner, logger))
		logger.Info("environment registered", "environment", name, "path", path)
	}
	source := catalog.NewCachedSource(loaders, cfg.CacheTTL(), logger)

	registry := prometheus.NewRegistry()
	metrics := rest.NewMetrics(registry)
	handler := rest.NewHandler(source, subjects, deferrer, metrics, logger)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler.Routes(registry),
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("groupgate stopped")
	return nil
}

// newBackends wires the directory and resource manager. Both are
// in-memory; production deployments front this service with
// tenant-specific adapters, so the warning fires in every mode.
func newBackends(logger *slog.Logger) (*memory.Directory, *memory.ResourceManager) {
	logger.Warn("using in-memory directory and resource manager; state does not survive restarts")
	return memory.NewDirectory(), memory.NewResourceManager()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
