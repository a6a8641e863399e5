package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/vinmonopol-crawler/internal/app"
	"github.com/JakeFAU/vinmonopol-crawler/internal/config"
	"github.com/JakeFAU/vinmonopol-crawler/internal/coordinator"
	"github.com/JakeFAU/vinmonopol-crawler/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the application surface the commands use. Tests inject a mock.
type App interface {
	Crawl(ctx context.Context, opts app.CrawlOptions) (coordinator.Summary, error)
	Logger() *zap.Logger
	Close(ctx context.Context)
}

// loadConfig and newApp are variables so tests can replace them.
var (
	loadConfig = config.Load
	newLogger  = logging.New
	newApp     = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
		return app.New(ctx, cfg, logger, app.Options{})
	}
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "vinmonopol-crawler",
		Short: "Crawls the Vinmonopolet product catalog into a local JSON store.",
		Long: `vinmonopol-crawler lists product identifiers from the catalog feed,
fetches every product page with a polite worker pool, extracts the product
record and checkpoints the results to a JSON file that later runs can resume.`,
		SilenceUsage: true,

		// Builds the application once the flags are parsed and injects it into
		// the context for the subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := newLogger(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.AddCommand(newCrawlCmd())
	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
