// Package cli provides the sercha-fed command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-federation/internal/logger"
)

// EnvPrefix prefixes the environment variables bound to global flags,
// e.g. DS_LOG_LEVEL for --log-level.
const EnvPrefix = "DS"

// skipServices marks commands that run without engine services.
const skipServices = "skip-services"

var version = "dev"

// Options are the global settings resolved from flags and the environment.
type Options struct {
	// ConfigPath is the configuration file. Empty means the default path.
	ConfigPath string

	// DataDir overrides the engine data directory when set.
	DataDir string
}

// DocumentCounter reports how many documents the central index holds for a source.
type DocumentCounter interface {
	Count(ctx context.Context, source string) (uint64, error)
}

// Services are the engine components the commands drive.
type Services struct {
	Sync   driving.SyncOrchestrator
	Search driving.FederatedSearch
	Config driven.ConfigProvider

	// Index is optional; status omits document counts without it.
	Index DocumentCounter

	// Run blocks running scheduled and watch-triggered syncs until ctx is done.
	Run func(ctx context.Context) error

	// Close releases stores and pooled adapters.
	Close func() error
}

// Loader builds the services for the resolved options.
type Loader func(ctx context.Context, opts Options) (*Services, error)

// Services used by the commands. Tests replace these directly.
var (
	loader           Loader
	syncOrchestrator driving.SyncOrchestrator
	federatedSearch  driving.FederatedSearch
	configProvider   driven.ConfigProvider
	documentCounter  DocumentCounter
	runEngine        func(ctx context.Context) error
	closeServices    func() error
)

var rootCmd = &cobra.Command{
	Use:   "sercha-fed",
	Short: "Federated sync and search across data sources",
	Long: `sercha-fed keeps a central index in step with SQL databases, GitHub
repositories, wikis, file trees and vector stores, and answers queries
across all of them at once.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: prepare,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default is $HOME/.sercha-fed/config.toml)")
	rootCmd.PersistentFlags().String("data-dir", "", "override the engine data directory")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable coloured output")

	for _, name := range []string{"config", "data-dir", "log-level", "no-color"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

// initConfig binds DS_* environment variables to the global flags.
func initConfig() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	version = v
}

// SetLoader sets the function that builds services before a command runs.
func SetLoader(l Loader) {
	loader = l
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	defer func() { _ = logger.Sync() }()

	err := rootCmd.Execute()
	if cerr := shutdown(); cerr != nil {
		logger.Warn("shutdown: %v", cerr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func prepare(cmd *cobra.Command, _ []string) error {
	if err := logger.Init(viper.GetString("log-level")); err != nil {
		return err
	}
	if viper.GetBool("no-color") {
		color.NoColor = true
	}
	if cmd.Annotations[skipServices] == "true" {
		return nil
	}
	return loadServices(cmd.Context())
}

// loadServices builds services through the loader unless they are already set.
func loadServices(ctx context.Context) error {
	if loader == nil || syncOrchestrator != nil {
		return nil
	}
	s, err := loader(ctx, Options{
		ConfigPath: viper.GetString("config"),
		DataDir:    viper.GetString("data-dir"),
	})
	if err != nil {
		return err
	}
	syncOrchestrator = s.Sync
	federatedSearch = s.Search
	configProvider = s.Config
	documentCounter = s.Index
	runEngine = s.Run
	closeServices = s.Close
	return nil
}

// shutdown closes services built by the loader.
func shutdown() error {
	if closeServices == nil {
		return nil
	}
	fn := closeServices
	closeServices = nil
	return fn()
}
