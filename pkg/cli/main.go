// Package cli builds the txcoord command line: probing a configured database through a
// session and inspecting the resolved configuration.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nimburion/txcoord/pkg/config"
	"github.com/nimburion/txcoord/pkg/observability/logger"
	"github.com/nimburion/txcoord/pkg/platform/inmemory"
	"github.com/nimburion/txcoord/pkg/store"
	"github.com/nimburion/txcoord/pkg/transaction"
)

var (
	// AppVersion is intended to be overridden at build time:
	// go build -ldflags="-X github.com/nimburion/txcoord/pkg/cli.AppVersion=v1.2.3"
	AppVersion = "dev"
	// GitCommit is intended to be overridden at build time.
	GitCommit = "unknown"
)

// ProviderFactory opens the connection provider for a database configuration.
type ProviderFactory func(cfg config.DatabaseConfig, log logger.Logger) (store.Provider, error)

// Options configures the root command.
type Options struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// Out receives command output. Defaults to os.Stdout.
	Out io.Writer
	// OpenProvider overrides store.NewProvider.
	OpenProvider ProviderFactory
	// Platform backs the external transaction backend. Defaults to an in-memory platform.
	Platform transaction.Platform
}

// NewRootCommand creates the CLI with probe, healthcheck, config and version subcommands.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "txcoord"
	}
	if opts.OpenProvider == nil {
		opts.OpenProvider = store.NewProvider
	}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	if opts.Out != nil {
		rootCmd.SetOut(opts.Out)
	}

	var cfgPath, envPrefix, secretFilePath string
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", opts.ConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&envPrefix, "env-prefix", opts.EnvPrefix, "prefix of configuration environment variables")
	rootCmd.PersistentFlags().StringVar(&secretFilePath, "secret-file", "", "path to secrets file (sets <PREFIX>_SECRETS_FILE)")
	config.RegisterFlags(rootCmd.PersistentFlags())

	loadConfig := func(flags *pflag.FlagSet) (*config.Config, logger.Logger, error) {
		return LoadConfigAndLogger(cfgPath, envPrefix, secretFilePath, flags)
	}
	platform := func() transaction.Platform {
		if opts.Platform != nil {
			return opts.Platform
		}
		return inmemory.New()
	}

	rootCmd.AddCommand(newProbeCommand(loadConfig, opts.OpenProvider, platform))
	rootCmd.AddCommand(newHealthcheckCommand(loadConfig, opts.OpenProvider, platform))
	rootCmd.AddCommand(newConfigCommand(&cfgPath, &envPrefix, &secretFilePath))
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service:    %s\n", opts.Name)
			fmt.Fprintf(out, "Version:    %s\n", AppVersion)
			fmt.Fprintf(out, "Commit:     %s\n", GitCommit)
		},
	})

	return rootCmd
}

// LoadConfigAndLogger loads and validates configuration, then builds the zap logger it
// describes.
func LoadConfigAndLogger(cfgPath, envPrefix, secretFilePath string, flags *pflag.FlagSet) (*config.Config, logger.Logger, error) {
	if err := applySecretFileFlag(envPrefix, secretFilePath); err != nil {
		return nil, nil, err
	}
	cfg, _, err := config.NewViperLoader(cfgPath, envPrefix).WithFlags(flags).LoadWithSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	level, _ := logger.ParseLogLevel(cfg.Observability.LogLevel)
	format, _ := logger.ParseLogFormat(cfg.Observability.LogFormat)
	log, err := logger.NewZapLogger(logger.Config{
		Level:  level,
		Format: format,
		Output: os.Stderr,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, log.With("service", cfg.Observability.ServiceName), nil
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(resolveEnvPrefix(envPrefix)+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

func resolveEnvPrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return config.DefaultEnvPrefix
	}
	return strings.ToUpper(trimmed)
}

// Execute runs the command and exits with appropriate code.
func Execute(cmd *cobra.Command) {
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
