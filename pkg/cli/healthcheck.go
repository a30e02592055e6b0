package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nimburion/txcoord/pkg/config"
	"github.com/nimburion/txcoord/pkg/health"
	"github.com/nimburion/txcoord/pkg/observability/logger"
	"github.com/nimburion/txcoord/pkg/transaction"
)

func newHealthcheckCommand(
	loadConfig func(*pflag.FlagSet) (*config.Config, logger.Logger, error),
	open ProviderFactory,
	platform func() transaction.Platform,
) *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check the configured database and, for the external backend, the transaction platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			provider, err := open(cfg.Database, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := provider.Close(); err != nil {
					log.Warn("closing database failed", "error", err)
				}
			}()

			registry := health.NewRegistry()
			registry.Register(health.NewAdapterChecker("database", provider, cfg.Database.ConnectTimeout))
			if cfg.Transaction.Backend == config.TransactionBackendExternal {
				registry.Register(health.NewPlatformChecker("transaction_platform", platform()))
			}

			result := registry.Check(cmd.Context())
			out := cmd.OutOrStdout()
			for _, check := range result.Checks {
				detail := check.Message
				if check.Error != "" {
					detail = check.Error
				}
				fmt.Fprintf(out, "%-22s %-9s %s\n", check.Name, check.Status, detail)
			}
			if !result.IsHealthy() {
				return fmt.Errorf("health check %s", result.Status)
			}
			return nil
		},
	}
}
