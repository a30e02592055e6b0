package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nimburion/txcoord/pkg/config"
)

func newConfigCommand(cfgPath, envPrefix, secretFilePath *string) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applySecretFileFlag(*envPrefix, *secretFilePath); err != nil {
				return err
			}
			if _, _, err := config.NewViperLoader(*cfgPath, *envPrefix).WithFlags(cmd.Flags()).LoadWithSecrets(); err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	})

	var showSecrets bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applySecretFileFlag(*envPrefix, *secretFilePath); err != nil {
				return err
			}
			cfg, secrets, err := config.NewViperLoader(*cfgPath, *envPrefix).WithFlags(cmd.Flags()).LoadWithSecrets()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !showSecrets {
				cfg = cfg.Redacted(secrets)
			}
			fmt.Fprint(cmd.OutOrStdout(), cfg.String())
			return nil
		},
	}
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	configCmd.AddCommand(showCmd)

	return configCmd
}
