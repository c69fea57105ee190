package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/gotmesh/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or check gotmesh configuration",
	Long: `View or check gotmesh configuration.

Settings come from the config file, then GOTMESH_* environment variables
(GOTMESH_CLAIM_TTL_MS for claim.ttl_ms), then command-line flags.
Without a subcommand, displays the effective configuration.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for invalid values",
	RunE:  runConfigValidate,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := newPrinter(cmd.OutOrStdout())

	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out.w, "%s\n\n", out.muted("# config file: "+used))
	} else {
		fmt.Fprintf(out.w, "%s\n\n", out.muted("# config file: (none - using defaults)"))
	}

	settings := viper.AllSettings()
	delete(settings, "config")
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = out.w.Write(data)
	return err
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	out := newPrinter(cmd.OutOrStdout())

	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return config.ValidationErrors(errs)
	}
	fmt.Fprintln(out.w, "Configuration is valid")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	path := viper.ConfigFileUsed()
	if path == "" {
		path = config.ConfigFile()
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
