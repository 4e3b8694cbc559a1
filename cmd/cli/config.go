package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/qubo/internal/config"
)

const defaultConfigPath = "qubo.yaml"

var configForce bool

// configCmd groups configuration helpers.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the qubo configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with default settings",
	Long: `Write a configuration file with the default settings and an example
range. The file is written to ./qubo.yaml unless a path is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := defaultConfigPath
		if len(args) == 1 {
			path = args[0]
		}
		return writeDefaultConfig(path, configForce, func(format string, a ...any) {
			fmt.Fprintf(cmd.OutOrStdout(), format, a...)
		})
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration that a scan would use after merging the config
file, QUBO_* environment variables and flags. The result is not validated.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Read(viper.ConfigFileUsed())
		if err != nil {
			return err
		}
		applyOverrides(cfg, viper.GetViper())

		data, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func writeDefaultConfig(path string, force bool, printf func(format string, a ...any)) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
		}
	}

	cfg := config.Default()
	cfg.Scan.Ranges = []string{"127.0.0.1"}
	if err := cfg.Save(path); err != nil {
		return err
	}
	printf("Wrote default configuration to %s\n", path)
	return nil
}
