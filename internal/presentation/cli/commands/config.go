package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jbctechsolutions/leadline/internal/infrastructure/config"
)

// NewConfigCmd creates the config command.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "config",
		Short:       "Show or create the configuration file",
		Annotations: map[string]string{annotationNoContainer: "true"},
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigInitCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := GetAppContext()
			if app == nil {
				return fmt.Errorf("application not initialized")
			}
			cfg := *app.Config
			if cfg.Remote.APIKey != "" {
				cfg.Remote.APIKey = "********"
			}

			formatter := GetFormatter()
			if formatter.IsJSON() {
				return formatter.JSON(cfg)
			}
			data, err := yaml.Marshal(&cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = formatter.Write(data)
			return err
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader("")
			path := globalFlags.ConfigFile
			if path == "" {
				path = loader.DefaultConfigPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			if err := loader.Save(config.NewDefaultConfig(), path); err != nil {
				return err
			}

			formatter := GetFormatter()
			if formatter.IsJSON() {
				return formatter.JSON(map[string]string{"path": path})
			}
			return formatter.Success("Wrote %s", path)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}
