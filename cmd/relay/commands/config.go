package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCommand creates the config command
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadPersistedConfig()
			if err != nil {
				return err
			}

			// The token is never printed.
			redacted := *config
			if redacted.Token != "" {
				redacted.Token = "(set)"
			}

			data, err := yaml.Marshal(&redacted)
			if err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}

			fmt.Print(string(data))

			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-api URL",
		Short: "Set the default API base URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadPersistedConfig()
			if err != nil {
				return err
			}

			config.API = args[0]

			err = savePersistedConfig(config)
			if err != nil {
				return err
			}

			fmt.Println("API set to", args[0])

			return nil
		},
	})

	return cmd
}

// NewVersionCommand creates the version command
func NewVersionCommand(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("relay %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
