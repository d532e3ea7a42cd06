package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// NewLoginCommand creates the login command
func NewLoginCommand() *cobra.Command {
	var (
		apiEndpoint string
		token       string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against an API",
		Long:  "Store an API base URL and bearer token for subsequent commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiEndpoint == "" {
				apiEndpoint = viper.GetString("api")
			}

			if apiEndpoint == "" {
				reader := bufio.NewReader(os.Stdin)
				fmt.Print("API base URL: ")
				apiEndpoint, _ = reader.ReadString('\n')
				apiEndpoint = strings.TrimSpace(apiEndpoint)
			}

			if apiEndpoint == "" {
				return fmt.Errorf("API base URL is required")
			}

			if token == "" {
				token = viper.GetString("token")
			}

			if token == "" {
				fmt.Print("Token: ")

				tokenBytes, err := term.ReadPassword(int(syscall.Stdin))

				fmt.Println()

				if err != nil {
					return fmt.Errorf("reading token: %w", err)
				}

				token = strings.TrimSpace(string(tokenBytes))
			}

			if token == "" {
				return fmt.Errorf("token is required")
			}

			config, err := loadPersistedConfig()
			if err != nil {
				return err
			}

			config.API = apiEndpoint
			config.Token = token

			err = savePersistedConfig(config)
			if err != nil {
				return err
			}

			fmt.Printf("Logged in to %s\n", apiEndpoint)

			return nil
		},
	}

	cmd.Flags().StringVarP(&apiEndpoint, "api", "a", "", "API base URL")
	cmd.Flags().StringVarP(&token, "token", "t", "", "bearer token")

	return cmd
}

// NewLogoutCommand creates the logout command
func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadPersistedConfig()
			if err != nil {
				return err
			}

			if config.Token == "" {
				fmt.Println("Not logged in")

				return nil
			}

			config.Token = ""

			err = savePersistedConfig(config)
			if err != nil {
				return err
			}

			fmt.Println("Logged out")

			return nil
		},
	}
}
