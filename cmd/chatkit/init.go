package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	initUID     string
	initEmail   string
	initBaseURL string
)

func init() {
	initCmd.Flags().StringVar(&initUID, "uid", "", "Your user id on the server")
	initCmd.Flags().StringVar(&initEmail, "email", "", "Your account email")
	initCmd.Flags().StringVar(&initBaseURL, "base-url", "", "Server base URL (e.g. http://localhost:5000)")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <token>",
	Short: "Store the session token in ~/.chatkit/config.toml",
	Long:  "Initialize the chatkit CLI by storing your session token and identity in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.Token = token
		if initUID != "" {
			cfg.Auth.UID = initUID
		}
		if initEmail != "" {
			cfg.Auth.Email = initEmail
		}
		if initBaseURL != "" {
			cfg.Default.BaseURL = initBaseURL
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Token saved to %s\n", path)
		return nil
	},
}
