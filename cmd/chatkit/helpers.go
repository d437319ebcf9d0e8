package main

import (
	"fmt"
	"os"
	"time"

	chatkit "github.com/acertax/chatkit"
)

const defaultBaseURL = "http://localhost:5000"

// getClient creates a chatkit client from the stored configuration,
// exiting with a hint when no token is available.
func getClient() (*chatkit.Client, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No session token. Run 'chatkit init <token>' first.")
		os.Exit(1)
	}

	baseURL := cfg.Default.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return chatkit.NewClient(baseURL, cfg.Auth.Token), cfg
}

// fmtTS renders a millisecond timestamp as local wall-clock time.
func fmtTS(ms int64) string {
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}
