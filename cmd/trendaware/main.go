// Command trendaware is a terminal client for the TrendAware API.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	server  string
	token   string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "trendaware",
		Short:         "Submit notes to a TrendAware server and follow the run",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("TRENDAWARE_URL", "http://localhost:8080"), "Server base URL")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("TRENDAWARE_TOKEN"), "Bearer token (or set TRENDAWARE_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Overall request timeout")

	rootCmd.AddCommand(newSubmitCmd(opts))
	rootCmd.AddCommand(newResearchCmd(opts))
	rootCmd.AddCommand(newTokenCmd())
	return rootCmd
}

func main() {
	godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
