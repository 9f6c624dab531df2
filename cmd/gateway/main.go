// Command gateway runs the notification gateway.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Notification gateway: channel connections, outbound sends and webhook dispatch.",
	Long: `gateway keeps long-lived messaging sessions connected, normalizes their
inbound events into webhook envelopes, and sends outbound messages through
every configured provider.`,
	RunE:          runServeCmd,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the TOML config (defaults to $CONFIG_PATH, then config.toml)")
	rootCmd.AddCommand(serveCmd, migrateCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
