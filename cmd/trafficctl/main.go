// Command trafficctl drives a running trafficsim over its HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/talgya/citytraffic/internal/control"
)

var (
	apiURL   string
	adminKey string
)

var rootCmd = &cobra.Command{
	Use:          "trafficctl",
	Short:        "trafficsim control CLI",
	Long:         `Command line interface for observing and steering a running traffic simulation.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", envOrDefault("TRAFFICSIM_API_URL", "http://localhost:8000"), "trafficsim API base URL")
	rootCmd.PersistentFlags().StringVar(&adminKey, "admin-key", os.Getenv("TRAFFICSIM_ADMIN_KEY"), "bearer token for mutating commands")

	rootCmd.AddCommand(
		statusCmd,
		startCmd,
		stopCmd,
		spawnCmd,
		despawnCmd,
		blockCmd,
		unblockCmd,
		roadsCmd,
		snapshotCmd,
		conditionsCmd,
		waitCmd,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newClient() *control.Client {
	return control.NewClient(apiURL, adminKey)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// printJSON writes v as indented JSON to the command's output.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
