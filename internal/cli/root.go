// Package cli provides the ipguardctl commands for operating a running
// engine over its admin API.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ipguard/internal/version"
)

var (
	// Global flags
	serverURL  string
	adminToken string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ipguardctl",
	Short: "ipguardctl - operate a running ipguard engine",
	Long: `ipguardctl talks to the admin API of a running ipguard engine.

It can block and unblock IP addresses, list the blocklist and the
current suspicion flags, and trigger an on-demand detection scan.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ipguardctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetInfo().String())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080",
		"Base URL of the ipguard engine")
	rootCmd.PersistentFlags().StringVar(&adminToken, "token", os.Getenv("IPGUARD_ADMIN_TOKEN"),
		"Admin bearer token (defaults to IPGUARD_ADMIN_TOKEN)")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
