package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/QrCommunication/claudenest/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "claudenest",
	Short: "Coordination and relay engine for multi-agent development",
	Long: `claudenest coordinates concurrent AI agent instances working on
shared projects: it hands out tasks with exactly-one-winner claiming,
arbitrates file access through TTL leases, tracks machine and instance
liveness, and relays interactive session output to observers in order.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/.config/claudenest/config.yaml)")
}

func initConfig() {
	if err := config.Init(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		os.Exit(1)
	}
}
