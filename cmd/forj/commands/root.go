package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	accountName  string
	providerName string
	dataDir      string
	verbose      bool
	metricsAddr  string
	traceExport  string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "forj",
		Short: "forj - Build and manage your DevOps forge",
		Long: `forj boots a maestro server on your cloud account and follows its
cloud-init build until your forge is ready.

Features:
  - Cloud accounts configured once with 'forj setup'
  - Network, security group and keypair created on demand
  - Boot follow-up with automatic rebuild of a broken server
  - ssh access to the forge boxes
  - Boot policies written in Rego`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&accountName, "account", "a", "", "cloud account name (the default account when empty)")
	rootCmd.PersistentFlags().StringVarP(&providerName, "provider", "p", "", "cloud provider of a new account")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "forj data directory (default ~/.forj)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	rootCmd.PersistentFlags().StringVar(&traceExport, "trace", "none", "trace exporter: none, stdout or otlp")

	rootCmd.AddCommand(newBootCommand())
	rootCmd.AddCommand(newDownCommand())
	rootCmd.AddCommand(newDestroyCommand())
	rootCmd.AddCommand(newSSHCommand())
	rootCmd.AddCommand(newSetupCommand())
	rootCmd.AddCommand(newGetCommand())
	rootCmd.AddCommand(newSetCommand())
	rootCmd.AddCommand(newShowCommand())

	return rootCmd
}
