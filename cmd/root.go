package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "docvault-search",
	Short: "Search query service for DocVault documents and sections",
	Long: `docvault-search indexes documents and sections from the DocVault MongoDB
store into local full-text indexes and serves permission-filtered search,
search history and index hooks over HTTP.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
