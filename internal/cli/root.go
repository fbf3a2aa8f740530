package cli

import (
	"github.com/fatih/color"
	"github.com/ralt/cvmfs-scraper/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cvmfs-scraper",
		Short: "Scrape and validate CernVM-FS servers and repository manifests",
		Long: `cvmfs-scraper fetches server metadata and repository manifests from
CernVM-FS stratum servers, validates each manifest and its signature, and
cross-checks it against the repository status document.

Servers are read from the configuration file (see "config example") or
given on the command line. Local storage trees can be checked with "scan".`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup logging
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.InfoLevel)
			}

			noColor, _ := cmd.Flags().GetBool("no-color")
			if noColor {
				color.NoColor = true
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	// Add subcommands
	rootCmd.AddCommand(NewScrapeCmd())
	rootCmd.AddCommand(NewScanCmd())
	rootCmd.AddCommand(NewValidateCmd())
	rootCmd.AddCommand(NewSignCmd())
	rootCmd.AddCommand(NewKeygenCmd())
	rootCmd.AddCommand(NewConfigCmd())

	return rootCmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}
