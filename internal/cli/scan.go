package cli

import (
	"fmt"

	"github.com/ralt/cvmfs-scraper/internal/fetch"
	"github.com/ralt/cvmfs-scraper/internal/models"
	"github.com/ralt/cvmfs-scraper/internal/scanner"
	"github.com/ralt/cvmfs-scraper/internal/scraper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewScanCmd creates the scan command
func NewScanCmd() *cobra.Command {
	var (
		serverType string
		backend    string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "scan <root>",
		Short: "Validate the repositories of a local server storage tree",
		Long: `Scans a directory laid out like a server root (the parent of "cvmfs/")
for repository manifests, then validates them as "scrape" would, reading
files instead of fetching them over HTTP.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := args[0]

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			opts, err := cfg.ScraperOptions()
			if err != nil {
				return err
			}

			t, err := models.ParseServerType(serverType)
			if err != nil {
				return err
			}
			b, err := models.ParseBackendType(backend)
			if err != nil {
				return err
			}
			server, err := models.NewServer(t, b, "localhost")
			if err != nil {
				return err
			}
			server.Scheme = "file"

			logrus.Infof("Scanning directory: %s", root)
			var sc scanner.Scanner = scanner.NewFileSystemScanner()
			repos, err := sc.Scan(cmd.Context(), root)
			if err != nil {
				return &models.ScrapeError{
					Type: models.ErrTransport,
					Err:  fmt.Errorf("failed to scan directory: %w", err),
				}
			}
			if len(repos) == 0 {
				logrus.Warn("No repositories found in root directory")
			}

			dir := fetch.NewDirFetcher(root)
			factory := func(models.Server) fetch.Fetcher { return dir }

			result := scraper.New(factory, opts).Scrape(cmd.Context(), server, scanner.Names(repos))
			return report(cmd.OutOrStdout(), []scraper.ScrapedServer{result}, jsonOutput)
		},
	}

	cmd.Flags().StringVarP(&serverType, "type", "t", "stratum0", "Server type the tree belongs to")
	cmd.Flags().StringVarP(&backend, "backend", "b", "auto", "Backend (cvmfs, s3, auto)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	return cmd
}
