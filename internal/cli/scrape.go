package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/ralt/cvmfs-scraper/internal/config"
	"github.com/ralt/cvmfs-scraper/internal/fetch"
	"github.com/ralt/cvmfs-scraper/internal/models"
	"github.com/ralt/cvmfs-scraper/internal/scraper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type scrapeFlags struct {
	servers      []string
	serverType   string
	backend      string
	repositories []string
	minRevisions map[string]int64
	jsonOutput   bool
}

// NewScrapeCmd creates the scrape command
func NewScrapeCmd() *cobra.Command {
	var flags scrapeFlags

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape servers and validate their repositories",
		Long: `Fetches repositories.json and meta.json from every server, then the
manifest and status document of every requested or advertised repository.

Servers given with --server replace the ones in the config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			servers, err := resolveServers(cfg, &flags)
			if err != nil {
				return err
			}
			if len(servers) == 0 {
				return models.NewError(models.ErrInvalidConfig, "no servers configured")
			}

			for name, rev := range flags.minRevisions {
				if rev < 0 {
					return models.NewError(models.ErrInvalidConfig, "--min-revision %s=%d must not be negative", name, rev)
				}
				cfg.Scrape.SetMinRevision(name, uint64(rev))
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			repos := append(append([]string{}, cfg.Repositories...), flags.repositories...)
			return runScrape(cmd.Context(), cmd.OutOrStdout(), cfg, servers, repos, flags.jsonOutput)
		},
	}

	cmd.Flags().StringSliceVarP(&flags.servers, "server", "s", nil, "Server hostname[:port] to scrape")
	cmd.Flags().StringVarP(&flags.serverType, "type", "t", "stratum1", "Type of the --server hosts (stratum0, stratum1, syncserver)")
	cmd.Flags().StringVarP(&flags.backend, "backend", "b", "cvmfs", "Backend of the --server hosts (cvmfs, s3, auto)")
	cmd.Flags().StringSliceVarP(&flags.repositories, "repo", "r", nil, "Repository to scrape in addition to the advertised ones")
	cmd.Flags().StringToInt64Var(&flags.minRevisions, "min-revision", nil, "Last known revision per repository (name=revision)")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "Output results as JSON")

	return cmd
}

func resolveServers(cfg *config.Config, flags *scrapeFlags) ([]models.Server, error) {
	if len(flags.servers) == 0 {
		return cfg.ParsedServers()
	}

	t, err := models.ParseServerType(flags.serverType)
	if err != nil {
		return nil, err
	}
	b, err := models.ParseBackendType(flags.backend)
	if err != nil {
		return nil, err
	}
	servers := make([]models.Server, 0, len(flags.servers))
	for _, host := range flags.servers {
		s, err := models.NewServer(t, b, host)
		if err != nil {
			return nil, err
		}
		servers = append(servers, s)
	}
	return servers, nil
}

func runScrape(ctx context.Context, out io.Writer, cfg *config.Config, servers []models.Server, repos []string, jsonOutput bool) error {
	opts, err := cfg.ScraperOptions()
	if err != nil {
		return err
	}

	client := fetch.NewHTTPClient(cfg.Scrape.Timeout)
	factory := func(server models.Server) fetch.Fetcher {
		f := fetch.NewHTTPFetcher(server.BaseURL(), client)
		f.UserAgent = cfg.Scrape.UserAgent
		return f
	}

	logrus.Infof("Scraping %d servers", len(servers))
	results := scraper.New(factory, opts).ScrapeAll(ctx, servers, repos)

	return report(out, results, jsonOutput)
}

func report(out io.Writer, results []scraper.ScrapedServer, jsonOutput bool) error {
	if jsonOutput {
		if err := writeServersJSON(out, results); err != nil {
			return err
		}
	} else if err := printServers(out, results); err != nil {
		return err
	}

	failedServers, failedRepos := countFailures(results)
	if failedServers > 0 || failedRepos > 0 {
		return fmt.Errorf("%d servers and %d repositories failed", failedServers, failedRepos)
	}
	return nil
}
