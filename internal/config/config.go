// Package config loads the scraper configuration from a YAML file and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ralt/cvmfs-scraper/internal/manifest"
	"github.com/ralt/cvmfs-scraper/internal/models"
	"github.com/ralt/cvmfs-scraper/internal/scraper"
	"github.com/ralt/cvmfs-scraper/internal/utils"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CVMFS_SCRAPER_SCRAPE_TIMEOUT
const EnvPrefix = "CVMFS_SCRAPER"

// DefaultPath returns the default config file path.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cvmfs-scraper", "config.yml")
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Scrape: ScrapeConfig{
			Timeout:           30 * time.Second,
			Concurrency:       4,
			ServerConcurrency: 4,
			ClockSkew:         manifest.DefaultClockSkew,
		},
	}
}

// Load reads the config from path, or from DefaultPath when path is empty.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	defaults := DefaultConfig()

	v := viper.New()
	v.SetDefault("scrape.timeout", defaults.Scrape.Timeout)
	v.SetDefault("scrape.concurrency", defaults.Scrape.Concurrency)
	v.SetDefault("scrape.server_concurrency", defaults.Scrape.ServerConcurrency)
	v.SetDefault("scrape.clock_skew", defaults.Scrape.ClockSkew)
	v.SetDefault("scrape.allow_missing_meta", defaults.Scrape.AllowMissingMeta)
	v.SetDefault("scrape.user_agent", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
			return nil, models.NewError(models.ErrInvalidConfig, "reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, models.NewError(models.ErrInvalidConfig, "parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := c.ParsedServers(); err != nil {
		return err
	}
	if c.Scrape.Concurrency < 1 {
		return models.NewError(models.ErrInvalidConfig, "scrape.concurrency must be at least 1")
	}
	if c.Scrape.ServerConcurrency < 1 {
		return models.NewError(models.ErrInvalidConfig, "scrape.server_concurrency must be at least 1")
	}
	if c.Scrape.Timeout <= 0 {
		return models.NewError(models.ErrInvalidConfig, "scrape.timeout must be positive")
	}
	if c.Scrape.ClockSkew < 0 {
		return models.NewError(models.ErrInvalidConfig, "scrape.clock_skew must not be negative")
	}
	for _, r := range c.Trust.Repositories {
		if r.Name == "" {
			return models.NewError(models.ErrInvalidConfig, "trust.repositories entry without name")
		}
	}
	seen := make(map[string]bool)
	for _, r := range c.Scrape.MinRevisions {
		if r.Repository == "" {
			return models.NewError(models.ErrInvalidConfig, "scrape.min_revisions entry without repository")
		}
		if seen[r.Repository] {
			return models.NewError(models.ErrInvalidConfig, "scrape.min_revisions lists %s twice", r.Repository)
		}
		seen[r.Repository] = true
	}
	return nil
}

// ParsedServers converts the configured servers
func (c *Config) ParsedServers() ([]models.Server, error) {
	servers := make([]models.Server, 0, len(c.Servers))
	for i, sc := range c.Servers {
		t, err := models.ParseServerType(sc.Type)
		if err != nil {
			return nil, fmt.Errorf("servers[%d]: %w", i, err)
		}
		b, err := models.ParseBackendType(sc.Backend)
		if err != nil {
			return nil, fmt.Errorf("servers[%d]: %w", i, err)
		}
		s, err := models.NewServer(t, b, sc.Host)
		if err != nil {
			return nil, fmt.Errorf("servers[%d]: %w", i, err)
		}
		if sc.Scheme != "" {
			if sc.Scheme != "http" && sc.Scheme != "https" {
				return nil, models.NewError(models.ErrInvalidConfig, "servers[%d]: unsupported scheme %q", i, sc.Scheme)
			}
			s.Scheme = sc.Scheme
		}
		servers = append(servers, s)
	}
	return servers, nil
}

// ScraperOptions builds the scraper options, loading every trust file
func (c *Config) ScraperOptions() (scraper.Options, error) {
	trust, err := c.Trust.Load()
	if err != nil {
		return scraper.Options{}, err
	}
	opts := scraper.Options{
		Concurrency:       c.Scrape.Concurrency,
		ServerConcurrency: c.Scrape.ServerConcurrency,
		AllowMissingMeta:  c.Scrape.AllowMissingMeta,
		ClockSkew:         c.Scrape.ClockSkew,
		Trust:             trust,
	}
	if len(c.Scrape.MinRevisions) > 0 {
		opts.MinRevisions = make(map[string]uint64, len(c.Scrape.MinRevisions))
		for _, r := range c.Scrape.MinRevisions {
			opts.MinRevisions[r.Repository] = r.Revision
		}
	}
	return opts, nil
}

// Load reads the configured trust material
func (t *TrustConfig) Load() (scraper.Trust, error) {
	var trust scraper.Trust

	def, err := t.TrustMaterial.Anchor()
	if err != nil {
		return trust, err
	}
	trust.Default = def

	for _, r := range t.Repositories {
		a, err := r.TrustMaterial.Anchor()
		if err != nil {
			return trust, fmt.Errorf("trust for %s: %w", r.Name, err)
		}
		if trust.PerRepository == nil {
			trust.PerRepository = make(map[string]*manifest.TrustAnchor)
		}
		trust.PerRepository[r.Name] = a
	}
	return trust, nil
}

// Anchor builds a trust anchor, or returns nil when nothing is configured
func (m TrustMaterial) Anchor() (*manifest.TrustAnchor, error) {
	if m.IsZero() {
		return nil, nil
	}

	anchor := manifest.NewTrustAnchor()
	for _, path := range m.CAFiles {
		data, err := utils.ReadFileLimited(ExpandHome(path), 1<<20)
		if err != nil {
			return nil, models.NewError(models.ErrInvalidConfig, "reading CA file: %w", err)
		}
		if err := anchor.AddPEM(data); err != nil {
			return nil, models.NewError(models.ErrInvalidConfig, "%s: %w", path, err)
		}
	}
	for _, fp := range m.Fingerprints {
		if err := anchor.AddFingerprint(fp); err != nil {
			return nil, models.NewError(models.ErrInvalidConfig, "fingerprint %q: %w", fp, err)
		}
	}
	for _, path := range m.FingerprintFiles {
		data, err := utils.ReadFileLimited(ExpandHome(path), 1<<20)
		if err != nil {
			return nil, models.NewError(models.ErrInvalidConfig, "reading fingerprint file: %w", err)
		}
		if err := anchor.LoadFingerprints(bytes.NewReader(data)); err != nil {
			return nil, models.NewError(models.ErrInvalidConfig, "%s: %w", path, err)
		}
	}
	return anchor, nil
}

// Write encodes cfg as YAML
func Write(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

// Save writes the config to path, creating parent directories.
func Save(path string, cfg *Config) error {
	var buf bytes.Buffer
	if err := Write(&buf, cfg); err != nil {
		return err
	}
	return utils.WriteFile(path, buf.Bytes(), 0644)
}

// Example returns a sample configuration
func Example() *Config {
	cfg := DefaultConfig()
	cfg.Servers = []ServerConfig{
		{Host: "cvmfs-stratum-zero.example.org", Type: "stratum0", Backend: "cvmfs"},
		{Host: "cvmfs-s1.example.org", Type: "stratum1"},
	}
	cfg.Repositories = []string{"software.example.org"}
	cfg.Trust.CAFiles = []string{"/etc/cvmfs/keys/example.org/ca.pem"}
	return cfg
}

// ExpandHome expands a leading ~/ in a path.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
