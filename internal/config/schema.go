package config

import "time"

// Config is the top-level scraper configuration.
type Config struct {
	Servers      []ServerConfig `mapstructure:"servers" yaml:"servers"`
	Repositories []string       `mapstructure:"repositories" yaml:"repositories"`
	Trust        TrustConfig    `mapstructure:"trust" yaml:"trust"`
	Scrape       ScrapeConfig   `mapstructure:"scrape" yaml:"scrape"`
}

// ServerConfig defines a single server to scrape.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	// Type is one of stratum0, stratum1 or syncserver
	Type string `mapstructure:"type" yaml:"type"`
	// Backend is cvmfs (the default), s3, or auto
	Backend string `mapstructure:"backend" yaml:"backend,omitempty"`
	Scheme  string `mapstructure:"scheme" yaml:"scheme,omitempty"`
}

// TrustConfig holds the material manifest signatures are verified against.
type TrustConfig struct {
	TrustMaterial `mapstructure:",squash" yaml:",inline"`
	// Repositories overrides the default material for named repositories
	Repositories []RepositoryTrust `mapstructure:"repositories" yaml:"repositories,omitempty"`
}

// TrustMaterial lists CA bundles and accepted certificate fingerprints.
type TrustMaterial struct {
	CAFiles          []string `mapstructure:"ca_files" yaml:"ca_files,omitempty"`
	Fingerprints     []string `mapstructure:"fingerprints" yaml:"fingerprints,omitempty"`
	FingerprintFiles []string `mapstructure:"fingerprint_files" yaml:"fingerprint_files,omitempty"`
}

// RepositoryTrust is the trust material of a single repository.
type RepositoryTrust struct {
	Name          string `mapstructure:"name" yaml:"name"`
	TrustMaterial `mapstructure:",squash" yaml:",inline"`
}

// ScrapeConfig tunes fetching and validation.
type ScrapeConfig struct {
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Concurrency       int           `mapstructure:"concurrency" yaml:"concurrency"`
	ServerConcurrency int           `mapstructure:"server_concurrency" yaml:"server_concurrency"`
	ClockSkew         time.Duration `mapstructure:"clock_skew" yaml:"clock_skew"`
	AllowMissingMeta  bool          `mapstructure:"allow_missing_meta" yaml:"allow_missing_meta"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent,omitempty"`
	// MinRevisions pins the last known revision of repositories; an older
	// manifest fails its revision check. Kept as a list: viper splits map keys on dots.
	MinRevisions      []MinRevision `mapstructure:"min_revisions" yaml:"min_revisions,omitempty"`
}

// SetMinRevision pins repo at rev, replacing an earlier entry for it
func (s *ScrapeConfig) SetMinRevision(repo string, rev uint64) {
	for i := range s.MinRevisions {
		if s.MinRevisions[i].Repository == repo {
			s.MinRevisions[i].Revision = rev
			return
		}
	}
	s.MinRevisions = append(s.MinRevisions, MinRevision{Repository: repo, Revision: rev})
}

// MinRevision is the last revision known for a repository
type MinRevision struct {
	Repository string `mapstructure:"repository" yaml:"repository"`
	Revision   uint64 `mapstructure:"revision" yaml:"revision"`
}

// IsZero reports whether no trust material is configured
func (m TrustMaterial) IsZero() bool {
	return len(m.CAFiles) == 0 && len(m.Fingerprints) == 0 && len(m.FingerprintFiles) == 0
}

// RepositoryByName returns the trust override for name, or nil.
func (t *TrustConfig) RepositoryByName(name string) *RepositoryTrust {
	for i := range t.Repositories {
		if t.Repositories[i].Name == name {
			return &t.Repositories[i]
		}
	}
	return nil
}
