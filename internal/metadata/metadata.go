// Package metadata models the server-level documents under cvmfs/info/v1.
package metadata

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ralt/cvmfs-scraper/internal/models"
	"github.com/ralt/cvmfs-scraper/internal/utils"
	"golang.org/x/mod/semver"
)

// Relative paths of the server documents
const (
	RepositoriesPath = "cvmfs/info/v1/repositories.json"
	MetaPath         = "cvmfs/info/v1/meta.json"
)

// RepositoryEntry is one repository or replica advertised by a server
type RepositoryEntry struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// RepositoriesDoc is the content of repositories.json
type RepositoriesDoc struct {
	Schema          int               `json:"schema"`
	CVMFSVersion    string            `json:"cvmfs_version,omitempty"`
	OSID            string            `json:"os_id,omitempty"`
	OSVersionID     string            `json:"os_version_id,omitempty"`
	OSPrettyName    string            `json:"os_pretty_name,omitempty"`
	LastGeoDBUpdate string            `json:"last_geodb_update,omitempty"`
	Repositories    []RepositoryEntry `json:"repositories"`
	Replicas        []RepositoryEntry `json:"replicas"`
}

// MetaDoc is the content of meta.json. Only well-formedness is checked.
type MetaDoc struct {
	Administrator string          `json:"administrator,omitempty"`
	Email         string          `json:"email,omitempty"`
	Organisation  string          `json:"organisation,omitempty"`
	Custom        json.RawMessage `json:"custom,omitempty"`
}

// ParseRepositories parses and validates repositories.json
func ParseRepositories(raw []byte) (*RepositoriesDoc, error) {
	var doc RepositoriesDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, models.NewError(models.ErrServerMetadata, "repositories.json: %w", err)
	}

	seen := make(map[string]bool)
	for _, e := range doc.All() {
		if strings.TrimSpace(e.Name) == "" {
			return nil, models.NewError(models.ErrServerMetadata, "repositories.json: entry without a name")
		}
		if seen[e.Name] {
			return nil, models.NewError(models.ErrServerMetadata, "repositories.json: %s listed twice", e.Name)
		}
		seen[e.Name] = true
	}

	if doc.CVMFSVersion != "" && CanonicalVersion(doc.CVMFSVersion) == "" {
		return nil, models.NewError(models.ErrServerMetadata, "repositories.json: invalid cvmfs_version %q", doc.CVMFSVersion)
	}
	if _, err := utils.ParseDate(doc.LastGeoDBUpdate); err != nil {
		return nil, models.NewError(models.ErrServerMetadata, "repositories.json: last_geodb_update: %w", err)
	}

	return &doc, nil
}

// ParseMeta parses meta.json
func ParseMeta(raw []byte) (*MetaDoc, error) {
	var doc MetaDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, models.NewError(models.ErrServerMetadata, "meta.json: %w", err)
	}
	return &doc, nil
}

// All returns repositories and replicas together; no server has both
func (d *RepositoriesDoc) All() []RepositoryEntry {
	all := make([]RepositoryEntry, 0, len(d.Repositories)+len(d.Replicas))
	all = append(all, d.Repositories...)
	return append(all, d.Replicas...)
}

// Names returns the sorted names of every advertised repository
func (d *RepositoriesDoc) Names() []string {
	var names []string
	for _, e := range d.All() {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the entry advertised under name
func (d *RepositoriesDoc) Lookup(name string) (RepositoryEntry, bool) {
	for _, e := range d.All() {
		if e.Name == name {
			return e, true
		}
	}
	return RepositoryEntry{}, false
}

// ValidateServerType checks the document against the declared server role:
// a Stratum0 serves repositories, Stratum1 and sync servers serve replicas.
func ValidateServerType(t models.ServerType, doc *RepositoriesDoc) error {
	switch {
	case t == models.Stratum0 && len(doc.Replicas) > 0:
		return models.NewError(models.ErrServerMetadata, "server is a Stratum0, but replicas were found in repositories.json")
	case t == models.Stratum1 && len(doc.Replicas) == 0:
		return models.NewError(models.ErrServerMetadata, "server is a Stratum1, but no replicas were found in repositories.json")
	case t == models.SyncServer && len(doc.Replicas) == 0:
		return models.NewError(models.ErrServerMetadata, "server is a SyncServer, but no replicas were found in repositories.json")
	}
	return nil
}

// CanonicalVersion normalises a CVMFS version ("2.11.2-1") into semver form
// ("v2.11.2-1"). It returns "" if the version is not valid.
func CanonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}

// ServerMetadata merges repositories.json and meta.json. Every field is
// optional: S3 backends publish neither document and operators may withhold fields.
type ServerMetadata struct {
	SchemaVersion   *int            `json:"schema_version,omitempty"`
	CVMFSVersion    string          `json:"cvmfs_version,omitempty"`
	LastGeoDBUpdate *time.Time      `json:"last_geodb_update,omitempty"`
	OSID            string          `json:"os_id,omitempty"`
	OSVersionID     string          `json:"os_version_id,omitempty"`
	OSPrettyName    string          `json:"os_pretty_name,omitempty"`
	Administrator   string          `json:"administrator,omitempty"`
	Email           string          `json:"email,omitempty"`
	Organisation    string          `json:"organisation,omitempty"`
	Custom          json.RawMessage `json:"custom,omitempty"`
}

// Merge builds ServerMetadata from either document; both may be nil
func Merge(repos *RepositoriesDoc, meta *MetaDoc) ServerMetadata {
	var md ServerMetadata
	if meta != nil {
		md.Administrator = meta.Administrator
		md.Email = meta.Email
		md.Organisation = meta.Organisation
		md.Custom = meta.Custom
	}
	if repos != nil {
		schema := repos.Schema
		md.SchemaVersion = &schema
		md.CVMFSVersion = repos.CVMFSVersion
		md.OSID = repos.OSID
		md.OSVersionID = repos.OSVersionID
		md.OSPrettyName = repos.OSPrettyName
		// already validated by ParseRepositories
		md.LastGeoDBUpdate, _ = utils.ParseDate(repos.LastGeoDBUpdate)
	}
	return md
}

// String renders the non-empty fields on one line
func (m ServerMetadata) String() string {
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", k, v))
		}
	}
	add("cvmfs", m.CVMFSVersion)
	add("os", m.OSPrettyName)
	add("admin", m.Administrator)
	add("email", m.Email)
	add("org", m.Organisation)
	return strings.Join(parts, " ")
}
