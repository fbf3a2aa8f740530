package metadata

import (
	"testing"

	"github.com/ralt/cvmfs-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stratum1Doc = `{
  "schema": 1,
  "cvmfs_version": "2.11.2-1",
  "os_id": "rhel",
  "os_version_id": "9",
  "os_pretty_name": "Red Hat Enterprise Linux 9.3 (Plow)",
  "last_geodb_update": "Tue Mar 26 11:09:46 UTC 2024",
  "repositories": [],
  "replicas": [
    {"name": "software.example.org", "url": "/cvmfs/software.example.org"},
    {"name": "data.example.org", "url": "/cvmfs/data.example.org"}
  ]
}`

func TestParseRepositories(t *testing.T) {
	doc, err := ParseRepositories([]byte(stratum1Doc))
	require.NoError(t, err)

	assert.Equal(t, 1, doc.Schema)
	assert.Equal(t, []string{"data.example.org", "software.example.org"}, doc.Names())
	assert.Len(t, doc.All(), 2)

	e, ok := doc.Lookup("software.example.org")
	require.True(t, ok)
	assert.Equal(t, "/cvmfs/software.example.org", e.URL)

	_, ok = doc.Lookup("missing.example.org")
	assert.False(t, ok)
}

func TestParseRepositoriesRejects(t *testing.T) {
	tests := map[string]string{
		"not json":       `[`,
		"nameless entry": `{"repositories": [{"url": "/cvmfs/x"}]}`,
		"duplicate":      `{"repositories": [{"name": "a.org"}], "replicas": [{"name": "a.org"}]}`,
		"bad version":    `{"cvmfs_version": "two point eleven"}`,
		"bad geodb date": `{"last_geodb_update": "sometime"}`,
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			doc, err := ParseRepositories([]byte(raw))
			assert.Nil(t, doc)
			assert.True(t, models.IsType(err, models.ErrServerMetadata), "got %v", err)
		})
	}
}

func TestValidateServerType(t *testing.T) {
	repos := &RepositoriesDoc{Repositories: []RepositoryEntry{{Name: "a.org"}}}
	replicas := &RepositoriesDoc{Replicas: []RepositoryEntry{{Name: "a.org"}}}

	assert.NoError(t, ValidateServerType(models.Stratum0, repos))
	assert.NoError(t, ValidateServerType(models.Stratum1, replicas))
	assert.NoError(t, ValidateServerType(models.SyncServer, replicas))

	for _, tt := range []struct {
		t   models.ServerType
		doc *RepositoriesDoc
	}{
		{models.Stratum0, replicas},
		{models.Stratum1, repos},
		{models.SyncServer, repos},
	} {
		err := ValidateServerType(tt.t, tt.doc)
		assert.True(t, models.IsType(err, models.ErrServerMetadata), "%s: %v", tt.t, err)
	}
}

func TestCanonicalVersion(t *testing.T) {
	assert.Equal(t, "v2.11.2", CanonicalVersion("2.11.2"))
	assert.Equal(t, "v2.11.2-1", CanonicalVersion("2.11.2-1"))
	assert.Equal(t, "v2.10.0", CanonicalVersion("v2.10"))
	assert.Equal(t, "", CanonicalVersion("latest"))
}

func TestMerge(t *testing.T) {
	doc, err := ParseRepositories([]byte(stratum1Doc))
	require.NoError(t, err)
	meta, err := ParseMeta([]byte(`{"administrator": "Ops", "email": "ops@example.org", "organisation": "Example", "custom": {"site": "T1"}}`))
	require.NoError(t, err)

	md := Merge(doc, meta)
	require.NotNil(t, md.SchemaVersion)
	assert.Equal(t, 1, *md.SchemaVersion)
	assert.Equal(t, "2.11.2-1", md.CVMFSVersion)
	require.NotNil(t, md.LastGeoDBUpdate)
	assert.Equal(t, 2024, md.LastGeoDBUpdate.Year())
	assert.Equal(t, "Ops", md.Administrator)
	assert.JSONEq(t, `{"site": "T1"}`, string(md.Custom))
	assert.Contains(t, md.String(), "email=ops@example.org")

	empty := Merge(nil, nil)
	assert.Nil(t, empty.SchemaVersion)
	assert.Equal(t, "", empty.String())

	_, err = ParseMeta([]byte(`"just a string"`))
	assert.True(t, models.IsType(err, models.ErrServerMetadata))
}
