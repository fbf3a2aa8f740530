package status

import (
	"errors"
	"testing"
	"time"

	"github.com/ralt/cvmfs-scraper/internal/manifest"
	"github.com/ralt/cvmfs-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hashA = "ee1a1bfa5d8e8c93ffd2a2b9b3bdda77f1a2b6c7"
	hashB = "0123456789abcdef0123456789abcdef01234567"
)

func TestParseStatus(t *testing.T) {
	raw := `{
		"last_snapshot": "Fri Mar  1 12:00:00 UTC 2024",
		"last_gc": "2024-02-28T03:00:00Z",
		"root_hash": "` + hashA + `",
		"revision": 5
	}`

	st, err := ParseStatus([]byte(raw))
	require.NoError(t, err)

	require.NotNil(t, st.LastSnapshot)
	assert.Equal(t, time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC), st.LastSnapshot.UTC())
	require.NotNil(t, st.LastGC)
	assert.Equal(t, 28, st.LastGC.Day())
	require.NotNil(t, st.RootHash)
	assert.Equal(t, hashA, st.RootHash.String())
	require.NotNil(t, st.Revision)
	assert.Equal(t, uint64(5), *st.Revision)
}

func TestParseStatusOptionalFields(t *testing.T) {
	st, err := ParseStatus([]byte(`{"revision": "12", "extra": true}`))
	require.NoError(t, err)
	assert.Nil(t, st.LastSnapshot)
	assert.Nil(t, st.LastGC)
	assert.Nil(t, st.RootHash)
	require.NotNil(t, st.Revision)
	assert.Equal(t, uint64(12), *st.Revision)

	st, err = ParseStatus([]byte(`{}`))
	require.NoError(t, err)
	assert.Nil(t, st.Revision)
}

func TestParseStatusMalformed(t *testing.T) {
	tests := map[string]string{
		"not json":        `last_snapshot: yesterday`,
		"bad date":        `{"last_snapshot": "the day before yesterday"}`,
		"bad root hash":   `{"root_hash": "abc"}`,
		"negative":        `{"revision": -1}`,
		"fractional":      `{"revision": 1.5}`,
		"quoted non-int":  `{"revision": "five"}`,
		"wrong json type": `{"revision": true}`,
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			st, err := ParseStatus([]byte(raw))
			assert.Nil(t, st)
			assert.True(t, models.IsType(err, models.ErrMalformedStatus), "got %v", err)
		})
	}
}

func testManifest(t *testing.T, root string, rev uint64) *manifest.Manifest {
	t.Helper()
	h, err := manifest.ParseHash(root)
	require.NoError(t, err)
	return &manifest.Manifest{RootCatalog: h, Revision: rev, Name: "software.example.org"}
}

func testStatus(t *testing.T, root string, rev *uint64) *Status {
	t.Helper()
	st := &Status{Revision: rev}
	if root != "" {
		h, err := manifest.ParseHash(root)
		require.NoError(t, err)
		st.RootHash = &h
	}
	return st
}

func TestReconcile(t *testing.T) {
	five, four := uint64(5), uint64(4)
	m := testManifest(t, hashA, 5)

	tests := []struct {
		name      string
		st        *Status
		statusErr error
		want      Verdict
	}{
		{"consistent", testStatus(t, hashA, &five), nil, Consistent},
		{"revision mismatch", testStatus(t, hashA, &four), nil, RevisionMismatch},
		{"root hash mismatch", testStatus(t, hashB, &five), nil, RootHashMismatch},
		{"root hash wins over revision", testStatus(t, hashB, &four), nil, RootHashMismatch},
		{"no revision", testStatus(t, hashA, nil), nil, StatusIncomplete},
		{"no root hash", testStatus(t, "", &five), nil, StatusIncomplete},
		{"missing", nil, nil, StatusMissing},
		{"transport error", nil, models.NewError(models.ErrTransport, "GET: status 404"), StatusMissing},
		{"untyped error", nil, errors.New("boom"), StatusMissing},
		{"malformed", nil, models.NewError(models.ErrMalformedStatus, "invalid JSON"), StatusMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Reconcile(m, tt.st, tt.statusErr)
			assert.Equal(t, tt.want, rec.Verdict, rec.Detail)
		})
	}
}

func TestReconcileFromDocument(t *testing.T) {
	m := testManifest(t, hashA, 5)

	st, err := ParseStatus([]byte(`{"root_hash": "` + hashA + `", "revision": 5}`))
	require.NoError(t, err)
	assert.Equal(t, Consistent, Reconcile(m, st, nil).Verdict)

	st, err = ParseStatus([]byte(`{"root_hash": "` + hashA + `", "revision": 4}`))
	require.NoError(t, err)
	rec := Reconcile(m, st, nil)
	assert.Equal(t, RevisionMismatch, rec.Verdict)
	assert.Equal(t, "manifest 5, status 4", rec.Detail)

	_, err = ParseStatus([]byte(`{`))
	assert.Equal(t, StatusMalformed, Reconcile(m, nil, err).Verdict)
}

func TestVerdictText(t *testing.T) {
	text, err := RevisionMismatch.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "RevisionMismatch", string(text))
	assert.Equal(t, "Unknown", Verdict(42).String())

	var zero Reconciliation
	assert.Equal(t, NotReconciled, zero.Verdict)
	assert.NotEqual(t, Consistent, zero.Verdict)
}
