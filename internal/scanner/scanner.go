package scanner

import "context"

// Well-known files of a repository directory
const (
	ManifestFile  = ".cvmfspublished"
	StatusFile    = ".cvmfs_status.json"
	WhitelistFile = ".cvmfswhitelist"
)

// EntryType represents what a file in a repository directory is
type EntryType int

const (
	TypeUnknown EntryType = iota
	TypeManifest
	TypeStatus
	TypeWhitelist
)

// String returns the string representation of EntryType
func (et EntryType) String() string {
	switch et {
	case TypeManifest:
		return "manifest"
	case TypeStatus:
		return "status"
	case TypeWhitelist:
		return "whitelist"
	default:
		return "unknown"
	}
}

// ScannedRepository represents a repository found during scanning
type ScannedRepository struct {
	Name string
	// Path is the repository directory
	Path         string
	ManifestSize int64
	HasStatus    bool
	HasWhitelist bool
}

// Scanner interface for discovering repositories
type Scanner interface {
	// Scan recursively scans a storage root for repositories
	Scan(ctx context.Context, root string) ([]ScannedRepository, error)

	// DetectType determines what a repository file is
	DetectType(path string) (EntryType, error)
}
