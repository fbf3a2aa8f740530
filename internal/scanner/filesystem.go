package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
)

// FileSystemScanner implements Scanner interface for filesystem scanning
type FileSystemScanner struct{}

// NewFileSystemScanner creates a new filesystem scanner
func NewFileSystemScanner() *FileSystemScanner {
	return &FileSystemScanner{}
}

// Scan walks root looking for repository manifests. Content-addressed "data"
// trees are not descended into.
func (s *FileSystemScanner) Scan(ctx context.Context, root string) ([]ScannedRepository, error) {
	var repos []ScannedRepository

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// Check context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if d.IsDir() {
			if d.Name() == "data" && path != root {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Name() != ManifestFile {
			return nil
		}

		entryType, err := s.DetectType(path)
		if err != nil {
			logrus.Warnf("Failed to detect type for %s: %v", path, err)
			return nil
		}
		if entryType != TypeManifest {
			logrus.Debugf("Ignoring %s: not a manifest", path)
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		dir := filepath.Dir(path)
		repo := ScannedRepository{
			Name:         filepath.Base(dir),
			Path:         dir,
			ManifestSize: info.Size(),
		}
		repo.HasStatus = s.has(filepath.Join(dir, StatusFile), TypeStatus)
		repo.HasWhitelist = s.has(filepath.Join(dir, WhitelistFile), TypeWhitelist)

		logrus.Debugf("Found repository %s: %s", repo.Name, dir)
		repos = append(repos, repo)

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to scan directory: %w", err)
	}

	sort.Slice(repos, func(i, j int) bool {
		return repos[i].Name < repos[j].Name
	})

	logrus.Infof("Found %d repositories in %s", len(repos), root)
	return repos, nil
}

// DetectType determines what a repository file is
func (s *FileSystemScanner) DetectType(path string) (EntryType, error) {
	return DetectEntryType(path)
}

func (s *FileSystemScanner) has(path string, want EntryType) bool {
	t, err := s.DetectType(path)
	return err == nil && t == want
}

// Names returns the names of the scanned repositories
func Names(repos []ScannedRepository) []string {
	names := make([]string, 0, len(repos))
	for _, r := range repos {
		names = append(names, r.Name)
	}
	return names
}
