package fetch

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"path/filepath"

	"github.com/ralt/cvmfs-scraper/internal/utils"
)

// DirFetcher serves resources from a local directory laid out like a server
// root, for validating a mirror from its storage without going through HTTP.
type DirFetcher struct {
	Root     string
	MaxBytes int64
}

// NewDirFetcher creates a fetcher rooted at dir
func NewDirFetcher(dir string) *DirFetcher {
	return &DirFetcher{Root: dir, MaxBytes: DefaultMaxBytes}
}

// Fetch reads root/path
func (f *DirFetcher) Fetch(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, transportError(p, 0, err)
	}

	// Cleaning against "/" keeps ".." from climbing above the root
	clean := path.Clean("/" + p)
	full := filepath.Join(f.Root, filepath.FromSlash(clean))

	data, err := utils.ReadFileLimited(full, f.MaxBytes)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, transportError("file://"+full, 0, ErrNotFound)
		}
		return nil, transportError("file://"+full, 0, err)
	}
	return data, nil
}
