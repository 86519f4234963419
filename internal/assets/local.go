package assets

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// LocalStore lists a directory tree, on disk or in memory.
type LocalStore struct {
	fs   afero.Fs
	root string
}

// NewLocalStore returns a store rooted at root on fs.
func NewLocalStore(fs afero.Fs, root string) *LocalStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &LocalStore{fs: fs, root: root}
}

// Name implements Lister.
func (s *LocalStore) Name() string { return "local" }

// List implements Lister.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, _ := splitPrefix(prefix)
	entries, err := afero.ReadDir(s.fs, filepath.Join(s.root, filepath.FromSlash(dir)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, storeError(err, s.Name(), "read_dir")
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return filterNames(dir, prefix, names), nil
}
