/*
Package checkpoint stores gate checkpoints and proof artifacts, and loads
them back for the dashboard.
*/
package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/theapemachine/gridswarm/pkg/errors"
)

const DefaultDir = ".checkpoints"

/*
Store is a flat namespace of JSON blobs. Keys may contain "/", and List
matches keys with path.Match semantics, so "*" never crosses a "/".
*/
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, pattern string) ([]string, error)
}

// FileStore keeps each key as a file under Dir.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = DefaultDir
	}
	return &FileStore{Dir: dir}
}

// Put writes data and syncs it to disk before returning.
func (store *FileStore) Put(_ context.Context, key string, data []byte) error {
	path := filepath.Join(store.Dir, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create checkpoint %s: %w", key, err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("write checkpoint %s: %w", key, err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("sync checkpoint %s: %w", key, err)
	}

	return file.Close()
}

func (store *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	buf, err := os.ReadFile(filepath.Join(store.Dir, filepath.FromSlash(key)))

	if os.IsNotExist(err) {
		return nil, errors.ErrCheckpointNotFound.WithMessagef("checkpoint %s not found in %s", key, store.Dir)
	}

	return buf, err
}

// List returns the sorted keys matching pattern. A missing Dir lists nothing.
func (store *FileStore) List(_ context.Context, pattern string) ([]string, error) {
	if _, err := os.Stat(store.Dir); os.IsNotExist(err) {
		return nil, nil
	}

	matches, err := filepath.Glob(filepath.Join(store.Dir, filepath.FromSlash(pattern)))
	if err != nil {
		return nil, fmt.Errorf("list checkpoints %q: %w", pattern, err)
	}

	keys := make([]string, 0, len(matches))

	for _, match := range matches {
		rel, err := filepath.Rel(store.Dir, match)
		if err != nil {
			continue
		}
		keys = append(keys, filepath.ToSlash(rel))
	}

	sort.Strings(keys)
	return keys, nil
}
