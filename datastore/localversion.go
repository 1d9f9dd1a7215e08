package datastore

import (
	"fmt"

	"github.com/firmament-sync/firmament"
)

// LocalVersionStore records what this checkout currently sees on disk, keyed
// by `/`-rooted virtual path.
type LocalVersionStore struct {
	*Store[firmament.LocalVersionData]
}

// OpenLocalVersionStore opens the LocalVersion database at path.
func OpenLocalVersionStore(path string) (*LocalVersionStore, error) {
	s, err := Open[firmament.LocalVersionData](path, rootedKey)
	if err != nil {
		return nil, err
	}
	return &LocalVersionStore{s}, nil
}

// ByContentHash returns the first path whose recorded content hash matches,
// mirroring a by_content_hash reverse lookup.
func (s *LocalVersionStore) ByContentHash(hash firmament.ContentHash) (string, firmament.LocalVersionData, error) {
	items, err := s.Items()
	if err != nil {
		return "", firmament.LocalVersionData{}, err
	}
	for path, data := range items {
		if data.ContentHash != nil && *data.ContentHash == hash {
			return path, data, nil
		}
	}
	return "", firmament.LocalVersionData{}, fmt.Errorf("datastore: no local version with content hash %s", hash)
}

// AllContentHashes returns the set of every hashed (non-nil ContentHash)
// entry currently recorded.
func (s *LocalVersionStore) AllContentHashes() (map[firmament.ContentHash]struct{}, error) {
	values, err := s.Values()
	if err != nil {
		return nil, err
	}
	result := make(map[firmament.ContentHash]struct{})
	for _, data := range values {
		if data.ContentHash != nil {
			result[*data.ContentHash] = struct{}{}
		}
	}
	return result, nil
}

// WithoutContentHashes returns the paths that have been seen by the scanner
// but not yet hashed.
func (s *LocalVersionStore) WithoutContentHashes() ([]string, error) {
	items, err := s.Items()
	if err != nil {
		return nil, err
	}
	var paths []string
	for path, data := range items {
		if data.ContentHash == nil {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// NotInFileVersions returns every (path, LocalVersionData) pair that has a
// content hash with no matching FileVersion entry at that path — work the
// version-creation operator still needs to do.
func (s *LocalVersionStore) NotInFileVersions(fileVersions *FileVersionStore) (map[string]firmament.LocalVersionData, error) {
	items, err := s.Items()
	if err != nil {
		return nil, err
	}
	result := make(map[string]firmament.LocalVersionData)
	for path, data := range items {
		if data.ContentHash == nil {
			continue
		}
		fv, found, err := fileVersions.Get(path)
		if err != nil {
			return nil, err
		}
		if !found {
			result[path] = data
			continue
		}
		if _, ok := fv[*data.ContentHash]; !ok {
			result[path] = data
		}
	}
	return result, nil
}
