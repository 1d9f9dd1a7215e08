package datastore

import "github.com/firmament-sync/firmament"

// FileVersionStore is the global, cross-checkout history of content hashes
// observed at each `/`-rooted virtual path.
type FileVersionStore struct {
	*Store[firmament.FileVersionData]
}

// OpenFileVersionStore opens the FileVersion database at path.
func OpenFileVersionStore(path string) (*FileVersionStore, error) {
	s, err := Open[firmament.FileVersionData](path, rootedKey)
	if err != nil {
		return nil, err
	}
	return &FileVersionStore{s}, nil
}

// SetWithContent merges one (content hash, meta) entry into path's history,
// creating the history if this is the first entry for path.
func (s *FileVersionStore) SetWithContent(path string, hash firmament.ContentHash, meta firmament.FileVersionMeta) error {
	data, found, err := s.Get(path)
	if err != nil {
		return err
	}
	if !found {
		data = make(firmament.FileVersionData)
	}
	data[hash] = meta
	return s.Set(path, data)
}

// MostRecentContent returns the mtime-maximum content hash and its meta for
// path, or found=false if path has no history.
func (s *FileVersionStore) MostRecentContent(path string) (firmament.ContentHash, firmament.FileVersionMeta, bool, error) {
	data, found, err := s.Get(path)
	if err != nil || !found {
		return "", firmament.FileVersionMeta{}, false, err
	}
	hash, meta, ok := data.MostRecent()
	return hash, meta, ok, nil
}

// DeletedPaths returns every path whose mtime-maximum entry is the deleted
// sentinel — tombstones the materializer must unlink locally.
func (s *FileVersionStore) DeletedPaths() ([]string, error) {
	items, err := s.Items()
	if err != nil {
		return nil, err
	}
	var deleted []string
	for path, data := range items {
		hash, _, ok := data.MostRecent()
		if ok && hash == firmament.DeletedSentinel {
			deleted = append(deleted, path)
		}
	}
	return deleted, nil
}
