package datastore

import "github.com/firmament-sync/firmament"

// ContentBackendsStore records which backend names hold each content hash.
// The upload operator rewrites it wholesale from each pass's backend
// listings; it is advisory, and nothing in the upload path reads it back.
type ContentBackendsStore struct {
	*Store[[]string]
}

// OpenContentBackendsStore opens the ContentBackends database at path. Keys
// are content hashes, not virtual paths, so no leading-slash validation
// applies.
func OpenContentBackendsStore(path string) (*ContentBackendsStore, error) {
	s, err := Open[[]string](path, nil)
	if err != nil {
		return nil, err
	}
	return &ContentBackendsStore{s}, nil
}

// Add records that backendName holds hash, if it isn't already recorded.
func (s *ContentBackendsStore) Add(hash firmament.ContentHash, backendName string) error {
	names, _, err := s.Get(string(hash))
	if err != nil {
		return err
	}
	for _, n := range names {
		if n == backendName {
			return nil
		}
	}
	return s.Set(string(hash), append(names, backendName))
}

// Has reports whether backendName is recorded as holding hash.
func (s *ContentBackendsStore) Has(hash firmament.ContentHash, backendName string) (bool, error) {
	names, found, err := s.Get(string(hash))
	if err != nil || !found {
		return false, err
	}
	for _, n := range names {
		if n == backendName {
			return true, nil
		}
	}
	return false, nil
}
