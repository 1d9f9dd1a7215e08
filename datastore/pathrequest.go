package datastore

import (
	"path"

	"github.com/firmament-sync/firmament"
)

// PathRequestStore records each configured subtree's sync policy
// (full / on-demand / download-once / ignore), keyed by `/`-rooted path.
type PathRequestStore struct {
	*Store[firmament.PathRequestType]
}

// OpenPathRequestStore opens the PathRequest database at path.
func OpenPathRequestStore(dbPath string) (*PathRequestStore, error) {
	s, err := Open[firmament.PathRequestType](dbPath, rootedKey)
	if err != nil {
		return nil, err
	}
	return &PathRequestStore{s}, nil
}

// ResolveStatus walks from virtualPath up through its ancestors until it
// finds a configured policy, returning DefaultPathRequest if none of them
// have one. This avoids a fresh checkout mass-downloading everything before
// the operator has had a chance to read its path configuration.
func (s *PathRequestStore) ResolveStatus(virtualPath string) (firmament.PathRequestType, error) {
	current := virtualPath
	for {
		status, found, err := s.Get(current)
		if err != nil {
			return "", err
		}
		if found {
			return status, nil
		}
		parent := path.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return firmament.DefaultPathRequest, nil
}
