// Package firmament holds the data model shared by every other package in
// the reconciliation engine: content hashes, the per-checkout LocalVersion
// record, the global FileVersion history, and path sync policies.
package firmament

import "fmt"

// ContentHash is the lowercase hex SHA-256 digest of a file body, or the
// DeletedSentinel marking a tombstone FileVersion entry.
type ContentHash string

// DeletedSentinel marks a FileVersion entry as "this path is absent".
const DeletedSentinel ContentHash = "__deleted__"

// LocalVersionData is this checkout's record of one on-disk file. ContentHash
// is nil when the file has been observed by the scanner but not yet hashed.
type LocalVersionData struct {
	ContentHash *ContentHash `msgpack:"content_hash"`
	Mtime       int64        `msgpack:"mtime"`
	Size        int64        `msgpack:"size"`
	LastHashed  *int64       `msgpack:"last_hashed,omitempty"`
}

func (d LocalVersionData) String() string {
	hash := "<unhashed>"
	if d.ContentHash != nil {
		hash = string(*d.ContentHash)
	}
	return fmt.Sprintf("{hash: %s, mtime: %d, size: %d}", hash, d.Mtime, d.Size)
}

// FileVersionMeta is the metadata recorded against one (path, content hash)
// pair in the global FileVersion history.
type FileVersionMeta struct {
	Mtime int64 `msgpack:"mtime"`
	Size  int64 `msgpack:"size"`
}

// FileVersionData is the full history of content hashes observed for one
// path. The entry with the largest Mtime is the "current" version.
type FileVersionData map[ContentHash]FileVersionMeta

// MostRecent returns the content hash with the largest Mtime and its meta,
// or ("", FileVersionMeta{}, false) if the history is empty.
func (d FileVersionData) MostRecent() (ContentHash, FileVersionMeta, bool) {
	var (
		best      ContentHash
		bestMeta  FileVersionMeta
		bestMtime int64
		found     bool
	)
	for hash, meta := range d {
		if !found || meta.Mtime > bestMtime {
			best, bestMeta, bestMtime, found = hash, meta, meta.Mtime, true
		}
	}
	return best, bestMeta, found
}

// PathRequestType is a per-subtree download policy.
type PathRequestType string

const (
	PathRequestFull         PathRequestType = "full"
	PathRequestOnDemand     PathRequestType = "on-demand"
	PathRequestDownloadOnce PathRequestType = "download-once"
	PathRequestIgnore       PathRequestType = "ignore"
)

// DefaultPathRequest is returned by resolution when no ancestor has a policy.
const DefaultPathRequest = PathRequestOnDemand
