package operator

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/firmament-sync/firmament"
	"github.com/firmament-sync/firmament/datastore"
)

// metadataDirName is the checkout subdirectory holding every datastore and
// the config file; the scanner never descends into or records it.
const metadataDirName = ".firmament"

// ScannerOperator walks the checkout root and records a LocalVersion for
// every file it finds that's new or has a newer mtime than what's stored.
// It also notices files that have disappeared since the last pass: under a
// "full" sync policy a disappearance becomes a deletion FileVersion, so the
// rest of the checkout's universe learns about it; under any other policy
// the LocalVersion is simply forgotten.
type ScannerOperator struct {
	Root          string
	LocalVersions *datastore.LocalVersionStore
	FileVersions  *datastore.FileVersionStore
	PathRequests  *datastore.PathRequestStore
}

func (o *ScannerOperator) Name() string { return "local-scanner" }

func (o *ScannerOperator) Step(ctx context.Context) (bool, error) {
	seen := make(map[string]struct{})
	scanned, upserted := 0, 0

	err := filepath.WalkDir(o.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if name == metadataDirName && path != o.Root {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, metadataDirName) {
			return nil
		}

		scanned++
		virtual, err := toVirtualPath(o.Root, path)
		if err != nil {
			return err
		}
		seen[virtual] = struct{}{}

		info, err := d.Info()
		if err != nil {
			return err
		}
		mtime := info.ModTime().Unix()

		existing, found, err := o.LocalVersions.Get(virtual)
		if err != nil {
			return err
		}
		if !found || existing.Mtime < mtime {
			if err := o.LocalVersions.Set(virtual, firmament.LocalVersionData{
				ContentHash: nil,
				Mtime:       mtime,
				Size:        info.Size(),
			}); err != nil {
				return err
			}
			upserted++
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	deleted, err := o.reconcileDeletions(seen)
	if err != nil {
		return false, err
	}

	glog.V(3).Infof("local-scanner: scanned %d files", scanned)
	if upserted > 0 {
		glog.Infof("local-scanner: %d new or changed files discovered", upserted)
	}
	if deleted > 0 {
		glog.Infof("local-scanner: %d files no longer present locally", deleted)
	}
	return upserted > 0 || deleted > 0, nil
}

// reconcileDeletions forgets every stored LocalVersion path that wasn't
// among the paths seen during this walk, propagating a tombstone
// FileVersion for paths under a "full" sync policy.
func (o *ScannerOperator) reconcileDeletions(seen map[string]struct{}) (int, error) {
	known, err := o.LocalVersions.Keys()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, path := range known {
		if _, ok := seen[path]; ok {
			continue
		}

		status, err := o.PathRequests.ResolveStatus(path)
		if err != nil {
			return deleted, err
		}
		if status == firmament.PathRequestFull {
			// The tombstone must be the mtime-maximum entry, even when the
			// file was written and removed within the same second.
			tombstoneMtime := time.Now().Unix()
			_, current, found, err := o.FileVersions.MostRecentContent(path)
			if err != nil {
				return deleted, err
			}
			if found && current.Mtime >= tombstoneMtime {
				tombstoneMtime = current.Mtime + 1
			}
			if err := o.FileVersions.SetWithContent(path, firmament.DeletedSentinel, firmament.FileVersionMeta{
				Mtime: tombstoneMtime,
			}); err != nil {
				return deleted, err
			}
		}
		if err := o.LocalVersions.Delete(path); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// toVirtualPath converts an absolute on-disk path under root into the
// `/`-rooted virtual path every datastore key uses.
func toVirtualPath(root, diskPath string) (string, error) {
	rel, err := filepath.Rel(root, diskPath)
	if err != nil {
		return "", err
	}
	return "/" + filepath.ToSlash(rel), nil
}

// toDiskPath is toVirtualPath's inverse.
func toDiskPath(root, virtual string) string {
	return filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(virtual, "/")))
}
