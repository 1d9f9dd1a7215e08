package operator

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"

	"github.com/firmament-sync/firmament"
	"github.com/firmament-sync/firmament/backend"
	"github.com/firmament-sync/firmament/datastore"
)

// defaultMaxPerLoop bounds how many files MaterializeOperator will
// create or delete in a single step, the same kind of backstop a GC tool
// applies to its own destructive passes.
const defaultMaxPerLoop = 20

// MaterializeOperator is the local materializer ("local_create" in the
// original implementation): it creates on-disk files for FileVersion paths
// that don't have a LocalVersion yet and whose sync policy wants them
// present, and it unlinks files whose FileVersion history has tombstoned.
type MaterializeOperator struct {
	Root          string
	FileVersions  *datastore.FileVersionStore
	LocalVersions *datastore.LocalVersionStore
	PathRequests  *datastore.PathRequestStore
	Backends      map[string]backend.Backend
	// BackendOrder lists backend names in download-priority order; a
	// backend not listed here is never consulted for downloads.
	BackendOrder []string
	// MaxPerLoop caps how much work one Step does; zero uses
	// defaultMaxPerLoop.
	MaxPerLoop int
}

func (o *MaterializeOperator) Name() string { return "local-create" }

func (o *MaterializeOperator) maxPerLoop() int {
	if o.MaxPerLoop > 0 {
		return o.MaxPerLoop
	}
	return defaultMaxPerLoop
}

func (o *MaterializeOperator) Step(ctx context.Context) (bool, error) {
	created, err := o.materializeMissing()
	if err != nil {
		return created > 0, err
	}
	deleted, err := o.removeTombstoned()
	if err != nil {
		return created > 0 || deleted > 0, err
	}
	return created > 0 || deleted > 0, nil
}

func (o *MaterializeOperator) materializeMissing() (int, error) {
	allVersions, err := o.FileVersions.Keys()
	if err != nil {
		return 0, err
	}
	local, err := o.LocalVersions.Keys()
	if err != nil {
		return 0, err
	}
	localSet := make(map[string]struct{}, len(local))
	for _, p := range local {
		localSet[p] = struct{}{}
	}

	created := 0
	for _, path := range allVersions {
		if created >= o.maxPerLoop() {
			break
		}
		if _, ok := localSet[path]; ok {
			continue
		}

		status, err := o.PathRequests.ResolveStatus(path)
		if err != nil {
			return created, err
		}
		if status != firmament.PathRequestFull && status != firmament.PathRequestDownloadOnce {
			continue
		}

		hash, meta, found, err := o.FileVersions.MostRecentContent(path)
		if err != nil {
			return created, err
		}
		if !found || hash == firmament.DeletedSentinel {
			continue
		}

		ok, err := o.materializeOne(path, hash, meta)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// materializeOne downloads hash from the highest-priority backend that has
// it, into a sibling temp file, then renames it into place.
func (o *MaterializeOperator) materializeOne(path string, hash firmament.ContentHash, meta firmament.FileVersionMeta) (bool, error) {
	final := toDiskPath(o.Root, path)
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return false, err
	}
	temp := filepath.Join(filepath.Dir(final), ".firmament-temp."+filepath.Base(final))

	for _, backendName := range o.BackendOrder {
		b, ok := o.Backends[backendName]
		if !ok {
			continue
		}
		exists, err := b.ContentExists(string(hash))
		if err != nil {
			glog.Warningf("local-create: checking %s on %s failed: %v", hash, backendName, err)
			continue
		}
		if !exists {
			continue
		}

		if err := b.ContentDownload(string(hash), temp); err != nil {
			glog.Warningf("local-create: downloading %s from %s failed: %v", hash, backendName, err)
			continue
		}

		mtime := unixToTime(meta.Mtime)
		if err := os.Chtimes(temp, mtime, mtime); err != nil {
			os.Remove(temp)
			return false, err
		}
		if err := os.Rename(temp, final); err != nil {
			os.Remove(temp)
			return false, err
		}

		if err := o.LocalVersions.Set(path, firmament.LocalVersionData{
			ContentHash: nil,
			Mtime:       meta.Mtime,
			Size:        meta.Size,
		}); err != nil {
			return false, err
		}
		glog.V(3).Infof("local-create: materialized %s from %s", path, backendName)
		return true, nil
	}

	glog.Warningf("local-create: content %s for %s is not available on any backend", hash, path)
	return false, nil
}

func (o *MaterializeOperator) removeTombstoned() (int, error) {
	deleted := 0
	tombstoned, err := o.FileVersions.DeletedPaths()
	if err != nil {
		return 0, err
	}
	for _, path := range tombstoned {
		if deleted >= o.maxPerLoop() {
			break
		}
		if _, found, err := o.LocalVersions.Get(path); err != nil {
			return deleted, err
		} else if !found {
			continue
		}

		diskPath := toDiskPath(o.Root, path)
		if err := os.Remove(diskPath); err != nil && !os.IsNotExist(err) {
			return deleted, err
		}
		if err := o.LocalVersions.Delete(path); err != nil {
			return deleted, err
		}
		deleted++
		glog.V(3).Infof("local-create: removed tombstoned %s", path)
	}
	return deleted, nil
}

// DownloadOnceCleanupOperator removes a "download-once" PathRequest once
// every FileVersion path under its prefix already has a LocalVersion, so a
// one-shot sync policy doesn't linger and get re-evaluated forever.
type DownloadOnceCleanupOperator struct {
	FileVersions  *datastore.FileVersionStore
	LocalVersions *datastore.LocalVersionStore
	PathRequests  *datastore.PathRequestStore
}

func (o *DownloadOnceCleanupOperator) Name() string { return "download-once-cleanup" }

func (o *DownloadOnceCleanupOperator) Step(ctx context.Context) (bool, error) {
	requests, err := o.PathRequests.Items()
	if err != nil {
		return false, err
	}
	versionPaths, err := o.FileVersions.Keys()
	if err != nil {
		return false, err
	}

	cleaned := 0
	for path, requestType := range requests {
		if requestType != firmament.PathRequestDownloadOnce {
			continue
		}

		allDownloaded := true
		prefix := path + "/"
		for _, versionPath := range versionPaths {
			if versionPath != path && !strings.HasPrefix(versionPath, prefix) {
				continue
			}
			if _, found, err := o.LocalVersions.Get(versionPath); err != nil {
				return cleaned, err
			} else if !found {
				allDownloaded = false
				break
			}
		}

		if allDownloaded {
			if err := o.PathRequests.Delete(path); err != nil {
				return cleaned, err
			}
			cleaned++
			glog.V(3).Infof("download-once-cleanup: removed request for %s", path)
		}
	}
	return cleaned > 0, nil
}
