package operator

import (
	"context"

	"github.com/golang/glog"

	"github.com/firmament-sync/firmament"
	"github.com/firmament-sync/firmament/backend"
	"github.com/firmament-sync/firmament/datastore"
)

// SyncOperator is the cross-checkout propagation mechanism: it merges every
// backend's FileVersion set into the local one, then pushes the merged set
// back out to every backend. Each backend's own merge loop
// (backend.ComposedBackend.FileVersionUpload) resolves concurrent writers,
// so this operator only needs to compute the union.
type SyncOperator struct {
	FileVersions *datastore.FileVersionStore
	Backends     map[string]backend.Backend
}

func (o *SyncOperator) Name() string { return "fileversion-sync" }

func (o *SyncOperator) Step(ctx context.Context) (bool, error) {
	merged, err := o.FileVersions.All()
	if err != nil {
		return false, err
	}

	newEntries := 0
	for backendName, b := range o.Backends {
		remote, err := b.FileVersionDownload()
		if err != nil {
			glog.Warningf("fileversion-sync: downloading from %s failed, skipping this pass: %v", backendName, err)
			continue
		}

		for path, contents := range remote {
			for hash, meta := range contents {
				existing := merged[path]
				if _, known := existing[hash]; known {
					continue
				}
				if err := o.FileVersions.SetWithContent(path, hash, meta); err != nil {
					return newEntries > 0, err
				}
				if existing == nil {
					existing = make(firmament.FileVersionData)
					merged[path] = existing
				}
				existing[hash] = meta
				newEntries++
				glog.V(3).Infof("fileversion-sync: new remote file version %s@%s from %s", path, hash, backendName)
			}
		}
	}

	for backendName, b := range o.Backends {
		if err := b.FileVersionUpload(merged); err != nil {
			glog.Warningf("fileversion-sync: uploading to %s failed: %v", backendName, err)
		}
	}

	return newEntries > 0, nil
}
