package operator

import (
	"context"
	"errors"

	"github.com/golang/glog"

	"github.com/firmament-sync/firmament"
	"github.com/firmament-sync/firmament/backend"
	"github.com/firmament-sync/firmament/datastore"
	"github.com/firmament-sync/firmament/diff"
)

// UploadOperator uploads every content hash present locally but missing
// from a backend, listing every backend on every pass, and replaces the
// ContentBackends index with what those listings and uploads show each
// backend holds.
type UploadOperator struct {
	Root            string
	LocalVersions   *datastore.LocalVersionStore
	ContentBackends *datastore.ContentBackendsStore
	Backends        map[string]backend.Backend
}

func (o *UploadOperator) Name() string { return "content-upload" }

func (o *UploadOperator) Step(ctx context.Context) (bool, error) {
	local, err := o.LocalVersions.AllContentHashes()
	if err != nil {
		return false, err
	}

	holders := make(map[firmament.ContentHash]map[string]struct{})
	uploaded := 0

	for backendName, b := range o.Backends {
		remote, err := b.ContentList()
		if err != nil {
			glog.Warningf("content-upload: listing %s failed, skipping this pass: %v", backendName, err)
			continue
		}

		remoteSet := make(map[firmament.ContentHash]struct{}, len(remote))
		for hash := range remote {
			h := firmament.ContentHash(hash)
			remoteSet[h] = struct{}{}
			recordHolder(holders, h, backendName)
		}

		for _, hash := range diff.Missing(local, remoteSet) {
			path, _, err := o.LocalVersions.ByContentHash(hash)
			if err != nil {
				// The LocalVersion that gave us this hash disappeared from
				// the index between listing and uploading; not our fault.
				glog.Warningf("content-upload: %s no longer has a known path, skipping", hash)
				continue
			}

			var backendErr *backend.BackendError
			if err := b.ContentUpload(string(hash), toDiskPath(o.Root, path)); err != nil {
				if errors.As(err, &backendErr) {
					glog.Warningf("content-upload: failed to upload %s to %s: %v", hash, backendName, err)
					continue
				}
				return uploaded > 0, err
			}
			recordHolder(holders, hash, backendName)
			uploaded++
			glog.V(3).Infof("content-upload: uploaded %s to %s", hash, backendName)
		}
	}

	index := make(map[string][]string, len(holders))
	for hash, names := range holders {
		list := make([]string, 0, len(names))
		for name := range names {
			list = append(list, name)
		}
		index[string(hash)] = list
	}
	if err := o.ContentBackends.SetAll(index); err != nil {
		return uploaded > 0, err
	}

	return uploaded > 0, nil
}

func recordHolder(holders map[firmament.ContentHash]map[string]struct{}, hash firmament.ContentHash, backendName string) {
	names, ok := holders[hash]
	if !ok {
		names = make(map[string]struct{})
		holders[hash] = names
	}
	names[backendName] = struct{}{}
}
