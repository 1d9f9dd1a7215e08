package operator

import (
	"context"

	"github.com/golang/glog"

	"github.com/firmament-sync/firmament"
	"github.com/firmament-sync/firmament/datastore"
)

// VersionCreateOperator promotes every hashed LocalVersion into the global
// FileVersion history, once per distinct (path, content hash) pair.
type VersionCreateOperator struct {
	LocalVersions *datastore.LocalVersionStore
	FileVersions  *datastore.FileVersionStore
}

func (o *VersionCreateOperator) Name() string { return "local-version-creation" }

func (o *VersionCreateOperator) Step(ctx context.Context) (bool, error) {
	pending, err := o.LocalVersions.NotInFileVersions(o.FileVersions)
	if err != nil {
		return false, err
	}

	added := 0
	for path, data := range pending {
		if data.ContentHash == nil {
			continue
		}
		if err := o.FileVersions.SetWithContent(path, *data.ContentHash, firmament.FileVersionMeta{
			Mtime: data.Mtime,
			Size:  data.Size,
		}); err != nil {
			return added > 0, err
		}
		added++
		glog.V(3).Infof("local-version-creation: added file version %s@%s", path, *data.ContentHash)
	}
	return added > 0, nil
}
