package operator

import (
	"context"
	"os"
	"time"

	"github.com/golang/glog"

	"github.com/firmament-sync/firmament"
	"github.com/firmament-sync/firmament/datastore"
)

// HasherOperator reads every LocalVersion without a content hash and
// computes one, refreshing size, mtime, and a last-hashed timestamp from
// the file as it actually was at read time.
type HasherOperator struct {
	Root          string
	LocalVersions *datastore.LocalVersionStore
}

func (o *HasherOperator) Name() string { return "local-hasher" }

func (o *HasherOperator) Step(ctx context.Context) (bool, error) {
	paths, err := o.LocalVersions.WithoutContentHashes()
	if err != nil {
		return false, err
	}

	hashed := 0
	for _, virtual := range paths {
		diskPath := toDiskPath(o.Root, virtual)
		f, err := os.Open(diskPath)
		if err != nil {
			if os.IsNotExist(err) {
				// Raced with a deletion; the scanner will clean it up.
				glog.Warningf("local-hasher: %s vanished before it could be hashed", virtual)
				continue
			}
			return hashed > 0, err
		}

		hash, err := firmament.SumReader(f)
		stat, statErr := f.Stat()
		f.Close()
		if err != nil {
			return hashed > 0, err
		}
		if statErr != nil {
			return hashed > 0, statErr
		}

		now := time.Now().Unix()
		if err := o.LocalVersions.Set(virtual, firmament.LocalVersionData{
			ContentHash: &hash,
			Size:        stat.Size(),
			Mtime:       stat.ModTime().Unix(),
			LastHashed:  &now,
		}); err != nil {
			return hashed > 0, err
		}
		hashed++
		glog.V(3).Infof("local-hasher: hashed %s as %s", virtual, hash)
	}
	return hashed > 0, nil
}
