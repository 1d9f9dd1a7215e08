package operator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/firmament-sync/firmament"
	"github.com/firmament-sync/firmament/backend"
	"github.com/firmament-sync/firmament/backend/memtest"
	"github.com/firmament-sync/firmament/datastore"
)

func TestSyncOperatorPullsRemoteFileVersions(t *testing.T) {
	fv, err := datastore.OpenFileVersionStore(filepath.Join(t.TempDir(), "fv.bolt"))
	if err != nil {
		t.Fatalf("OpenFileVersionStore: %v", err)
	}
	defer fv.Close()

	mem, err := memtest.New("mem", 0)
	if err != nil {
		t.Fatalf("memtest.New: %v", err)
	}
	if err := mem.FileVersionUpload(map[string]firmament.FileVersionData{
		"/remote.txt": {"hash1": {Mtime: 10, Size: 5}},
	}); err != nil {
		t.Fatalf("FileVersionUpload: %v", err)
	}

	o := &SyncOperator{FileVersions: fv, Backends: map[string]backend.Backend{"mem": mem}}
	did, err := o.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !did {
		t.Error("Step() = false, want true")
	}

	hash, meta, found, err := fv.MostRecentContent("/remote.txt")
	if err != nil || !found {
		t.Fatalf("MostRecentContent: %v, %v, %v", hash, found, err)
	}
	if hash != "hash1" || meta.Size != 5 {
		t.Errorf("MostRecentContent(/remote.txt) = (%s, %+v), want (hash1, {Mtime:10 Size:5})", hash, meta)
	}
}

func TestSyncOperatorPushesLocalFileVersions(t *testing.T) {
	fv, err := datastore.OpenFileVersionStore(filepath.Join(t.TempDir(), "fv.bolt"))
	if err != nil {
		t.Fatalf("OpenFileVersionStore: %v", err)
	}
	defer fv.Close()
	if err := fv.SetWithContent("/local.txt", "hashA", firmament.FileVersionMeta{Mtime: 1, Size: 1}); err != nil {
		t.Fatalf("SetWithContent: %v", err)
	}

	mem, err := memtest.New("mem", 0)
	if err != nil {
		t.Fatalf("memtest.New: %v", err)
	}

	o := &SyncOperator{FileVersions: fv, Backends: map[string]backend.Backend{"mem": mem}}
	if _, err := o.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}

	remote, err := mem.FileVersionDownload()
	if err != nil {
		t.Fatalf("FileVersionDownload: %v", err)
	}
	if _, ok := remote["/local.txt"]["hashA"]; !ok {
		t.Errorf("remote FileVersionDownload() = %v, missing /local.txt@hashA", remote)
	}
}
