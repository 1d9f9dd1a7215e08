package operator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/firmament-sync/firmament"
	"github.com/firmament-sync/firmament/backend"
	"github.com/firmament-sync/firmament/backend/memtest"
	"github.com/firmament-sync/firmament/datastore"
)

func newMaterializeTestStores(t *testing.T) (*datastore.FileVersionStore, *datastore.LocalVersionStore, *datastore.PathRequestStore) {
	t.Helper()
	dir := t.TempDir()
	fv, err := datastore.OpenFileVersionStore(filepath.Join(dir, "fv.bolt"))
	if err != nil {
		t.Fatalf("OpenFileVersionStore: %v", err)
	}
	lv, err := datastore.OpenLocalVersionStore(filepath.Join(dir, "lv.bolt"))
	if err != nil {
		t.Fatalf("OpenLocalVersionStore: %v", err)
	}
	pr, err := datastore.OpenPathRequestStore(filepath.Join(dir, "pr.bolt"))
	if err != nil {
		t.Fatalf("OpenPathRequestStore: %v", err)
	}
	t.Cleanup(func() { fv.Close(); lv.Close(); pr.Close() })
	return fv, lv, pr
}

func TestMaterializeOperatorDownloadsMissingFile(t *testing.T) {
	root := t.TempDir()
	fv, lv, pr := newMaterializeTestStores(t)
	if err := pr.Set("/", firmament.PathRequestFull); err != nil {
		t.Fatalf("Set: %v", err)
	}

	mem, err := memtest.New("mem", 0)
	if err != nil {
		t.Fatalf("memtest.New: %v", err)
	}
	hash := firmament.Sum([]byte("world"))
	if err := mem.ContentUpload(string(hash), writeTempContentFile(t, "world")); err != nil {
		t.Fatalf("ContentUpload: %v", err)
	}
	if err := fv.SetWithContent("/b.txt", hash, firmament.FileVersionMeta{Mtime: 1000, Size: 5}); err != nil {
		t.Fatalf("SetWithContent: %v", err)
	}

	o := &MaterializeOperator{
		Root:          root,
		FileVersions:  fv,
		LocalVersions: lv,
		PathRequests:  pr,
		Backends:      map[string]backend.Backend{"mem": mem},
		BackendOrder:  []string{"mem"},
	}
	did, err := o.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !did {
		t.Error("Step() = false, want true")
	}

	data, err := os.ReadFile(filepath.Join(root, "b.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "world" {
		t.Errorf("content = %q, want %q", data, "world")
	}

	if _, found, err := lv.Get("/b.txt"); err != nil || !found {
		t.Errorf("LocalVersion for /b.txt not created: found=%v err=%v", found, err)
	}
}

func TestMaterializeOperatorSkipsOnDemandPaths(t *testing.T) {
	root := t.TempDir()
	fv, lv, pr := newMaterializeTestStores(t)
	// Default policy is on-demand; no PathRequest configured.

	mem, err := memtest.New("mem", 0)
	if err != nil {
		t.Fatalf("memtest.New: %v", err)
	}
	hash := firmament.Sum([]byte("world"))
	if err := fv.SetWithContent("/b.txt", hash, firmament.FileVersionMeta{Mtime: 1000, Size: 5}); err != nil {
		t.Fatalf("SetWithContent: %v", err)
	}

	o := &MaterializeOperator{
		Root: root, FileVersions: fv, LocalVersions: lv, PathRequests: pr,
		Backends: map[string]backend.Backend{"mem": mem}, BackendOrder: []string{"mem"},
	}
	did, err := o.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if did {
		t.Error("Step() = true, want false (on-demand path should be skipped)")
	}
}

func TestMaterializeOperatorRemovesTombstonedFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "gone.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	fv, lv, pr := newMaterializeTestStores(t)
	if err := lv.Set("/gone.txt", firmament.LocalVersionData{ContentHash: nil, Mtime: 1, Size: 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := fv.SetWithContent("/gone.txt", firmament.DeletedSentinel, firmament.FileVersionMeta{Mtime: 99}); err != nil {
		t.Fatalf("SetWithContent: %v", err)
	}

	o := &MaterializeOperator{Root: root, FileVersions: fv, LocalVersions: lv, PathRequests: pr, Backends: map[string]backend.Backend{}}
	did, err := o.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !did {
		t.Error("Step() = false, want true")
	}

	if _, err := os.Stat(filepath.Join(root, "gone.txt")); !os.IsNotExist(err) {
		t.Errorf("gone.txt still exists on disk: %v", err)
	}
	if _, found, err := lv.Get("/gone.txt"); err != nil || found {
		t.Errorf("LocalVersion for /gone.txt still present: found=%v err=%v", found, err)
	}
}

func TestDownloadOnceCleanupRemovesSatisfiedRequest(t *testing.T) {
	fv, lv, pr := newMaterializeTestStores(t)
	if err := pr.Set("/batch", firmament.PathRequestDownloadOnce); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := fv.SetWithContent("/batch/a.txt", "h1", firmament.FileVersionMeta{Mtime: 1, Size: 1}); err != nil {
		t.Fatalf("SetWithContent: %v", err)
	}
	if err := lv.Set("/batch/a.txt", firmament.LocalVersionData{ContentHash: nil, Mtime: 1, Size: 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	o := &DownloadOnceCleanupOperator{FileVersions: fv, LocalVersions: lv, PathRequests: pr}
	did, err := o.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !did {
		t.Error("Step() = false, want true")
	}
	if _, found, err := pr.Get("/batch"); err != nil || found {
		t.Errorf("PathRequest for /batch still present: found=%v err=%v", found, err)
	}
}

func TestDownloadOnceCleanupWaitsForAllFiles(t *testing.T) {
	fv, lv, pr := newMaterializeTestStores(t)
	if err := pr.Set("/batch", firmament.PathRequestDownloadOnce); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := fv.SetWithContent("/batch/a.txt", "h1", firmament.FileVersionMeta{Mtime: 1, Size: 1}); err != nil {
		t.Fatalf("SetWithContent: %v", err)
	}
	if err := fv.SetWithContent("/batch/b.txt", "h2", firmament.FileVersionMeta{Mtime: 1, Size: 1}); err != nil {
		t.Fatalf("SetWithContent: %v", err)
	}
	// Only a.txt has materialized so far.
	if err := lv.Set("/batch/a.txt", firmament.LocalVersionData{ContentHash: nil, Mtime: 1, Size: 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	o := &DownloadOnceCleanupOperator{FileVersions: fv, LocalVersions: lv, PathRequests: pr}
	did, err := o.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if did {
		t.Error("Step() = true, want false (b.txt not yet materialized)")
	}
	if _, found, err := pr.Get("/batch"); err != nil || !found {
		t.Errorf("PathRequest for /batch should still be present: found=%v err=%v", found, err)
	}
}

func writeTempContentFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "content")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}
