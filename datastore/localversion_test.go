package datastore

import (
	"path/filepath"
	"testing"

	"github.com/firmament-sync/firmament"
)

func hashPtr(h firmament.ContentHash) *firmament.ContentHash { return &h }

func openLocalVersionTestStore(t *testing.T) *LocalVersionStore {
	t.Helper()
	s, err := OpenLocalVersionStore(filepath.Join(t.TempDir(), "localversion.bolt"))
	if err != nil {
		t.Fatalf("OpenLocalVersionStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLocalVersionByContentHash(t *testing.T) {
	s := openLocalVersionTestStore(t)
	if err := s.Set("/a.txt", firmament.LocalVersionData{ContentHash: hashPtr("hash-a"), Mtime: 1, Size: 10}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("/b.txt", firmament.LocalVersionData{ContentHash: hashPtr("hash-b"), Mtime: 2, Size: 20}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	path, data, err := s.ByContentHash("hash-b")
	if err != nil {
		t.Fatalf("ByContentHash: %v", err)
	}
	if path != "/b.txt" || data.Size != 20 {
		t.Errorf("ByContentHash(hash-b) = (%q, %+v), want /b.txt", path, data)
	}

	if _, _, err := s.ByContentHash("hash-missing"); err == nil {
		t.Error("ByContentHash for an unknown hash should fail")
	}
}

func TestLocalVersionAllAndWithoutContentHashes(t *testing.T) {
	s := openLocalVersionTestStore(t)
	if err := s.Set("/hashed.txt", firmament.LocalVersionData{ContentHash: hashPtr("h1"), Mtime: 1, Size: 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("/unhashed.txt", firmament.LocalVersionData{ContentHash: nil, Mtime: 2, Size: 2}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	hashes, err := s.AllContentHashes()
	if err != nil {
		t.Fatalf("AllContentHashes: %v", err)
	}
	if _, ok := hashes["h1"]; !ok || len(hashes) != 1 {
		t.Errorf("AllContentHashes() = %v, want {h1}", hashes)
	}

	without, err := s.WithoutContentHashes()
	if err != nil {
		t.Fatalf("WithoutContentHashes: %v", err)
	}
	if len(without) != 1 || without[0] != "/unhashed.txt" {
		t.Errorf("WithoutContentHashes() = %v, want [/unhashed.txt]", without)
	}
}

func TestLocalVersionNotInFileVersions(t *testing.T) {
	local := openLocalVersionTestStore(t)
	fv, err := OpenFileVersionStore(filepath.Join(t.TempDir(), "fileversion.bolt"))
	if err != nil {
		t.Fatalf("OpenFileVersionStore: %v", err)
	}
	defer fv.Close()

	if err := local.Set("/a.txt", firmament.LocalVersionData{ContentHash: hashPtr("h1"), Mtime: 5, Size: 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := local.Set("/b.txt", firmament.LocalVersionData{ContentHash: hashPtr("h2"), Mtime: 6, Size: 2}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := fv.SetWithContent("/b.txt", "h2", firmament.FileVersionMeta{Mtime: 6, Size: 2}); err != nil {
		t.Fatalf("SetWithContent: %v", err)
	}

	pending, err := local.NotInFileVersions(fv)
	if err != nil {
		t.Fatalf("NotInFileVersions: %v", err)
	}
	if _, ok := pending["/a.txt"]; !ok {
		t.Errorf("NotInFileVersions() missing /a.txt: %v", pending)
	}
	if _, ok := pending["/b.txt"]; ok {
		t.Errorf("NotInFileVersions() should not include /b.txt: %v", pending)
	}
}
