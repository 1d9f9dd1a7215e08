package local

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/firmament-sync/firmament"
	"github.com/firmament-sync/firmament/encryptor"
)

func TestContentRoundTrip(t *testing.T) {
	b, err := New("test", t.TempDir(), encryptor.Null{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	hash := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	diskPath := writeTempFile(t, []byte("hello world"))

	if err := b.ContentUpload(hash, diskPath); err != nil {
		t.Fatalf("ContentUpload: %v", err)
	}

	exists, err := b.ContentExists(hash)
	if err != nil || !exists {
		t.Fatalf("ContentExists = %v, %v; want true, nil", exists, err)
	}

	outPath := diskPath + ".out"
	if err := b.ContentDownload(hash, outPath); err != nil {
		t.Fatalf("ContentDownload: %v", err)
	}
	got := readFile(t, outPath)
	if !bytes.Equal(got, []byte("hello world")) {
		t.Errorf("downloaded content = %q, want %q", got, "hello world")
	}

	if err := b.ContentDelete(hash); err != nil {
		t.Fatalf("ContentDelete: %v", err)
	}
	exists, err = b.ContentExists(hash)
	if err != nil || exists {
		t.Fatalf("ContentExists after delete = %v, %v; want false, nil", exists, err)
	}
}

func TestContentListRebuildsFromWalk(t *testing.T) {
	b, err := New("test", t.TempDir(), encryptor.Null{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	hash := "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	diskPath := writeTempFile(t, []byte("content"))
	if err := b.ContentUpload(hash, diskPath); err != nil {
		t.Fatalf("ContentUpload: %v", err)
	}

	// No rebuild has happened yet, so this first ContentList call walks the
	// content directory and rewrites the content database; the walk finds
	// the uploaded hash, and the rebuild clears it from extraContentKnown.
	list, err := b.ContentList()
	if err != nil {
		t.Fatalf("ContentList: %v", err)
	}
	if _, ok := list[hash]; !ok {
		t.Errorf("ContentList() = %v, want it to contain %s", list, hash)
	}
}

func TestFileVersionUploadMerges(t *testing.T) {
	b, err := New("test", t.TempDir(), encryptor.Null{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first := map[string]firmament.FileVersionData{
		"/a.txt": {"hash1": {Mtime: 100, Size: 1}},
	}
	if err := b.FileVersionUpload(first); err != nil {
		t.Fatalf("FileVersionUpload: %v", err)
	}

	second := map[string]firmament.FileVersionData{
		"/a.txt": {"hash2": {Mtime: 200, Size: 2}},
		"/b.txt": {"hash3": {Mtime: 50, Size: 3}},
	}
	if err := b.FileVersionUpload(second); err != nil {
		t.Fatalf("FileVersionUpload: %v", err)
	}

	got, err := b.FileVersionDownload()
	if err != nil {
		t.Fatalf("FileVersionDownload: %v", err)
	}
	if len(got["/a.txt"]) != 2 {
		t.Errorf("/a.txt history = %v, want 2 entries (merged, not overwritten)", got["/a.txt"])
	}
	if len(got["/b.txt"]) != 1 {
		t.Errorf("/b.txt history = %v, want 1 entry", got["/b.txt"])
	}
}

func TestContentRoundTripWithEncryption(t *testing.T) {
	enc, err := encryptor.NewAES("test passphrase", 4)
	if err != nil {
		t.Fatalf("NewAES: %v", err)
	}
	root := t.TempDir()
	b, err := New("test", root, enc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	hash := "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
	diskPath := writeTempFile(t, []byte("secret payload"))
	if err := b.ContentUpload(hash, diskPath); err != nil {
		t.Fatalf("ContentUpload: %v", err)
	}

	// The on-disk shard directory must not be named after the plaintext hash.
	if _, err := os.Stat(filepath.Join(root, "content", hash[:3])); err == nil {
		t.Errorf("content shard directory is named after the plaintext hash prefix")
	}

	outPath := diskPath + ".out"
	if err := b.ContentDownload(hash, outPath); err != nil {
		t.Fatalf("ContentDownload: %v", err)
	}
	if got := readFile(t, outPath); string(got) != "secret payload" {
		t.Errorf("downloaded content = %q, want %q", got, "secret payload")
	}
}

func TestNewRejectsNonEmptyForeignRoot(t *testing.T) {
	dir := t.TempDir()
	writeFileAt(t, dir+"/unrelated.txt", []byte("not ours"))

	if _, err := New("test", dir, encryptor.Null{}); err == nil {
		t.Fatal("New() on a non-empty unrelated directory should fail")
	}
}

func TestFactoryRequiresRootOption(t *testing.T) {
	if _, err := Factory()("test", map[string]string{}); err == nil {
		t.Fatal("Factory with no root option = nil error, want one")
	}
}

func TestFactoryBuildsEncryptorFromOptions(t *testing.T) {
	root := t.TempDir()
	b, err := Factory()("secret", map[string]string{
		"root":           root,
		"encryption_key": "correct-horse-battery-staple",
	})
	if err != nil {
		t.Fatalf("Factory: %v", err)
	}

	hash := "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	diskPath := writeTempFile(t, []byte("payload"))
	if err := b.ContentUpload(hash, diskPath); err != nil {
		t.Fatalf("ContentUpload: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "content", hash[:3])); err == nil {
		t.Errorf("content shard directory is named after the plaintext hash prefix; Factory didn't apply encryption_key")
	}
}
