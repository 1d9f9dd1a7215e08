package datastore

import (
	"path/filepath"
	"reflect"
	"testing"
)

func openTestStore(t *testing.T, validateKey func(string) error) *Store[string] {
	t.Helper()
	s, err := Open[string](filepath.Join(t.TempDir(), "store.bolt"), validateKey)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetGetRoundTrip(t *testing.T) {
	s := openTestStore(t, nil)

	if err := s.Set("/a", "one"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, found, err := s.Get("/a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || got != "one" {
		t.Errorf("Get(/a) = (%q, %v), want (\"one\", true)", got, found)
	}

	if _, found, err := s.Get("/missing"); err != nil || found {
		t.Errorf("Get(/missing) = (_, %v, %v), want (_, false, nil)", found, err)
	}
}

func TestDeleteAndHas(t *testing.T) {
	s := openTestStore(t, nil)
	if err := s.Set("/a", "one"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	has, err := s.Has("/a")
	if err != nil || !has {
		t.Fatalf("Has(/a) = %v, %v, want true, nil", has, err)
	}

	if err := s.Delete("/a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if has, _ := s.Has("/a"); has {
		t.Errorf("Has(/a) after delete = true, want false")
	}

	// Deleting an absent key fails.
	if err := s.Delete("/a"); err == nil {
		t.Error("Delete of absent key = nil error, want one")
	}
}

func TestKeyValidationRejectsUnrootedKey(t *testing.T) {
	s := openTestStore(t, rootedKey)

	if err := s.Set("relative/path", "x"); err == nil {
		t.Error("Set with an unrooted key should fail")
	}
	if err := s.Set("/rooted", "x"); err != nil {
		t.Errorf("Set with a rooted key failed: %v", err)
	}
}

func TestSetAllReplacesContents(t *testing.T) {
	s := openTestStore(t, nil)
	if err := s.Set("/stale", "gone"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	want := map[string]string{"/a": "1", "/b": "2"}
	if err := s.SetAll(want); err != nil {
		t.Fatalf("SetAll: %v", err)
	}

	got, err := s.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("All() = %v, want %v", got, want)
	}
}

func TestItemsAndKeysAndValues(t *testing.T) {
	s := openTestStore(t, nil)
	data := map[string]string{"/a": "1", "/b": "2", "/c": "3"}
	if err := s.SetAll(data); err != nil {
		t.Fatalf("SetAll: %v", err)
	}

	keys, err := s.Keys()
	if err != nil || len(keys) != 3 {
		t.Fatalf("Keys() = %v, %v, want 3 keys", keys, err)
	}

	values, err := s.Values()
	if err != nil || len(values) != 3 {
		t.Fatalf("Values() = %v, %v, want 3 values", values, err)
	}

	items, err := s.Items()
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if !reflect.DeepEqual(items, data) {
		t.Errorf("Items() = %v, want %v", items, data)
	}
}
