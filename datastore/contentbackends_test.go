package datastore

import (
	"path/filepath"
	"testing"
)

func TestContentBackendsAddIsIdempotent(t *testing.T) {
	s, err := OpenContentBackendsStore(filepath.Join(t.TempDir(), "contentbackends.bolt"))
	if err != nil {
		t.Fatalf("OpenContentBackendsStore: %v", err)
	}
	defer s.Close()

	if err := s.Add("hash1", "local"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("hash1", "local"); err != nil {
		t.Fatalf("Add (repeat): %v", err)
	}
	if err := s.Add("hash1", "s3"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	names, _, err := s.Get("hash1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("names = %v, want 2 entries", names)
	}
}

func TestContentBackendsHas(t *testing.T) {
	s, err := OpenContentBackendsStore(filepath.Join(t.TempDir(), "contentbackends.bolt"))
	if err != nil {
		t.Fatalf("OpenContentBackendsStore: %v", err)
	}
	defer s.Close()

	if err := s.Add("hash1", "local"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	has, err := s.Has("hash1", "local")
	if err != nil || !has {
		t.Errorf("Has(hash1, local) = %v, %v, want true, nil", has, err)
	}
	has, err = s.Has("hash1", "s3")
	if err != nil || has {
		t.Errorf("Has(hash1, s3) = %v, %v, want false, nil", has, err)
	}
	has, err = s.Has("missing", "local")
	if err != nil || has {
		t.Errorf("Has(missing, local) = %v, %v, want false, nil", has, err)
	}
}
