package datastore

import (
	"path/filepath"
	"testing"

	"github.com/firmament-sync/firmament"
)

func TestPathRequestResolveStatusWalksAncestors(t *testing.T) {
	s, err := OpenPathRequestStore(filepath.Join(t.TempDir(), "pathrequest.bolt"))
	if err != nil {
		t.Fatalf("OpenPathRequestStore: %v", err)
	}
	defer s.Close()

	if err := s.Set("/photos", firmament.PathRequestFull); err != nil {
		t.Fatalf("Set: %v", err)
	}

	status, err := s.ResolveStatus("/photos/2024/trip.jpg")
	if err != nil {
		t.Fatalf("ResolveStatus: %v", err)
	}
	if status != firmament.PathRequestFull {
		t.Errorf("ResolveStatus(/photos/2024/trip.jpg) = %q, want %q", status, firmament.PathRequestFull)
	}
}

func TestPathRequestResolveStatusDefaultsToOnDemand(t *testing.T) {
	s, err := OpenPathRequestStore(filepath.Join(t.TempDir(), "pathrequest.bolt"))
	if err != nil {
		t.Fatalf("OpenPathRequestStore: %v", err)
	}
	defer s.Close()

	status, err := s.ResolveStatus("/nowhere/configured.txt")
	if err != nil {
		t.Fatalf("ResolveStatus: %v", err)
	}
	if status != firmament.DefaultPathRequest {
		t.Errorf("ResolveStatus with no configured ancestor = %q, want %q", status, firmament.DefaultPathRequest)
	}
}

func TestPathRequestResolveStatusClosestAncestorWins(t *testing.T) {
	s, err := OpenPathRequestStore(filepath.Join(t.TempDir(), "pathrequest.bolt"))
	if err != nil {
		t.Fatalf("OpenPathRequestStore: %v", err)
	}
	defer s.Close()

	if err := s.Set("/", firmament.PathRequestFull); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("/archive", firmament.PathRequestIgnore); err != nil {
		t.Fatalf("Set: %v", err)
	}

	status, err := s.ResolveStatus("/archive/old.zip")
	if err != nil {
		t.Fatalf("ResolveStatus: %v", err)
	}
	if status != firmament.PathRequestIgnore {
		t.Errorf("ResolveStatus(/archive/old.zip) = %q, want %q", status, firmament.PathRequestIgnore)
	}
}
