package storage

import (
	"io"
	"testing"
)

func TestSaveAndOpen(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ref, err := s.Save([]byte("trial balance 2025"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	again, err := s.Save([]byte("trial balance 2025"))
	if err != nil {
		t.Fatal(err)
	}
	if ref != again {
		t.Fatalf("same content should map to same ref: %s vs %s", ref, again)
	}
	r, err := s.Open(ref)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "trial balance 2025" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestOpenRejectsBadRef(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Open("../etc/passwd"); err == nil {
		t.Fatalf("expected invalid reference error")
	}
	if _, err := s.Open("deadbeef"); err == nil {
		t.Fatalf("expected not found error")
	}
}
