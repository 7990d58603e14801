package manifest

import (
	"path/filepath"
	"testing"

	"github.com/friendlink-dev/friendlink/internal/session"
)

func TestStore_ReadMissingFileYieldsEmpty(t *testing.T) {
	s := New(t.TempDir())
	sessions, err := s.Read()
	if err != nil {
		t.Fatalf("Read on missing store: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected empty store, got %v", sessions)
	}
}

func TestStore_UpsertThenGet(t *testing.T) {
	s := New(t.TempDir())
	rec := session.Record{InstanceID: "inst-1", GroupID: "grp-1", LocalPeerID: "peer-a"}

	if err := s.Upsert(rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, ok, err := s.Get("inst-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected to find inst-1")
	}
	if got.GroupID != "grp-1" {
		t.Fatalf("GroupID = %q, want grp-1", got.GroupID)
	}
}

func TestStore_UpsertReplacesExisting(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Upsert(session.Record{InstanceID: "inst-1", DisplayName: "first"}); err != nil {
		t.Fatalf("Upsert 1: %v", err)
	}
	if err := s.Upsert(session.Record{InstanceID: "inst-1", DisplayName: "second"}); err != nil {
		t.Fatalf("Upsert 2: %v", err)
	}

	sessions, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session after replace, got %d", len(sessions))
	}
	if sessions[0].DisplayName != "second" {
		t.Fatalf("DisplayName = %q, want second", sessions[0].DisplayName)
	}
}

func TestStore_Remove(t *testing.T) {
	s := New(t.TempDir())
	s.Upsert(session.Record{InstanceID: "inst-1"})
	s.Upsert(session.Record{InstanceID: "inst-2"})

	if err := s.Remove("inst-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	sessions, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(sessions) != 1 || sessions[0].InstanceID != "inst-2" {
		t.Fatalf("unexpected sessions after remove: %v", sessions)
	}
}

func TestStore_Mutate(t *testing.T) {
	s := New(t.TempDir())

	rec, err := s.Mutate("inst-1", func(r *session.Record) error {
		r.GroupID = "grp-new"
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate on new record: %v", err)
	}
	if rec.GroupID != "grp-new" {
		t.Fatalf("GroupID = %q, want grp-new", rec.GroupID)
	}

	rec2, err := s.Mutate("inst-1", func(r *session.Record) error {
		r.DisplayName = "updated"
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate on existing record: %v", err)
	}
	if rec2.GroupID != "grp-new" || rec2.DisplayName != "updated" {
		t.Fatalf("unexpected merged record: %+v", rec2)
	}
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	s1 := New(dir)
	if err := s1.Upsert(session.Record{InstanceID: "inst-1", DisplayName: "persisted"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	s2 := New(dir)
	got, ok, err := s2.Get("inst-1")
	if err != nil {
		t.Fatalf("Get from fresh Store: %v", err)
	}
	if !ok || got.DisplayName != "persisted" {
		t.Fatalf("expected persisted record, got ok=%v rec=%+v", ok, got)
	}

	expectedPath := filepath.Join(dir, "friend_link", "store.v1.json")
	if s2.path != expectedPath {
		t.Fatalf("path = %q, want %q", s2.path, expectedPath)
	}
}
