package reconcile

import (
	"testing"

	"github.com/friendlink-dev/friendlink/internal/collector"
	"github.com/friendlink-dev/friendlink/internal/model"
	"github.com/friendlink-dev/friendlink/internal/session"
	"github.com/friendlink-dev/friendlink/internal/transport"
)

func TestResolveRequest_ResolutionFor(t *testing.T) {
	req := ResolveRequest{
		ByConflictID: map[string]ConflictResolution{"c1": ResolutionKeepMine},
		TakeAllTheirs: true,
	}
	if got := req.resolutionFor("c1"); got != ResolutionKeepMine {
		t.Fatalf("explicit resolution should win, got %s", got)
	}
	if got := req.resolutionFor("c2"); got != ResolutionTakeTheirs {
		t.Fatalf("global flag should apply to unnamed conflicts, got %s", got)
	}
}

func TestResolveConflicts_TakeTheirsAppliesRemoteEntry(t *testing.T) {
	root := t.TempDir()
	c := collector.New(root, nil)

	mine := model.LockEntry{Source: "modrinth", ProjectID: "abc", Filename: "old.jar", ContentType: model.ContentMods, Enabled: true}.Normalize()
	theirs := model.LockEntry{Source: "modrinth", ProjectID: "abc", Filename: "new.jar", ContentType: model.ContentMods, Enabled: true}.Normalize()
	if err := c.WriteLockEntries([]model.LockEntry{mine}); err != nil {
		t.Fatalf("seed lock entries: %v", err)
	}

	rec := &session.Record{
		InstanceID: "inst-1", GroupID: "group-1", LocalPeerID: "peer-local",
		PendingConflicts: []session.Conflict{
			{ID: "c1", Kind: "lock", Key: theirs.Key(), MineLock: &mine, TheirsLock: &theirs},
		},
		Guardrails: session.Guardrails{Initialized: true, MaxAutoChanges: 25, SyncToggles: session.DefaultSyncToggles()},
	}

	deps := Deps{Collector: c, Client: transport.Client{GroupID: "group-1", LocalPeerID: "peer-local", SharedSecret: integrationSecret}}
	req := ResolveRequest{ByConflictID: map[string]ConflictResolution{"c1": ResolutionTakeTheirs}}

	if _, err := ResolveConflicts(rec, req, c, deps); err != nil {
		t.Fatalf("ResolveConflicts: %v", err)
	}

	if len(rec.PendingConflicts) != 0 {
		t.Fatalf("expected conflict resolved and cleared, got %+v", rec.PendingConflicts)
	}

	entries, err := c.ReadLockEntries()
	if err != nil {
		t.Fatalf("ReadLockEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Filename != "new.jar" {
		t.Fatalf("expected theirs entry applied, got %+v", entries)
	}
}

func TestResolveConflicts_SkipForNowSurvives(t *testing.T) {
	root := t.TempDir()
	c := collector.New(root, nil)

	rec := &session.Record{
		InstanceID: "inst-1", GroupID: "group-1", LocalPeerID: "peer-local",
		PendingConflicts: []session.Conflict{
			{ID: "c1", Kind: "lock", Key: "k"},
		},
		Guardrails: session.Guardrails{Initialized: true, MaxAutoChanges: 25, SyncToggles: session.DefaultSyncToggles()},
	}

	deps := Deps{Collector: c, Client: transport.Client{GroupID: "group-1", LocalPeerID: "peer-local", SharedSecret: integrationSecret}}
	req := ResolveRequest{}

	if _, err := ResolveConflicts(rec, req, c, deps); err != nil {
		t.Fatalf("ResolveConflicts: %v", err)
	}
	if len(rec.PendingConflicts) != 1 {
		t.Fatalf("expected unresolved conflict to survive, got %+v", rec.PendingConflicts)
	}
}
