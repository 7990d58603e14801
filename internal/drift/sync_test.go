package drift

import (
	"testing"

	"github.com/friendlink-dev/friendlink/internal/collector"
	"github.com/friendlink-dev/friendlink/internal/model"
	"github.com/friendlink-dev/friendlink/internal/session"
	"github.com/friendlink-dev/friendlink/internal/transport"
)

func TestSyncSelected_AppliesOnlyRequestedKeys(t *testing.T) {
	root := t.TempDir()
	c := collector.New(root, nil)

	keepEntry := model.LockEntry{Source: "modrinth", ProjectID: "abc", Filename: "sodium.jar", Name: "Sodium", ContentType: model.ContentMods, Enabled: true}.Normalize()
	otherEntry := model.LockEntry{Source: "modrinth", ProjectID: "def", Filename: "lithium.jar", Name: "Lithium", ContentType: model.ContentMods, Enabled: true}.Normalize()
	remoteState := model.BuildState([]model.LockEntry{keepEntry, otherEntry}, nil)

	endpoint, stop := startStatePeer(t, "peer-remote", remoteState)
	defer stop()

	rec := &session.Record{
		GroupID: "group-1", LocalPeerID: "peer-local",
		Peers:      []session.Peer{{ID: "peer-remote", DisplayName: "Remote", Endpoint: endpoint}},
		Guardrails: session.Guardrails{TrustedPeerIDs: []string{"peer-remote"}, Initialized: true, SyncToggles: session.DefaultSyncToggles()},
		Allowlist:  session.NormalizeAllowlist(nil),
	}
	client := transport.Client{GroupID: "group-1", LocalPeerID: "peer-local", SharedSecret: driftTestSecret}
	deps := Deps{Collector: c, Client: client}

	res, err := SyncSelected(rec, []string{keepEntry.Key()}, true, deps)
	if err != nil {
		t.Fatalf("SyncSelected: %v", err)
	}
	if len(res.Applied) != 1 {
		t.Fatalf("expected exactly 1 applied item, got %+v", res.Applied)
	}
	if res.Status != SyncPartialPending {
		t.Fatalf("expected partial_pending (only 1 of 2 drift items applied), got %s", res.Status)
	}

	entries, err := c.ReadLockEntries()
	if err != nil {
		t.Fatalf("ReadLockEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Key() != keepEntry.Key() {
		t.Fatalf("expected only requested key applied, got %+v", entries)
	}
}

func TestSyncSelected_UntrustedPeerItemsSkippedAndCounted(t *testing.T) {
	root := t.TempDir()
	c := collector.New(root, nil)

	entry := model.LockEntry{Source: "modrinth", ProjectID: "abc", Filename: "sodium.jar", Name: "Sodium", ContentType: model.ContentMods, Enabled: true}.Normalize()
	remoteState := model.BuildState([]model.LockEntry{entry}, nil)

	endpoint, stop := startStatePeer(t, "peer-remote", remoteState)
	defer stop()

	rec := &session.Record{
		GroupID: "group-1", LocalPeerID: "peer-local",
		Peers:      []session.Peer{{ID: "peer-remote", DisplayName: "Remote", Endpoint: endpoint}},
		Guardrails: session.Guardrails{Initialized: true, SyncToggles: session.DefaultSyncToggles()}, // not trusted
	}
	client := transport.Client{GroupID: "group-1", LocalPeerID: "peer-local", SharedSecret: driftTestSecret}
	deps := Deps{Collector: c, Client: client}

	res, err := SyncSelected(rec, nil, true, deps)
	if err != nil {
		t.Fatalf("SyncSelected: %v", err)
	}
	if res.SkippedUntrusted != 1 {
		t.Fatalf("expected 1 skipped untrusted item, got %d", res.SkippedUntrusted)
	}
	if res.Status != SyncBlockedUntrusted {
		t.Fatalf("expected blocked_untrusted, got %s", res.Status)
	}
}
