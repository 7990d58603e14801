package reconcile

import (
	"testing"

	"github.com/friendlink-dev/friendlink/internal/fetch"
	"github.com/friendlink-dev/friendlink/internal/model"
	"github.com/friendlink-dev/friendlink/internal/session"
)

func TestClassify_NoBaselineRemoteAlwaysChanged(t *testing.T) {
	d := classify("k", "", false, "remote-hash", map[string]string{})
	if !d.remoteChanged {
		t.Fatalf("expected remote_changed=true with no baseline entry")
	}
	if d.localChanged {
		t.Fatalf("expected local_changed=false when local is absent and no baseline")
	}
}

func TestClassify_BaselineMatchesLocalMeansUnchanged(t *testing.T) {
	baseline := map[string]string{"k": "hash-x"}
	d := classify("k", "hash-x", true, "hash-y", baseline)
	if d.localChanged {
		t.Fatalf("expected local_changed=false when local matches baseline")
	}
	if !d.remoteChanged {
		t.Fatalf("expected remote_changed=true when remote diverges from baseline")
	}
}

func TestClassify_BothChangedFromBaseline(t *testing.T) {
	baseline := map[string]string{"k": "hash-base"}
	d := classify("k", "hash-local", true, "hash-remote", baseline)
	if !d.localChanged || !d.remoteChanged {
		t.Fatalf("expected both sides changed, got %+v", d)
	}
}

func TestDeriveStatus_ConflictsWin(t *testing.T) {
	conflicts := []session.Conflict{{ID: "c1", Kind: "lock", Key: "k"}}
	status, _ := deriveStatus(conflicts, fetch.Result{}, nil, 0, ModeManual, model.SyncState{}, &session.Record{})
	if status != StatusConflicted {
		t.Fatalf("expected conflicted status, got %s", status)
	}
}

func TestDeriveStatus_FetchFailurePrelaunchIsError(t *testing.T) {
	status, reason := deriveStatus(nil, fetch.Result{Failed: []string{"k"}}, nil, 0, ModePrelaunch, model.SyncState{}, &session.Record{})
	if status != StatusError || reason == "" {
		t.Fatalf("expected error status with reason in prelaunch, got %s / %q", status, reason)
	}
}

func TestDeriveStatus_FetchFailureManualIsDegraded(t *testing.T) {
	status, _ := deriveStatus(nil, fetch.Result{Failed: []string{"k"}}, nil, 0, ModeManual, model.SyncState{}, &session.Record{})
	if status != StatusDegradedMissingFiles {
		t.Fatalf("expected degraded_missing_files, got %s", status)
	}
}

func TestDeriveStatus_OfflineWithMatchingLastGood(t *testing.T) {
	rec := &session.Record{LastGoodSnapshot: &session.LastGoodSnapshot{StateHash: "h1"}}
	status, _ := deriveStatus(nil, fetch.Result{}, []string{"peer-a"}, 0, ModeManual, model.SyncState{StateHash: "h1"}, rec)
	if status != StatusDegradedOfflineLastGood {
		t.Fatalf("expected degraded_offline_last_good, got %s", status)
	}
}

func TestDeriveStatus_UntrustedSkipBlocks(t *testing.T) {
	status, _ := deriveStatus(nil, fetch.Result{}, nil, 2, ModeManual, model.SyncState{}, &session.Record{})
	if status != StatusBlockedUntrusted {
		t.Fatalf("expected blocked_untrusted, got %s", status)
	}
}

func TestDeriveStatus_CleanRunIsSynced(t *testing.T) {
	status, _ := deriveStatus(nil, fetch.Result{}, nil, 0, ModeManual, model.SyncState{}, &session.Record{})
	if status != StatusSynced {
		t.Fatalf("expected synced, got %s", status)
	}
}
