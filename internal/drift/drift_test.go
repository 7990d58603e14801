package drift

import (
	"net"
	"strconv"
	"testing"

	"github.com/friendlink-dev/friendlink/internal/collector"
	"github.com/friendlink-dev/friendlink/internal/model"
	"github.com/friendlink-dev/friendlink/internal/session"
	"github.com/friendlink-dev/friendlink/internal/transport"
)

const driftTestSecret = "c2VjcmV0LWtleS1iYXNlNjQ="

func TestPreviewDrift_NoPeersYieldsNoPeersStatus(t *testing.T) {
	root := t.TempDir()
	c := collector.New(root, nil)
	rec := &session.Record{Guardrails: session.Guardrails{SyncToggles: session.DefaultSyncToggles()}}

	p, err := PreviewDrift(rec, Deps{Collector: c})
	if err != nil {
		t.Fatalf("PreviewDrift: %v", err)
	}
	if p.Status != StatusNoPeers {
		t.Fatalf("expected no_peers, got %s", p.Status)
	}
}

func startStatePeer(t *testing.T, peerID string, state model.SyncState) (endpoint string, stop func()) {
	t.Helper()
	l := &transport.Listener{
		GroupID: "group-1", LocalPeerID: peerID, SharedSecret: driftTestSecret,
		Handler: func(from net.Addr, f transport.Frame) (string, interface{}, error) {
			if f.PayloadType == transport.PayloadStateRequest {
				return transport.PayloadStateResponse, transport.StateResponsePayload{
					PeerID: peerID, DisplayName: peerID, Endpoint: "x:0", State: state,
				}, nil
			}
			return "", nil, transport.VerifyError{Reason: "unexpected payload"}
		},
	}
	if err := l.Listen(0); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(l.Port())), l.Stop
}

func TestPreviewDrift_AddedItemForNewRemoteEntry(t *testing.T) {
	root := t.TempDir()
	c := collector.New(root, nil)

	remoteEntry := model.LockEntry{Source: "modrinth", ProjectID: "abc", Filename: "sodium.jar", Name: "Sodium", ContentType: model.ContentMods, Enabled: true}.Normalize()
	remoteState := model.BuildState([]model.LockEntry{remoteEntry}, nil)

	endpoint, stop := startStatePeer(t, "peer-remote", remoteState)
	defer stop()

	rec := &session.Record{
		GroupID: "group-1", LocalPeerID: "peer-local",
		Peers:      []session.Peer{{ID: "peer-remote", DisplayName: "Remote", Endpoint: endpoint}},
		Guardrails: session.Guardrails{TrustedPeerIDs: []string{"peer-remote"}, Initialized: true, SyncToggles: session.DefaultSyncToggles()},
	}

	client := transport.Client{GroupID: "group-1", LocalPeerID: "peer-local", SharedSecret: driftTestSecret}
	p, err := PreviewDrift(rec, Deps{Collector: c, Client: client})
	if err != nil {
		t.Fatalf("PreviewDrift: %v", err)
	}
	if p.Status != StatusUnsynced {
		t.Fatalf("expected unsynced, got %s", p.Status)
	}
	if len(p.Items) != 1 || p.Items[0].Change != ChangeAdded || p.Items[0].Key != remoteEntry.Key() {
		t.Fatalf("expected one added item, got %+v", p.Items)
	}
	if !p.Items[0].TrustedPeer {
		t.Fatalf("expected item marked trusted")
	}
}

func TestPreviewDrift_TogglesFilterDisabledContentType(t *testing.T) {
	root := t.TempDir()
	c := collector.New(root, nil)

	remoteEntry := model.LockEntry{Source: "modrinth", ProjectID: "abc", Filename: "pack.zip", Name: "Pack", ContentType: model.ContentResourcePacks, Enabled: true}.Normalize()
	remoteState := model.BuildState([]model.LockEntry{remoteEntry}, nil)

	endpoint, stop := startStatePeer(t, "peer-remote", remoteState)
	defer stop()

	rec := &session.Record{
		GroupID: "group-1", LocalPeerID: "peer-local",
		Peers:      []session.Peer{{ID: "peer-remote", DisplayName: "Remote", Endpoint: endpoint}},
		Guardrails: session.Guardrails{TrustedPeerIDs: []string{"peer-remote"}, Initialized: true, SyncToggles: session.DefaultSyncToggles()},
	}

	client := transport.Client{GroupID: "group-1", LocalPeerID: "peer-local", SharedSecret: driftTestSecret}
	p, err := PreviewDrift(rec, Deps{Collector: c, Client: client})
	if err != nil {
		t.Fatalf("PreviewDrift: %v", err)
	}
	if len(p.Items) != 0 {
		t.Fatalf("expected resourcepacks (toggle off by default) to be filtered, got %+v", p.Items)
	}
}

func TestPreviewDrift_OfflinePeerMarksOffline(t *testing.T) {
	root := t.TempDir()
	c := collector.New(root, nil)

	rec := &session.Record{
		GroupID: "group-1", LocalPeerID: "peer-local",
		Peers:      []session.Peer{{ID: "peer-remote", DisplayName: "Remote", Endpoint: "127.0.0.1:1"}},
		Guardrails: session.Guardrails{TrustedPeerIDs: []string{"peer-remote"}, Initialized: true, SyncToggles: session.DefaultSyncToggles()},
	}
	client := transport.Client{GroupID: "group-1", LocalPeerID: "peer-local", SharedSecret: driftTestSecret}
	p, err := PreviewDrift(rec, Deps{Collector: c, Client: client})
	if err != nil {
		t.Fatalf("PreviewDrift: %v", err)
	}
	if p.Status != StatusOffline {
		t.Fatalf("expected offline status, got %s", p.Status)
	}
	if rec.Peers[0].Online {
		t.Fatalf("expected peer to be marked offline on rec")
	}
}
