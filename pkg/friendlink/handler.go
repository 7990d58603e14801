package friendlink

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/friendlink-dev/friendlink/internal/model"
	"github.com/friendlink-dev/friendlink/internal/session"
	"github.com/friendlink-dev/friendlink/internal/transport"
)

// handlerFor builds the listener callback for instanceID: it answers
// hello, state_request, and file_request on behalf of the local peer,
// reading the session record fresh on every call so concurrent command
// calls and inbound requests never race on a stale in-memory copy
// (spec.md §4.3, §6).
func (e *Engine) handlerFor(instanceID string) transport.Handler {
	return func(from net.Addr, f transport.Frame) (string, interface{}, error) {
		switch f.PayloadType {
		case transport.PayloadHello:
			return e.handleHello(instanceID, from, f)
		case transport.PayloadStateRequest:
			return e.handleStateRequest(instanceID)
		case transport.PayloadFileRequest:
			return e.handleFileRequest(instanceID, f)
		default:
			return "", nil, transport.VerifyError{Reason: "unsupported payload type: " + f.PayloadType}
		}
	}
}

func (e *Engine) handleHello(instanceID string, from net.Addr, f transport.Frame) (string, interface{}, error) {
	var p transport.HelloPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return "", nil, transport.VerifyError{Reason: "malformed hello payload"}
	}

	rec, err := e.store.Mutate(instanceID, func(rec *session.Record) error {
		endpoint := transport.NormalizePeerEndpoint(p.Endpoint, from)
		return rec.UpsertPeer(session.Peer{
			ID:          p.PeerID,
			DisplayName: p.DisplayName,
			Endpoint:    endpoint,
			AddedAt:     time.Now().UnixMilli(),
			Online:      true,
		})
	})
	if err != nil {
		return "", nil, transport.VerifyError{Reason: err.Error()}
	}

	peers := make([]transport.PeerSummary, 0, len(rec.Peers))
	for _, peer := range rec.Peers {
		if peer.ID == p.PeerID {
			continue
		}
		peers = append(peers, transport.PeerSummary{
			PeerID: peer.ID, DisplayName: peer.DisplayName, Endpoint: peer.Endpoint, Online: peer.Online,
		})
	}

	return transport.PayloadHelloAck, transport.HelloAckPayload{
		PeerID:      rec.LocalPeerID,
		DisplayName: rec.DisplayName,
		Endpoint:    rec.Endpoint,
		Peers:       peers,
	}, nil
}

func (e *Engine) handleStateRequest(instanceID string) (string, interface{}, error) {
	rec, ok, err := e.store.Get(instanceID)
	if err != nil || !ok {
		return "", nil, transport.VerifyError{Reason: "unknown instance"}
	}
	state, err := e.collectorFor(instanceID).Collect(rec.Allowlist)
	if err != nil {
		return "", nil, transport.VerifyError{Reason: "failed to collect local state"}
	}
	return transport.PayloadStateResponse, transport.StateResponsePayload{
		PeerID: rec.LocalPeerID, DisplayName: rec.DisplayName, Endpoint: rec.Endpoint, State: state,
	}, nil
}

func (e *Engine) handleFileRequest(instanceID string, f transport.Frame) (string, interface{}, error) {
	var p transport.FileRequestPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return "", nil, transport.VerifyError{Reason: "malformed file_request payload"}
	}

	if _, ok, err := e.store.Get(instanceID); err != nil || !ok {
		return "", nil, transport.VerifyError{Reason: "unknown instance"}
	}

	entries, err := e.collectorFor(instanceID).ReadLockEntries()
	if err != nil {
		return "", nil, transport.VerifyError{Reason: "failed to read lock entries"}
	}

	var target *model.LockEntry
	for i := range entries {
		if entries[i].Key() == p.Key {
			target = &entries[i]
			break
		}
	}
	if target == nil {
		return transport.PayloadFileResponse, transport.FileResponsePayload{Key: p.Key, Found: false}, nil
	}

	paths := target.DiskPaths()
	if opposite := target.OppositeDiskPath(); opposite != "" {
		// A mod's enabled/disabled flag may be stale relative to what's
		// actually on disk, so probe both sibling paths before giving up
		// (spec.md §4.3).
		paths = append(paths, opposite)
	}
	var data []byte
	for _, rel := range paths {
		full := filepath.Join(e.instanceRoot(instanceID), filepath.FromSlash(rel))
		if raw, err := os.ReadFile(full); err == nil {
			data = raw
			break
		}
	}
	if data == nil {
		return transport.PayloadFileResponse, transport.FileResponsePayload{Key: p.Key, Found: false}, nil
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	b64 := base64.StdEncoding.EncodeToString(data)

	return transport.PayloadFileResponse, transport.FileResponsePayload{
		Key: p.Key, Found: true, SHA256: &digest, BytesB64: &b64,
	}, nil
}
