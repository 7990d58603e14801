package fetch

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net"
	"strconv"
	"testing"

	"github.com/friendlink-dev/friendlink/internal/collector"
	"github.com/friendlink-dev/friendlink/internal/model"
	"github.com/friendlink-dev/friendlink/internal/transport"
)

func TestProbeOrder_PreferredPeerFirst(t *testing.T) {
	peers := []PeerEndpoint{
		{PeerID: "peer-a", Endpoint: "a:1"},
		{PeerID: "peer-b", Endpoint: "b:1"},
		{PeerID: "peer-c", Endpoint: "c:1"},
	}
	preferred := map[string]string{"key-1": "peer-c"}

	order := probeOrder("key-1", peers, preferred)
	if order[0] != "peer-c" {
		t.Fatalf("expected preferred peer first, got %v", order)
	}
	if len(order) != 3 {
		t.Fatalf("expected all peers in order, got %v", order)
	}
}

func TestVerifyHash_PrefersDeclaredAlgorithm(t *testing.T) {
	data := []byte("hello world")
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	if !verifyHash("sha256", digest, data) {
		t.Fatalf("expected matching sha256 digest to verify")
	}
	if verifyHash("sha256", "deadbeef", data) {
		t.Fatalf("expected mismatched digest to fail verification")
	}
	if !verifyHash("", "", data) {
		t.Fatalf("expected no declared algorithm to be treated as unverified/accept")
	}
}

const fetchTestSecret = "c2VjcmV0LWtleS1iYXNlNjQ="

func TestFetcher_Run_FetchesFromPeer(t *testing.T) {
	root := t.TempDir()
	c := collector.New(root, nil)

	e := model.LockEntry{
		Source: "modrinth", ProjectID: "abc", Filename: "sodium.jar",
		ContentType: model.ContentMods, Enabled: true,
	}.Normalize()

	data := []byte("jar-bytes")
	sum := sha256.Sum256(data)
	digestHex := hex.EncodeToString(sum[:])
	b64 := base64.StdEncoding.EncodeToString(data)

	l := &transport.Listener{
		GroupID: "group-1", LocalPeerID: "peer-host", SharedSecret: fetchTestSecret,
		Handler: func(from net.Addr, f transport.Frame) (string, interface{}, error) {
			return transport.PayloadFileResponse, transport.FileResponsePayload{
				Key: e.Key(), Found: true, SHA256: &digestHex, BytesB64: &b64,
			}, nil
		},
	}
	if err := l.Listen(0); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Stop()

	endpoint := net.JoinHostPort("127.0.0.1", strconv.Itoa(l.Port()))
	client := transport.Client{GroupID: "group-1", LocalPeerID: "peer-joiner", SharedSecret: fetchTestSecret}

	fe := New(c, client, nil, nil)
	res := fe.Run([]model.LockEntry{e}, []PeerEndpoint{{PeerID: "peer-host", Endpoint: endpoint}}, nil)

	if len(res.Succeeded) != 1 {
		t.Fatalf("expected 1 succeeded fetch, got %+v", res)
	}

	missing := c.EnsureBinary(e)
	if len(missing) != 0 {
		t.Fatalf("expected binary written to disk, missing: %v", missing)
	}
}
