package listenerreg

import (
	"net"
	"testing"

	"github.com/friendlink-dev/friendlink/internal/transport"
)

func echoHandler(from net.Addr, f transport.Frame) (string, interface{}, error) {
	return transport.PayloadHelloAck, transport.HelloAckPayload{PeerID: "host"}, nil
}

func TestEnsure_ReusesExistingListener(t *testing.T) {
	r := New()

	ep1, port1, err := r.Ensure("inst-1", 0, "group", "peer-a", "c2VjcmV0", echoHandler, nil, nil)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	defer r.Stop("inst-1")

	ep2, port2, err := r.Ensure("inst-1", 0, "group", "peer-a", "c2VjcmV0", echoHandler, nil, nil)
	if err != nil {
		t.Fatalf("Ensure (second call): %v", err)
	}

	if port1 != port2 || ep1 != ep2 {
		t.Fatalf("expected Ensure to reuse the existing listener: (%s,%d) vs (%s,%d)", ep1, port1, ep2, port2)
	}
}

func TestStop_ReleasesPort(t *testing.T) {
	r := New()
	_, port, err := r.Ensure("inst-1", 0, "group", "peer-a", "c2VjcmV0", echoHandler, nil, nil)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if port == 0 {
		t.Fatalf("expected nonzero port")
	}

	r.Stop("inst-1")
	if got := r.Port("inst-1"); got != 0 {
		t.Fatalf("expected Port to report 0 after Stop, got %d", got)
	}
}
