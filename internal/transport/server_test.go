package transport

import (
	"net"
	"testing"
)

func TestListenerAndClient_HelloRoundTrip(t *testing.T) {
	l := &Listener{
		GroupID:      "group-1",
		LocalPeerID:  "peer-host",
		SharedSecret: testSecret,
		Handler: func(from net.Addr, f Frame) (string, interface{}, error) {
			if f.PayloadType != PayloadHello {
				return "", nil, VerifyError{Reason: "unexpected payload type"}
			}
			return PayloadHelloAck, HelloAckPayload{
				PeerID:      "peer-host",
				DisplayName: "Host",
				Endpoint:    "127.0.0.1:1",
				Peers: []PeerSummary{
					{PeerID: "peer-host", DisplayName: "Host", Online: true},
				},
			}, nil
		},
	}

	if err := l.Listen(0); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Stop()

	endpoint := net.JoinHostPort("127.0.0.1", intToString(l.Port()))
	client := Client{GroupID: "group-1", LocalPeerID: "peer-joiner", SharedSecret: testSecret}

	ack, err := client.Hello(endpoint, HelloPayload{PeerID: "peer-joiner", DisplayName: "Joiner", Endpoint: "127.0.0.1:2"})
	if err != nil {
		t.Fatalf("Hello: %v", err)
	}
	if ack.PeerID != "peer-host" || len(ack.Peers) != 1 {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestListenerAndClient_WrongSecretYieldsError(t *testing.T) {
	l := &Listener{
		GroupID:      "group-1",
		LocalPeerID:  "peer-host",
		SharedSecret: testSecret,
		Handler: func(from net.Addr, f Frame) (string, interface{}, error) {
			return PayloadHelloAck, HelloAckPayload{}, nil
		},
	}
	if err := l.Listen(0); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Stop()

	endpoint := net.JoinHostPort("127.0.0.1", intToString(l.Port()))
	client := Client{GroupID: "group-1", LocalPeerID: "peer-joiner", SharedSecret: "d3Jvbmctc2VjcmV0"}

	if _, err := client.Hello(endpoint, HelloPayload{PeerID: "peer-joiner"}); err == nil {
		t.Fatalf("expected verification failure with mismatched secret")
	}
}

func TestListenerAndClient_HandlerErrorYieldsSignedErrorFrame(t *testing.T) {
	l := &Listener{
		GroupID:      "group-1",
		LocalPeerID:  "peer-host",
		SharedSecret: testSecret,
		Handler: func(from net.Addr, f Frame) (string, interface{}, error) {
			return "", nil, VerifyError{Reason: "group is full (max 8 peers)"}
		},
	}
	if err := l.Listen(0); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Stop()

	endpoint := net.JoinHostPort("127.0.0.1", intToString(l.Port()))
	client := Client{GroupID: "group-1", LocalPeerID: "peer-joiner", SharedSecret: testSecret}

	_, err := client.Hello(endpoint, HelloPayload{PeerID: "peer-joiner"})
	if err == nil {
		t.Fatalf("expected handler error to surface")
	}
	if err.Error() != "group is full (max 8 peers)" {
		t.Fatalf("unexpected error message: %v", err)
	}
}
