// Package transport implements the signed, replay-protected TCP frame
// exchange between peers (C3): canonical signing, HMAC-SHA256
// verification, a bounded nonce replay cache, and the accept/dial
// primitives that carry hello, state, and file request/response
// payloads.
//
// It generalizes the teacher's internal/sync framing (internal/sync/sync.go's
// Message/Encode/DecodeMessage) from libp2p streams to a raw net.Listener,
// and is grounded line-for-line on the protocol constants and handshake
// sequencing of the reference friend_link/net.rs implementation.
package transport

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// MaxClockSkewMillis bounds how far a frame's timestamp may drift from
// the local clock before it is rejected as stale.
const MaxClockSkewMillis int64 = 120_000

// MaxSeenNonces bounds the replay cache; once full, one arbitrary entry
// is evicted per insertion (bounded-memory replay window; acceptable
// because the clock-skew check already rejects stale frames).
const MaxSeenNonces = 4096

// PeerLimit is the maximum group size including the local peer.
const PeerLimit = 8

// Payload type tags carried in Frame.PayloadType.
const (
	PayloadHello         = "hello"
	PayloadHelloAck      = "hello_ack"
	PayloadStateRequest  = "state_request"
	PayloadStateResponse = "state_response"
	PayloadFileRequest   = "file_request"
	PayloadFileResponse  = "file_response"
	PayloadError         = "error"
)

// Frame is the signed wire envelope exchanged between peers.
type Frame struct {
	GroupID     string          `json:"group_id"`
	FromPeerID  string          `json:"from_peer_id"`
	TimestampMs int64           `json:"timestamp_ms"`
	Nonce       string          `json:"nonce"`
	PayloadType string          `json:"payload_type"`
	Payload     json.RawMessage `json:"payload"`
	Signature   string          `json:"signature"`
}

// signable is Frame without Signature, serialized with the exact field
// order {group_id, from_peer_id, timestamp_ms, nonce, payload_type,
// payload} so both sides produce byte-identical signing input.
type signable struct {
	GroupID     string          `json:"group_id"`
	FromPeerID  string          `json:"from_peer_id"`
	TimestampMs int64           `json:"timestamp_ms"`
	Nonce       string          `json:"nonce"`
	PayloadType string          `json:"payload_type"`
	Payload     json.RawMessage `json:"payload"`
}

func (f Frame) signableBytes() ([]byte, error) {
	s := signable{
		GroupID:     f.GroupID,
		FromPeerID:  f.FromPeerID,
		TimestampMs: f.TimestampMs,
		Nonce:       f.Nonce,
		PayloadType: f.PayloadType,
		Payload:     f.Payload,
	}
	return json.Marshal(s)
}

// Sign computes and returns the base64-encoded HMAC-SHA256 signature of
// the frame's signable fields under secretB64 (base64-decoded first).
func Sign(secretB64 string, f Frame) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil {
		return "", fmt.Errorf("decode shared secret: %w", err)
	}
	raw, err := f.signableBytes()
	if err != nil {
		return "", fmt.Errorf("serialize signable frame: %w", err)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(raw)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// NewSignedFrame builds, signs, and returns a frame ready to send.
func NewSignedFrame(secretB64, groupID, fromPeerID, payloadType string, payload interface{}, now int64) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal payload: %w", err)
	}

	f := Frame{
		GroupID:     groupID,
		FromPeerID:  fromPeerID,
		TimestampMs: now,
		Nonce:       uuid.NewString(),
		PayloadType: payloadType,
		Payload:     raw,
	}

	sig, err := Sign(secretB64, f)
	if err != nil {
		return Frame{}, err
	}
	f.Signature = sig
	return f, nil
}

// NewErrorFrame builds a signed error-payload frame (spec.md §4.3:
// "Any failure yields a signed error frame {ok:false, error:<reason>}").
func NewErrorFrame(secretB64, groupID, fromPeerID, reason string, now int64) (Frame, error) {
	return NewSignedFrame(secretB64, groupID, fromPeerID, PayloadError, map[string]interface{}{
		"ok":    false,
		"error": reason,
	}, now)
}

// VerifyError describes why frame verification failed; its Error()
// string is suitable to place directly into an error-payload frame.
type VerifyError struct {
	Reason string
}

func (e VerifyError) Error() string { return e.Reason }

// Verify checks a received frame's group id, signature, and clock skew
// (spec.md §4.3 steps 1-3; nonce replay, step 4, is checked separately
// by a NonceCache since it requires mutable shared state).
func Verify(secretB64, expectedGroupID string, f Frame, now int64) error {
	if f.GroupID != expectedGroupID {
		return VerifyError{Reason: "group mismatch"}
	}

	expectedSig, err := Sign(secretB64, f)
	if err != nil {
		return VerifyError{Reason: err.Error()}
	}
	if !hmac.Equal([]byte(expectedSig), []byte(f.Signature)) {
		return VerifyError{Reason: "invalid frame signature"}
	}

	skew := now - f.TimestampMs
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxClockSkewMillis {
		return VerifyError{Reason: "frame timestamp outside allowed skew window"}
	}

	return nil
}
