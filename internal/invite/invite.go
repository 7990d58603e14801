// Package invite implements opaque invite tokens and the join flow that
// consumes them (C7): issuing a token for an existing session, parsing
// and validating one received out of band, and merging the bootstrap
// host's peer list into a freshly created joiner session.
package invite

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/friendlink-dev/friendlink/internal/session"
	"github.com/friendlink-dev/friendlink/internal/transport"
)

// DefaultExpiry is how long an issued token remains valid (spec.md §4.7).
const DefaultExpiry = 24 * time.Hour

// Token is the decoded form of an invite: everything a joiner needs to
// reach and authenticate against the bootstrap host.
type Token struct {
	GroupID               string `json:"group_id"`
	BootstrapPeerEndpoint string `json:"bootstrap_peer_endpoint"`
	SharedSecret          string `json:"shared_secret"`
	ExpiresAt             string `json:"expires_at"` // RFC3339
	ProtocolVersion       int    `json:"protocol_version"`
	HostPeerID            string `json:"host_peer_id"`
}

// Build produces a Token for rec, valid for DefaultExpiry from now.
func Build(rec *session.Record, now time.Time) Token {
	return Token{
		GroupID:               rec.GroupID,
		BootstrapPeerEndpoint: rec.Endpoint,
		SharedSecret:          rec.SharedSecret,
		ExpiresAt:             now.Add(DefaultExpiry).UTC().Format(time.RFC3339),
		ProtocolVersion:       rec.ProtocolVersion,
		HostPeerID:            rec.LocalPeerID,
	}
}

// Encode serializes t as the opaque token string: URL-safe, unpadded
// base64 of its canonical JSON form (spec.md §4.7, §6).
func Encode(t Token) (string, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal invite token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Parse decodes and validates an invite string: well-formed base64,
// valid JSON, non-empty group/endpoint/secret, and an expiry still in
// the future relative to now (spec.md §4.7).
func Parse(s string, now time.Time) (Token, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Token{}, fmt.Errorf("invalid invite encoding: %w", err)
	}

	var t Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return Token{}, fmt.Errorf("invalid invite payload: %w", err)
	}

	if t.GroupID == "" || t.BootstrapPeerEndpoint == "" || t.SharedSecret == "" {
		return Token{}, fmt.Errorf("invite missing required field")
	}

	expires, err := time.Parse(time.RFC3339, t.ExpiresAt)
	if err != nil {
		return Token{}, fmt.Errorf("invalid invite expiry: %w", err)
	}
	if now.After(expires) {
		return Token{}, fmt.Errorf("invite expired at %s", t.ExpiresAt)
	}

	return t, nil
}

// Join creates a new session record for localPeerID by sending hello to
// the invite's bootstrap host and merging the resulting peer list,
// rejecting joins that would push the group past session.MaxPeers
// (spec.md §4.7).
func Join(t Token, localPeerID, localDisplayName, localEndpoint string, client transport.Client, now time.Time) (*session.Record, error) {
	ack, err := client.Hello(t.BootstrapPeerEndpoint, transport.HelloPayload{
		PeerID:      localPeerID,
		DisplayName: localDisplayName,
		Endpoint:    localEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("hello to bootstrap host: %w", err)
	}

	peers := make([]session.Peer, 0, len(ack.Peers)+1)
	peers = append(peers, session.Peer{
		ID:          t.HostPeerID,
		DisplayName: ack.DisplayName,
		Endpoint:    t.BootstrapPeerEndpoint,
		AddedAt:     now.UnixMilli(),
	})
	for _, p := range ack.Peers {
		if p.PeerID == localPeerID || p.PeerID == t.HostPeerID {
			continue
		}
		peers = append(peers, session.Peer{
			ID:          p.PeerID,
			DisplayName: p.DisplayName,
			Endpoint:    p.Endpoint,
			AddedAt:     now.UnixMilli(),
		})
	}

	if len(peers)+1 > session.MaxPeers {
		return nil, fmt.Errorf("joining would exceed max group size of %d", session.MaxPeers)
	}

	rec := &session.Record{
		GroupID:             t.GroupID,
		LocalPeerID:         localPeerID,
		DisplayName:         localDisplayName,
		SharedSecret:        t.SharedSecret,
		ProtocolVersion:     t.ProtocolVersion,
		Endpoint:            localEndpoint,
		Peers:               peers,
		BootstrapHostPeerID: t.HostPeerID,
		Guardrails: session.Guardrails{
			TrustedPeerIDs: []string{t.HostPeerID},
			Initialized:    true,
			MaxAutoChanges: session.ClampMaxAutoChanges(0),
			SyncToggles:    session.DefaultSyncToggles(),
		},
	}
	rec.Allowlist = session.NormalizeAllowlist(nil)
	rec.NormalizeGuardrails()

	return rec, nil
}
