// Package session defines the per-instance session record — the durable
// unit the manifest store persists — and the guardrail normalization rules
// that keep it internally consistent across restarts and schema drift.
package session

import (
	"sort"
	"strings"

	"github.com/friendlink-dev/friendlink/internal/model"
)

// MaxPeers is the largest a group (including the local peer) may grow to
// before hello requests are rejected (spec.md §3, §4.3).
const MaxPeers = 8

// Peer is one member of a sync group as tracked by the local session.
type Peer struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name"`
	Endpoint      string `json:"endpoint"`
	AddedAt       int64  `json:"added_at"`
	LastSeenAt    int64  `json:"last_seen_at,omitempty"`
	Online        bool   `json:"online"`
	LastStateHash string `json:"last_state_hash,omitempty"`
}

// Conflict is a surfaced three-way-merge divergence awaiting resolution.
type Conflict struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"` // "lock" | "config"
	Key         string `json:"key"`
	PeerID      string `json:"peer_id"`
	MineHash    string `json:"mine_hash"`
	TheirsHash  string `json:"theirs_hash"`
	MinePreview string `json:"mine_preview,omitempty"`
	TheirsPreview string `json:"theirs_preview,omitempty"`

	MineLock   *model.LockEntry  `json:"mine_lock,omitempty"`
	TheirsLock *model.LockEntry  `json:"theirs_lock,omitempty"`
	MineConfig *model.ConfigFile `json:"mine_config,omitempty"`
	TheirsConfig *model.ConfigFile `json:"theirs_config,omitempty"`

	CreatedAt int64 `json:"created_at"`
}

// LastGoodSnapshot is the baseline used for three-way merge on the next
// reconcile round (spec.md §3).
type LastGoodSnapshot struct {
	StateHash string            `json:"state_hash"`
	Manifest  map[string]string `json:"manifest"`
	UpdatedAt int64             `json:"updated_at"`
}

// SyncToggles gates which content types participate in automatic sync.
type SyncToggles struct {
	Mods          bool `json:"mods"`
	ResourcePacks bool `json:"resourcepacks"`
	ShaderPacks   bool `json:"shaderpacks"`
	Datapacks     bool `json:"datapacks"`
}

// DefaultSyncToggles matches spec.md §3's default: resourcepacks off,
// everything else on.
func DefaultSyncToggles() SyncToggles {
	return SyncToggles{Mods: true, ResourcePacks: false, ShaderPacks: true, Datapacks: true}
}

// Enabled reports whether the given content type currently syncs.
func (t SyncToggles) Enabled(ct model.ContentType) bool {
	switch ct {
	case model.ContentMods:
		return t.Mods
	case model.ContentResourcePacks:
		return t.ResourcePacks
	case model.ContentShaderPacks:
		return t.ShaderPacks
	case model.ContentDatapacks:
		return t.Datapacks
	default:
		return false
	}
}

// Guardrails bounds what reconcile may do automatically.
type Guardrails struct {
	TrustedPeerIDs  []string          `json:"trusted_peer_ids"`
	Initialized     bool              `json:"initialized"`
	PeerAliases     map[string]string `json:"peer_aliases,omitempty"`
	MaxAutoChanges  int               `json:"max_auto_changes"`
	SyncToggles     SyncToggles       `json:"sync_toggles"`
}

// Record is the complete durable state of one instance's sync session
// (spec.md §3's "Session record").
type Record struct {
	InstanceID          string           `json:"instance_id"`
	GroupID             string           `json:"group_id"`
	LocalPeerID         string           `json:"local_peer_id"`
	DisplayName         string           `json:"display_name"`
	SharedSecret        string           `json:"shared_secret"` // base64
	ProtocolVersion     int              `json:"protocol_version"`
	ListenerPort        int              `json:"listener_port,omitempty"`
	Endpoint            string           `json:"endpoint"`
	Peers               []Peer           `json:"peers"`
	Allowlist           []string         `json:"allowlist"`
	LastGoodSnapshot    *LastGoodSnapshot `json:"last_good_snapshot,omitempty"`
	PendingConflicts    []Conflict       `json:"pending_conflicts"`
	CachedPeerState     map[string]model.SyncState `json:"cached_peer_state,omitempty"`
	BootstrapHostPeerID string           `json:"bootstrap_host_peer_id,omitempty"`
	Guardrails          Guardrails       `json:"guardrails"`
	LastPeerSyncAt      map[string]int64 `json:"last_peer_sync_at,omitempty"`
}

// HardExcludedPrefixes are directory prefixes that can never participate
// in config allowlist sync, regardless of what the allowlist claims
// (spec.md §3, GLOSSARY "Hard-excluded prefixes").
var HardExcludedPrefixes = []string{
	"saves/", "logs/", "crash-reports/", "screenshots/",
	"resourcepacks/", "shaderpacks/", "mods/",
}

// AlwaysAllowed is the one path that must always be in the effective
// allowlist regardless of user configuration.
const AlwaysAllowed = "options.txt"

// IsHardExcluded reports whether a path (already safe-rel-path'd) falls
// under a hard-excluded prefix.
func IsHardExcluded(path string) bool {
	lower := strings.ToLower(path)
	for _, prefix := range HardExcludedPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// NormalizeAllowlist enforces invariant 3 of spec.md §8: the result always
// contains options.txt (case-insensitively) and never contains an entry
// whose lowercased form starts with a hard-excluded prefix.
func NormalizeAllowlist(patterns []string) []string {
	seen := make(map[string]struct{}, len(patterns)+1)
	out := make([]string, 0, len(patterns)+1)

	hasOptionsTxt := false
	for _, p := range patterns {
		lower := strings.ToLower(strings.TrimSpace(p))
		if lower == "" {
			continue
		}
		if IsHardExcluded(lower) {
			continue
		}
		if lower == AlwaysAllowed {
			hasOptionsTxt = true
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, p)
	}

	if !hasOptionsTxt {
		out = append(out, AlwaysAllowed)
	}

	sort.Strings(out)
	return out
}

// ClampMaxAutoChanges enforces invariant 8 of spec.md §8: the result is
// always in [1, 500], defaulting to 25 when the input is zero (unset).
func ClampMaxAutoChanges(v int) int {
	if v == 0 {
		return 25
	}
	if v < 1 {
		return 1
	}
	if v > 500 {
		return 500
	}
	return v
}

// PeerIDSet returns the current peer ids as a set, for trusted-peer
// normalization.
func (r *Record) PeerIDSet() map[string]struct{} {
	m := make(map[string]struct{}, len(r.Peers))
	for _, p := range r.Peers {
		m[p.ID] = struct{}{}
	}
	return m
}

// NormalizeGuardrails enforces invariant 7 of spec.md §8: trusted_peer_ids
// never contains an id absent from the peer list, and a legacy session
// (initialized=false) with at least one peer is seeded to trust the full
// current peer set exactly once (spec.md §9, "Legacy-session trust
// initialization").
func (r *Record) NormalizeGuardrails() {
	valid := r.PeerIDSet()

	if !r.Guardrails.Initialized && len(r.Peers) > 0 {
		r.Guardrails.TrustedPeerIDs = make([]string, 0, len(r.Peers))
		for _, p := range r.Peers {
			r.Guardrails.TrustedPeerIDs = append(r.Guardrails.TrustedPeerIDs, p.ID)
		}
		r.Guardrails.Initialized = true
	}

	filtered := r.Guardrails.TrustedPeerIDs[:0:0]
	for _, id := range r.Guardrails.TrustedPeerIDs {
		if _, ok := valid[id]; ok {
			filtered = append(filtered, id)
		}
	}
	r.Guardrails.TrustedPeerIDs = filtered

	r.Guardrails.MaxAutoChanges = ClampMaxAutoChanges(r.Guardrails.MaxAutoChanges)
	r.Allowlist = NormalizeAllowlist(r.Allowlist)

	if (r.Guardrails.SyncToggles == SyncToggles{}) {
		r.Guardrails.SyncToggles = DefaultSyncToggles()
	}
}

// IsTrusted reports whether a peer id is in the trusted set.
func (r *Record) IsTrusted(peerID string) bool {
	for _, id := range r.Guardrails.TrustedPeerIDs {
		if id == peerID {
			return true
		}
	}
	return false
}

// PeerByID finds a peer record by id.
func (r *Record) PeerByID(id string) (*Peer, bool) {
	for i := range r.Peers {
		if r.Peers[i].ID == id {
			return &r.Peers[i], true
		}
	}
	return nil, false
}

// UpsertPeer adds or updates a peer, rejecting the add if it would push
// the group (including self) beyond MaxPeers (spec.md §3 invariant,
// §4.3 hello handling).
func (r *Record) UpsertPeer(p Peer) error {
	if existing, ok := r.PeerByID(p.ID); ok {
		existing.DisplayName = p.DisplayName
		existing.Endpoint = p.Endpoint
		if p.LastSeenAt != 0 {
			existing.LastSeenAt = p.LastSeenAt
		}
		existing.Online = p.Online
		if p.LastStateHash != "" {
			existing.LastStateHash = p.LastStateHash
		}
		return nil
	}

	if len(r.Peers) >= MaxPeers-1 {
		return ErrGroupFull{}
	}

	r.Peers = append(r.Peers, p)
	return nil
}

// MarkPeerOnline updates liveness bookkeeping for a successful contact.
func (r *Record) MarkPeerOnline(peerID, stateHash string, now int64) {
	if p, ok := r.PeerByID(peerID); ok {
		p.Online = true
		p.LastSeenAt = now
		if stateHash != "" {
			p.LastStateHash = stateHash
		}
	}
}

// MarkPeerOffline updates liveness bookkeeping for a failed contact.
func (r *Record) MarkPeerOffline(peerID string) {
	if p, ok := r.PeerByID(peerID); ok {
		p.Online = false
	}
}

// Alias returns the display alias for a peer id, falling back to its
// own display name when no alias is set.
func (r *Record) Alias(peerID string) string {
	if alias, ok := r.Guardrails.PeerAliases[peerID]; ok && alias != "" {
		return alias
	}
	if p, ok := r.PeerByID(peerID); ok {
		return p.DisplayName
	}
	return peerID
}

// SetAlias assigns a display alias for a peer id.
func (r *Record) SetAlias(peerID, alias string) {
	if r.Guardrails.PeerAliases == nil {
		r.Guardrails.PeerAliases = make(map[string]string)
	}
	r.Guardrails.PeerAliases[peerID] = alias
}

// StampPeerSync records that a peer was successfully synced at time now.
func (r *Record) StampPeerSync(peerID string, now int64) {
	if r.LastPeerSyncAt == nil {
		r.LastPeerSyncAt = make(map[string]int64)
	}
	r.LastPeerSyncAt[peerID] = now
}

// ErrGroupFull is returned when adding a peer would exceed MaxPeers
// (including the local peer) — spec.md §7, "capacity" error kind.
type ErrGroupFull struct{}

func (ErrGroupFull) Error() string { return "group already has the maximum of 8 peers" }
