// Package reconcile implements the reconciler (C4): it pulls peer
// states over the signed transport, three-way merges them against the
// last-good baseline, writes the merged lock/config maps, drives the
// binary fetcher, and classifies the outcome into one of a small set of
// status codes the host application can act on.
package reconcile

import (
	"fmt"
	"time"

	"github.com/friendlink-dev/friendlink/internal/collector"
	"github.com/friendlink-dev/friendlink/internal/fetch"
	"github.com/friendlink-dev/friendlink/internal/model"
	"github.com/friendlink-dev/friendlink/internal/session"
	"github.com/friendlink-dev/friendlink/internal/transport"
)

// Mode selects how conservatively reconcile treats offline peers and
// binary-fetch failures (spec.md §4.4).
type Mode string

const (
	ModeManual    Mode = "manual"
	ModePrelaunch Mode = "prelaunch"
)

// Status is the terminal classification of one reconcile run.
type Status string

const (
	StatusSynced                Status = "synced"
	StatusConflicted             Status = "conflicted"
	StatusError                  Status = "error"
	StatusDegradedMissingFiles   Status = "degraded_missing_files"
	StatusDegradedOfflineLastGood Status = "degraded_offline_last_good"
	StatusBlockedOfflineStale    Status = "blocked_offline_stale"
	StatusBlockedUntrusted       Status = "blocked_untrusted"
)

// Action records one metadata mutation applied during this run, for the
// public result projection.
type Action struct {
	Kind string // "adopt_remote" | "adopt_remote_initial_baseline" | ...
	Key  string
}

// Result is everything a reconcile run reports back to the caller.
type Result struct {
	Status        Status
	BlockedReason string
	Actions       []Action
	Conflicts     []session.Conflict
	Warnings      []string
	OfflinePeers  []string
	LocalStateHash string
}

// Logger is the narrow logging surface reconcile depends on.
type Logger interface {
	Printf(format string, v ...interface{})
}

type nullLogger struct{}

func (nullLogger) Printf(string, ...interface{}) {}

// Deps bundles the collaborators reconcile drives (spec.md §2, "Data
// flow": C4 calls C1 for local view, C3 for peer views, C5 for binaries).
type Deps struct {
	Collector *collector.Collector
	Client    transport.Client
	Provider  fetch.Provider
	Logger    Logger
	Now       func() int64
}

func (d Deps) now() int64 {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UnixMilli()
}

func (d Deps) logger() Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return nullLogger{}
}

// classification of a single key's divergence against the baseline.
type divergence struct {
	localChanged  bool
	remoteChanged bool
}

// Reconcile runs the full algorithm of spec.md §4.4 against rec, mutating
// rec's peers, conflicts, and last_good_snapshot in place. The caller is
// responsible for persisting rec afterward (e.g. via the manifest
// store's Mutate).
func Reconcile(rec *session.Record, mode Mode, deps Deps) (Result, error) {
	now := deps.now()
	logger := deps.logger()

	// Step 1: normalize guardrails.
	rec.NormalizeGuardrails()

	// Step 2: collect local state.
	local, err := deps.Collector.Collect(rec.Allowlist)
	if err != nil {
		return Result{}, fmt.Errorf("collect local state: %w", err)
	}
	localLock := local.LockByKey()
	localConfig := local.ConfigByKey()

	// Step 3: baseline manifest.
	baseline := map[string]string{}
	if rec.LastGoodSnapshot != nil {
		baseline = rec.LastGoodSnapshot.Manifest
	}

	var (
		actions           []Action
		conflicts         []session.Conflict
		warnings          []string
		offlinePeers      []string
		skippedUntrusted  int
		preferredPeer     = map[string]string{}
		mergedLock        = cloneLockMap(localLock)
		mergedConfig      = cloneConfigMap(localConfig)
		anyMetadataAction bool
	)

	bootstrapHost := rec.BootstrapHostPeerID
	solePeer := len(rec.Peers) == 1

	// Step 4: per-peer merge.
	for _, peer := range rec.Peers {
		resp, err := deps.Client.RequestState(peer.Endpoint)
		if err != nil {
			rec.MarkPeerOffline(peer.ID)
			offlinePeers = append(offlinePeers, peer.ID)
			warnings = append(warnings, fmt.Sprintf("peer %s unreachable: %v", rec.Alias(peer.ID), err))
			continue
		}
		rec.MarkPeerOnline(peer.ID, resp.State.StateHash, now)
		if rec.CachedPeerState == nil {
			rec.CachedPeerState = make(map[string]model.SyncState)
		}
		rec.CachedPeerState[peer.ID] = resp.State

		if !rec.IsTrusted(peer.ID) {
			if resp.State.StateHash != local.StateHash {
				skippedUntrusted++
			}
			continue
		}

		isBootstrapSource := (bootstrapHost != "" && peer.ID == bootstrapHost) || solePeer

		remoteLock := resp.State.LockByKey()
		for key, remoteEntry := range remoteLock {
			if !rec.Guardrails.SyncToggles.Enabled(remoteEntry.ContentType) {
				continue
			}
			remoteHash := model.EntryHash(remoteEntry)
			localEntry, hasLocal := localLock[key]
			var localHash string
			if hasLocal {
				localHash = model.EntryHash(localEntry)
			}
			if remoteHash == localHash && hasLocal {
				continue
			}

			div := classify(key, localHash, hasLocal, remoteHash, baseline)

			switch {
			case !div.localChanged || !hasLocal:
				mergedLock[key] = remoteEntry
				preferredPeer[key] = peer.ID
				actions = append(actions, Action{Kind: "adopt_remote", Key: key})
				anyMetadataAction = true
			case div.remoteChanged && rec.LastGoodSnapshot == nil && isBootstrapSource:
				mergedLock[key] = remoteEntry
				preferredPeer[key] = peer.ID
				actions = append(actions, Action{Kind: "adopt_remote_initial_baseline", Key: key})
				anyMetadataAction = true
			case div.remoteChanged:
				conflicts = append(conflicts, newLockConflict(localEntry, remoteEntry, peer.ID, hasLocal, now))
			}
		}

		remoteConfig := resp.State.ConfigByKey()
		for key, remoteFile := range remoteConfig {
			localFile, hasLocal := localConfig[key]
			var localHash string
			if hasLocal {
				localHash = localFile.Hash
			}
			if remoteFile.Hash == localHash && hasLocal {
				continue
			}

			div := classify(key, localHash, hasLocal, remoteFile.Hash, baseline)

			switch {
			case !div.localChanged || !hasLocal:
				mergedConfig[key] = remoteFile
				actions = append(actions, Action{Kind: "adopt_remote", Key: key})
				anyMetadataAction = true
			case div.remoteChanged && rec.LastGoodSnapshot == nil && isBootstrapSource:
				mergedConfig[key] = remoteFile
				actions = append(actions, Action{Kind: "adopt_remote_initial_baseline", Key: key})
				anyMetadataAction = true
			case div.remoteChanged:
				conflicts = append(conflicts, newConfigConflict(localFile, remoteFile, peer.ID, hasLocal, now))
			}
		}
	}

	// Step 5: write merged maps if anything changed.
	if anyMetadataAction {
		lockEntries := make([]model.LockEntry, 0, len(mergedLock))
		for _, e := range mergedLock {
			lockEntries = append(lockEntries, e)
		}
		if err := deps.Collector.WriteLockEntries(lockEntries); err != nil {
			return Result{}, fmt.Errorf("write merged lock entries: %w", err)
		}
		for _, cf := range mergedConfig {
			safe, err := model.SafeRelPath(cf.Path)
			if err != nil {
				continue
			}
			if err := deps.Collector.WriteConfigFile(safe, cf.Content); err != nil {
				return Result{}, fmt.Errorf("write merged config %s: %w", cf.Path, err)
			}
		}
	}

	rec.PendingConflicts = mergeConflicts(rec.PendingConflicts, conflicts)

	// Step 6: binary fetch over trusted, online peers.
	trustedEndpoints := trustedOnlineEndpoints(rec)
	fetchEntries := make([]model.LockEntry, 0, len(mergedLock))
	for _, e := range mergedLock {
		fetchEntries = append(fetchEntries, e)
	}
	fetcher := fetch.New(deps.Collector, deps.Client, deps.Provider, fetchLoggerAdapter{logger})
	fetchResult := fetcher.Run(fetchEntries, trustedEndpoints, preferredPeer)
	if mode != ModePrelaunch && len(fetchResult.Failed) > 0 {
		time.Sleep(180 * time.Millisecond)
		retry := fetcher.Run(fetchEntries, trustedEndpoints, preferredPeer)
		fetchResult.Failed = retry.Failed
		fetchResult.Warnings = append(fetchResult.Warnings, retry.Warnings...)
	}
	warnings = append(warnings, fetchResult.Warnings...)

	// Step 7: final local state hash.
	finalState, err := deps.Collector.Collect(rec.Allowlist)
	if err != nil {
		return Result{}, fmt.Errorf("collect final state: %w", err)
	}

	// Step 8: derive status.
	status, blockedReason := deriveStatus(rec.PendingConflicts, fetchResult, offlinePeers, skippedUntrusted, mode, local, rec)

	// Step 9: on synced, update last-good snapshot and clear bootstrap marker.
	if status == StatusSynced {
		rec.LastGoodSnapshot = &session.LastGoodSnapshot{
			StateHash: finalState.StateHash,
			Manifest:  finalState.Manifest(),
			UpdatedAt: now,
		}
		rec.BootstrapHostPeerID = ""
		for _, peer := range rec.Peers {
			if peer.Online {
				rec.StampPeerSync(peer.ID, now)
			}
		}
	}

	return Result{
		Status:         status,
		BlockedReason:  blockedReason,
		Actions:        actions,
		Conflicts:      rec.PendingConflicts,
		Warnings:       warnings,
		OfflinePeers:   offlinePeers,
		LocalStateHash: finalState.StateHash,
	}, nil
}

// classify implements spec.md §4.4 step 4c's local_changed/remote_changed
// rules against the baseline manifest.
func classify(key, localHash string, hasLocal bool, remoteHash string, baseline map[string]string) divergence {
	baseHash, hasBase := baseline[key]

	var localChanged bool
	if hasBase {
		localChanged = localHash != baseHash
	} else {
		localChanged = hasLocal
	}

	var remoteChanged bool
	if hasBase {
		remoteChanged = baseHash != remoteHash
	} else {
		remoteChanged = true
	}

	return divergence{localChanged: localChanged, remoteChanged: remoteChanged}
}

func deriveStatus(conflicts []session.Conflict, fetchResult fetch.Result, offlinePeers []string, skippedUntrusted int, mode Mode, local model.SyncState, rec *session.Record) (Status, string) {
	if len(conflicts) > 0 {
		return StatusConflicted, ""
	}

	if len(fetchResult.Failed) > 0 {
		if mode == ModePrelaunch {
			return StatusError, "required content missing before launch"
		}
		return StatusDegradedMissingFiles, ""
	}

	if len(offlinePeers) > 0 {
		if rec.LastGoodSnapshot != nil && rec.LastGoodSnapshot.StateHash == local.StateHash {
			return StatusDegradedOfflineLastGood, ""
		}
		if mode == ModePrelaunch {
			return StatusBlockedOfflineStale, "offline peers and local state has diverged from last-good"
		}
		return StatusError, ""
	}

	if skippedUntrusted > 0 {
		reason := ""
		if mode == ModePrelaunch {
			reason = "untrusted peer changes were skipped"
		}
		return StatusBlockedUntrusted, reason
	}

	return StatusSynced, ""
}

// mergeConflicts folds this run's freshly classified conflicts into the
// existing pending set, skipping any that already have an entry for the
// same (kind, key, peer_id) so that re-running reconcile against an
// unchanged divergence never accumulates duplicate conflicts (spec.md §8
// idempotence).
func mergeConflicts(existing, fresh []session.Conflict) []session.Conflict {
	seen := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		seen[conflictDedupeKey(c)] = struct{}{}
	}
	merged := existing
	for _, c := range fresh {
		key := conflictDedupeKey(c)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, c)
	}
	return merged
}

func conflictDedupeKey(c session.Conflict) string {
	return c.Kind + "::" + c.Key + "::" + c.PeerID
}

func trustedOnlineEndpoints(rec *session.Record) []fetch.PeerEndpoint {
	out := make([]fetch.PeerEndpoint, 0, len(rec.Peers))
	for _, p := range rec.Peers {
		if p.Online && rec.IsTrusted(p.ID) {
			out = append(out, fetch.PeerEndpoint{PeerID: p.ID, Endpoint: p.Endpoint})
		}
	}
	return out
}

func cloneLockMap(m map[string]model.LockEntry) map[string]model.LockEntry {
	out := make(map[string]model.LockEntry, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneConfigMap(m map[string]model.ConfigFile) map[string]model.ConfigFile {
	out := make(map[string]model.ConfigFile, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func newLockConflict(local, remote model.LockEntry, peerID string, hasLocal bool, now int64) session.Conflict {
	localHash := ""
	var localPtr *model.LockEntry
	if hasLocal {
		localHash = model.EntryHash(local)
		l := local
		localPtr = &l
	}
	r := remote
	return session.Conflict{
		ID:         fmt.Sprintf("conflict-%s-%d", remote.Key(), now),
		Kind:       "lock",
		Key:        remote.Key(),
		PeerID:     peerID,
		MineHash:   localHash,
		TheirsHash: model.EntryHash(remote),
		MineLock:   localPtr,
		TheirsLock: &r,
		CreatedAt:  now,
	}
}

func newConfigConflict(local, remote model.ConfigFile, peerID string, hasLocal bool, now int64) session.Conflict {
	localHash := ""
	var localPtr *model.ConfigFile
	if hasLocal {
		localHash = local.Hash
		l := local
		localPtr = &l
	}
	r := remote
	return session.Conflict{
		ID:            fmt.Sprintf("conflict-%s-%d", remote.Key(), now),
		Kind:          "config",
		Key:           remote.Key(),
		PeerID:        peerID,
		MineHash:      localHash,
		TheirsHash:    remote.Hash,
		MinePreview:   previewOf(localPtr),
		TheirsPreview: previewOf(&r),
		MineConfig:    localPtr,
		TheirsConfig:  &r,
		CreatedAt:     now,
	}
}

func previewOf(cf *model.ConfigFile) string {
	if cf == nil {
		return ""
	}
	const maxLen = 200
	if len(cf.Content) <= maxLen {
		return cf.Content
	}
	return cf.Content[:maxLen] + "…"
}

// fetchLoggerAdapter adapts reconcile.Logger to fetch.Logger (identical
// shape, kept as distinct types per package so neither imports the
// other's concrete interface).
type fetchLoggerAdapter struct{ l Logger }

func (a fetchLoggerAdapter) Printf(format string, v ...interface{}) { a.l.Printf(format, v...) }
