// Package drift implements the read-only drift preview and its
// selective-apply counterpart (C6): a human-facing diff of the local
// instance against every peer, and an operation to apply a
// user-chosen subset of that diff.
package drift

import (
	"fmt"
	"time"

	"github.com/friendlink-dev/friendlink/internal/collector"
	"github.com/friendlink-dev/friendlink/internal/fetch"
	"github.com/friendlink-dev/friendlink/internal/model"
	"github.com/friendlink-dev/friendlink/internal/session"
	"github.com/friendlink-dev/friendlink/internal/transport"
)

// Change classifies how an item differs between local and peer state.
type Change string

const (
	ChangeAdded   Change = "added"
	ChangeChanged Change = "changed"
	ChangeRemoved Change = "removed"
)

// Item is one row of a drift preview (spec.md §4.6).
type Item struct {
	ID               string
	Key             string
	Kind            string // "lock" | "config"
	Change          Change
	PeerID          string
	PeerDisplayName string
	MinePreview     string
	TheirsPreview   string
	TrustedPeer     bool
}

// AggregateStatus summarizes a preview across all peers.
type AggregateStatus string

const (
	StatusNoPeers    AggregateStatus = "no_peers"
	StatusOffline    AggregateStatus = "offline"
	StatusInSync     AggregateStatus = "in_sync"
	StatusUnsynced   AggregateStatus = "unsynced"
	StatusConflicted AggregateStatus = "conflicted"
)

// Preview is the full result of preview_drift.
type Preview struct {
	Items  []Item
	Status AggregateStatus
}

// Logger is the narrow logging surface drift depends on.
type Logger interface {
	Printf(format string, v ...interface{})
}

type nullLogger struct{}

func (nullLogger) Printf(string, ...interface{}) {}

// Deps bundles drift's collaborators.
type Deps struct {
	Collector *collector.Collector
	Client    transport.Client
	Provider  fetch.Provider
	Logger    Logger
}

func (d Deps) logger() Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return nullLogger{}
}

// PreviewDrift pulls state from every peer (marking liveness in rec) and
// builds a deduplicated, toggle-filtered drift preview (spec.md §4.6).
func PreviewDrift(rec *session.Record, deps Deps) (Preview, error) {
	if len(rec.Peers) == 0 {
		return Preview{Status: StatusNoPeers}, nil
	}

	local, err := deps.Collector.Collect(rec.Allowlist)
	if err != nil {
		return Preview{}, fmt.Errorf("collect local state: %w", err)
	}
	localLock := local.LockByKey()
	localConfig := local.ConfigByKey()

	var items []Item
	seen := make(map[string]struct{})
	anyOnline := false
	anyOffline := false

	singlePeer := len(rec.Peers) == 1

	for _, peer := range rec.Peers {
		resp, err := deps.Client.RequestState(peer.Endpoint)
		if err != nil {
			rec.MarkPeerOffline(peer.ID)
			anyOffline = true
			continue
		}
		rec.MarkPeerOnline(peer.ID, resp.State.StateHash, time.Now().UnixMilli())
		anyOnline = true

		trusted := rec.IsTrusted(peer.ID)
		display := rec.Alias(peer.ID)

		remoteLock := resp.State.LockByKey()
		for key, remoteEntry := range remoteLock {
			if !rec.Guardrails.SyncToggles.Enabled(remoteEntry.ContentType) {
				continue
			}
			localEntry, hasLocal := localLock[key]
			if !hasLocal {
				addItem(&items, seen, Item{
					Key: key, Kind: "lock", Change: ChangeAdded, PeerID: peer.ID,
					PeerDisplayName: display, TheirsPreview: remoteEntry.Name, TrustedPeer: trusted,
				})
				continue
			}
			if model.EntryHash(localEntry) != model.EntryHash(remoteEntry) {
				addItem(&items, seen, Item{
					Key: key, Kind: "lock", Change: ChangeChanged, PeerID: peer.ID,
					PeerDisplayName: display, MinePreview: localEntry.Name, TheirsPreview: remoteEntry.Name, TrustedPeer: trusted,
				})
			}
		}
		if singlePeer {
			for key, localEntry := range localLock {
				if !rec.Guardrails.SyncToggles.Enabled(localEntry.ContentType) {
					continue
				}
				if _, ok := remoteLock[key]; !ok {
					addItem(&items, seen, Item{
						Key: key, Kind: "lock", Change: ChangeRemoved, PeerID: peer.ID,
						PeerDisplayName: display, MinePreview: localEntry.Name, TrustedPeer: trusted,
					})
				}
			}
		}

		remoteConfig := resp.State.ConfigByKey()
		for key, remoteFile := range remoteConfig {
			localFile, hasLocal := localConfig[key]
			if !hasLocal {
				addItem(&items, seen, Item{
					Key: key, Kind: "config", Change: ChangeAdded, PeerID: peer.ID,
					PeerDisplayName: display, TheirsPreview: preview(remoteFile.Content), TrustedPeer: trusted,
				})
				continue
			}
			if localFile.Hash != remoteFile.Hash {
				addItem(&items, seen, Item{
					Key: key, Kind: "config", Change: ChangeChanged, PeerID: peer.ID,
					PeerDisplayName: display, MinePreview: preview(localFile.Content), TheirsPreview: preview(remoteFile.Content), TrustedPeer: trusted,
				})
			}
		}
		if singlePeer {
			for key, localFile := range localConfig {
				if _, ok := remoteConfig[key]; !ok {
					addItem(&items, seen, Item{
						Key: key, Kind: "config", Change: ChangeRemoved, PeerID: peer.ID,
						PeerDisplayName: display, MinePreview: preview(localFile.Content), TrustedPeer: trusted,
					})
				}
			}
		}
	}

	status := aggregateStatus(items, anyOnline, anyOffline)
	return Preview{Items: items, Status: status}, nil
}

func aggregateStatus(items []Item, anyOnline, anyOffline bool) AggregateStatus {
	if !anyOnline {
		return StatusOffline
	}
	if len(items) == 0 {
		if anyOffline {
			return StatusOffline
		}
		return StatusInSync
	}
	for _, it := range items {
		if it.Change == ChangeChanged {
			return StatusConflicted
		}
	}
	return StatusUnsynced
}

func addItem(items *[]Item, seen map[string]struct{}, it Item) {
	dedupeKey := it.PeerID + "::" + it.Key + "::" + string(it.Change)
	if _, ok := seen[dedupeKey]; ok {
		return
	}
	seen[dedupeKey] = struct{}{}
	it.ID = fmt.Sprintf("drift-%d", len(*items))
	*items = append(*items, it)
}

func preview(content string) string {
	const maxLen = 200
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + "…"
}
