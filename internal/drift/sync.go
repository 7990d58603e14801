package drift

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/friendlink-dev/friendlink/internal/fetch"
	"github.com/friendlink-dev/friendlink/internal/model"
	"github.com/friendlink-dev/friendlink/internal/session"
)

// SyncStatus is the outcome of sync_selected.
type SyncStatus string

const (
	SyncSynced               SyncStatus = "synced"
	SyncDegradedMissingFiles SyncStatus = "degraded_missing_files"
	SyncBlockedUntrusted     SyncStatus = "blocked_untrusted"
	SyncPartialPending       SyncStatus = "partial_pending"
)

// SyncResult is the full outcome of one sync_selected call.
type SyncResult struct {
	Status           SyncStatus
	Applied          []string
	SkippedUntrusted int
	FetchWarnings    []string
}

// SyncSelected builds a drift preview, restricts it to keys (empty means
// every item), drops items from untrusted peers (counted, not applied),
// and applies the mutation each surviving item implies (spec.md §4.6).
func SyncSelected(rec *session.Record, keys []string, metadataOnly bool, deps Deps) (SyncResult, error) {
	preview, err := PreviewDrift(rec, deps)
	if err != nil {
		return SyncResult{}, fmt.Errorf("preview drift: %w", err)
	}

	keySet := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		keySet[k] = struct{}{}
	}
	wantsAll := len(keySet) == 0

	var survivors []Item
	skippedUntrusted := 0
	for _, it := range preview.Items {
		if !wantsAll {
			if _, ok := keySet[it.Key]; !ok {
				continue
			}
		}
		if !it.TrustedPeer {
			skippedUntrusted++
			continue
		}
		survivors = append(survivors, it)
	}

	entries, err := deps.Collector.ReadLockEntries()
	if err != nil {
		return SyncResult{}, fmt.Errorf("read lock entries: %w", err)
	}
	byKey := make(map[string]model.LockEntry, len(entries))
	for _, e := range entries {
		byKey[e.Key()] = e
	}

	preferred := make(map[string]string)
	var touchedLockKeys []string
	var applied []string

	for _, it := range survivors {
		if it.Kind != "lock" {
			continue
		}
		switch it.Change {
		case ChangeAdded, ChangeChanged:
			resp, err := deps.Client.RequestState(peerEndpointFor(rec, it.PeerID))
			if err != nil {
				continue
			}
			remoteLock := resp.State.LockByKey()
			if remoteEntry, ok := remoteLock[it.Key]; ok {
				byKey[it.Key] = remoteEntry
				preferred[it.Key] = it.PeerID
				touchedLockKeys = append(touchedLockKeys, it.Key)
				applied = append(applied, it.ID)
			}
		case ChangeRemoved:
			if e, ok := byKey[it.Key]; ok {
				delete(byKey, it.Key)
				if err := deps.Collector.RemoveBinary(e); err != nil {
					deps.logger().Printf("sync_selected: remove binary for %s: %v", it.Key, err)
				}
				applied = append(applied, it.ID)
			}
		}
	}

	mergedLock := make([]model.LockEntry, 0, len(byKey))
	for _, e := range byKey {
		mergedLock = append(mergedLock, e)
	}
	if err := deps.Collector.WriteLockEntries(mergedLock); err != nil {
		return SyncResult{}, fmt.Errorf("write merged lock entries: %w", err)
	}

	for _, it := range survivors {
		if it.Kind != "config" {
			continue
		}
		switch it.Change {
		case ChangeAdded, ChangeChanged:
			resp, err := deps.Client.RequestState(peerEndpointFor(rec, it.PeerID))
			if err != nil {
				continue
			}
			remoteConfig := resp.State.ConfigByKey()
			if cf, ok := remoteConfig[it.Key]; ok {
				safe, err := model.SafeRelPath(cf.Path)
				if err != nil {
					continue
				}
				if err := deps.Collector.WriteConfigFile(safe, cf.Content); err != nil {
					deps.logger().Printf("sync_selected: write config %s: %v", cf.Path, err)
					continue
				}
				applied = append(applied, it.ID)
			}
		case ChangeRemoved:
			localFiles, err := deps.Collector.CollectConfigFiles(rec.Allowlist)
			if err != nil {
				continue
			}
			for _, cf := range localFiles {
				if cf.Key() == it.Key {
					if err := os.Remove(filepath.Join(deps.Collector.InstanceRoot, filepath.FromSlash(cf.Path))); err != nil && !os.IsNotExist(err) {
						deps.logger().Printf("sync_selected: remove config %s: %v", cf.Path, err)
					}
				}
			}
			applied = append(applied, it.ID)
		}
	}

	var fetchWarnings []string
	fetchFailed := 0
	if !metadataOnly && len(touchedLockKeys) > 0 {
		touchedSet := make(map[string]struct{}, len(touchedLockKeys))
		for _, k := range touchedLockKeys {
			touchedSet[k] = struct{}{}
		}
		var toFetch []model.LockEntry
		for _, e := range mergedLock {
			if _, ok := touchedSet[e.Key()]; ok {
				toFetch = append(toFetch, e)
			}
		}
		fetcher := fetch.New(deps.Collector, deps.Client, deps.Provider, fetchLoggerAdapterFor(deps))
		fres := fetcher.Run(toFetch, trustedOnlinePeerEndpoints(rec), preferred)
		fetchWarnings = fres.Warnings
		fetchFailed = len(fres.Failed)
	}

	status := SyncSynced
	switch {
	case fetchFailed > 0:
		status = SyncDegradedMissingFiles
	case skippedUntrusted > 0 && len(applied) == 0:
		status = SyncBlockedUntrusted
	case len(applied) < len(preview.Items):
		status = SyncPartialPending
	}

	if status == SyncSynced && len(applied) == len(preview.Items) {
		local, err := deps.Collector.Collect(rec.Allowlist)
		if err == nil {
			rec.LastGoodSnapshot = &session.LastGoodSnapshot{
				StateHash: local.StateHash,
				Manifest:  local.Manifest(),
			}
		}
	}

	return SyncResult{
		Status:           status,
		Applied:          applied,
		SkippedUntrusted: skippedUntrusted,
		FetchWarnings:    fetchWarnings,
	}, nil
}

func peerEndpointFor(rec *session.Record, peerID string) string {
	for _, p := range rec.Peers {
		if p.ID == peerID {
			return p.Endpoint
		}
	}
	return ""
}

func trustedOnlinePeerEndpoints(rec *session.Record) []fetch.PeerEndpoint {
	var out []fetch.PeerEndpoint
	for _, p := range rec.Peers {
		if rec.IsTrusted(p.ID) && p.Online {
			out = append(out, fetch.PeerEndpoint{PeerID: p.ID, Endpoint: p.Endpoint})
		}
	}
	return out
}

type fetchLoggerAdapter struct {
	l Logger
}

func (a fetchLoggerAdapter) Printf(format string, v ...interface{}) {
	a.l.Printf(format, v...)
}

func fetchLoggerAdapterFor(deps Deps) fetch.Logger {
	return fetchLoggerAdapter{l: deps.logger()}
}
