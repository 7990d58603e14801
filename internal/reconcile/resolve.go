package reconcile

import (
	"fmt"

	"github.com/friendlink-dev/friendlink/internal/collector"
	"github.com/friendlink-dev/friendlink/internal/model"
	"github.com/friendlink-dev/friendlink/internal/session"
)

// ConflictResolution is one caller-supplied disposition for a pending
// conflict (spec.md §4.4, "Conflict resolution").
type ConflictResolution string

const (
	ResolutionKeepMine     ConflictResolution = "keep_mine"
	ResolutionTakeTheirs   ConflictResolution = "take_theirs"
	ResolutionSkipForNow   ConflictResolution = "skip_for_now"
)

// ResolveRequest is the resolve_conflicts input: explicit per-conflict
// resolutions plus two global flags applied to every conflict not
// explicitly named.
type ResolveRequest struct {
	ByConflictID  map[string]ConflictResolution
	KeepAllMine   bool
	TakeAllTheirs bool
}

func (r ResolveRequest) resolutionFor(conflictID string) ConflictResolution {
	if res, ok := r.ByConflictID[conflictID]; ok {
		return res
	}
	if r.KeepAllMine {
		return ResolutionKeepMine
	}
	if r.TakeAllTheirs {
		return ResolutionTakeTheirs
	}
	return ResolutionSkipForNow
}

// ResolveConflicts applies req to rec's pending conflicts: take_theirs
// reinstates the retained theirs value into the local lock/config map;
// keep_mine is a no-op at the data layer; anything resolved as
// skip_for_now (explicitly or by default) survives to the next cycle.
// It then triggers a normal Reconcile(manual) (spec.md §4.4).
func ResolveConflicts(rec *session.Record, req ResolveRequest, c *collector.Collector, deps Deps) (Result, error) {
	var remaining []session.Conflict
	var touchedLock []model.LockEntry
	var touchedConfig []model.ConfigFile

	for _, conflict := range rec.PendingConflicts {
		switch req.resolutionFor(conflict.ID) {
		case ResolutionTakeTheirs:
			if conflict.Kind == "lock" && conflict.TheirsLock != nil {
				touchedLock = append(touchedLock, *conflict.TheirsLock)
			}
			if conflict.Kind == "config" && conflict.TheirsConfig != nil {
				touchedConfig = append(touchedConfig, *conflict.TheirsConfig)
			}
		case ResolutionKeepMine:
			// no-op at the data layer: local value already reflects "mine".
		default:
			remaining = append(remaining, conflict)
		}
	}

	if len(touchedLock) > 0 {
		entries, err := c.ReadLockEntries()
		if err != nil {
			return Result{}, fmt.Errorf("read lock entries before applying resolutions: %w", err)
		}
		byKey := make(map[string]model.LockEntry, len(entries))
		for _, e := range entries {
			byKey[e.Key()] = e
		}
		for _, e := range touchedLock {
			byKey[e.Key()] = e
		}
		merged := make([]model.LockEntry, 0, len(byKey))
		for _, e := range byKey {
			merged = append(merged, e)
		}
		if err := c.WriteLockEntries(merged); err != nil {
			return Result{}, fmt.Errorf("write resolved lock entries: %w", err)
		}
	}

	for _, cf := range touchedConfig {
		safe, err := model.SafeRelPath(cf.Path)
		if err != nil {
			continue
		}
		if err := c.WriteConfigFile(safe, cf.Content); err != nil {
			return Result{}, fmt.Errorf("write resolved config %s: %w", cf.Path, err)
		}
	}

	rec.PendingConflicts = remaining

	return Reconcile(rec, ModeManual, deps)
}
