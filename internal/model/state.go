package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// SyncState is the canonical, content-addressed view of one instance:
// its lock entries, its allowlisted config files, and a deterministic
// hash over both. Two peers holding identical content always produce an
// identical StateHash (spec.md §3, invariant 1 of §8).
type SyncState struct {
	StateHash    string       `json:"state_hash"`
	LockEntries  []LockEntry  `json:"lock_entries"`
	ConfigFiles  []ConfigFile `json:"config_files"`
}

// manifestTuple is one (key, hash, kind) row of the canonical manifest
// that StateHash is computed over.
type manifestTuple struct {
	Key  string `json:"key"`
	Hash string `json:"hash"`
	Kind string `json:"kind"`
}

// EntryHash returns the sha256 hex digest of a CLE's normalized, canonical
// tuple. It is invariant to hash-map key ordering, hash value whitespace
// and case, duplicate algorithm entries, and target_worlds ordering —
// each of those is folded away by LockEntry.Normalize before hashing.
func EntryHash(e LockEntry) string {
	n := e.Normalize()

	algs := make([]string, 0, len(n.Hashes))
	for alg := range n.Hashes {
		algs = append(algs, alg)
	}
	sort.Strings(algs)

	type canonical struct {
		Source        string   `json:"source"`
		ProjectID     string   `json:"project_id"`
		VersionID     string   `json:"version_id"`
		Name          string   `json:"name"`
		VersionNumber string   `json:"version_number"`
		Filename      string   `json:"filename"`
		ContentType   string   `json:"content_type"`
		TargetScope   string   `json:"target_scope"`
		TargetWorlds  []string `json:"target_worlds"`
		Enabled       bool     `json:"enabled"`
		HashAlgs      []string `json:"hash_algs"`
		HashVals      []string `json:"hash_vals"`
	}

	vals := make([]string, len(algs))
	for i, alg := range algs {
		vals[i] = n.Hashes[alg]
	}

	c := canonical{
		Source:        strings.ToLower(n.Source),
		ProjectID:     strings.ToLower(n.ProjectID),
		VersionID:     n.VersionID,
		Name:          n.Name,
		VersionNumber: n.VersionNumber,
		Filename:      n.Filename,
		ContentType:   string(n.ContentType),
		TargetScope:   string(n.TargetScope),
		TargetWorlds:  n.TargetWorlds,
		Enabled:       n.Enabled,
		HashAlgs:      algs,
		HashVals:      vals,
	}

	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ConfigFileHash returns the sha256 hex digest of raw file bytes.
func ConfigFileHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// BuildState assembles a SyncState from sorted lock entries and config
// files, deriving and attaching StateHash.
func BuildState(entries []LockEntry, configs []ConfigFile) SyncState {
	normEntries := make([]LockEntry, len(entries))
	for i, e := range entries {
		normEntries[i] = e.Normalize()
	}
	sort.Slice(normEntries, func(i, j int) bool { return normEntries[i].Key() < normEntries[j].Key() })

	normConfigs := make([]ConfigFile, len(configs))
	copy(normConfigs, configs)
	sort.Slice(normConfigs, func(i, j int) bool { return normConfigs[i].Key() < normConfigs[j].Key() })

	tuples := make([]manifestTuple, 0, len(normEntries)+len(normConfigs))
	for _, e := range normEntries {
		tuples = append(tuples, manifestTuple{Key: e.Key(), Hash: EntryHash(e), Kind: "lock"})
	}
	for _, c := range normConfigs {
		tuples = append(tuples, manifestTuple{Key: c.Key(), Hash: c.Hash, Kind: "config"})
	}
	sort.Slice(tuples, func(i, j int) bool { return tuples[i].Key < tuples[j].Key })

	data, _ := json.Marshal(tuples)
	sum := sha256.Sum256(data)

	return SyncState{
		StateHash:   hex.EncodeToString(sum[:]),
		LockEntries: normEntries,
		ConfigFiles: normConfigs,
	}
}

// Manifest returns the (key -> hash) map used as the baseline for
// three-way merges (spec.md §4.4).
func (s SyncState) Manifest() map[string]string {
	m := make(map[string]string, len(s.LockEntries)+len(s.ConfigFiles))
	for _, e := range s.LockEntries {
		m[e.Key()] = EntryHash(e)
	}
	for _, c := range s.ConfigFiles {
		m[c.Key()] = c.Hash
	}
	return m
}

// LockByKey indexes lock entries by their canonical key.
func (s SyncState) LockByKey() map[string]LockEntry {
	m := make(map[string]LockEntry, len(s.LockEntries))
	for _, e := range s.LockEntries {
		m[e.Key()] = e
	}
	return m
}

// ConfigByKey indexes config files by their canonical key.
func (s SyncState) ConfigByKey() map[string]ConfigFile {
	m := make(map[string]ConfigFile, len(s.ConfigFiles))
	for _, c := range s.ConfigFiles {
		m[c.Key()] = c
	}
	return m
}
