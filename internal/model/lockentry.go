package model

import (
	"sort"
	"strings"
)

// ContentType is the category of a tracked artifact.
type ContentType string

const (
	ContentMods          ContentType = "mods"
	ContentResourcePacks ContentType = "resourcepacks"
	ContentShaderPacks   ContentType = "shaderpacks"
	ContentDatapacks     ContentType = "datapacks"
)

func (c ContentType) normalized() ContentType {
	switch ContentType(strings.ToLower(string(c))) {
	case ContentMods, ContentResourcePacks, ContentShaderPacks, ContentDatapacks:
		return ContentType(strings.ToLower(string(c)))
	default:
		return ContentMods
	}
}

// TargetScope is where a content item applies.
type TargetScope string

const (
	ScopeInstance TargetScope = "instance"
	ScopeWorld    TargetScope = "world"
)

// LockEntry describes one third-party content item tracked by an instance.
//
// Key is the triple (source, content_type, project_id), lowercased, and
// must uniquely identify an entry within an instance (spec.md §3).
type LockEntry struct {
	Source        string            `json:"source"`
	ProjectID     string            `json:"project_id"`
	VersionID     string            `json:"version_id"`
	Name          string            `json:"name"`
	VersionNumber string            `json:"version_number"`
	Filename      string            `json:"filename"`
	ContentType   ContentType       `json:"content_type"`
	TargetScope   TargetScope       `json:"target_scope"`
	TargetWorlds  []string          `json:"target_worlds,omitempty"`
	Enabled       bool              `json:"enabled"`
	Hashes        map[string]string `json:"hashes"`
}

// Key returns the lowercased (source, content_type, project_id) triple
// that uniquely identifies this entry within an instance.
func (e LockEntry) Key() string {
	return strings.ToLower(e.Source) + "::" + strings.ToLower(string(e.ContentType)) + "::" + strings.ToLower(e.ProjectID)
}

// Normalize enforces the CLE invariants from spec.md §3:
//   - unknown/missing content_type defaults to mods
//   - content_type=datapacks implies target_scope=world, else instance
//   - target_worlds is sorted and deduplicated, and empty unless scope=world
//   - hash algorithm names are lowercased and collapsed on duplicates,
//     values are lowercased and whitespace-trimmed
func (e LockEntry) Normalize() LockEntry {
	out := e
	out.ContentType = e.ContentType.normalized()

	if out.ContentType == ContentDatapacks {
		out.TargetScope = ScopeWorld
	} else {
		out.TargetScope = ScopeInstance
	}

	if out.TargetScope == ScopeWorld {
		out.TargetWorlds = sortedDedupe(e.TargetWorlds)
	} else {
		out.TargetWorlds = nil
	}

	out.Hashes = canonicalizeHashes(e.Hashes)

	return out
}

func sortedDedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func canonicalizeHashes(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for alg, val := range in {
		alg = strings.ToLower(strings.TrimSpace(alg))
		val = strings.ToLower(strings.TrimSpace(val))
		if alg == "" || val == "" {
			continue
		}
		out[alg] = val
	}
	return out
}

// DiskPaths returns the filesystem-relative paths (under an instance root)
// that back this entry, per the layout in spec.md §4.1. Mods resolve to a
// single enabled/disabled path; datapacks resolve to one path per world.
func (e LockEntry) DiskPaths() []string {
	switch e.ContentType {
	case ContentMods:
		if e.Enabled {
			return []string{"mods/" + e.Filename}
		}
		return []string{"mods/" + e.Filename + ".disabled"}
	case ContentResourcePacks:
		return []string{"resourcepacks/" + e.Filename}
	case ContentShaderPacks:
		return []string{"shaderpacks/" + e.Filename}
	case ContentDatapacks:
		paths := make([]string, 0, len(e.TargetWorlds))
		for _, w := range e.TargetWorlds {
			paths = append(paths, "saves/"+w+"/datapacks/"+e.Filename)
		}
		return paths
	default:
		return nil
	}
}

// OppositeDiskPath returns the sibling enabled/disabled path for a mod,
// used to clean up the stale copy after a successful write. Returns ""
// for content types without an enabled/disabled toggle.
func (e LockEntry) OppositeDiskPath() string {
	if e.ContentType != ContentMods {
		return ""
	}
	if e.Enabled {
		return "mods/" + e.Filename + ".disabled"
	}
	return "mods/" + e.Filename
}

// SupportsBinarySync reports whether this content type has an associated
// binary artifact fetched over the transport (all four current types do;
// this exists so future content types can opt out explicitly).
func (e LockEntry) SupportsBinarySync() bool {
	switch e.ContentType {
	case ContentMods, ContentResourcePacks, ContentShaderPacks, ContentDatapacks:
		return true
	default:
		return false
	}
}

// PreferredHash returns the declared hash to verify a fetched binary
// against, preferring sha512 over sha256 per spec.md §4.5, and the
// algorithm name used. ok is false if neither is declared.
func (e LockEntry) PreferredHash() (alg, digest string, ok bool) {
	if v, found := e.Hashes["sha512"]; found {
		return "sha512", v, true
	}
	if v, found := e.Hashes["sha256"]; found {
		return "sha256", v, true
	}
	return "", "", false
}
