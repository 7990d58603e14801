// Package collector implements the state collector (C1): it walks an
// instance directory and produces a deterministic model.SyncState from
// the lock file and the allowlisted config tree, and knows how to write
// lock entries back out and materialize/clean up CLE binaries on disk.
//
// It follows the teacher's config-driven, logger-injected service shape
// (internal/sync.Config/Logger) but is pure filesystem I/O rather than a
// network service.
package collector

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/friendlink-dev/friendlink/internal/model"
)

// Logger is the narrow logging surface collector depends on.
type Logger interface {
	Printf(format string, v ...interface{})
}

type nullLogger struct{}

func (nullLogger) Printf(string, ...interface{}) {}

// lockFileVersion is the schema version written to lock.json.
const lockFileVersion = 2

// lockFile is the on-disk shape of <instance>/lock.json (spec.md §6).
type lockFile struct {
	Version int               `json:"version"`
	Entries []model.LockEntry `json:"entries"`
}

// Collector collects and writes SyncState for one instance directory.
type Collector struct {
	InstanceRoot string
	Logger       Logger
}

// New returns a Collector rooted at instanceRoot. A nil logger is
// replaced with a no-op logger.
func New(instanceRoot string, logger Logger) *Collector {
	if logger == nil {
		logger = nullLogger{}
	}
	return &Collector{InstanceRoot: instanceRoot, Logger: logger}
}

// ReadLockEntries parses <instance>/lock.json. A missing file yields an
// empty slice; parse errors propagate.
func (c *Collector) ReadLockEntries() ([]model.LockEntry, error) {
	path := filepath.Join(c.InstanceRoot, "lock.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock.json: %w", err)
	}

	var lf lockFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parse lock.json: %w", err)
	}

	entries := make([]model.LockEntry, len(lf.Entries))
	for i, e := range lf.Entries {
		entries[i] = e.Normalize()
	}
	return entries, nil
}

// WriteLockEntries canonicalizes and writes entries to <instance>/lock.json
// via write-to-temp-then-rename (spec.md §4.1). Entries are sorted by key
// before emission so the on-disk file is deterministic.
func (c *Collector) WriteLockEntries(entries []model.LockEntry) error {
	norm := make([]model.LockEntry, len(entries))
	for i, e := range entries {
		norm[i] = e.Normalize()
	}
	sort.Slice(norm, func(i, j int) bool { return norm[i].Key() < norm[j].Key() })

	lf := lockFile{Version: lockFileVersion, Entries: norm}
	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lock.json: %w", err)
	}

	path := filepath.Join(c.InstanceRoot, "lock.json")
	return writeFileAtomic(path, data, 0644)
}

// CollectConfigFiles discovers allowlisted config files: options.txt
// (if present) plus a recursive, symlink-skipping walk of config/,
// filtered through hard-exclusion prefixes and the allowlist glob set
// (spec.md §4.1).
func (c *Collector) CollectConfigFiles(allowlist []string) ([]model.ConfigFile, error) {
	var out []model.ConfigFile

	if cf, ok, err := c.readConfigFileIfAllowed("options.txt", allowlist); err != nil {
		return nil, err
	} else if ok {
		out = append(out, cf)
	}

	configRoot := filepath.Join(c.InstanceRoot, "config")
	walkErr := filepath.WalkDir(configRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == configRoot {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(c.InstanceRoot, path)
		if err != nil {
			return err
		}
		relSlash := filepath.ToSlash(rel)

		cf, ok, err := c.readConfigFileIfAllowed(relSlash, allowlist)
		if err != nil {
			return err
		}
		if ok {
			out = append(out, cf)
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk config tree: %w", walkErr)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// readConfigFileIfAllowed applies the filter chain from spec.md §4.1:
// hard-exclusion prefixes reject, options.txt always accepts, else match
// the allowlist glob set.
func (c *Collector) readConfigFileIfAllowed(relPath string, allowlist []string) (model.ConfigFile, bool, error) {
	safe, err := model.SafeRelPath(relPath)
	if err != nil {
		return model.ConfigFile{}, false, nil
	}

	lower := strings.ToLower(safe)
	if isHardExcluded(lower) {
		return model.ConfigFile{}, false, nil
	}

	if lower != "options.txt" && !matchesAllowlist(safe, allowlist) {
		return model.ConfigFile{}, false, nil
	}

	fullPath := filepath.Join(c.InstanceRoot, filepath.FromSlash(safe))
	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return model.ConfigFile{}, false, nil
		}
		return model.ConfigFile{}, false, fmt.Errorf("stat %s: %w", safe, err)
	}
	if info.IsDir() {
		return model.ConfigFile{}, false, nil
	}

	raw, err := os.ReadFile(fullPath)
	if err != nil {
		return model.ConfigFile{}, false, fmt.Errorf("read %s: %w", safe, err)
	}
	if !utf8.Valid(raw) {
		return model.ConfigFile{}, false, fmt.Errorf("config file %s is not valid UTF-8", safe)
	}

	content := string(raw)
	cf := model.ConfigFile{
		Path:       safe,
		ModifiedAt: info.ModTime().UnixMilli(),
		Hash:       model.ConfigFileHash(content),
		Content:    content,
	}
	return cf, true, nil
}

// hardExcludedPrefixes mirrors session.HardExcludedPrefixes; the two
// lists are kept separately (the session package stays the
// guardrail/allowlist authority, collector only consumes its normalized
// output).
var hardExcludedPrefixes = []string{
	"saves/", "logs/", "crash-reports/", "screenshots/",
	"resourcepacks/", "shaderpacks/", "mods/",
}

func isHardExcluded(lowerPath string) bool {
	for _, prefix := range hardExcludedPrefixes {
		if strings.HasPrefix(lowerPath, prefix) {
			return true
		}
	}
	return false
}

func matchesAllowlist(path string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, path); ok {
			return true
		}
		if ok, _ := filepath.Match(p, filepath.Base(path)); ok {
			return true
		}
	}
	return false
}

// WriteConfigFile writes content to a safe-gated relative path under the
// instance root via write-to-temp-then-rename. It does not re-check the
// allowlist — callers (reconcile merges, the config editor) are
// responsible for only calling this with paths they've already cleared.
func (c *Collector) WriteConfigFile(relPath, content string) error {
	safe, err := model.SafeRelPath(relPath)
	if err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	full := filepath.Join(c.InstanceRoot, filepath.FromSlash(safe))
	return writeFileAtomic(full, []byte(content), 0644)
}

// ReadConfigFile reads one config file's raw bytes and mtime, without
// any allowlist filtering.
func (c *Collector) ReadConfigFile(relPath string) (content string, modifiedAtMs int64, err error) {
	safe, err := model.SafeRelPath(relPath)
	if err != nil {
		return "", 0, fmt.Errorf("read config file: %w", err)
	}
	full := filepath.Join(c.InstanceRoot, filepath.FromSlash(safe))

	info, err := os.Stat(full)
	if err != nil {
		return "", 0, fmt.Errorf("stat %s: %w", safe, err)
	}
	raw, err := os.ReadFile(full)
	if err != nil {
		return "", 0, fmt.Errorf("read %s: %w", safe, err)
	}
	return string(raw), info.ModTime().UnixMilli(), nil
}

// Collect assembles the full SyncState for the instance: lock entries
// plus allowlisted config files, hashed and sorted deterministically.
func (c *Collector) Collect(allowlist []string) (model.SyncState, error) {
	entries, err := c.ReadLockEntries()
	if err != nil {
		return model.SyncState{}, err
	}

	configs, err := c.CollectConfigFiles(allowlist)
	if err != nil {
		return model.SyncState{}, err
	}

	return model.BuildState(entries, configs), nil
}

// EnsureBinary reports whether a CLE's on-disk binaries are all present
// (spec.md §4.1: "file-missing iff no corresponding path exists and is a
// regular file").
func (c *Collector) EnsureBinary(e model.LockEntry) (missing []string) {
	for _, rel := range e.DiskPaths() {
		full := filepath.Join(c.InstanceRoot, filepath.FromSlash(rel))
		info, err := os.Stat(full)
		if err != nil || !info.Mode().IsRegular() {
			missing = append(missing, rel)
		}
	}
	return missing
}

// WriteBinary writes raw bytes to every disk path a CLE maps to, via
// write-to-temp-then-rename, and for mods removes the opposite-state
// sibling on success (spec.md §4.1).
func (c *Collector) WriteBinary(e model.LockEntry, data []byte) error {
	for _, rel := range e.DiskPaths() {
		full := filepath.Join(c.InstanceRoot, filepath.FromSlash(rel))
		if err := writeFileAtomic(full, data, 0644); err != nil {
			return fmt.Errorf("write binary %s: %w", rel, err)
		}
	}

	if e.Normalize().ContentType == model.ContentMods {
		opp := filepath.Join(c.InstanceRoot, filepath.FromSlash(e.OppositeDiskPath()))
		os.Remove(opp)
	}

	c.Logger.Printf("wrote binary for %s (%d bytes)", e.Key(), len(data))
	return nil
}

// RemoveBinary deletes every disk path a CLE maps to, ignoring
// already-absent files.
func (c *Collector) RemoveBinary(e model.LockEntry) error {
	for _, rel := range e.DiskPaths() {
		full := filepath.Join(c.InstanceRoot, filepath.FromSlash(rel))
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove binary %s: %w", rel, err)
		}
	}
	return nil
}

// writeFileAtomic writes data to a temp file beside path and renames it
// into place, guaranteeing path either holds its previous contents or
// the new ones, never a partial write (spec.md §4.1, §7 "storage").
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	tmp := path + ".sync.tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
