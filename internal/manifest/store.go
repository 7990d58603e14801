// Package manifest implements the durable, versioned manifest store (C2):
// a single whole-file JSON record of every instance's sync session. It
// mirrors the teacher's internal/sync/allowlist.go shape (load-whole-file,
// mutate in memory, save-whole-file, under a single mutex) rather than
// any kind of incremental database.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/friendlink-dev/friendlink/internal/session"
	"github.com/xeipuuv/gojsonschema"
)

// SchemaVersion is the current on-disk store schema version.
const SchemaVersion = 1

// fileSchema is the top-level shape written to store.v1.json
// (spec.md §6: "{version:1, sessions:[SessionRecord]}").
type fileSchema struct {
	Version  int               `json:"version"`
	Sessions []session.Record  `json:"sessions"`
}

// storeShapeSchema is a loose structural check applied before the typed
// decode, so a corrupted or foreign JSON file fails with a clear message
// rather than a confusing per-field unmarshal error.
const storeShapeSchema = `{
	"type": "object",
	"required": ["version", "sessions"],
	"properties": {
		"version": {"type": "integer"},
		"sessions": {"type": "array"}
	}
}`

// Store is the on-disk manifest store for one friendlink data directory.
type Store struct {
	mu   sync.Mutex
	path string
}

// New returns a Store rooted at <app_data>/friend_link/store.v1.json.
func New(appDataDir string) *Store {
	return &Store{path: filepath.Join(appDataDir, "friend_link", "store.v1.json")}
}

// Read loads the store from disk. A missing file yields an empty store;
// any other read or parse failure is propagated (spec.md §4.2: "Read is
// total").
func (s *Store) Read() ([]session.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *Store) readLocked() ([]session.Record, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest store: %w", err)
	}

	docLoader := gojsonschema.NewBytesLoader(data)
	schemaLoader := gojsonschema.NewStringLoader(storeShapeSchema)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return nil, fmt.Errorf("manifest store is not valid JSON: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("manifest store has unexpected shape: %v", result.Errors())
	}

	var f fileSchema
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse manifest store: %w", err)
	}

	return f.Sessions, nil
}

// Write replaces the store wholesale (spec.md §4.2: "Write is whole-file
// replacement"). It writes to a temp file and renames into place so a
// failed write never corrupts the previous on-disk state (spec.md §7,
// "storage" error kind).
func (s *Store) Write(sessions []session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(sessions)
}

func (s *Store) writeLocked(sessions []session.Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create manifest store directory: %w", err)
	}

	f := fileSchema{Version: SchemaVersion, Sessions: sessions}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest store: %w", err)
	}

	tmp := s.path + ".sync.tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write manifest store temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize manifest store write: %w", err)
	}
	return nil
}

// Get retrieves one session by instance id.
func (s *Store) Get(instanceID string) (session.Record, bool, error) {
	sessions, err := s.Read()
	if err != nil {
		return session.Record{}, false, err
	}
	for _, r := range sessions {
		if r.InstanceID == instanceID {
			return r, true, nil
		}
	}
	return session.Record{}, false, nil
}

// Upsert inserts or replaces a session record and writes the store back.
func (s *Store) Upsert(rec session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.readLocked()
	if err != nil {
		return err
	}

	found := false
	for i := range sessions {
		if sessions[i].InstanceID == rec.InstanceID {
			sessions[i] = rec
			found = true
			break
		}
	}
	if !found {
		sessions = append(sessions, rec)
	}

	return s.writeLocked(sessions)
}

// Remove deletes a session record by instance id (spec.md §3, "Session
// destroyed on leave ... store entry removed").
func (s *Store) Remove(instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.readLocked()
	if err != nil {
		return err
	}

	out := sessions[:0:0]
	for _, r := range sessions {
		if r.InstanceID != instanceID {
			out = append(out, r)
		}
	}

	return s.writeLocked(out)
}

// Mutate reads the current record for instanceID, applies fn, and writes
// the result back — the "callers mutate an in-memory value and write it
// back" pattern of spec.md §4.2. If the record does not yet exist, fn
// receives a zero-value Record with InstanceID set.
func (s *Store) Mutate(instanceID string, fn func(*session.Record) error) (session.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.readLocked()
	if err != nil {
		return session.Record{}, err
	}

	idx := -1
	for i := range sessions {
		if sessions[i].InstanceID == instanceID {
			idx = i
			break
		}
	}

	var rec session.Record
	if idx >= 0 {
		rec = sessions[idx]
	} else {
		rec = session.Record{InstanceID: instanceID}
	}

	if err := fn(&rec); err != nil {
		return session.Record{}, err
	}

	if idx >= 0 {
		sessions[idx] = rec
	} else {
		sessions = append(sessions, rec)
	}

	if err := s.writeLocked(sessions); err != nil {
		return session.Record{}, err
	}
	return rec, nil
}
