// Package friendlink is the public API of the small-group content sync
// engine.
//
// This is the only package external applications should import: every
// internal package is an implementation detail reachable only through
// the Engine methods here.
//
// Example usage:
//
//	e, err := friendlink.New(friendlink.Config{DataDir: "/path/to/app/data"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	rec, invite, err := e.CreateSession(friendlink.CreateSessionInput{
//	    InstanceID:  "my-modpack",
//	    DisplayName: "Alice's PC",
//	})
package friendlink

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/friendlink-dev/friendlink/internal/collector"
	"github.com/friendlink-dev/friendlink/internal/configfiles"
	"github.com/friendlink-dev/friendlink/internal/configsearch"
	"github.com/friendlink-dev/friendlink/internal/drift"
	"github.com/friendlink-dev/friendlink/internal/fetch"
	"github.com/friendlink-dev/friendlink/internal/history"
	"github.com/friendlink-dev/friendlink/internal/invite"
	"github.com/friendlink-dev/friendlink/internal/listenerreg"
	"github.com/friendlink-dev/friendlink/internal/manifest"
	"github.com/friendlink-dev/friendlink/internal/model"
	"github.com/friendlink-dev/friendlink/internal/reconcile"
	"github.com/friendlink-dev/friendlink/internal/session"
	"github.com/friendlink-dev/friendlink/internal/transport"
	"github.com/friendlink-dev/friendlink/internal/wireschema"
)

// Config configures an Engine.
type Config struct {
	// DataDir is the root directory for the manifest store, instance
	// directories, and debug bundles.
	DataDir string

	// Provider is the external fallback binary source consulted by
	// the fetcher when no trusted peer can serve an artifact.
	Provider fetch.Provider

	// Logger receives diagnostic output from every internal component.
	// A nil Logger is replaced with a no-op logger.
	Logger Logger
}

// Logger is the narrow logging surface the engine and its internals depend on.
type Logger interface {
	Printf(format string, v ...interface{})
}

type nullLogger struct{}

func (nullLogger) Printf(string, ...interface{}) {}

// Engine is the main entry point for friendlink.
type Engine struct {
	dataDir   string
	store     *manifest.Store
	listeners *listenerreg.Registry
	schema    *wireschema.Registry
	provider  fetch.Provider
	logger    Logger
	history   *history.Log

	searchMu  sync.Mutex
	searchIdx map[string]*configsearch.Index
}

// New constructs an Engine rooted at cfg.DataDir.
func New(cfg Config) (*Engine, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("friendlink: DataDir is required")
	}
	schema, err := wireschema.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("friendlink: build wire schema registry: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = nullLogger{}
	}

	historyDir := filepath.Join(cfg.DataDir, "friend_link")
	if err := os.MkdirAll(historyDir, 0755); err != nil {
		return nil, fmt.Errorf("friendlink: create data directory: %w", err)
	}
	historyLog, err := history.Open(filepath.Join(historyDir, "history.db"))
	if err != nil {
		return nil, fmt.Errorf("friendlink: open reconcile history: %w", err)
	}

	return &Engine{
		dataDir:   cfg.DataDir,
		store:     manifest.New(cfg.DataDir),
		listeners: listenerreg.New(),
		schema:    schema,
		provider:  cfg.Provider,
		logger:    logger,
		history:   historyLog,
		searchIdx: make(map[string]*configsearch.Index),
	}, nil
}

// Close releases the engine's reconcile-history database and any open
// config search indexes. It does not stop per-instance listeners or
// remove session records; call LeaveSession for that.
func (e *Engine) Close() error {
	e.searchMu.Lock()
	for _, idx := range e.searchIdx {
		idx.Close()
	}
	e.searchIdx = make(map[string]*configsearch.Index)
	e.searchMu.Unlock()
	return e.history.Close()
}

// searchIndexFor returns the (lazily opened, process-lifetime) config
// search index for instanceID.
func (e *Engine) searchIndexFor(instanceID string) (*configsearch.Index, error) {
	e.searchMu.Lock()
	defer e.searchMu.Unlock()
	if idx, ok := e.searchIdx[instanceID]; ok {
		return idx, nil
	}
	idx, err := configsearch.Open(e.dataDir, instanceID)
	if err != nil {
		return nil, fmt.Errorf("open config search index: %w", err)
	}
	e.searchIdx[instanceID] = idx
	return idx, nil
}

// recordReconcileOutcome appends a reconcile run's outcome to the
// instance's audit history. Failures are logged, not returned: the
// manifest store remains the durable source of truth, and a reconcile
// that otherwise succeeded should not fail just because its audit trail
// couldn't be written.
func (e *Engine) recordReconcileOutcome(instanceID, mode string, res reconcile.Result) {
	ev := history.Event{
		InstanceID:       instanceID,
		Mode:             mode,
		Status:           string(res.Status),
		BlockedReason:    res.BlockedReason,
		ActionCount:      len(res.Actions),
		ConflictCount:    len(res.Conflicts),
		OfflinePeerCount: len(res.OfflinePeers),
		OccurredAt:       time.Now(),
	}
	if err := e.history.Record(ev); err != nil {
		e.logger.Printf("record reconcile history for %s: %v", instanceID, err)
	}
}

func (e *Engine) instanceRoot(instanceID string) string {
	return filepath.Join(e.dataDir, "instances", instanceID)
}

// InstanceRoot returns the on-disk directory the engine treats as
// instanceID's content root (spec.md §6's <app_data>/instances/<instance>
// layout). Host applications place lock.json, config/, options.txt, and
// binary directories here before creating or joining a session.
func (e *Engine) InstanceRoot(instanceID string) string {
	return e.instanceRoot(instanceID)
}

func (e *Engine) collectorFor(instanceID string) *collector.Collector {
	return collector.New(e.instanceRoot(instanceID), nil)
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate shared secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// CreateSessionInput is the create_session command's input.
type CreateSessionInput struct {
	InstanceID      string
	DisplayName     string
	ListenPort      int // 0 lets the OS choose
	Allowlist       []string
	ProtocolVersion int
}

// CreateSession starts a brand-new sync group for an instance that has
// no peers yet, binding its listener and persisting the session record
// immediately (spec.md §3, §4.7).
func (e *Engine) CreateSession(in CreateSessionInput) (session.Record, string, error) {
	if in.InstanceID == "" {
		return session.Record{}, "", fmt.Errorf("instance_id is required")
	}

	secret, err := randomSecret()
	if err != nil {
		return session.Record{}, "", err
	}

	protocolVersion := in.ProtocolVersion
	if protocolVersion == 0 {
		protocolVersion = 1
	}

	rec := session.Record{
		InstanceID:      in.InstanceID,
		GroupID:         uuid.NewString(),
		LocalPeerID:     uuid.NewString(),
		DisplayName:     in.DisplayName,
		SharedSecret:    secret,
		ProtocolVersion: protocolVersion,
		Allowlist:       session.NormalizeAllowlist(in.Allowlist),
		Guardrails: session.Guardrails{
			Initialized:    true,
			MaxAutoChanges: session.ClampMaxAutoChanges(0),
			SyncToggles:    session.DefaultSyncToggles(),
		},
	}

	endpoint, port, err := e.listeners.Ensure(rec.InstanceID, in.ListenPort, rec.GroupID, rec.LocalPeerID, rec.SharedSecret, e.handlerFor(rec.InstanceID), e.schema, nil)
	if err != nil {
		return session.Record{}, "", fmt.Errorf("bind listener: %w", err)
	}
	rec.ListenerPort = port
	rec.Endpoint = endpoint

	if err := e.store.Upsert(rec); err != nil {
		e.listeners.Stop(rec.InstanceID)
		return session.Record{}, "", fmt.Errorf("persist session: %w", err)
	}

	tok := invite.Build(&rec, time.Now())
	encoded, err := invite.Encode(tok)
	if err != nil {
		return rec, "", fmt.Errorf("encode invite: %w", err)
	}
	return rec, encoded, nil
}

// JoinSessionInput is the join_session command's input.
type JoinSessionInput struct {
	InstanceID   string
	DisplayName  string
	ListenPort   int
	InviteToken  string
}

// JoinSession consumes an invite token, binds a listener, sends hello
// (carrying the bound endpoint) to the bootstrap host, merges the host's
// peer list, and persists the resulting session record (spec.md §4.7).
func (e *Engine) JoinSession(in JoinSessionInput) (session.Record, error) {
	if in.InstanceID == "" {
		return session.Record{}, fmt.Errorf("instance_id is required")
	}

	tok, err := invite.Parse(in.InviteToken, time.Now())
	if err != nil {
		return session.Record{}, fmt.Errorf("parse invite: %w", err)
	}

	localPeerID := uuid.NewString()
	client := transport.Client{GroupID: tok.GroupID, LocalPeerID: localPeerID, SharedSecret: tok.SharedSecret, Validator: e.schema}

	endpoint, port, err := e.listeners.Ensure(in.InstanceID, in.ListenPort, tok.GroupID, localPeerID, tok.SharedSecret, e.handlerFor(in.InstanceID), e.schema, nil)
	if err != nil {
		return session.Record{}, fmt.Errorf("bind listener: %w", err)
	}

	rec, err := invite.Join(tok, localPeerID, in.DisplayName, endpoint, client, time.Now())
	if err != nil {
		e.listeners.Stop(in.InstanceID)
		return session.Record{}, fmt.Errorf("join: %w", err)
	}
	rec.InstanceID = in.InstanceID
	rec.ListenerPort = port
	rec.Endpoint = endpoint

	if err := e.store.Upsert(*rec); err != nil {
		e.listeners.Stop(rec.InstanceID)
		return session.Record{}, fmt.Errorf("persist session: %w", err)
	}

	return *rec, nil
}

// LeaveSession stops the instance's listener and removes its session
// record, guaranteeing port release before returning (spec.md §5).
func (e *Engine) LeaveSession(instanceID string) error {
	e.listeners.Stop(instanceID)

	e.searchMu.Lock()
	if idx, ok := e.searchIdx[instanceID]; ok {
		idx.Close()
		delete(e.searchIdx, instanceID)
	}
	e.searchMu.Unlock()

	if err := e.store.Remove(instanceID); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

// GetStatus returns the current session record for instanceID.
func (e *Engine) GetStatus(instanceID string) (session.Record, error) {
	rec, ok, err := e.store.Get(instanceID)
	if err != nil {
		return session.Record{}, fmt.Errorf("read session: %w", err)
	}
	if !ok {
		return session.Record{}, fmt.Errorf("no session for instance %q", instanceID)
	}
	return rec, nil
}

// SetAllowlist replaces the instance's config-file allowlist.
func (e *Engine) SetAllowlist(instanceID string, patterns []string) (session.Record, error) {
	return e.store.Mutate(instanceID, func(rec *session.Record) error {
		rec.Allowlist = session.NormalizeAllowlist(patterns)
		return nil
	})
}

// SetGuardrails replaces the instance's guardrail configuration,
// re-normalizing it against the current peer list.
func (e *Engine) SetGuardrails(instanceID string, g session.Guardrails) (session.Record, error) {
	return e.store.Mutate(instanceID, func(rec *session.Record) error {
		rec.Guardrails = g
		rec.Guardrails.MaxAutoChanges = session.ClampMaxAutoChanges(g.MaxAutoChanges)
		rec.NormalizeGuardrails()
		return nil
	})
}

// SetPeerAlias assigns a human-friendly display alias to a peer.
func (e *Engine) SetPeerAlias(instanceID, peerID, alias string) (session.Record, error) {
	if len(alias) > 64 {
		return session.Record{}, fmt.Errorf("alias too long (max 64 characters)")
	}
	return e.store.Mutate(instanceID, func(rec *session.Record) error {
		rec.SetAlias(peerID, alias)
		return nil
	})
}

// depsFor builds reconcile.Deps scoped to rec's group/peer/secret, since
// every outbound request must authenticate as this instance's local peer.
func (e *Engine) depsFor(rec session.Record) reconcile.Deps {
	return reconcile.Deps{
		Collector: e.collectorFor(rec.InstanceID),
		Client:    transport.Client{GroupID: rec.GroupID, LocalPeerID: rec.LocalPeerID, SharedSecret: rec.SharedSecret, Validator: e.schema},
		Provider:  e.provider,
		Logger:    reconcileLoggerAdapter{e.logger},
	}
}

// PreviewDrift builds a read-only diff of local state against every
// peer (spec.md §4.6).
func (e *Engine) PreviewDrift(instanceID string) (drift.Preview, error) {
	rec, err := e.GetStatus(instanceID)
	if err != nil {
		return drift.Preview{}, err
	}
	deps := e.depsFor(rec)
	preview, err := drift.PreviewDrift(&rec, drift.Deps{Collector: deps.Collector, Client: deps.Client, Provider: deps.Provider, Logger: driftLoggerAdapter{e.logger}})
	if err != nil {
		return drift.Preview{}, err
	}
	_ = e.store.Upsert(rec) // persist peer liveness updates
	return preview, nil
}

// SyncSelected applies a caller-chosen subset of the current drift
// preview (spec.md §4.6).
func (e *Engine) SyncSelected(instanceID string, keys []string, metadataOnly bool) (drift.SyncResult, error) {
	rec, err := e.GetStatus(instanceID)
	if err != nil {
		return drift.SyncResult{}, err
	}
	deps := e.depsFor(rec)
	driftDeps := drift.Deps{Collector: deps.Collector, Client: deps.Client, Provider: deps.Provider, Logger: driftLoggerAdapter{e.logger}}

	res, err := drift.SyncSelected(&rec, keys, metadataOnly, driftDeps)
	if err != nil {
		return drift.SyncResult{}, err
	}
	if err := e.store.Upsert(rec); err != nil {
		return drift.SyncResult{}, fmt.Errorf("persist session after sync_selected: %w", err)
	}
	return res, nil
}

// Reconcile runs a full three-way-merge reconcile pass (spec.md §4.4).
func (e *Engine) Reconcile(instanceID string, mode reconcile.Mode) (reconcile.Result, error) {
	rec, err := e.GetStatus(instanceID)
	if err != nil {
		return reconcile.Result{}, err
	}
	res, err := reconcile.Reconcile(&rec, mode, e.depsFor(rec))
	if err != nil {
		return reconcile.Result{}, err
	}
	if err := e.store.Upsert(rec); err != nil {
		return reconcile.Result{}, fmt.Errorf("persist session after reconcile: %w", err)
	}
	e.recordReconcileOutcome(instanceID, string(mode), res)
	return res, nil
}

// ResolveConflicts applies dispositions to pending conflicts, then
// triggers a manual reconcile (spec.md §4.4).
func (e *Engine) ResolveConflicts(instanceID string, req reconcile.ResolveRequest) (reconcile.Result, error) {
	rec, err := e.GetStatus(instanceID)
	if err != nil {
		return reconcile.Result{}, err
	}
	res, err := reconcile.ResolveConflicts(&rec, req, e.collectorFor(instanceID), e.depsFor(rec))
	if err != nil {
		return reconcile.Result{}, err
	}
	if err := e.store.Upsert(rec); err != nil {
		return reconcile.Result{}, fmt.Errorf("persist session after resolve_conflicts: %w", err)
	}
	e.recordReconcileOutcome(instanceID, "resolve_conflicts", res)
	return res, nil
}

// ExportDebugBundle writes an opt-in diagnostic snapshot of the session
// record and the instance's currently collected state to
// <data_dir>/friend_link/debug/<instance>_<uuid>.json (spec.md §6).
func (e *Engine) ExportDebugBundle(instanceID string) (string, error) {
	rec, err := e.GetStatus(instanceID)
	if err != nil {
		return "", err
	}
	state, err := e.collectorFor(instanceID).Collect(rec.Allowlist)
	if err != nil {
		return "", fmt.Errorf("collect state for debug bundle: %w", err)
	}

	bundle := struct {
		Session session.Record  `json:"session"`
		State   model.SyncState `json:"state"`
	}{Session: rec, State: state}

	raw, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal debug bundle: %w", err)
	}

	dir := filepath.Join(e.dataDir, "friend_link", "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create debug directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.json", instanceID, uuid.NewString()))
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return "", fmt.Errorf("write debug bundle: %w", err)
	}
	return path, nil
}

// ListConfigFiles lists the instance's editable config-file universe
// (spec.md §4.8).
func (e *Engine) ListConfigFiles(instanceID string) ([]configfiles.FileInfo, error) {
	return configfiles.New(e.instanceRoot(instanceID)).ListFiles()
}

// ReadConfigFile reads one config file, falling back to a binary
// preview when the file is not editable (spec.md §4.8).
func (e *Engine) ReadConfigFile(instanceID, path string) (configfiles.ReadResult, error) {
	return configfiles.New(e.instanceRoot(instanceID)).ReadFile(path)
}

// WriteConfigFile writes content to path, optionally gated by optimistic
// concurrency against the file's last-known modification time
// (spec.md §4.8).
func (e *Engine) WriteConfigFile(instanceID, path, content string, expectedModifiedAt *int64) error {
	return configfiles.New(e.instanceRoot(instanceID)).WriteFile(path, content, expectedModifiedAt)
}

// SearchConfigFiles full-text searches an instance's editable config file
// content for query, re-indexing the current on-disk tree first so
// results always reflect the latest writes. limit <= 0 falls back to the
// index's own default.
func (e *Engine) SearchConfigFiles(instanceID, query string, limit int) ([]configsearch.Hit, error) {
	editor := configfiles.New(e.instanceRoot(instanceID))
	files, err := editor.ListFiles()
	if err != nil {
		return nil, fmt.Errorf("list config files: %w", err)
	}

	docs := make([]model.ConfigFile, 0, len(files))
	for _, f := range files {
		if !f.Editable {
			continue
		}
		res, err := editor.ReadFile(f.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s for indexing: %w", f.Path, err)
		}
		docs = append(docs, model.ConfigFile{Path: f.Path, ModifiedAt: f.ModifiedAt, Content: res.Content})
	}

	idx, err := e.searchIndexFor(instanceID)
	if err != nil {
		return nil, err
	}
	if err := idx.Reindex(docs); err != nil {
		return nil, fmt.Errorf("reindex config files: %w", err)
	}
	return idx.Search(query, limit)
}

type reconcileLoggerAdapter struct{ l Logger }

func (a reconcileLoggerAdapter) Printf(format string, v ...interface{}) { a.l.Printf(format, v...) }

type driftLoggerAdapter struct{ l Logger }

func (a driftLoggerAdapter) Printf(format string, v ...interface{}) { a.l.Printf(format, v...) }
