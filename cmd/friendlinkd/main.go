package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/friendlink-dev/friendlink/internal/reconcile"
	"github.com/friendlink-dev/friendlink/pkg/friendlink"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "create":
		cmdCreate(args)
	case "join":
		cmdJoin(args)
	case "leave":
		cmdLeave(args)
	case "status":
		cmdStatus(args)
	case "drift":
		cmdDrift(args)
	case "sync":
		cmdSync(args)
	case "reconcile":
		cmdReconcile(args)
	case "resolve":
		cmdResolve(args)
	case "config":
		cmdConfig(args)
	case "search":
		cmdSearch(args)
	case "export":
		cmdExport(args)
	case "daemon":
		cmdDaemon(args)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`friendlinkd - small-group content sync daemon

Usage: friendlinkd <command> [options]

Commands:
  create    Create a new sync session for an instance
  join      Join an existing session from an invite token
  leave     Leave a session (stops its listener, drops its record)
  status    Show an instance's session record
  drift     Preview drift against the group
  sync      Apply a selective sync for chosen keys
  reconcile Run full reconcile (manual or prelaunch mode)
  resolve   Resolve pending conflicts
  config    List, read, or write instance config files
  search    Full-text search an instance's config file content
  export    Export a debug bundle
  daemon    Run a session's listener in the foreground until interrupted
  help      Show this help

All commands take --data <dir> (default: ~/.friendlinkd) and
--instance <id>.`)
}

func defaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".friendlinkd")
}

func newEngine(dataDir string) *friendlink.Engine {
	if dataDir == "" {
		dataDir = defaultDataDir()
	}
	e, err := friendlink.New(friendlink.Config{DataDir: dataDir, Logger: stdLogger{}})
	if err != nil {
		log.Fatalf("friendlinkd: %v", err)
	}
	return e
}

type stdLogger struct{}

func (stdLogger) Printf(format string, v ...interface{}) { log.Printf(format, v...) }

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func cmdCreate(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	dataDir := fs.String("data", "", "Data directory")
	instance := fs.String("instance", "", "Instance id")
	display := fs.String("display", "", "Local peer display name")
	port := fs.Int("port", 0, "Listen port (0 = random)")
	allowlist := fs.String("allowlist", "", "Comma-separated config allowlist patterns")
	fs.Parse(args)

	if *instance == "" {
		log.Fatalf("--instance is required")
	}

	e := newEngine(*dataDir)
	rec, invite, err := e.CreateSession(friendlink.CreateSessionInput{
		InstanceID:  *instance,
		DisplayName: *display,
		ListenPort:  *port,
		Allowlist:   splitCSV(*allowlist),
	})
	if err != nil {
		log.Fatalf("create: %v", err)
	}

	fmt.Printf("Session created for %q\n", rec.InstanceID)
	fmt.Printf("  group_id:      %s\n", rec.GroupID)
	fmt.Printf("  local_peer_id: %s\n", rec.LocalPeerID)
	fmt.Printf("  endpoint:      %s\n", rec.Endpoint)
	fmt.Printf("\nInvite token (share with up to 7 other peers):\n%s\n", invite)
}

func cmdJoin(args []string) {
	fs := flag.NewFlagSet("join", flag.ExitOnError)
	dataDir := fs.String("data", "", "Data directory")
	instance := fs.String("instance", "", "Instance id")
	display := fs.String("display", "", "Local peer display name")
	port := fs.Int("port", 0, "Listen port (0 = random)")
	token := fs.String("token", "", "Invite token")
	fs.Parse(args)

	if *instance == "" || *token == "" {
		log.Fatalf("--instance and --token are required")
	}

	e := newEngine(*dataDir)
	rec, err := e.JoinSession(friendlink.JoinSessionInput{
		InstanceID:  *instance,
		DisplayName: *display,
		ListenPort:  *port,
		InviteToken: *token,
	})
	if err != nil {
		log.Fatalf("join: %v", err)
	}

	fmt.Printf("Joined %q as peer %s (%d peers total)\n", rec.InstanceID, rec.LocalPeerID, len(rec.Peers)+1)
	fmt.Println("Run 'friendlinkd reconcile --instance " + *instance + "' to pull the group's current state.")
}

func cmdLeave(args []string) {
	fs := flag.NewFlagSet("leave", flag.ExitOnError)
	dataDir := fs.String("data", "", "Data directory")
	instance := fs.String("instance", "", "Instance id")
	fs.Parse(args)

	if *instance == "" {
		log.Fatalf("--instance is required")
	}

	e := newEngine(*dataDir)
	if err := e.LeaveSession(*instance); err != nil {
		log.Fatalf("leave: %v", err)
	}
	fmt.Printf("Left session %q\n", *instance)
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	dataDir := fs.String("data", "", "Data directory")
	instance := fs.String("instance", "", "Instance id")
	fs.Parse(args)

	if *instance == "" {
		log.Fatalf("--instance is required")
	}

	e := newEngine(*dataDir)
	rec, err := e.GetStatus(*instance)
	if err != nil {
		log.Fatalf("status: %v", err)
	}
	printJSON(rec)
}

func cmdDrift(args []string) {
	fs := flag.NewFlagSet("drift", flag.ExitOnError)
	dataDir := fs.String("data", "", "Data directory")
	instance := fs.String("instance", "", "Instance id")
	fs.Parse(args)

	if *instance == "" {
		log.Fatalf("--instance is required")
	}

	e := newEngine(*dataDir)
	preview, err := e.PreviewDrift(*instance)
	if err != nil {
		log.Fatalf("drift: %v", err)
	}

	fmt.Printf("Status: %s\n", preview.Status)
	if len(preview.Items) == 0 {
		fmt.Println("No drift.")
		return
	}
	for _, item := range preview.Items {
		trust := ""
		if !item.TrustedPeer {
			trust = " (untrusted peer)"
		}
		fmt.Printf("  [%s] %s %s from %s%s\n", item.Kind, item.Change, item.Key, item.PeerDisplayName, trust)
	}
}

func cmdSync(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	dataDir := fs.String("data", "", "Data directory")
	instance := fs.String("instance", "", "Instance id")
	keys := fs.String("keys", "", "Comma-separated drift keys to apply (empty = all)")
	metadataOnly := fs.Bool("metadata-only", false, "Apply lock/config metadata without fetching binaries")
	fs.Parse(args)

	if *instance == "" {
		log.Fatalf("--instance is required")
	}

	e := newEngine(*dataDir)
	res, err := e.SyncSelected(*instance, splitCSV(*keys), *metadataOnly)
	if err != nil {
		log.Fatalf("sync: %v", err)
	}

	fmt.Printf("Status: %s\n", res.Status)
	fmt.Printf("Applied: %d, skipped (untrusted): %d\n", len(res.Applied), res.SkippedUntrusted)
	for _, w := range res.FetchWarnings {
		fmt.Printf("  warning: %s\n", w)
	}
}

func cmdReconcile(args []string) {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	dataDir := fs.String("data", "", "Data directory")
	instance := fs.String("instance", "", "Instance id")
	mode := fs.String("mode", "manual", "Reconcile mode: manual or prelaunch")
	fs.Parse(args)

	if *instance == "" {
		log.Fatalf("--instance is required")
	}

	e := newEngine(*dataDir)
	res, err := e.Reconcile(*instance, reconcile.Mode(*mode))
	if err != nil {
		log.Fatalf("reconcile: %v", err)
	}
	printReconcileResult(res)
}

func cmdResolve(args []string) {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	dataDir := fs.String("data", "", "Data directory")
	instance := fs.String("instance", "", "Instance id")
	keepAllMine := fs.Bool("keep-all-mine", false, "Resolve every unnamed conflict as keep_mine")
	takeAllTheirs := fs.Bool("take-all-theirs", false, "Resolve every unnamed conflict as take_theirs")
	byID := fs.String("resolution", "", "Comma-separated conflict_id=resolution pairs (keep_mine|take_theirs|skip_for_now)")
	fs.Parse(args)

	if *instance == "" {
		log.Fatalf("--instance is required")
	}

	req := reconcile.ResolveRequest{KeepAllMine: *keepAllMine, TakeAllTheirs: *takeAllTheirs}
	if *byID != "" {
		req.ByConflictID = map[string]reconcile.ConflictResolution{}
		for _, pair := range strings.Split(*byID, ",") {
			kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
			if len(kv) != 2 {
				continue
			}
			req.ByConflictID[kv[0]] = reconcile.ConflictResolution(kv[1])
		}
	}

	e := newEngine(*dataDir)
	res, err := e.ResolveConflicts(*instance, req)
	if err != nil {
		log.Fatalf("resolve: %v", err)
	}
	printReconcileResult(res)
}

func printReconcileResult(res reconcile.Result) {
	fmt.Printf("Status: %s\n", res.Status)
	if res.BlockedReason != "" {
		fmt.Printf("Blocked: %s\n", res.BlockedReason)
	}
	fmt.Printf("Actions: %d, conflicts: %d, offline peers: %v\n", len(res.Actions), len(res.Conflicts), res.OfflinePeers)
	for _, w := range res.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	for _, c := range res.Conflicts {
		fmt.Printf("  conflict %s: [%s] %s vs peer %s\n", c.ID, c.Kind, c.Key, c.PeerID)
	}
}

func cmdConfig(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: friendlinkd config <list|read|write> [options]")
		os.Exit(1)
	}
	sub := args[0]
	rest := args[1:]

	fs := flag.NewFlagSet("config-"+sub, flag.ExitOnError)
	dataDir := fs.String("data", "", "Data directory")
	instance := fs.String("instance", "", "Instance id")
	path := fs.String("path", "", "Relative config file path")
	content := fs.String("content", "", "New file content (write only)")
	expected := fs.Int64("expected-modified-at", 0, "Expected mtime (ms) for optimistic concurrency (write only, 0 = skip check)")
	fs.Parse(rest)

	if *instance == "" {
		log.Fatalf("--instance is required")
	}
	e := newEngine(*dataDir)

	switch sub {
	case "list":
		files, err := e.ListConfigFiles(*instance)
		if err != nil {
			log.Fatalf("config list: %v", err)
		}
		printJSON(files)
	case "read":
		if *path == "" {
			log.Fatalf("--path is required")
		}
		res, err := e.ReadConfigFile(*instance, *path)
		if err != nil {
			log.Fatalf("config read: %v", err)
		}
		if res.Info.Editable {
			fmt.Println(res.Content)
		} else {
			fmt.Println(res.Preview)
		}
	case "write":
		if *path == "" {
			log.Fatalf("--path is required")
		}
		var expectedPtr *int64
		if *expected != 0 {
			expectedPtr = expected
		}
		if err := e.WriteConfigFile(*instance, *path, *content, expectedPtr); err != nil {
			log.Fatalf("config write: %v", err)
		}
		fmt.Println("Written.")
	default:
		fmt.Fprintf(os.Stderr, "Unknown config subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func cmdSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	dataDir := fs.String("data", "", "Data directory")
	instance := fs.String("instance", "", "Instance id")
	query := fs.String("query", "", "Full-text query")
	limit := fs.Int("limit", 0, "Max results (0 = index default)")
	fs.Parse(args)

	if *instance == "" || *query == "" {
		log.Fatalf("--instance and --query are required")
	}

	e := newEngine(*dataDir)
	hits, err := e.SearchConfigFiles(*instance, *query, *limit)
	if err != nil {
		log.Fatalf("search: %v", err)
	}
	if len(hits) == 0 {
		fmt.Println("No matches.")
		return
	}
	for _, h := range hits {
		fmt.Printf("  %.3f  %s\n", h.Score, h.Key)
	}
}

func cmdExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dataDir := fs.String("data", "", "Data directory")
	instance := fs.String("instance", "", "Instance id")
	fs.Parse(args)

	if *instance == "" {
		log.Fatalf("--instance is required")
	}

	e := newEngine(*dataDir)
	path, err := e.ExportDebugBundle(*instance)
	if err != nil {
		log.Fatalf("export: %v", err)
	}
	fmt.Printf("Debug bundle written to %s\n", path)
}

func cmdDaemon(args []string) {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	dataDir := fs.String("data", "", "Data directory")
	instance := fs.String("instance", "", "Instance id")
	interval := fs.Duration("interval", 5*time.Minute, "Background reconcile interval (0 disables)")
	fs.Parse(args)

	if *instance == "" {
		log.Fatalf("--instance is required")
	}

	e := newEngine(*dataDir)
	rec, err := e.GetStatus(*instance)
	if err != nil {
		log.Fatalf("daemon: %v", err)
	}
	log.Printf("friendlinkd listening for %q on %s (peer %s)", rec.InstanceID, rec.Endpoint, rec.LocalPeerID)

	var ticker *time.Ticker
	var tickCh <-chan time.Time
	if *interval > 0 {
		ticker = time.NewTicker(*interval)
		tickCh = ticker.C
		defer ticker.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-tickCh:
			res, err := e.Reconcile(*instance, reconcile.ModeManual)
			if err != nil {
				log.Printf("background reconcile failed: %v", err)
				continue
			}
			log.Printf("background reconcile: %s (%d actions, %d conflicts)", res.Status, len(res.Actions), len(res.Conflicts))
		case <-sigCh:
			log.Printf("shutting down")
			if err := e.LeaveSession(*instance); err != nil {
				log.Printf("leave on shutdown: %v", err)
			}
			return
		}
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
