package model

import "testing"

func baseEntry() LockEntry {
	return LockEntry{
		Source:        "modrinth",
		ProjectID:     "AANobbMI",
		VersionID:     "v1",
		Name:          "Sodium",
		VersionNumber: "0.5.0",
		Filename:      "sodium.jar",
		ContentType:   ContentMods,
		Enabled:       true,
		Hashes:        map[string]string{"sha256": "ABCDEF"},
	}
}

func TestStateHash_InvariantToHashMapOrdering(t *testing.T) {
	e1 := baseEntry()
	e1.Hashes = map[string]string{"sha256": "abc", "sha512": "def"}
	e2 := baseEntry()
	e2.Hashes = map[string]string{"sha512": "def", "sha256": "abc"}

	s1 := BuildState([]LockEntry{e1}, nil)
	s2 := BuildState([]LockEntry{e2}, nil)

	if s1.StateHash != s2.StateHash {
		t.Fatalf("state hash differs under map key reordering: %s vs %s", s1.StateHash, s2.StateHash)
	}
}

func TestStateHash_InvariantToHashCaseAndWhitespace(t *testing.T) {
	e1 := baseEntry()
	e1.Hashes = map[string]string{"SHA256": "  ABCDEF  "}
	e2 := baseEntry()
	e2.Hashes = map[string]string{"sha256": "abcdef"}

	s1 := BuildState([]LockEntry{e1}, nil)
	s2 := BuildState([]LockEntry{e2}, nil)

	if s1.StateHash != s2.StateHash {
		t.Fatalf("state hash differs under case/whitespace noise: %s vs %s", s1.StateHash, s2.StateHash)
	}
}

func TestStateHash_DuplicateAlgorithmsCollapse(t *testing.T) {
	// Go maps cannot literally hold duplicate keys, but a case-insensitive
	// duplicate ("Sha256" then "sha256") collapses to a single canonical
	// entry either way content arrives from a tolerant JSON parse.
	e1 := baseEntry()
	e1.Hashes = map[string]string{"sha256": "abc"}
	e2 := baseEntry()
	e2.Hashes = map[string]string{"sha256": "abc", "Sha256": "abc"}

	s1 := BuildState([]LockEntry{e1}, nil)
	s2 := BuildState([]LockEntry{e2}, nil)

	if s1.StateHash != s2.StateHash {
		t.Fatalf("state hash differs under duplicate algorithm names: %s vs %s", s1.StateHash, s2.StateHash)
	}
}

func TestStateHash_TargetWorldsOrderInvariant(t *testing.T) {
	e1 := baseEntry()
	e1.ContentType = ContentDatapacks
	e1.TargetWorlds = []string{"world_nether", "world"}

	e2 := baseEntry()
	e2.ContentType = ContentDatapacks
	e2.TargetWorlds = []string{"world", "world_nether"}

	s1 := BuildState([]LockEntry{e1}, nil)
	s2 := BuildState([]LockEntry{e2}, nil)

	if s1.StateHash != s2.StateHash {
		t.Fatalf("state hash differs under target_worlds reordering: %s vs %s", s1.StateHash, s2.StateHash)
	}
}

func TestLockEntry_ScopeConsistency(t *testing.T) {
	e := baseEntry()
	e.ContentType = ContentDatapacks
	e.TargetWorlds = []string{"overworld"}
	n := e.Normalize()

	if n.TargetScope != ScopeWorld {
		t.Fatalf("datapacks must normalize to world scope, got %s", n.TargetScope)
	}

	mod := baseEntry().Normalize()
	if mod.TargetScope != ScopeInstance || len(mod.TargetWorlds) != 0 {
		t.Fatalf("mods must normalize to instance scope with no target worlds, got %+v", mod)
	}
}

func TestLockEntry_UnknownContentTypeDefaultsToMods(t *testing.T) {
	e := baseEntry()
	e.ContentType = "unknown-thing"
	n := e.Normalize()
	if n.ContentType != ContentMods {
		t.Fatalf("expected unknown content_type to default to mods, got %s", n.ContentType)
	}
}

func TestSafeRelPath(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"config/foo.txt", "config/foo.txt", false},
		{"/config/foo.txt", "config/foo.txt", false},
		{"config\\foo.txt", "config/foo.txt", false},
		{"../escape.txt", "", true},
		{"config/../../escape.txt", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := SafeRelPath(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("SafeRelPath(%q): expected error, got %q", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("SafeRelPath(%q): unexpected error: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("SafeRelPath(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDiskPaths(t *testing.T) {
	mod := baseEntry()
	mod.Enabled = false
	if got := mod.DiskPaths(); len(got) != 1 || got[0] != "mods/sodium.jar.disabled" {
		t.Fatalf("disabled mod path = %v", got)
	}

	dp := baseEntry()
	dp.ContentType = ContentDatapacks
	dp.Filename = "pack.zip"
	dp.TargetWorlds = []string{"world", "world2"}
	got := dp.DiskPaths()
	want := []string{"saves/world/datapacks/pack.zip", "saves/world2/datapacks/pack.zip"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("datapack paths = %v, want %v", got, want)
	}
}
