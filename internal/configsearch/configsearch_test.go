package configsearch

import (
	"testing"

	"github.com/friendlink-dev/friendlink/internal/model"
)

func TestReindexAndSearch_FindsMatchingContent(t *testing.T) {
	idx, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer idx.Close()

	files := []model.ConfigFile{
		{Path: "config/sodium-options.json", Content: `{"render_distance": 12}`},
		{Path: "config/iris.properties", Content: "shaderPack=complementary"},
	}
	if err := idx.Reindex(files); err != nil {
		t.Fatalf("Reindex: %v", err)
	}

	hits, err := idx.Search("complementary", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Key != files[1].Key() {
		t.Fatalf("expected one hit for iris.properties, got %+v", hits)
	}
}

func TestUpsertAndRemove(t *testing.T) {
	idx, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer idx.Close()

	f := model.ConfigFile{Path: "config/a.json", Content: "render_distance"}
	if err := idx.Upsert(f); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	hits, err := idx.Search("render_distance", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit after upsert, got %+v", hits)
	}

	if err := idx.Remove(f.Key()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	hits, err = idx.Search("render_distance", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected 0 hits after remove, got %+v", hits)
	}
}
