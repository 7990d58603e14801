// Package configsearch provides full-text search over an instance's
// allowlisted config file content, enriching the config file editor
// (C8) with a "find the file that mentions X" capability the core
// operations don't otherwise offer. It is indexed from, never a
// substitute for, the manifest store or the on-disk config tree.
package configsearch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"

	"github.com/friendlink-dev/friendlink/internal/model"
)

// Index wraps a Bleve index over one instance's config file content.
type Index struct {
	index bleve.Index
	path  string
}

// document is the Bleve-indexed shape of one config file.
type document struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Open creates or opens the on-disk index for instanceID under dataDir.
func Open(dataDir, instanceID string) (*Index, error) {
	indexPath := filepath.Join(dataDir, "friend_link", "search", instanceID+".bleve")

	idx, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		mapping := bleve.NewIndexMapping()

		docMapping := bleve.NewDocumentMapping()
		contentField := bleve.NewTextFieldMapping()
		contentField.Analyzer = "standard"
		docMapping.AddFieldMappingsAt("content", contentField)

		pathField := bleve.NewTextFieldMapping()
		pathField.Analyzer = "keyword"
		docMapping.AddFieldMappingsAt("path", pathField)

		mapping.AddDocumentMapping("config_file", docMapping)

		idx, err = bleve.New(indexPath, mapping)
		if err != nil {
			return nil, fmt.Errorf("create config search index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open config search index: %w", err)
	}

	return &Index{index: idx, path: indexPath}, nil
}

// OpenMemory creates an in-memory index, useful for tests and for
// instances that opt out of a persistent search cache.
func OpenMemory() (*Index, error) {
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("create in-memory config search index: %w", err)
	}
	return &Index{index: idx}, nil
}

// Reindex replaces the index contents with exactly the given config
// files, keyed by their canonical "config::"-prefixed key.
func (i *Index) Reindex(files []model.ConfigFile) error {
	batch := i.index.NewBatch()
	for _, f := range files {
		doc := document{Path: f.Path, Content: f.Content}
		if err := batch.Index(f.Key(), doc); err != nil {
			return fmt.Errorf("index %s: %w", f.Path, err)
		}
	}
	return i.index.Batch(batch)
}

// Upsert indexes or re-indexes a single config file.
func (i *Index) Upsert(f model.ConfigFile) error {
	return i.index.Index(f.Key(), document{Path: f.Path, Content: f.Content})
}

// Remove drops a config file from the index by its canonical key.
func (i *Index) Remove(key string) error {
	return i.index.Delete(key)
}

// Hit is one search result: the config file's canonical key and
// relevance score.
type Hit struct {
	Key   string
	Score float64
}

// Search runs a full-text query over indexed content, returning hits
// ordered by descending relevance score, capped at limit (default 50).
func (i *Index) Search(query string, limit int) ([]Hit, error) {
	q := bleve.NewMatchQuery(query)
	q.SetField("content")

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	if req.Size <= 0 {
		req.Size = 50
	}

	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("config search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{Key: h.ID, Score: h.Score})
	}
	return hits, nil
}

// Close releases the index's on-disk file handles.
func (i *Index) Close() error {
	return i.index.Close()
}

// Delete removes the index from disk entirely.
func (i *Index) Delete() error {
	_ = i.index.Close()
	if i.path != "" {
		return os.RemoveAll(i.path)
	}
	return nil
}
