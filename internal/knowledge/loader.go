// internal/knowledge/loader.go
package knowledge

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// corpusFile is the on-disk import format: a flat list of documents whose
// embeddings are computed at import time from the description text.
type corpusFile struct {
	Documents []KnowledgeDocument `yaml:"documents"`
}

// Upserter is the write contract of the import path.
type Upserter interface {
	Upsert(ctx context.Context, docs ...KnowledgeDocument) error
}

// ImportCorpus reads a YAML corpus file, embeds each document's description,
// and upserts the results. Returns the number of documents imported.
func ImportCorpus(ctx context.Context, path string, store Upserter, embedder Embedder) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read corpus %s: %w", path, err)
	}

	var corpus corpusFile
	if err := yaml.Unmarshal(raw, &corpus); err != nil {
		return 0, fmt.Errorf("failed to parse corpus %s: %w", path, err)
	}
	if len(corpus.Documents) == 0 {
		return 0, fmt.Errorf("corpus %s contains no documents", path)
	}

	for i, doc := range corpus.Documents {
		if doc.ID == "" || doc.Package == "" || doc.Description == "" {
			return 0, fmt.Errorf("corpus %s: document %d: id, package and description are required", path, i)
		}

		embedding, err := embedder.Embed(ctx, doc.Description)
		if err != nil {
			return 0, fmt.Errorf("failed to embed document %s: %w", doc.ID, err)
		}
		doc.Embedding = embedding

		if err := store.Upsert(ctx, doc); err != nil {
			return 0, err
		}
	}
	return len(corpus.Documents), nil
}
