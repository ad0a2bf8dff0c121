// internal/knowledge/store.go
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	jsoniter "github.com/json-iterator/go"
	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/droidpilot-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrStoreUnavailable indicates the knowledge store cannot serve queries.
// Callers treat it as a degraded-mode signal (plan without knowledge), never
// as a task-fatal condition.
var ErrStoreUnavailable = errors.New("knowledge store unavailable")

// Searcher is the read contract the assistant depends on.
type Searcher interface {
	// Search returns the k nearest documents to the query embedding, ordered
	// by descending similarity with an ascending document-id tie-break.
	Search(ctx context.Context, queryEmbedding []float32, k int) ([]Match, error)
}

// UnavailableStore is a Searcher whose every query reports
// ErrStoreUnavailable. It stands in when the real store cannot be opened, so
// resolution degrades instead of the process failing.
type UnavailableStore struct{}

func (UnavailableStore) Search(ctx context.Context, queryEmbedding []float32, k int) ([]Match, error) {
	return nil, ErrStoreUnavailable
}

const (
	vectorFile  = "chromem.gob"
	catalogFile = "catalog.yaml"

	metaAppName = "app_name"
	metaPackage = "package"
	metaHints   = "hints"
)

// Store persists knowledge documents in an embedded vector database. The
// vector backend has no enumeration API, so an importable catalog of document
// metadata sits beside it; Search never touches the catalog.
type Store struct {
	path   string
	col    *chromem.Collection
	logger *zap.Logger
}

// NewStore opens (creating if needed) the persistent store under cfg.Path.
func NewStore(cfg config.KnowledgeConfig, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create knowledge dir %s: %v: %w", cfg.Path, err, ErrStoreUnavailable)
	}

	db, err := chromem.NewPersistentDB(filepath.Join(cfg.Path, vectorFile), false)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector db: %v: %w", err, ErrStoreUnavailable)
	}

	// Embeddings are always supplied by the caller, so the collection's own
	// embedding function must never be invoked.
	col, err := db.GetOrCreateCollection(cfg.Collection, nil, func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("store requires precomputed embeddings")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %v: %w", cfg.Collection, err, ErrStoreUnavailable)
	}

	return &Store{path: cfg.Path, col: col, logger: logger.Named("knowledge")}, nil
}

// Search implements Searcher over the vector backend.
func (s *Store) Search(ctx context.Context, queryEmbedding []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	count := s.col.Count()
	if count == 0 {
		return nil, nil
	}
	// The backend rejects result counts above the document count.
	if k > count {
		k = count
	}

	results, err := s.col.QueryEmbedding(ctx, queryEmbedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %v: %w", err, ErrStoreUnavailable)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		doc, err := documentFromResult(r)
		if err != nil {
			s.logger.Warn("Skipping undecodable knowledge document", zap.String("id", r.ID), zap.Error(err))
			continue
		}
		matches = append(matches, Match{Document: doc, Similarity: r.Similarity})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Document.ID < matches[j].Document.ID
	})
	return matches, nil
}

// Upsert writes documents to the vector backend and the catalog. It is the
// out-of-band import path; the task-execution loop never calls it.
func (s *Store) Upsert(ctx context.Context, docs ...KnowledgeDocument) error {
	catalog, err := s.readCatalog()
	if err != nil {
		return err
	}

	for _, doc := range docs {
		if doc.ID == "" || doc.Package == "" || len(doc.Embedding) == 0 {
			return fmt.Errorf("document %q: id, package and embedding are required", doc.ID)
		}

		hints, err := json.MarshalToString(doc.Hints)
		if err != nil {
			return fmt.Errorf("document %s: failed to encode hints: %w", doc.ID, err)
		}

		// Delete-then-add gives overwrite semantics; a miss is not an error.
		_ = s.col.Delete(ctx, nil, nil, doc.ID)
		if err := s.col.AddDocument(ctx, chromem.Document{
			ID:        doc.ID,
			Content:   doc.Description,
			Embedding: doc.Embedding,
			Metadata: map[string]string{
				metaAppName: doc.AppName,
				metaPackage: doc.Package,
				metaHints:   hints,
			},
		}); err != nil {
			return fmt.Errorf("document %s: %v: %w", doc.ID, err, ErrStoreUnavailable)
		}

		catalog[doc.ID] = KnowledgeDocument{
			ID:          doc.ID,
			AppName:     doc.AppName,
			Package:     doc.Package,
			Description: doc.Description,
			Hints:       doc.Hints,
		}
	}

	return s.writeCatalog(catalog)
}

// List enumerates the stored documents (without embeddings), id-ascending.
func (s *Store) List() ([]KnowledgeDocument, error) {
	catalog, err := s.readCatalog()
	if err != nil {
		return nil, err
	}
	docs := make([]KnowledgeDocument, 0, len(catalog))
	for _, doc := range catalog {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// Count returns the number of stored documents.
func (s *Store) Count() int { return s.col.Count() }

func documentFromResult(r chromem.Result) (KnowledgeDocument, error) {
	doc := KnowledgeDocument{
		ID:          r.ID,
		AppName:     r.Metadata[metaAppName],
		Package:     r.Metadata[metaPackage],
		Description: r.Content,
		Embedding:   r.Embedding,
	}
	if raw := r.Metadata[metaHints]; raw != "" {
		if err := json.UnmarshalFromString(raw, &doc.Hints); err != nil {
			return KnowledgeDocument{}, fmt.Errorf("malformed hints metadata: %w", err)
		}
	}
	return doc, nil
}

func (s *Store) catalogPath() string { return filepath.Join(s.path, catalogFile) }

func (s *Store) readCatalog() (map[string]KnowledgeDocument, error) {
	raw, err := os.ReadFile(s.catalogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]KnowledgeDocument), nil
		}
		return nil, fmt.Errorf("failed to read catalog: %v: %w", err, ErrStoreUnavailable)
	}
	catalog := make(map[string]KnowledgeDocument)
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %v: %w", err, ErrStoreUnavailable)
	}
	return catalog, nil
}

func (s *Store) writeCatalog(catalog map[string]KnowledgeDocument) error {
	raw, err := yaml.Marshal(catalog)
	if err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}
	if err := os.WriteFile(s.catalogPath(), raw, 0o644); err != nil {
		return fmt.Errorf("failed to write catalog: %v: %w", err, ErrStoreUnavailable)
	}
	return nil
}
