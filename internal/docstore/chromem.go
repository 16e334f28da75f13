package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
)

// createdAtKey carries the document timestamp inside chromem metadata.
const createdAtKey = "_created_at"

// ChromemStore wraps chromem-go, a pure Go embedded vector database.
type ChromemStore struct {
	db    *chromem.DB
	embed chromem.EmbeddingFunc

	mu          sync.RWMutex
	collections map[string]*chromem.Collection

	// dataMu makes each read a consistent view: chromem rejects a query for
	// more results than the collection holds, so a count and the query that
	// uses it must not interleave with writes.
	dataMu sync.RWMutex

	probeMu sync.Mutex
	probe   []float32
}

// NewChromemStore opens an in-memory database, or a persistent one when
// persistPath is set.
func NewChromemStore(persistPath string, embed chromem.EmbeddingFunc) (*ChromemStore, error) {
	if embed == nil {
		embed = HashEmbedding(DefaultHashDimensions)
	}
	db := chromem.NewDB()
	if persistPath != "" {
		var err error
		db, err = chromem.NewPersistentDB(persistPath, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db at %s: %w", persistPath, err)
		}
	}
	return &ChromemStore{
		db:          db,
		embed:       embed,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[name]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[name]; ok {
		return col, nil
	}
	col, err := s.db.GetOrCreateCollection(name, nil, s.embed)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

func (s *ChromemStore) Upsert(ctx context.Context, collection string, doc Document) error {
	if err := validate(collection, doc); err != nil {
		return err
	}
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	meta := copyMetadata(doc.Metadata)
	meta[createdAtKey] = doc.CreatedAt.UTC().Format(time.RFC3339Nano)
	embedding, err := s.embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embed document %s: %w", doc.ID, err)
	}

	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	// AddDocument replaces an existing document with the same id.
	if err := col.AddDocument(ctx, chromem.Document{
		ID:        doc.ID,
		Content:   doc.Content,
		Metadata:  meta,
		Embedding: embedding,
	}); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Search returns every document matching the filter. chromem only exposes
// filtering through similarity queries, so the query asks for the whole
// collection and ranks it against a fixed probe vector.
func (s *ChromemStore) Search(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	probe, err := s.probeEmbedding(ctx)
	if err != nil {
		return nil, err
	}

	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, probe, n, map[string]string(filter), nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	docs := make([]Document, 0, len(results))
	for _, r := range results {
		docs = append(docs, fromResult(r))
	}
	return docs, nil
}

func (s *ChromemStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("chromem delete: %w", err)
	}
	return nil
}

func (s *ChromemStore) Similar(ctx context.Context, collection, query string, topK int) ([]Match, error) {
	if topK <= 0 || query == "" {
		return nil, nil
	}
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	embedding, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	if topK > n {
		topK = n
	}
	results, err := col.QueryEmbedding(ctx, embedding, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{Document: fromResult(r), Score: r.Similarity})
	}
	return matches, nil
}

func (s *ChromemStore) Close() error { return nil }

func (s *ChromemStore) probeEmbedding(ctx context.Context) ([]float32, error) {
	s.probeMu.Lock()
	defer s.probeMu.Unlock()
	if s.probe != nil {
		return s.probe, nil
	}
	probe, err := s.embed(ctx, "document")
	if err != nil {
		return nil, fmt.Errorf("embed probe: %w", err)
	}
	s.probe = probe
	return probe, nil
}

// fromResult leaves CreatedAt zero when the stored timestamp does not parse;
// callers that depend on ordering decide how to treat that.
func fromResult(r chromem.Result) Document {
	meta := make(map[string]string, len(r.Metadata))
	for k, v := range r.Metadata {
		if k == createdAtKey {
			continue
		}
		meta[k] = v
	}
	doc := Document{ID: r.ID, Content: r.Content, Metadata: meta}
	if ts, err := time.Parse(time.RFC3339Nano, r.Metadata[createdAtKey]); err == nil {
		doc.CreatedAt = ts.UTC()
	}
	return doc
}
