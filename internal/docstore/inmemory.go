package docstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
)

// InMemoryStore is a simple in-process document store for local/dev use.
type InMemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{collections: make(map[string]map[string]Document)}
}

func (s *InMemoryStore) Upsert(_ context.Context, collection string, doc Document) error {
	if err := validate(collection, doc); err != nil {
		return err
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	doc.Metadata = copyMetadata(doc.Metadata)

	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]Document)
		s.collections[collection] = docs
	}
	docs[doc.ID] = doc
	return nil
}

func (s *InMemoryStore) Search(_ context.Context, collection string, filter Filter) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Document
	for _, doc := range s.collections[collection] {
		if !filter.Matches(doc.Metadata) {
			continue
		}
		doc.Metadata = copyMetadata(doc.Metadata)
		out = append(out, doc)
	}
	return out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, collection string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collections[collection]
	for _, id := range ids {
		delete(docs, id)
	}
	return nil
}

// Similar scores documents by the share of query terms they contain.
func (s *InMemoryStore) Similar(_ context.Context, collection, query string, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	terms := uniqueTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	matches := make([]Match, 0)
	for _, doc := range s.collections[collection] {
		docTerms := uniqueTerms(doc.Content)
		hits := 0
		for term := range terms {
			if _, ok := docTerms[term]; ok {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		doc.Metadata = copyMetadata(doc.Metadata)
		matches = append(matches, Match{Document: doc, Score: float32(hits) / float32(len(terms))})
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *InMemoryStore) Close() error { return nil }

func uniqueTerms(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}
