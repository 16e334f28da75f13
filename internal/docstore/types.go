package docstore

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidDocument is returned when a document cannot be stored as given.
var ErrInvalidDocument = errors.New("docstore: invalid document")

// Document is a unit of text held in a named collection.
type Document struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Filter selects documents whose metadata contains every key/value pair.
type Filter map[string]string

// Matches reports whether the metadata satisfies the filter.
func (f Filter) Matches(metadata map[string]string) bool {
	for k, v := range f {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// Match is a similarity search hit.
type Match struct {
	Document
	Score float32 `json:"score"`
}

// Store persists documents and retrieves them by metadata filter.
type Store interface {
	Upsert(ctx context.Context, collection string, doc Document) error
	Search(ctx context.Context, collection string, filter Filter) ([]Document, error)
	Delete(ctx context.Context, collection string, ids []string) error
	Close() error
}

// Searcher ranks documents of a collection against free text.
type Searcher interface {
	Similar(ctx context.Context, collection, query string, topK int) ([]Match, error)
}

// Backend is a Store that can also answer similarity queries.
type Backend interface {
	Store
	Searcher
}

func validate(collection string, doc Document) error {
	switch {
	case collection == "":
		return errors.Join(ErrInvalidDocument, errors.New("collection is required"))
	case doc.ID == "":
		return errors.Join(ErrInvalidDocument, errors.New("id is required"))
	case doc.Content == "":
		return errors.Join(ErrInvalidDocument, errors.New("content is required"))
	}
	return nil
}

func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
