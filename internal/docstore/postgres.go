package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists documents in PostgreSQL with JSONB metadata.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_metadata ON documents USING GIN (metadata);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_fts ON documents USING GIN (to_tsvector('english', content));`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, collection string, doc Document) error {
	if err := validate(collection, doc); err != nil {
		return err
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(copyMetadata(doc.Metadata))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, content, metadata, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5)
		 ON CONFLICT (collection, id) DO UPDATE
		 SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, created_at = EXCLUDED.created_at`,
		collection,
		doc.ID,
		doc.Content,
		string(meta),
		doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	want, err := json.Marshal(map[string]string(filter))
	if err != nil {
		return nil, fmt.Errorf("encode filter: %w", err)
	}
	if filter == nil {
		want = []byte("{}")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, content, metadata, created_at
		 FROM documents WHERE collection=$1 AND metadata @> $2::jsonb`,
		collection,
		string(want),
	)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows, nil)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document rows: %w", err)
	}
	return docs, nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE collection=$1 AND id = ANY($2)`,
		collection,
		ids,
	)
	if err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

// Similar ranks documents with postgres full-text search.
func (s *PostgresStore) Similar(ctx context.Context, collection, query string, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, content, metadata, created_at,
		        ts_rank(to_tsvector('english', content), plainto_tsquery('english', $2)) AS score
		 FROM documents
		 WHERE collection=$1 AND to_tsvector('english', content) @@ plainto_tsquery('english', $2)
		 ORDER BY score DESC, id ASC
		 LIMIT $3`,
		collection,
		query,
		topK,
	)
	if err != nil {
		return nil, fmt.Errorf("query similar documents: %w", err)
	}
	defer rows.Close()

	matches := make([]Match, 0, topK)
	for rows.Next() {
		var score float32
		doc, err := scanDocument(rows, &score)
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{Document: doc, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar rows: %w", err)
	}
	return matches, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanDocument(rows pgx.Rows, score *float32) (Document, error) {
	var (
		doc  Document
		meta []byte
	)
	dest := []any{&doc.ID, &doc.Content, &meta, &doc.CreatedAt}
	if score != nil {
		dest = append(dest, score)
	}
	if err := rows.Scan(dest...); err != nil {
		return Document{}, fmt.Errorf("scan document row: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
			return Document{}, fmt.Errorf("decode metadata for %s: %w", doc.ID, err)
		}
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	return doc, nil
}
