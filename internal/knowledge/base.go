// Package knowledge serves the static retrieval collection that grounds
// agent replies, and loads documents into it.
package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/stockripper/agentd/internal/docstore"
)

const DefaultCollection = "knowledge-documents"

// Options configures a Base.
type Options struct {
	Collection string
	TopK       int
	// CacheTTL enables result caching when positive. The collection only
	// changes through offline ingestion, so stale hits are bounded by the TTL.
	CacheTTL time.Duration
	// OnCache observes cache lookups.
	OnCache func(hit bool)
}

// Base answers top-k similarity queries against the knowledge collection.
type Base struct {
	searcher   docstore.Searcher
	collection string
	topK       int
	ttl        time.Duration
	cache      *ristretto.Cache
	onCache    func(bool)
}

func NewBase(searcher docstore.Searcher, opts Options) (*Base, error) {
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}
	if opts.TopK < 0 {
		opts.TopK = 0
	}
	b := &Base{
		searcher:   searcher,
		collection: opts.Collection,
		topK:       opts.TopK,
		ttl:        opts.CacheTTL,
		onCache:    opts.OnCache,
	}
	if opts.CacheTTL > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 1e5,
			MaxCost:     32 << 20,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("create knowledge cache: %w", err)
		}
		b.cache = cache
	}
	return b, nil
}

// Collection returns the collection name searched.
func (b *Base) Collection() string { return b.collection }

// Search returns up to topK matches for the query, best first.
func (b *Base) Search(ctx context.Context, query string) ([]docstore.Match, error) {
	query = strings.TrimSpace(query)
	if b.topK == 0 || query == "" {
		return nil, nil
	}

	key := b.collection + "\x00" + query
	if b.cache != nil {
		if v, ok := b.cache.Get(key); ok {
			b.observe(true)
			return v.([]docstore.Match), nil
		}
		b.observe(false)
	}

	matches, err := b.searcher.Similar(ctx, b.collection, query, b.topK)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	if b.cache != nil {
		var cost int64 = 1
		for _, m := range matches {
			cost += int64(len(m.Content))
		}
		b.cache.SetWithTTL(key, matches, cost, b.ttl)
	}
	return matches, nil
}

// Context renders the matches of a query as one block of text.
func (b *Base) Context(ctx context.Context, query string) (string, error) {
	matches, err := b.Search(ctx, query)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		parts = append(parts, strings.TrimSpace(m.Content))
	}
	return strings.Join(parts, "\n\n"), nil
}

// Close releases the cache.
func (b *Base) Close() {
	if b.cache != nil {
		b.cache.Close()
	}
}

func (b *Base) observe(hit bool) {
	if b.onCache != nil {
		b.onCache(hit)
	}
}
