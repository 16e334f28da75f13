package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/stockripper/agentd/internal/docstore"
	"github.com/stockripper/agentd/internal/policy"
	"github.com/stockripper/agentd/internal/session"
)

// LongTermOptions configures a LongTerm store.
type LongTermOptions struct {
	// Timeout bounds every document store call. Zero disables it.
	Timeout   time.Duration
	Sanitizer policy.Sanitizer
}

// LongTerm persists summary documents, one collection per agent.
type LongTerm struct {
	store     docstore.Store
	timeout   time.Duration
	sanitizer policy.Sanitizer
	now       func() time.Time
}

func NewLongTerm(store docstore.Store, opts LongTermOptions) *LongTerm {
	return &LongTerm{
		store:     store,
		timeout:   opts.Timeout,
		sanitizer: opts.Sanitizer,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Store writes text as a new summary of the session, stamped with the
// current time and a fresh ULID.
func (l *LongTerm) Store(ctx context.Context, key session.Key, text string) (Summary, error) {
	content, _ := l.sanitizer.Sanitize(text)
	if content == "" {
		content = SummaryUnavailable
	}
	now := l.now()
	s := Summary{
		ID:             ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Content:        content,
		SessionID:      key.Session,
		StartTimestamp: now,
		SummaryVersion: SummaryVersionLatest,
	}

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()
	err := l.store.Upsert(ctx, Collection(key.Agent), docstore.Document{
		ID:      s.ID,
		Content: s.Content,
		Metadata: map[string]string{
			metaSessionID:      s.SessionID,
			metaStartTimestamp: now.Format(time.RFC3339Nano),
			metaSummaryVersion: s.SummaryVersion,
		},
		CreatedAt: now,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("store summary for session %s: %w", key.Session, err)
	}
	return s, nil
}

// Fetch returns every summary of the session in no particular order.
func (l *LongTerm) Fetch(ctx context.Context, key session.Key) ([]Summary, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()
	docs, err := l.store.Search(ctx, Collection(key.Agent), docstore.Filter{metaSessionID: key.Session})
	if err != nil {
		return nil, fmt.Errorf("fetch summaries for session %s: %w", key.Session, err)
	}
	out := make([]Summary, 0, len(docs))
	for _, d := range docs {
		out = append(out, Summary{
			ID:             d.ID,
			Content:        d.Content,
			SessionID:      d.Metadata[metaSessionID],
			StartTimestamp: d.CreatedAt,
			SummaryVersion: d.Metadata[metaSummaryVersion],
			rawTimestamp:   d.Metadata[metaStartTimestamp],
		})
	}
	return out, nil
}

// FetchOrdered returns the session summaries oldest first. Summaries without a
// readable timestamp sort first.
func (l *LongTerm) FetchOrdered(ctx context.Context, key session.Key) ([]Summary, error) {
	summaries, err := l.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		ti, _ := summaries[i].Timestamp()
		tj, _ := summaries[j].Timestamp()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return summaries[i].ID < summaries[j].ID
	})
	return summaries, nil
}

func (l *LongTerm) delete(ctx context.Context, key session.Key, ids []string) error {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()
	if err := l.store.Delete(ctx, Collection(key.Agent), ids); err != nil {
		return fmt.Errorf("delete %d summaries for session %s: %w", len(ids), key.Session, err)
	}
	return nil
}

func (l *LongTerm) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, l.timeout)
}
