package memory

import (
	"context"
	"sort"
	"time"

	"github.com/stockripper/agentd/internal/session"
)

// Retention bounds the number of summaries kept per session.
type Retention struct {
	longTerm *LongTerm
}

func NewRetention(longTerm *LongTerm) *Retention {
	return &Retention{longTerm: longTerm}
}

// Prune keeps the keepLatest most recent summaries of the session and deletes
// the rest in one batch. It returns how many were deleted. A summary whose
// timestamp cannot be read fails the call before anything is deleted.
// Concurrent writers may leave extra summaries behind; the next Prune removes
// them.
func (r *Retention) Prune(ctx context.Context, key session.Key, keepLatest int) (int, error) {
	if keepLatest < 0 {
		keepLatest = 0
	}
	summaries, err := r.longTerm.Fetch(ctx, key)
	if err != nil {
		return 0, err
	}
	if len(summaries) <= keepLatest {
		return 0, nil
	}

	type stamped struct {
		id string
		at time.Time
	}
	items := make([]stamped, 0, len(summaries))
	for _, s := range summaries {
		at, err := s.Timestamp()
		if err != nil {
			return 0, err
		}
		items = append(items, stamped{id: s.ID, at: at})
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].at.Equal(items[j].at) {
			return items[i].at.After(items[j].at)
		}
		return items[i].id > items[j].id
	})

	stale := make([]string, 0, len(items)-keepLatest)
	for _, it := range items[keepLatest:] {
		stale = append(stale, it.id)
	}
	if err := r.longTerm.delete(ctx, key, stale); err != nil {
		return 0, err
	}
	return len(stale), nil
}
