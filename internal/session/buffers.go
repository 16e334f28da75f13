package session

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultCapacity    = 5
	DefaultMaxSessions = 10000
	DefaultIdleTimeout = 30 * time.Minute
)

// Options bounds the buffers.
type Options struct {
	// Capacity is the number of turns kept per session.
	Capacity int
	// MaxSessions caps live buffers; the least recently active one is dropped.
	MaxSessions int
	// IdleTimeout drops buffers without activity for this long on Sweep.
	IdleTimeout time.Duration
}

// Buffers holds the recent turns of every live session in memory. Buffers are
// created on first Append and are never persisted.
type Buffers struct {
	mu          sync.RWMutex
	entries     map[Key]*list.Element
	lru         *list.List
	capacity    int
	maxSessions int
	idleTimeout time.Duration
	onEvict     func(Key, EvictReason)
	now         func() time.Time
}

type buffer struct {
	key          Key
	turns        []Turn
	lastActivity time.Time
}

func NewBuffers(opts Options) *Buffers {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	return &Buffers{
		entries:     make(map[Key]*list.Element),
		lru:         list.New(),
		capacity:    opts.Capacity,
		maxSessions: opts.MaxSessions,
		idleTimeout: opts.IdleTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetEvictHook registers a callback run after a buffer is dropped.
func (b *Buffers) SetEvictHook(hook func(Key, EvictReason)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onEvict = hook
}

// Capacity returns the per-session turn limit.
func (b *Buffers) Capacity() int { return b.capacity }

// Append records a completed turn, evicting the oldest turn once the buffer
// is over capacity.
func (b *Buffers) Append(key Key, userInput, agentOutput string) {
	now := b.now()
	var evicted []Key

	b.mu.Lock()
	el, ok := b.entries[key]
	if !ok {
		el = b.lru.PushFront(&buffer{key: key})
		b.entries[key] = el
		for b.lru.Len() > b.maxSessions {
			oldest := b.lru.Back()
			evicted = append(evicted, b.removeLocked(oldest))
		}
	} else {
		b.lru.MoveToFront(el)
	}
	buf := el.Value.(*buffer)
	buf.turns = append(buf.turns, Turn{UserInput: userInput, AgentOutput: agentOutput, At: now})
	if over := len(buf.turns) - b.capacity; over > 0 {
		buf.turns = append(buf.turns[:0:0], buf.turns[over:]...)
	}
	buf.lastActivity = now
	hook := b.onEvict
	b.mu.Unlock()

	if hook != nil {
		for _, k := range evicted {
			hook(k, EvictCapacity)
		}
	}
}

// Read returns a copy of the session's turns, oldest first. Unknown sessions
// read as empty.
func (b *Buffers) Read(key Key) []Turn {
	b.mu.RLock()
	defer b.mu.RUnlock()
	el, ok := b.entries[key]
	if !ok {
		return nil
	}
	turns := el.Value.(*buffer).turns
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Forget drops a session's buffer.
func (b *Buffers) Forget(key Key) bool {
	b.mu.Lock()
	el, ok := b.entries[key]
	if ok {
		b.removeLocked(el)
	}
	hook := b.onEvict
	b.mu.Unlock()

	if ok && hook != nil {
		hook(key, EvictForget)
	}
	return ok
}

// Len returns the number of live buffers.
func (b *Buffers) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Sweep drops buffers idle since before now minus the idle timeout and
// returns how many were dropped.
func (b *Buffers) Sweep(now time.Time) int {
	cutoff := now.Add(-b.idleTimeout)
	var expired []Key

	b.mu.Lock()
	for el := b.lru.Back(); el != nil; {
		buf := el.Value.(*buffer)
		if !buf.lastActivity.Before(cutoff) {
			// The list is ordered by activity, newer entries follow.
			break
		}
		prev := el.Prev()
		expired = append(expired, b.removeLocked(el))
		el = prev
	}
	hook := b.onEvict
	b.mu.Unlock()

	if hook != nil {
		for _, k := range expired {
			hook(k, EvictIdle)
		}
	}
	return len(expired)
}

// StartJanitor runs Sweep on a cron schedule until ctx is done.
func (b *Buffers) StartJanitor(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = "@every 1m"
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { b.Sweep(b.now()) }); err != nil {
		return fmt.Errorf("parse sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}

func (b *Buffers) removeLocked(el *list.Element) Key {
	buf := b.lru.Remove(el).(*buffer)
	delete(b.entries, buf.key)
	return buf.key
}
