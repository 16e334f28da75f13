package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestBuffersAppendEvictsOldest(t *testing.T) {
	b := NewBuffers(Options{Capacity: 5})
	key := Key{Agent: "default", Session: "s1"}
	for i := 1; i <= 6; i++ {
		b.Append(key, fmt.Sprintf("u%d", i), fmt.Sprintf("a%d", i))
	}

	turns := b.Read(key)
	if len(turns) != 5 {
		t.Fatalf("len(Read()) = %d, want 5", len(turns))
	}
	if turns[0].UserInput != "u2" || turns[4].UserInput != "u6" {
		t.Fatalf("turns = %+v, want u2..u6", turns)
	}
}

func TestBuffersNeverExceedCapacity(t *testing.T) {
	for capacity := 1; capacity <= 4; capacity++ {
		b := NewBuffers(Options{Capacity: capacity})
		key := Key{Session: "s"}
		for i := 0; i < 3*capacity; i++ {
			b.Append(key, "in", "out")
			if got := len(b.Read(key)); got > capacity {
				t.Fatalf("capacity %d: len(Read()) = %d after %d appends", capacity, got, i+1)
			}
		}
	}
}

func TestBuffersReadUnknownIsEmpty(t *testing.T) {
	b := NewBuffers(Options{})
	if turns := b.Read(Key{Session: "missing"}); len(turns) != 0 {
		t.Fatalf("Read(missing) = %+v, want empty", turns)
	}
	if got := Format(nil); got != "" {
		t.Fatalf("Format(nil) = %q, want empty", got)
	}
}

func TestBuffersSessionsAreIndependent(t *testing.T) {
	b := NewBuffers(Options{Capacity: 2})
	s1 := Key{Agent: "default", Session: "s1"}
	s2 := Key{Agent: "default", Session: "s2"}
	other := Key{Agent: "stock", Session: "s1"}
	b.Append(s1, "hello", "hi")
	b.Append(other, "price?", "42")

	if got := len(b.Read(s2)); got != 0 {
		t.Fatalf("len(Read(s2)) = %d, want 0", got)
	}
	if got := b.Read(other); len(got) != 1 || got[0].AgentOutput != "42" {
		t.Fatalf("Read(other) = %+v", got)
	}
	if got := b.Read(s1); len(got) != 1 || got[0].UserInput != "hello" {
		t.Fatalf("Read(s1) = %+v", got)
	}
}

func TestBuffersReadReturnsCopy(t *testing.T) {
	b := NewBuffers(Options{})
	key := Key{Session: "s1"}
	b.Append(key, "a", "b")
	turns := b.Read(key)
	turns[0].UserInput = "mutated"
	if got := b.Read(key)[0].UserInput; got != "a" {
		t.Fatalf("stored UserInput = %q, want %q", got, "a")
	}
}

func TestFormatRendersUserAgentPairs(t *testing.T) {
	got := Format([]Turn{
		{UserInput: "What is 2+2?", AgentOutput: "4"},
		{UserInput: "Thanks", AgentOutput: "Anytime"},
	})
	want := "User: What is 2+2?\nAgent: 4\nUser: Thanks\nAgent: Anytime"
	if got != want {
		t.Fatalf("Format() = %q, want %q", got, want)
	}
}

func TestBuffersMaxSessionsEvictsLeastRecent(t *testing.T) {
	b := NewBuffers(Options{MaxSessions: 2})
	var evicted []Key
	b.SetEvictHook(func(k Key, reason EvictReason) {
		if reason == EvictCapacity {
			evicted = append(evicted, k)
		}
	})

	b.Append(Key{Session: "a"}, "1", "1")
	b.Append(Key{Session: "b"}, "1", "1")
	b.Append(Key{Session: "a"}, "2", "2")
	b.Append(Key{Session: "c"}, "1", "1")

	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", b.Len())
	}
	if len(evicted) != 1 || evicted[0].Session != "b" {
		t.Fatalf("evicted = %+v, want [b]", evicted)
	}
	if len(b.Read(Key{Session: "a"})) != 2 {
		t.Fatalf("session a should survive with 2 turns")
	}
}

func TestBuffersSweepDropsIdle(t *testing.T) {
	b := NewBuffers(Options{IdleTimeout: time.Minute})
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	now := base
	b.now = func() time.Time { return now }

	b.Append(Key{Session: "old"}, "x", "y")
	now = base.Add(50 * time.Second)
	b.Append(Key{Session: "fresh"}, "x", "y")

	if n := b.Sweep(base.Add(90 * time.Second)); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	if len(b.Read(Key{Session: "old"})) != 0 {
		t.Fatalf("old session should be swept")
	}
	if len(b.Read(Key{Session: "fresh"})) != 1 {
		t.Fatalf("fresh session should survive")
	}
}

func TestBuffersForget(t *testing.T) {
	b := NewBuffers(Options{})
	key := Key{Session: "s1"}
	b.Append(key, "x", "y")
	if !b.Forget(key) {
		t.Fatalf("Forget() = false, want true")
	}
	if b.Forget(key) {
		t.Fatalf("second Forget() = true, want false")
	}
	if b.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", b.Len())
	}
}

func TestBuffersConcurrentAppend(t *testing.T) {
	b := NewBuffers(Options{Capacity: 3})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := Key{Session: fmt.Sprintf("s%d", i%5)}
			b.Append(key, "in", "out")
			_ = b.Read(key)
		}(i)
	}
	wg.Wait()
	for i := 0; i < 5; i++ {
		if got := len(b.Read(Key{Session: fmt.Sprintf("s%d", i)})); got != 3 {
			t.Fatalf("session s%d has %d turns, want 3", i, got)
		}
	}
}

func TestBuffersJanitorSweepsOnSchedule(t *testing.T) {
	b := NewBuffers(Options{IdleTimeout: time.Millisecond})
	b.Append(Key{Session: "s1"}, "x", "y")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.StartJanitor(ctx, "@every 1s"); err != nil {
		t.Fatalf("StartJanitor() error = %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for b.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Len() = %d after janitor deadline, want 0", b.Len())
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestBuffersJanitorRejectsBadSchedule(t *testing.T) {
	b := NewBuffers(Options{})
	if err := b.StartJanitor(context.Background(), "every so often"); err == nil {
		t.Fatalf("StartJanitor() error = nil, want parse error")
	}
}
