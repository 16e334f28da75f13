package assemble

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockripper/agentd/internal/memory"
	"github.com/stockripper/agentd/internal/session"
)

type fakeSummaries struct {
	summaries []memory.Summary
	err       error
}

func (f fakeSummaries) FetchOrdered(context.Context, session.Key) ([]memory.Summary, error) {
	return f.summaries, f.err
}

type fakeKnowledge struct {
	text  string
	err   error
	query string
}

func (f *fakeKnowledge) Context(_ context.Context, query string) (string, error) {
	f.query = query
	return f.text, f.err
}

var key = session.Key{Agent: "support", Session: "s1"}

func TestAssembleCombinesSources(t *testing.T) {
	buffers := session.NewBuffers(session.Options{})
	buffers.Append(key, "hi", "hello")
	kb := &fakeKnowledge{text: "Refunds take 14 days."}
	a := New(buffers, fakeSummaries{summaries: []memory.Summary{
		{ID: "1", Content: "User asked about order 42."},
		{ID: "2", Content: "Order 42 shipped."},
	}}, kb, Options{})

	got, err := a.Assemble(context.Background(), key, "when is my refund")
	require.NoError(t, err)
	assert.Equal(t, "User: hi\nAgent: hello", got.RecentHistory)
	assert.Equal(t, "Refunds take 14 days.", got.KnowledgeContext)
	assert.Equal(t, "User asked about order 42.\nOrder 42 shipped.", got.LongTermSummary)
	assert.Equal(t, "when is my refund", kb.query)
}

func TestAssembleDegradesOnReadErrors(t *testing.T) {
	a := New(session.NewBuffers(session.Options{}),
		fakeSummaries{err: errors.New("store down")},
		&fakeKnowledge{err: errors.New("index down")},
		Options{})

	got, err := a.Assemble(context.Background(), key, "hello")
	require.NoError(t, err)
	assert.Equal(t, Context{}, got)
}

func TestAssembleWithoutKnowledge(t *testing.T) {
	a := New(session.NewBuffers(session.Options{}), fakeSummaries{}, nil, Options{})
	got, err := a.Assemble(context.Background(), key, "hello")
	require.NoError(t, err)
	assert.Empty(t, got.KnowledgeContext)
}

func TestAssembleAppliesBudgets(t *testing.T) {
	buffers := session.NewBuffers(session.Options{})
	buffers.Append(key, strings.Repeat("a", 100), "old")
	buffers.Append(key, "latest question", "latest answer")
	a := New(buffers, fakeSummaries{summaries: []memory.Summary{{Content: strings.Repeat("s", 100)}}},
		&fakeKnowledge{text: "first fact " + strings.Repeat("x", 100)},
		Options{Budgets: Budgets{Summary: 2, Recent: 10, Knowledge: 3}, Counter: EstimateCounter{}})

	got, err := a.Assemble(context.Background(), key, "q")
	require.NoError(t, err)
	assert.Len(t, got.LongTermSummary, 8)
	assert.True(t, strings.HasSuffix(got.RecentHistory, "Agent: latest answer"))
	assert.Len(t, []rune(got.RecentHistory), 40)
	assert.Equal(t, "first fact x", got.KnowledgeContext)
}

func TestAssembleHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := New(session.NewBuffers(session.Options{}), fakeSummaries{}, nil, Options{})
	_, err := a.Assemble(ctx, key, "hello")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestContextPrompt(t *testing.T) {
	assert.Equal(t, "hello", Context{}.Prompt("hello"))

	prompt := Context{RecentHistory: "User: a\nAgent: b", LongTermSummary: "earlier"}.Prompt("next")
	assert.Equal(t, "## Long-term memory\nearlier\n\n## Recent conversation\nUser: a\nAgent: b\n\n## User\nnext", prompt)
}

func TestEstimateCounter(t *testing.T) {
	c := EstimateCounter{}
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 2, c.Count("hello"))
	assert.Equal(t, "abcd", c.Head("abcdefgh", 1))
	assert.Equal(t, "efgh", c.Tail("abcdefgh", 1))
	assert.Equal(t, "short", c.Tail("short", 10))
}

func TestTrimPartialRunes(t *testing.T) {
	cases := []struct{ in, want string }{
		{"\xa9llo", "llo"},
		{"caf\xc3", "caf"},
		{"\x9f\x98\x80ok \U0001F600", "ok \U0001F600"},
		{"\U0001F600 hi \xf0\x9f\x98", "\U0001F600 hi "},
		{"\uFFFD kept \uFFFD", "\uFFFD kept \uFFFD"},
		{"plain", "plain"},
		{"", ""},
	}
	for _, tc := range cases {
		got := trimPartialRunes(tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
		assert.True(t, utf8.ValidString(got), "output %q", got)
	}
}
