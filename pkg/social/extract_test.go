package social

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

type fakeClassifier struct {
	reply string
	err   error
	calls int
	last  struct{ system, user string }
}

func (f *fakeClassifier) Classify(_ context.Context, system, user string) (string, error) {
	f.calls++
	f.last.system, f.last.user = system, user
	return f.reply, f.err
}

func TestExtractEntities(t *testing.T) {
	ctx := context.Background()

	t.Run("plain json", func(t *testing.T) {
		fc := &fakeClassifier{reply: `{"people":["Grandma"],"locations":["school"],"topics":["pickup time"]}`}
		e := NewExtractor(ExtractorOptions{Classifier: fc})

		got := e.ExtractEntities(ctx, "Grandma will do the school pickup")
		assert.Equal(t, []string{"Grandma"}, got.People)
		assert.Equal(t, []string{"school"}, got.Locations)
		assert.Equal(t, []string{"pickup time"}, got.Topics)
	})

	t.Run("fenced json", func(t *testing.T) {
		fc := &fakeClassifier{reply: "```json\n{\"people\":[\"Coach\"],\"locations\":[],\"topics\":[]}\n```"}
		e := NewExtractor(ExtractorOptions{Classifier: fc})

		got := e.ExtractEntities(ctx, "Coach changed practice")
		assert.Equal(t, []string{"Coach"}, got.People)
	})

	t.Run("unparseable output", func(t *testing.T) {
		fc := &fakeClassifier{reply: "I found Grandma and a school."}
		e := NewExtractor(ExtractorOptions{Classifier: fc})
		assert.Equal(t, Entities{}, e.ExtractEntities(ctx, "some message"))
	})

	t.Run("classifier failure", func(t *testing.T) {
		fc := &fakeClassifier{err: errors.New("rate limited")}
		e := NewExtractor(ExtractorOptions{Classifier: fc})
		assert.Equal(t, Entities{}, e.ExtractEntities(ctx, "some message"))
	})

	t.Run("unconfigured", func(t *testing.T) {
		e := NewExtractor(ExtractorOptions{})
		assert.False(t, e.Available())
		assert.Equal(t, Entities{}, e.ExtractEntities(ctx, "some message"))
	})

	t.Run("blank text skips model", func(t *testing.T) {
		fc := &fakeClassifier{reply: "{}"}
		e := NewExtractor(ExtractorOptions{Classifier: fc})
		e.ExtractEntities(ctx, "   ")
		assert.Zero(t, fc.calls)
	})

	t.Run("long text truncated", func(t *testing.T) {
		fc := &fakeClassifier{reply: `{"people":[],"locations":[],"topics":[]}`}
		e := NewExtractor(ExtractorOptions{Classifier: fc})
		e.ExtractEntities(ctx, strings.Repeat("x", 2000))
		assert.Less(t, len(fc.last.user), 1000)
	})
}

func TestMessageEntityContext_SkipPolicy(t *testing.T) {
	ctx := context.Background()
	fc := &fakeClassifier{reply: `{"people":["Jessica"],"locations":[],"topics":[]}`}
	e := NewExtractor(ExtractorOptions{Classifier: fc})

	t.Run("short message", func(t *testing.T) {
		got := e.MessageEntityContext(ctx, "see you at 5", "alice", "bob", "room1")
		assert.Equal(t, EntityContext{}, got)
		assert.Zero(t, fc.calls)
	})

	t.Run("pre-approved message", func(t *testing.T) {
		got := e.MessageEntityContext(ctx, "Thank you so much for handling the recital", "alice", "bob", "room1")
		assert.Equal(t, EntityContext{}, got)
		assert.Zero(t, fc.calls)
	})

	t.Run("third-party mention without you is pre-approved", func(t *testing.T) {
		got := e.MessageEntityContext(ctx, "Grandma is taking them after the appointment", "alice", "bob", "room1")
		assert.Equal(t, EntityContext{}, got)
		assert.Zero(t, fc.calls)
	})

	t.Run("substantive message", func(t *testing.T) {
		got := e.MessageEntityContext(ctx, "Jessica canceled tomorrow's pickup appointment again", "alice", "bob", "room1")
		assert.True(t, got.HasPeople)
		assert.False(t, got.HasLocations)
		assert.False(t, got.HasTopics)
		assert.Equal(t, []string{"Jessica"}, got.Entities.People)
		assert.Equal(t, 1, fc.calls)
	})
}

func TestAnalyzeEntitySentiment(t *testing.T) {
	ctx := context.Background()

	t.Run("parsed and clamped", func(t *testing.T) {
		fc := &fakeClassifier{reply: `{"sentiment":"negative","strength":1.4,"reason":"repeated conflict"}`}
		e := NewExtractor(ExtractorOptions{Classifier: fc})

		got := e.AnalyzeEntitySentiment(ctx, "Grandma", []string{"Grandma undermines me", "Grandma did it again"})
		assert.Equal(t, "negative", got.Sentiment)
		assert.Equal(t, 1.0, got.Strength)
		assert.Equal(t, "repeated conflict", got.Reason)
	})

	t.Run("unknown label collapses to neutral", func(t *testing.T) {
		fc := &fakeClassifier{reply: `{"sentiment":"hostile","strength":0.9}`}
		e := NewExtractor(ExtractorOptions{Classifier: fc})
		got := e.AnalyzeEntitySentiment(ctx, "Coach", []string{"Coach again"})
		assert.Equal(t, "neutral", got.Sentiment)
	})

	t.Run("no context messages", func(t *testing.T) {
		fc := &fakeClassifier{}
		e := NewExtractor(ExtractorOptions{Classifier: fc})
		got := e.AnalyzeEntitySentiment(ctx, "Coach", nil)
		assert.Equal(t, Sentiment{Sentiment: "neutral", Strength: 0.5, Reason: "insufficient data"}, got)
		assert.Zero(t, fc.calls)
	})

	t.Run("parse error", func(t *testing.T) {
		fc := &fakeClassifier{reply: "they seem fine"}
		e := NewExtractor(ExtractorOptions{Classifier: fc})
		got := e.AnalyzeEntitySentiment(ctx, "Coach", []string{"Coach was there"})
		assert.Equal(t, "neutral", got.Sentiment)
		assert.Equal(t, "parse error", got.Reason)
	})
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "short", truncateRunes("short", 100))

	// 600 bytes of 3-byte runes: a 500-byte cut lands mid-rune and must
	// back up to the previous boundary.
	got := truncateRunes(strings.Repeat("日", 200), maxExtractInputLen)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 498, len(got))
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(`  {"a":1}  `))
}
