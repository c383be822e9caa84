package social

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/calmbridge/mediator/pkg/patterns"
)

// Entities are the people, places, and subjects a message mentions. The two
// co-parents themselves are never extracted; only third parties count.
type Entities struct {
	People    []string `json:"people"`
	Locations []string `json:"locations"`
	Topics    []string `json:"topics"`
}

// EntityContext is the real-time extraction result for one message.
type EntityContext struct {
	Entities     Entities
	HasPeople    bool
	HasLocations bool
	HasTopics    bool
}

// Sentiment is a user's analyzed attitude toward one person.
type Sentiment struct {
	Sentiment string  `json:"sentiment"`
	Strength  float64 `json:"strength"`
	Reason    string  `json:"reason"`
}

// MinEntityTextLen is the shortest message worth an extraction call. Shorter
// messages ("ok", "see you at 5") carry no entity signal.
const MinEntityTextLen = 20

const maxExtractInputLen = 500

const extractSystemPrompt = `You extract entities from co-parenting messages.

Entity types:
- People: Names or roles of people mentioned (Grandma, Teacher, Coach, Doctor, Babysitter, new partner names)
- Locations: Places mentioned (school, soccer field, doctor's office, park)
- Topics: Main subjects discussed (homework, schedule, pickup time, medical, money)

Rules:
- Do NOT include pronouns (he, she, they)
- Do NOT include generic terms like "kids", "children" (too common)
- Only extract specific people/roles that are mentioned
- Normalize variations (e.g., "Mom's house" -> "Mom's house", not "mothers house")

Respond ONLY with JSON, no other text.`

const sentimentSystemPrompt = `You analyze the sender's sentiment toward a specific person based on their messages.

Sentiment categories:
- "positive": Trusts, respects, speaks well of them
- "negative": Distrusts, speaks negatively, conflict source
- "neutral": No strong sentiment either way
- "mixed": Sometimes positive, sometimes negative

Rules:
- Focus on the SENDER's view, not objective truth
- Look at language used when mentioning this person
- Consider if this person is often mentioned during conflicts
- Strength is 0-1 (0.5 = mild, 0.8+ = strong)

Respond ONLY with JSON.`

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// stripFences removes a markdown code fence if the model wrapped its JSON in
// one despite the prompt.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Extractor turns message text into Entities via a Classifier.
type Extractor struct {
	classifier Classifier
	logger     *slog.Logger
}

// ExtractorOptions configures an Extractor.
type ExtractorOptions struct {
	Classifier Classifier
	Logger     *slog.Logger
}

func NewExtractor(opts ExtractorOptions) *Extractor {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	return &Extractor{classifier: opts.Classifier, logger: opts.Logger}
}

// Available reports whether a classifier is configured.
func (e *Extractor) Available() bool {
	return e != nil && e.classifier != nil
}

// ExtractEntities extracts entities from one message. It fails open: empty
// entities for blank text, an unconfigured classifier, transport failure, or
// unparseable model output. Input is truncated before the model call.
func (e *Extractor) ExtractEntities(ctx context.Context, text string) Entities {
	if strings.TrimSpace(text) == "" || !e.Available() {
		return Entities{}
	}
	text = truncateRunes(text, maxExtractInputLen)

	user := fmt.Sprintf(`Extract entities from this message:
%q

Respond with JSON:
{
  "people": ["Person1", "Person2"],
  "locations": ["Location1"],
  "topics": ["Topic1", "Topic2"]
}`, text)

	out, err := e.classifier.Classify(ctx, extractSystemPrompt, user)
	if err != nil {
		e.logger.Error("entity extraction failed", "error", err)
		return Entities{}
	}

	var entities Entities
	if err := json.Unmarshal([]byte(stripFences(out)), &entities); err != nil {
		e.logger.Warn("entity extraction returned unparseable output", "error", err)
		return Entities{}
	}
	return entities
}

// MessageEntityContext extracts entities for the real-time mediation path.
// Messages that pass the pre-filter or are too short to carry entity signal
// skip the model call entirely and return an empty context.
func (e *Extractor) MessageEntityContext(ctx context.Context, text, senderID, receiverID, roomID string) EntityContext {
	if len(strings.TrimSpace(text)) < MinEntityTextLen || patterns.PreApproved(text) {
		return EntityContext{}
	}

	entities := e.ExtractEntities(ctx, text)
	return EntityContext{
		Entities:     entities,
		HasPeople:    len(entities.People) > 0,
		HasLocations: len(entities.Locations) > 0,
		HasTopics:    len(entities.Topics) > 0,
	}
}

// AnalyzeEntitySentiment infers how the author of contextMessages feels about
// person. Without enough data or a configured classifier it returns a mild
// neutral rather than failing; strength is clamped to [0,1] and unknown
// sentiment labels collapse to neutral.
func (e *Extractor) AnalyzeEntitySentiment(ctx context.Context, person string, contextMessages []string) Sentiment {
	neutral := Sentiment{Sentiment: "neutral", Strength: 0.5, Reason: "insufficient data"}
	if person == "" || len(contextMessages) == 0 || !e.Available() {
		return neutral
	}

	if len(contextMessages) > 20 {
		contextMessages = contextMessages[:20]
	}
	user := fmt.Sprintf(`Analyze the sender's sentiment toward %q based on these messages:

%s

Respond with JSON:
{
  "sentiment": "positive|negative|neutral|mixed",
  "strength": 0.0,
  "reason": "brief explanation"
}`, person, strings.Join(contextMessages, "\n---\n"))

	out, err := e.classifier.Classify(ctx, sentimentSystemPrompt, user)
	if err != nil {
		e.logger.Error("sentiment analysis failed", "person", person, "error", err)
		return neutral
	}

	var s Sentiment
	if err := json.Unmarshal([]byte(stripFences(out)), &s); err != nil {
		neutral.Reason = "parse error"
		return neutral
	}
	switch s.Sentiment {
	case "positive", "negative", "neutral", "mixed":
	default:
		s.Sentiment = "neutral"
	}
	if s.Strength < 0 {
		s.Strength = 0
	}
	if s.Strength > 1 {
		s.Strength = 1
	}
	return s
}
