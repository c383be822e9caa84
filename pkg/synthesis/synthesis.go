// Package synthesis merges narrative and social context into the insight and
// warning set that shapes the coaching prompt for one message.
package synthesis

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/calmbridge/mediator/pkg/narrative"
	"github.com/calmbridge/mediator/pkg/patterns"
	"github.com/calmbridge/mediator/pkg/social"
)

// NarrativeContext is the "what happened" input: profiles for both
// participants plus semantically similar history.
type NarrativeContext struct {
	SenderProfile     *narrative.Profile
	ReceiverProfile   *narrative.Profile
	SimilarMessages   []narrative.SimilarMessage
	DetectedPatterns  []RecurringPattern
	HasProfile        bool
	HasSimilarHistory bool
}

// SocialContext is the "who matters" input: people the message mentions and
// what the graph knows about them.
type SocialContext struct {
	MentionedPeople []string
	EntityContext   social.EntityContext
	Relationships   social.RelationshipContext
	SensitivePeople []string
	HasPeople       bool
}

// Insight is one contextual observation fed to the coaching prompt.
type Insight struct {
	Type    string
	Insight string
}

// Warning severities.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// Warning flags something the coaching prompt must account for.
type Warning struct {
	Type     string
	Severity string
	Message  string
}

// Synthesis is the merged result.
type Synthesis struct {
	SenderInsights       []Insight
	ReceiverInsights     []Insight
	RelationshipInsights []Insight
	Warnings             []Warning
	PromptSection        string
}

const absolutesScoreFloor = 0.7

// Generate merges both context halves for one message. Either input may be
// zero-valued; missing context just produces fewer insights.
func Generate(n NarrativeContext, s SocialContext, messageText string) Synthesis {
	var syn Synthesis

	if p := n.SenderProfile; p != nil {
		if len(p.KnownTriggers) > 0 {
			syn.SenderInsights = append(syn.SenderInsights, Insight{
				Type:    "triggers",
				Insight: "Sender's known triggers: " + strings.Join(p.KnownTriggers, ", "),
			})
		}
		if p.CommunicationPatterns["uses_absolutes"] > absolutesScoreFloor {
			syn.SenderInsights = append(syn.SenderInsights, Insight{
				Type:    "pattern",
				Insight: "Sender tends to use absolute language (always/never)",
			})
		}
		if len(p.ConflictThemes) > 0 {
			syn.SenderInsights = append(syn.SenderInsights, Insight{
				Type:    "themes",
				Insight: "Recurring conflict themes: " + strings.Join(p.ConflictThemes, ", "),
			})
		}
	}

	if p := n.ReceiverProfile; p != nil && len(p.KnownTriggers) > 0 {
		syn.ReceiverInsights = append(syn.ReceiverInsights, Insight{
			Type:    "triggers",
			Insight: "Receiver's sensitivities: " + strings.Join(p.KnownTriggers, ", "),
		})

		if touched := touchedTriggers(messageText, p.KnownTriggers); len(touched) > 0 {
			syn.Warnings = append(syn.Warnings, Warning{
				Type:     "trigger_warning",
				Severity: SeverityMedium,
				Message:  "Message may touch on receiver's sensitive topic: " + strings.Join(touched, ", "),
			})
		}
	}

	for _, pattern := range n.DetectedPatterns {
		if pattern.IsRecurring {
			syn.Warnings = append(syn.Warnings, Warning{
				Type:     "recurring_pattern",
				Severity: SeverityLow,
				Message:  pattern.Description,
			})
		}
	}

	for _, edge := range s.Relationships.SenderSentiments {
		if edge.Type == social.RelDislikes {
			syn.RelationshipInsights = append(syn.RelationshipInsights, Insight{
				Type:    "sentiment_conflict",
				Insight: "Sender has negative feelings about " + edge.Person,
			})
		}
	}
	for _, edge := range s.Relationships.ReceiverSentiments {
		if edge.Type == social.RelDislikes {
			syn.RelationshipInsights = append(syn.RelationshipInsights, Insight{
				Type:    "sentiment_conflict",
				Insight: "Receiver has negative feelings about " + edge.Person,
			})
		}
	}
	if contested := s.Relationships.ContestedPeople; len(contested) > 0 {
		syn.Warnings = append(syn.Warnings, Warning{
			Type:     "contested_person",
			Severity: SeverityHigh,
			Message:  strings.Join(contested, ", ") + " viewed differently by each parent - sensitive topic",
		})
	}

	if mentioned := sensitiveMentions(s); len(mentioned) > 0 {
		syn.Warnings = append(syn.Warnings, Warning{
			Type:     "sensitive_mention",
			Severity: SeverityHigh,
			Message: "Message mentions " + strings.Join(mentioned, ", ") +
				" who the receiver has negative feelings about",
		})
	}

	syn.PromptSection = FormatPromptSection(syn)
	return syn
}

// touchedTriggers returns the triggers the message text actually touches.
// Whole-word matching: a "money" trigger must not fire on "harmony".
func touchedTriggers(text string, triggers []string) []string {
	var touched []string
	for _, trigger := range triggers {
		t := strings.TrimSpace(trigger)
		if t == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(t) + `\b`)
		if err != nil {
			continue
		}
		if re.MatchString(text) {
			touched = append(touched, trigger)
		}
	}
	return touched
}

// sensitiveMentions intersects mentioned people with the receiver's
// sensitive list, case-insensitively.
func sensitiveMentions(s SocialContext) []string {
	if len(s.MentionedPeople) == 0 || len(s.SensitivePeople) == 0 {
		return nil
	}
	sensitive := make(map[string]bool, len(s.SensitivePeople))
	for _, p := range s.SensitivePeople {
		sensitive[strings.ToLower(p)] = true
	}
	var out []string
	for _, p := range s.MentionedPeople {
		if lower := strings.ToLower(p); sensitive[lower] {
			out = append(out, lower)
		}
	}
	return out
}

// FormatPromptSection renders the synthesis as the context block of the
// coaching prompt. Section order is fixed: high warnings lead, observed
// patterns trail. An empty synthesis renders as "".
func FormatPromptSection(syn Synthesis) string {
	var sections []string

	var high, low []Warning
	for _, w := range syn.Warnings {
		if w.Severity == SeverityHigh {
			high = append(high, w)
		} else {
			low = append(low, w)
		}
	}

	if len(high) > 0 {
		sections = append(sections, "IMPORTANT CONTEXT:")
		for _, w := range high {
			sections = append(sections, "- "+w.Message)
		}
		sections = append(sections, "")
	}

	appendInsights := func(heading string, insights []Insight) {
		if len(insights) == 0 {
			return
		}
		sections = append(sections, heading)
		for _, in := range insights {
			sections = append(sections, "- "+in.Insight)
		}
		sections = append(sections, "")
	}
	appendInsights("SENDER CONTEXT:", syn.SenderInsights)
	appendInsights("RECEIVER CONTEXT:", syn.ReceiverInsights)
	appendInsights("RELATIONSHIP CONTEXT:", syn.RelationshipInsights)

	if len(low) > 0 {
		sections = append(sections, "OBSERVED PATTERNS:")
		for _, w := range low {
			sections = append(sections, "- "+w.Message)
		}
	}

	return strings.TrimRight(strings.Join(sections, "\n"), "\n")
}

// RecurringPattern is a conflict habit observed across a message and its
// similar history.
type RecurringPattern struct {
	Theme       string
	Description string
	Frequency   int
	IsRecurring bool
	Topic       string
}

const (
	minRecurringMatches = 2
	minTopicOccurrences = 3
	minTopicWordLen     = 5
	maxRecurringTopics  = 3
)

var topicStopwords = map[string]bool{
	"about": true, "after": true, "before": true, "being": true, "could": true,
	"doing": true, "going": true, "having": true, "their": true, "there": true,
	"these": true, "thing": true, "think": true, "those": true, "through": true,
	"would": true, "really": true, "should": true, "still": true, "where": true,
	"which": true, "while": true, "because": true, "other": true, "people": true,
	"something": true, "anything": true,
}

// DetectRecurringPatterns looks for conflict habits across the current
// message and its similar history: known conflict indicators appearing in
// multiple messages, and topic words that keep coming up. Fewer than two
// similar messages is not enough signal.
func DetectRecurringPatterns(similar []narrative.SimilarMessage, current string) []RecurringPattern {
	if len(similar) < 2 {
		return nil
	}

	var out []RecurringPattern
	seenThemes := map[string]int{} // theme -> index into out

	for _, ind := range patterns.Indicators() {
		matches := 0
		if ind.Re.MatchString(current) {
			matches++
		}
		for _, msg := range similar {
			if ind.Re.MatchString(msg.Text) {
				matches++
			}
		}
		if matches < minRecurringMatches {
			continue
		}
		if idx, ok := seenThemes[ind.Name]; ok {
			out[idx].Frequency += matches
			continue
		}
		seenThemes[ind.Name] = len(out)
		out = append(out, RecurringPattern{
			Theme:       ind.Name,
			Description: ind.Label,
			Frequency:   matches,
			IsRecurring: true,
		})
	}

	out = append(out, recurringTopics(similar, current)...)
	return out
}

func recurringTopics(similar []narrative.SimilarMessage, current string) []RecurringPattern {
	counts := map[string]int{}
	texts := []string{current}
	for _, msg := range similar {
		texts = append(texts, msg.Text)
	}
	for _, text := range texts {
		for _, word := range strings.Fields(strings.ToLower(text)) {
			if len(word) >= minTopicWordLen && !topicStopwords[word] {
				counts[word]++
			}
		}
	}

	var topics []RecurringPattern
	for word, count := range counts {
		if count >= minTopicOccurrences {
			topics = append(topics, RecurringPattern{
				Theme:       "recurring_topic",
				Description: fmt.Sprintf("Topic %q keeps coming up", word),
				Frequency:   count,
				IsRecurring: true,
				Topic:       word,
			})
		}
	}

	// Deterministic: most frequent first, then alphabetical.
	sort.Slice(topics, func(i, j int) bool {
		if topics[i].Frequency != topics[j].Frequency {
			return topics[i].Frequency > topics[j].Frequency
		}
		return topics[i].Topic < topics[j].Topic
	})
	if len(topics) > maxRecurringTopics {
		topics = topics[:maxRecurringTopics]
	}
	return topics
}
