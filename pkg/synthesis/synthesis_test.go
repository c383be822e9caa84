package synthesis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calmbridge/mediator/pkg/narrative"
	"github.com/calmbridge/mediator/pkg/social"
)

func TestGenerate_SenderInsights(t *testing.T) {
	n := NarrativeContext{
		SenderProfile: &narrative.Profile{
			KnownTriggers:         []string{"money", "lateness"},
			CommunicationPatterns: map[string]float64{"uses_absolutes": 0.8},
			ConflictThemes:        []string{"scheduling"},
		},
	}

	syn := Generate(n, SocialContext{}, "can we talk about the weekend")

	require.Len(t, syn.SenderInsights, 3)
	assert.Equal(t, "triggers", syn.SenderInsights[0].Type)
	assert.Contains(t, syn.SenderInsights[0].Insight, "money, lateness")
	assert.Equal(t, "pattern", syn.SenderInsights[1].Type)
	assert.Equal(t, "themes", syn.SenderInsights[2].Type)
	assert.Empty(t, syn.Warnings)
}

func TestGenerate_AbsolutesScoreBelowFloor(t *testing.T) {
	n := NarrativeContext{
		SenderProfile: &narrative.Profile{
			CommunicationPatterns: map[string]float64{"uses_absolutes": 0.7},
		},
	}
	syn := Generate(n, SocialContext{}, "hello")
	assert.Empty(t, syn.SenderInsights, "0.7 is not above the floor")
}

func TestGenerate_TriggerWarning(t *testing.T) {
	n := NarrativeContext{
		ReceiverProfile: &narrative.Profile{KnownTriggers: []string{"money", "School"}},
	}

	syn := Generate(n, SocialContext{}, "We need to sort out the money for camp")

	require.Len(t, syn.Warnings, 1)
	assert.Equal(t, "trigger_warning", syn.Warnings[0].Type)
	assert.Equal(t, SeverityMedium, syn.Warnings[0].Severity)
	assert.Contains(t, syn.Warnings[0].Message, "money")
	assert.NotContains(t, syn.Warnings[0].Message, "School")
}

func TestGenerate_TriggerWholeWordOnly(t *testing.T) {
	n := NarrativeContext{
		ReceiverProfile: &narrative.Profile{KnownTriggers: []string{"money"}},
	}
	syn := Generate(n, SocialContext{}, "I appreciate the harmony lately")
	assert.Empty(t, syn.Warnings, "trigger must match whole words, not substrings")
}

func TestGenerate_RelationshipInsightsAndContested(t *testing.T) {
	s := SocialContext{
		Relationships: social.RelationshipContext{
			SenderSentiments: []social.PersonSentiment{
				{Person: "grandma", Type: social.RelTrusts},
			},
			ReceiverSentiments: []social.PersonSentiment{
				{Person: "grandma", Type: social.RelDislikes},
			},
			ContestedPeople: []string{"grandma"},
		},
	}

	syn := Generate(NarrativeContext{}, s, "Grandma offered to babysit")

	require.Len(t, syn.RelationshipInsights, 1)
	assert.Contains(t, syn.RelationshipInsights[0].Insight, "Receiver has negative feelings about grandma")

	require.Len(t, syn.Warnings, 1)
	assert.Equal(t, "contested_person", syn.Warnings[0].Type)
	assert.Equal(t, SeverityHigh, syn.Warnings[0].Severity)
}

func TestGenerate_SensitiveMention(t *testing.T) {
	s := SocialContext{
		MentionedPeople: []string{"Grandma", "Coach"},
		SensitivePeople: []string{"grandma"},
		HasPeople:       true,
	}

	syn := Generate(NarrativeContext{}, s, "Grandma is picking them up")

	require.Len(t, syn.Warnings, 1)
	assert.Equal(t, "sensitive_mention", syn.Warnings[0].Type)
	assert.Equal(t, SeverityHigh, syn.Warnings[0].Severity)
	assert.Contains(t, syn.Warnings[0].Message, "grandma")
	assert.NotContains(t, syn.Warnings[0].Message, "Coach")
}

func TestGenerate_RecurringPatternsBecomeLowWarnings(t *testing.T) {
	n := NarrativeContext{
		DetectedPatterns: []RecurringPattern{
			{Theme: "absolutes", Description: "Uses absolute language", IsRecurring: true},
			{Theme: "one-off", Description: "ignored", IsRecurring: false},
		},
	}
	syn := Generate(n, SocialContext{}, "hello")

	require.Len(t, syn.Warnings, 1)
	assert.Equal(t, "recurring_pattern", syn.Warnings[0].Type)
	assert.Equal(t, SeverityLow, syn.Warnings[0].Severity)
}

func TestFormatPromptSection_Ordering(t *testing.T) {
	syn := Synthesis{
		SenderInsights:       []Insight{{Type: "triggers", Insight: "sender insight"}},
		ReceiverInsights:     []Insight{{Type: "triggers", Insight: "receiver insight"}},
		RelationshipInsights: []Insight{{Type: "sentiment_conflict", Insight: "relationship insight"}},
		Warnings: []Warning{
			{Type: "recurring_pattern", Severity: SeverityLow, Message: "low warning"},
			{Type: "contested_person", Severity: SeverityHigh, Message: "high warning"},
		},
	}

	out := FormatPromptSection(syn)

	order := []string{
		"IMPORTANT CONTEXT:", "high warning",
		"SENDER CONTEXT:", "sender insight",
		"RECEIVER CONTEXT:", "receiver insight",
		"RELATIONSHIP CONTEXT:", "relationship insight",
		"OBSERVED PATTERNS:", "low warning",
	}
	pos := -1
	for _, want := range order {
		idx := strings.Index(out, want)
		require.GreaterOrEqual(t, idx, 0, "missing %q", want)
		assert.Greater(t, idx, pos, "%q out of order", want)
		pos = idx
	}
}

func TestFormatPromptSection_Empty(t *testing.T) {
	assert.Equal(t, "", FormatPromptSection(Synthesis{}))
	assert.Equal(t, "", Generate(NarrativeContext{}, SocialContext{}, "hello").PromptSection)
}

func TestDetectRecurringPatterns(t *testing.T) {
	similar := []narrative.SimilarMessage{
		{Text: "You always forget the pickup schedule"},
		{Text: "The pickup schedule changed, always something"},
	}

	got := DetectRecurringPatterns(similar, "Why is the pickup schedule always wrong")

	byTheme := map[string]RecurringPattern{}
	for _, p := range got {
		if p.Theme != "recurring_topic" {
			byTheme[p.Theme] = p
		}
	}
	require.Contains(t, byTheme, "absolutes")
	assert.Equal(t, 3, byTheme["absolutes"].Frequency)
	assert.True(t, byTheme["absolutes"].IsRecurring)

	var topics []string
	for _, p := range got {
		if p.Theme == "recurring_topic" {
			topics = append(topics, p.Topic)
		}
	}
	assert.Contains(t, topics, "pickup")
	assert.Contains(t, topics, "schedule")
	assert.LessOrEqual(t, len(topics), 3)
}

func TestDetectRecurringPatterns_NeedsTwoSimilar(t *testing.T) {
	similar := []narrative.SimilarMessage{{Text: "you always do this"}}
	assert.Nil(t, DetectRecurringPatterns(similar, "you always do this"))
}

func TestDetectRecurringPatterns_SingleMatchNotRecurring(t *testing.T) {
	similar := []narrative.SimilarMessage{
		{Text: "see you tomorrow"},
		{Text: "sounds fine"},
	}
	got := DetectRecurringPatterns(similar, "you never call")
	for _, p := range got {
		assert.NotEqual(t, "absolutes", p.Theme, "one match is not a recurring pattern")
	}
}
