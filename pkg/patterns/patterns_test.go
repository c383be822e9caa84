package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []string
	}{
		{"absolutes", "You always do this", []string{Absolutes}},
		{"never", "You never listen", []string{Absolutes}},
		{"directive", "you should call the school", []string{Directive}},
		{"need to", "You need to fix this", []string{Directive}},
		{"accusatory", "Why don't you ever answer?", []string{Accusatory}},
		{"accusatory cant", "why can't you be on time", []string{Accusatory}},
		{"frustration told", "I told you about the schedule", []string{Frustration}},
		{"frustration again", "We are late again", []string{Frustration}},
		{"clean", "Pickup is at 3pm on Friday", nil},
		{"multiple", "I told you, you never listen and you should apologize",
			[]string{Frustration, Absolutes, Directive}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Detect(tc.text)
			for _, w := range tc.want {
				assert.True(t, got[w], "expected pattern %s for %q", w, tc.text)
			}
			assert.Equal(t, len(tc.want) > 0, got.Any())
			assert.Len(t, got, len(tc.want))
		})
	}
}

func TestPreApproved(t *testing.T) {
	approved := []string{
		"hi",
		"Hello",
		"OK",
		"sounds good",
		"  thanks  ",
		"Thank you for handling the pickup",
		"You're a great mom",
		"I love how you organized the party",
		"My teacher said the recital moved", // third party, no "you"
	}
	for _, text := range approved {
		assert.True(t, PreApproved(text), "expected pre-approval for %q", text)
	}

	notApproved := []string{
		"Why don't you ever answer?",
		"You never listen to me",
		"We need to talk about money",
		"Your mother keeps interfering", // third party but addresses "you"
	}
	for _, text := range notApproved {
		assert.False(t, PreApproved(text), "unexpected pre-approval for %q", text)
	}
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Accusatory questioning", Label(Accusatory))
	assert.Equal(t, "unknown", Label("unknown"))
}
