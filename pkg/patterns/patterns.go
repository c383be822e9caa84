// Package patterns provides local, zero-network classification of message
// text: conflict-signal detection and the pre-filters that let benign
// messages through without any model call.
package patterns

import "regexp"

// Pattern names reported by Detect.
const (
	Absolutes   = "absolutes"
	Directive   = "directive"
	Accusatory  = "accusatory"
	Frustration = "frustration"
)

// Findings maps pattern names to whether the text exhibits them.
type Findings map[string]bool

// Any reports whether at least one pattern fired.
func (f Findings) Any() bool {
	for _, v := range f {
		if v {
			return true
		}
	}
	return false
}

type indicator struct {
	re    *regexp.Regexp
	name  string
	label string
}

var conflictIndicators = []indicator{
	{regexp.MustCompile(`(?i)\balways\b`), Absolutes, "Uses absolute language"},
	{regexp.MustCompile(`(?i)\bnever\b`), Absolutes, "Uses absolute language"},
	{regexp.MustCompile(`(?i)\byou should\b`), Directive, "Directive phrasing"},
	{regexp.MustCompile(`(?i)\byou need to\b`), Directive, "Directive phrasing"},
	{regexp.MustCompile(`(?i)\bwhy (don't|didn't|won't|can't) you\b`), Accusatory, "Accusatory questioning"},
	{regexp.MustCompile(`(?i)\bi told you\b`), Frustration, "Repetition frustration"},
	{regexp.MustCompile(`(?i)\bagain\b`), Frustration, "Repetition frustration"},
}

// Detect runs the conflict rule set against raw text. It is pure and cheap,
// so it always runs before any network branch: escalation state can be
// updated even when the slower context branches time out.
func Detect(text string) Findings {
	f := Findings{}
	for _, ind := range conflictIndicators {
		if ind.re.MatchString(text) {
			f[ind.name] = true
		}
	}
	return f
}

// Label returns the human-readable description for a pattern name.
func Label(name string) string {
	for _, ind := range conflictIndicators {
		if ind.name == name {
			return ind.label
		}
	}
	return name
}

// Indicators exposes the rule set for recurring-pattern analysis across
// message histories.
func Indicators() []struct {
	Re    *regexp.Regexp
	Name  string
	Label string
} {
	out := make([]struct {
		Re    *regexp.Regexp
		Name  string
		Label string
	}, len(conflictIndicators))
	for i, ind := range conflictIndicators {
		out[i] = struct {
			Re    *regexp.Regexp
			Name  string
			Label string
		}{ind.re, ind.name, ind.label}
	}
	return out
}
