package patterns

import (
	"regexp"
	"strings"
)

// Pre-approved exact phrases: plain greetings and polite acknowledgements
// never need analysis.
var (
	allowedGreetings = map[string]bool{
		"hi": true, "hello": true, "hey": true,
		"hi there": true, "hello there": true, "hey there": true,
	}
	allowedPolite = map[string]bool{
		"thanks": true, "thank you": true, "ok": true, "okay": true,
		"sure": true, "yes": true, "no": true, "got it": true, "sounds good": true,
	}
)

var mentionsYouRe = regexp.MustCompile(`(?i)\b(you|your|you'?re|you'?ve|you'?d|you'?ll)\b`)

var thirdPartyRe = regexp.MustCompile(`(?i)\b(my\s+)?(friend|teacher|boss|neighbor|colleague|coworker|brother|sister|mother|father|parent|grandma|grandpa|aunt|uncle|cousin)\b`)

var positivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(you'?re|you are)\s+(my\s+)?(friend|best|great|awesome|amazing|wonderful|the best|so kind|so helpful|so great|incredible|fantastic)\b`),
	regexp.MustCompile(`(?i)\b(love|appreciate|thankful|grateful)\s+(you|that|this)\b`),
	regexp.MustCompile(`(?i)\b(thank|thanks)\s+(you|so much|for)\b`),
	regexp.MustCompile(`(?i)\b(good job|well done|nice work|great work|great job)\b`),
	regexp.MustCompile(`(?i)\bI\s+(love|appreciate|value|admire|respect)\s+(you|this|that|our)\b`),
	regexp.MustCompile(`(?i)\b(you'?re|you are)\s+(doing\s+)?(great|well|good|amazing|awesome)\b`),
	regexp.MustCompile(`(?i)\b(miss|missed)\s+you\b`),
	regexp.MustCompile(`(?i)\b(proud of|happy for)\s+you\b`),
	regexp.MustCompile(`(?i)\byou('?re| are)\s+a\s+(great|good|wonderful|amazing)\s+(parent|dad|mom|father|mother|person)\b`),
	regexp.MustCompile(`(?i)\b(I\s+)?love\s+(how|when|that)\s+you\b`),
	regexp.MustCompile(`(?i)\b(I\s+)?love\s+(it|this)\s+when\s+you\b`),
	regexp.MustCompile(`(?i)\byou\s+(make|made)\s+me\s+(happy|smile|laugh|feel\s+(good|better|loved|special))\b`),
	regexp.MustCompile(`(?i)\b(you'?re|you are)\s+(so\s+)?(sweet|kind|thoughtful|caring|supportive|helpful)\b`),
}

// PreApproved reports whether text can skip analysis entirely: common
// greetings/acknowledgements, positive-sentiment messages, and neutral
// statements about third parties that never address the co-parent.
func PreApproved(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if allowedGreetings[lower] || allowedPolite[lower] {
		return true
	}

	if !mentionsYouRe.MatchString(text) && thirdPartyRe.MatchString(text) {
		return true
	}

	for _, re := range positivePatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
