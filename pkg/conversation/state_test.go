package conversation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calmbridge/mediator/pkg/patterns"
)

func TestUpdateEscalation(t *testing.T) {
	r := newRoomState()
	now := time.Now()

	got := r.updateEscalationAt(patterns.Findings{patterns.Accusatory: true, patterns.Absolutes: true}, now)
	assert.Equal(t, 20, got.Score)
	assert.Equal(t, 1, got.PatternCounts[patterns.Accusatory])
	assert.Equal(t, 1, got.PatternCounts[patterns.Absolutes])
	assert.Equal(t, now, got.LastNegativeTime)

	got = r.updateEscalationAt(patterns.Findings{patterns.Accusatory: true}, now.Add(time.Minute))
	assert.Equal(t, 30, got.Score)
	assert.Equal(t, 2, got.PatternCounts[patterns.Accusatory])
}

func TestUpdateEscalation_DecayAfterQuiet(t *testing.T) {
	r := newRoomState()
	now := time.Now()

	r.updateEscalationAt(patterns.Findings{patterns.Frustration: true}, now)

	// Clean message within the decay interval: no change.
	got := r.updateEscalationAt(patterns.Findings{}, now.Add(time.Minute))
	assert.Equal(t, 10, got.Score)

	// Clean message after a quiet stretch: one decay step.
	got = r.updateEscalationAt(patterns.Findings{}, now.Add(6*time.Minute))
	assert.Equal(t, 9, got.Score)
}

func TestUpdateEscalation_NeverNegative(t *testing.T) {
	r := newRoomState()
	now := time.Now()

	r.escalation.Score = 0
	r.escalation.LastNegativeTime = now.Add(-10 * time.Minute)
	got := r.updateEscalationAt(patterns.Findings{}, now)
	assert.Equal(t, 0, got.Score)
}

func TestUpdateEscalation_NoDecayBeforeFirstNegative(t *testing.T) {
	r := newRoomState()
	got := r.updateEscalationAt(patterns.Findings{}, time.Now())
	assert.Equal(t, 0, got.Score)
	assert.True(t, got.LastNegativeTime.IsZero())
}

func TestResetEscalation(t *testing.T) {
	r := newRoomState()
	r.updateEscalationAt(patterns.Findings{patterns.Directive: true}, time.Now())
	r.ResetEscalation()

	got := r.Escalation()
	assert.Zero(t, got.Score)
	assert.Empty(t, got.PatternCounts)
}

func TestUpdateEmotion(t *testing.T) {
	r := newRoomState()

	r.UpdateEmotion("alice", EmotionUpdate{CurrentEmotion: "frustrated", StressLevel: 0.8, Triggers: []string{"schedule"}})
	r.UpdateEmotion("bob", EmotionUpdate{CurrentEmotion: "calm", StressLevel: 0.2})

	got := r.Emotional()
	require.Contains(t, got.Participants, "alice")
	assert.Equal(t, "frustrated", got.Participants["alice"].CurrentEmotion)
	assert.Equal(t, 0.8, got.Participants["alice"].StressLevel)
	assert.InDelta(t, 0.5, got.EscalationRisk, 1e-9, "risk is mean participant stress")

	// Partial update keeps previous values.
	r.UpdateEmotion("alice", EmotionUpdate{ConversationEmotion: "tense"})
	got = r.Emotional()
	assert.Equal(t, "frustrated", got.Participants["alice"].CurrentEmotion)
	assert.Equal(t, 0.8, got.Participants["alice"].StressLevel)
	assert.Equal(t, "tense", got.ConversationEmotion)
}

func TestUpdateEmotion_BoundedHistory(t *testing.T) {
	r := newRoomState()
	for i := 0; i < maxEmotionHistory+5; i++ {
		r.UpdateEmotion("alice", EmotionUpdate{CurrentEmotion: "anxious", Triggers: []string{"money"}})
	}
	got := r.Emotional()
	assert.Len(t, got.Participants["alice"].EmotionHistory, maxEmotionHistory)
	assert.Len(t, got.Participants["alice"].RecentTriggers, maxRecentTriggers)
}

func TestInterventionFeedbackAdjustsThreshold(t *testing.T) {
	r := newRoomState()

	// Feedback without history is a no-op.
	r.RecordInterventionFeedback(false)
	assert.Equal(t, defaultInterventionThreshold, r.Policy().InterventionThreshold)

	r.RecordIntervention("rewrite")
	r.RecordInterventionFeedback(false)
	p := r.Policy()
	assert.Equal(t, defaultInterventionThreshold+interventionThresholdStep, p.InterventionThreshold)
	assert.Equal(t, "unhelpful", p.InterventionHistory[len(p.InterventionHistory)-1].Outcome)

	// Clamped at the top.
	for i := 0; i < 20; i++ {
		r.RecordIntervention("rewrite")
		r.RecordInterventionFeedback(false)
	}
	assert.Equal(t, interventionThresholdMax, r.Policy().InterventionThreshold)

	// And at the bottom.
	for i := 0; i < 20; i++ {
		r.RecordIntervention("rewrite")
		r.RecordInterventionFeedback(true)
	}
	assert.Equal(t, interventionThresholdMin, r.Policy().InterventionThreshold)
}

func TestInterventionHistoryBounded(t *testing.T) {
	r := newRoomState()
	for i := 0; i < maxInterventionHistory+7; i++ {
		r.RecordIntervention("comment")
	}
	assert.Len(t, r.Policy().InterventionHistory, maxInterventionHistory)
}

func TestCommentCooldown(t *testing.T) {
	r := newRoomState()
	now := time.Now()

	assert.True(t, r.CommentAllowed(now), "first comment is always allowed")
	r.MarkComment()
	assert.False(t, r.CommentAllowed(time.Now().Add(30*time.Second)))
	assert.True(t, r.CommentAllowed(time.Now().Add(61*time.Second)))
}

func TestRecentMessagesBounded(t *testing.T) {
	r := newRoomState()
	for i := 0; i < maxRecentMessages+10; i++ {
		r.AddMessage("alice", "msg")
	}
	assert.Len(t, r.RecentMessages(), maxRecentMessages)
}

func TestInsights(t *testing.T) {
	r := newRoomState()
	r.SetInsight("pickup", "pickups are a recurring flashpoint")
	r.SetInsight("pickup", "pickups improved recently")
	r.SetInsight("", "ignored")

	got := r.Insights()
	assert.Equal(t, map[string]string{"pickup": "pickups improved recently"}, got)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	a := reg.Room("room1")
	b := reg.Room("room1")
	assert.Same(t, a, b, "same room returns the same state")
	assert.NotSame(t, a, reg.Room("room2"))
	assert.Equal(t, 2, reg.Len())

	reg.Forget("room1")
	assert.Equal(t, 1, reg.Len())
	assert.NotSame(t, a, reg.Room("room1"), "forgotten rooms start fresh")
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			room := reg.Room("room1")
			for j := 0; j < 50; j++ {
				room.UpdateEscalation(patterns.Findings{patterns.Absolutes: true})
				room.AddMessage("alice", "you always do this")
			}
		}()
	}
	wg.Wait()

	got := reg.Room("room1").Escalation()
	assert.Equal(t, 16*50*escalationIncrement, got.Score)
	assert.Equal(t, 16*50, got.PatternCounts[patterns.Absolutes])
}
