// Package conversation holds per-room in-memory mediation state: escalation
// scoring, participant emotional state, intervention policy, the coaching
// comment cooldown, and a bounded recent-message window.
package conversation

import (
	"sync"
	"time"

	"github.com/calmbridge/mediator/pkg/patterns"
)

const (
	escalationIncrement = 10
	escalationDecay     = 1
	decayInterval       = 5 * time.Minute

	defaultInterventionThreshold = 50
	interventionThresholdMin     = 30
	interventionThresholdMax     = 80
	interventionThresholdStep    = 5

	maxEmotionHistory      = 10
	maxRecentTriggers      = 5
	maxInterventionHistory = 20
	maxRecentMessages      = 30

	commentCooldown = 60 * time.Second
)

// EscalationState tracks how heated a room is. The score only moves down
// through the decay rule or an explicit reset, never as a side effect of
// reading it.
type EscalationState struct {
	Score            int
	PatternCounts    map[string]int
	LastNegativeTime time.Time
}

// EmotionRecord is one entry in a participant's emotion history.
type EmotionRecord struct {
	Timestamp time.Time
	Emotion   string
	Intensity float64
	Triggers  []string
}

// ParticipantEmotion is the last known emotional read on one participant.
type ParticipantEmotion struct {
	CurrentEmotion string
	StressLevel    float64
	EmotionHistory []EmotionRecord
	RecentTriggers []string
}

// EmotionalState aggregates participant emotion for a room.
type EmotionalState struct {
	Participants        map[string]*ParticipantEmotion
	ConversationEmotion string
	EscalationRisk      float64
	LastUpdated         time.Time
}

// EmotionUpdate is a partial emotional read; zero fields leave state as is.
type EmotionUpdate struct {
	CurrentEmotion      string
	StressLevel         float64
	ConversationEmotion string
	Triggers            []string
}

// Intervention is one logged coaching intervention.
type Intervention struct {
	Timestamp time.Time
	Type      string
	Outcome   string
}

// PolicyState governs when the mediator steps in.
type PolicyState struct {
	InterventionThreshold int
	InterventionHistory   []Intervention
	LastInterventionTime  time.Time
}

// RecentMessage is one entry in the room's bounded message window.
type RecentMessage struct {
	SenderID string
	Text     string
	SentAt   time.Time
}

// RoomState is all mediation state for one room. All access goes through its
// methods, which serialize on the room's own mutex.
type RoomState struct {
	mu sync.Mutex

	escalation EscalationState
	emotional  EmotionalState
	policy     PolicyState

	lastCommentTime      time.Time
	recentMessages       []RecentMessage
	relationshipInsights map[string]string
}

func newRoomState() *RoomState {
	return &RoomState{
		escalation: EscalationState{PatternCounts: map[string]int{}},
		emotional: EmotionalState{
			Participants:        map[string]*ParticipantEmotion{},
			ConversationEmotion: "neutral",
		},
		policy:               PolicyState{InterventionThreshold: defaultInterventionThreshold},
		relationshipInsights: map[string]string{},
	}
}

// UpdateEscalation applies detected conflict findings: each finding bumps the
// score and its pattern count and stamps lastNegativeTime. When the room has
// been quiet past the decay interval the score decays by one step instead.
func (r *RoomState) UpdateEscalation(findings patterns.Findings) EscalationState {
	return r.updateEscalationAt(findings, time.Now())
}

func (r *RoomState) updateEscalationAt(findings patterns.Findings, now time.Time) EscalationState {
	r.mu.Lock()
	defer r.mu.Unlock()

	fired := false
	for name, hit := range findings {
		if !hit {
			continue
		}
		r.escalation.PatternCounts[name]++
		r.escalation.Score += escalationIncrement
		r.escalation.LastNegativeTime = now
		fired = true
	}

	if !fired && !r.escalation.LastNegativeTime.IsZero() &&
		now.Sub(r.escalation.LastNegativeTime) > decayInterval {
		r.escalation.Score -= escalationDecay
		if r.escalation.Score < 0 {
			r.escalation.Score = 0
		}
	}
	return r.snapshotEscalation()
}

// ResetEscalation clears the score and pattern counts.
func (r *RoomState) ResetEscalation() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escalation = EscalationState{PatternCounts: map[string]int{}}
}

// Escalation returns a copy of the current escalation state.
func (r *RoomState) Escalation() EscalationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotEscalation()
}

func (r *RoomState) snapshotEscalation() EscalationState {
	counts := make(map[string]int, len(r.escalation.PatternCounts))
	for k, v := range r.escalation.PatternCounts {
		counts[k] = v
	}
	return EscalationState{
		Score:            r.escalation.Score,
		PatternCounts:    counts,
		LastNegativeTime: r.escalation.LastNegativeTime,
	}
}

// UpdateEmotion merges a partial emotional read for one participant. Empty
// fields keep the previous value, so repeated identical updates are
// idempotent. Escalation risk is recomputed as the mean stress level.
func (r *RoomState) UpdateEmotion(participantID string, update EmotionUpdate) {
	if participantID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.emotional.Participants[participantID]
	if p == nil {
		p = &ParticipantEmotion{CurrentEmotion: "neutral"}
		r.emotional.Participants[participantID] = p
	}

	if update.CurrentEmotion != "" {
		p.CurrentEmotion = update.CurrentEmotion
		p.EmotionHistory = append(p.EmotionHistory, EmotionRecord{
			Timestamp: time.Now(),
			Emotion:   update.CurrentEmotion,
			Intensity: update.StressLevel,
			Triggers:  update.Triggers,
		})
		if len(p.EmotionHistory) > maxEmotionHistory {
			p.EmotionHistory = p.EmotionHistory[len(p.EmotionHistory)-maxEmotionHistory:]
		}
	}
	if update.StressLevel > 0 {
		p.StressLevel = update.StressLevel
	}
	if len(update.Triggers) > 0 {
		p.RecentTriggers = append(p.RecentTriggers, update.Triggers...)
		if len(p.RecentTriggers) > maxRecentTriggers {
			p.RecentTriggers = p.RecentTriggers[len(p.RecentTriggers)-maxRecentTriggers:]
		}
	}
	if update.ConversationEmotion != "" {
		r.emotional.ConversationEmotion = update.ConversationEmotion
	}

	var total float64
	for _, part := range r.emotional.Participants {
		total += part.StressLevel
	}
	r.emotional.EscalationRisk = total / float64(len(r.emotional.Participants))
	r.emotional.LastUpdated = time.Now()
}

// Emotional returns a copy of the room's emotional state.
func (r *RoomState) Emotional() EmotionalState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := EmotionalState{
		Participants:        make(map[string]*ParticipantEmotion, len(r.emotional.Participants)),
		ConversationEmotion: r.emotional.ConversationEmotion,
		EscalationRisk:      r.emotional.EscalationRisk,
		LastUpdated:         r.emotional.LastUpdated,
	}
	for id, p := range r.emotional.Participants {
		cp := *p
		out.Participants[id] = &cp
	}
	return out
}

// RecordIntervention logs an intervention and stamps lastInterventionTime.
// History is bounded; the oldest entry falls off.
func (r *RoomState) RecordIntervention(interventionType string) {
	if interventionType == "" {
		interventionType = "intervene"
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.policy.InterventionHistory = append(r.policy.InterventionHistory, Intervention{
		Timestamp: time.Now(),
		Type:      interventionType,
	})
	if len(r.policy.InterventionHistory) > maxInterventionHistory {
		r.policy.InterventionHistory = r.policy.InterventionHistory[1:]
	}
	r.policy.LastInterventionTime = time.Now()
}

// RecordInterventionFeedback marks the latest intervention's outcome and
// nudges the threshold: unhelpful raises it (intervene less), helpful lowers
// it, clamped to the configured band. No-op with no history.
func (r *RoomState) RecordInterventionFeedback(helpful bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.policy.InterventionHistory) == 0 {
		return
	}
	last := &r.policy.InterventionHistory[len(r.policy.InterventionHistory)-1]
	if helpful {
		last.Outcome = "helpful"
		r.policy.InterventionThreshold -= interventionThresholdStep
		if r.policy.InterventionThreshold < interventionThresholdMin {
			r.policy.InterventionThreshold = interventionThresholdMin
		}
	} else {
		last.Outcome = "unhelpful"
		r.policy.InterventionThreshold += interventionThresholdStep
		if r.policy.InterventionThreshold > interventionThresholdMax {
			r.policy.InterventionThreshold = interventionThresholdMax
		}
	}
}

// Policy returns a copy of the room's policy state.
func (r *RoomState) Policy() PolicyState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.policy
	out.InterventionHistory = append([]Intervention(nil), r.policy.InterventionHistory...)
	return out
}

// MarkComment records that a coaching comment was just delivered.
func (r *RoomState) MarkComment() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastCommentTime = time.Now()
}

// CommentAllowed reports whether enough time has passed since the last
// coaching comment. Back-to-back comments feel like nagging.
func (r *RoomState) CommentAllowed(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCommentTime.IsZero() || now.Sub(r.lastCommentTime) >= commentCooldown
}

// AddMessage appends to the room's recent-message window, dropping the
// oldest entry past the cap.
func (r *RoomState) AddMessage(senderID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recentMessages = append(r.recentMessages, RecentMessage{
		SenderID: senderID,
		Text:     text,
		SentAt:   time.Now(),
	})
	if len(r.recentMessages) > maxRecentMessages {
		r.recentMessages = r.recentMessages[len(r.recentMessages)-maxRecentMessages:]
	}
}

// RecentMessages returns a copy of the bounded message window, oldest first.
func (r *RoomState) RecentMessages() []RecentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecentMessage(nil), r.recentMessages...)
}

// SetInsight records or replaces a relationship insight by key.
func (r *RoomState) SetInsight(key, insight string) {
	if key == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relationshipInsights[key] = insight
}

// Insights returns a copy of the relationship insight map.
func (r *RoomState) Insights() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.relationshipInsights))
	for k, v := range r.relationshipInsights {
		out[k] = v
	}
	return out
}
