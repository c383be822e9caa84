// Package narrative is the "what happened" half of the mediation context:
// message embeddings, semantic similarity search over room history, and
// per-user behavioral profiles.
package narrative

import "time"

// Message is the subset of a chat message the narrative store reads and
// writes. Rows are created by the chat system; the store only writes
// embeddings back.
type Message struct {
	ID          string
	RoomID      string
	SenderID    string
	Text        string
	CreatedAtMS int64
}

// SimilarMessage is one semantic search hit. Similarity is always > 0.5;
// results below the relevance floor are never returned.
type SimilarMessage struct {
	ID          string
	Text        string
	CreatedAtMS int64
	Similarity  float64
}

// Profile is a user's narrative profile for one room: what we have learned
// about their values, triggers, and communication habits.
type Profile struct {
	UserID                string
	RoomID                string
	CoreValues            []string
	KnownTriggers         []string
	CommunicationPatterns map[string]float64
	RecurringComplaints   []string
	ConflictThemes        []string
	LastAnalyzedAtMS      int64
	MessageCountAnalyzed  int
}

// ProfileAnalysis is a partial profile update. Nil fields are left unchanged
// on merge; only non-nil fields overwrite stored values.
type ProfileAnalysis struct {
	CoreValues            []string
	KnownTriggers         []string
	CommunicationPatterns map[string]float64
	RecurringComplaints   []string
	ConflictThemes        []string
	MessageCountAnalyzed  int
}

// ProfileRef identifies a profile due for re-analysis.
type ProfileRef struct {
	UserID           string
	RoomID           string
	LastAnalyzedAtMS int64
}

// BatchOptions controls embedding backfill pacing.
type BatchOptions struct {
	BatchSize  int
	Delay      time.Duration
	OnProgress func(processed, total int)
}

// BatchResult reports partial success of a backfill run.
type BatchResult struct {
	Success int
	Failed  int
}

const (
	similarityFloor      = 0.5
	similarWindow        = 6 * 30 * 24 * time.Hour
	similarCandidateCap  = 200
	defaultSimilarLimit  = 5
	defaultBatchSize     = 10
	defaultBatchDelay    = time.Second
	defaultStaleDays     = 7
	defaultStaleLimit    = 100
	defaultBackfillLimit = 50
)
