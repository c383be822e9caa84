// Package orchestrator runs context synthesis for one outgoing message: local
// pattern detection first, then the narrative and social branches in parallel
// under a deadline, then synthesis. Results are cached by message fingerprint
// so a resent message costs nothing.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/calmbridge/mediator/pkg/conversation"
	"github.com/calmbridge/mediator/pkg/narrative"
	"github.com/calmbridge/mediator/pkg/patterns"
	"github.com/calmbridge/mediator/pkg/ratelimit"
	"github.com/calmbridge/mediator/pkg/social"
	"github.com/calmbridge/mediator/pkg/synthesis"
)

const (
	defaultDeadline     = 3000 * time.Millisecond
	defaultCacheTTL     = 5 * time.Minute
	defaultSimilarLimit = 5

	mediationLimitName   = "mediation"
	defaultMediationMax  = 30
	mediationLimitWindow = time.Minute
)

// NarrativeSource is the slice of the narrative store BuildContext needs.
type NarrativeSource interface {
	Profile(ctx context.Context, userID, roomID string) (*narrative.Profile, error)
	FindSimilarMessages(ctx context.Context, queryText, senderID, roomID string, limit int) []narrative.SimilarMessage
	StoreMessageEmbedding(ctx context.Context, messageID, text string) bool
}

// EntitySource extracts entities for the social branch.
type EntitySource interface {
	MessageEntityContext(ctx context.Context, text, senderID, receiverID, roomID string) social.EntityContext
}

// SocialUpdater applies the fire-and-forget graph update after a send.
type SocialUpdater interface {
	UpdateFromMessage(ctx context.Context, text, userID, roomID string) int
}

// ContextResult is everything mediation learns about one message.
// CommentAllowed reflects the room's coaching cooldown at build time; the
// decision layer delivers a comment only when it is set, then marks the room.
type ContextResult struct {
	Narrative      synthesis.NarrativeContext
	Social         synthesis.SocialContext
	Synthesis      synthesis.Synthesis
	Patterns       patterns.Findings
	Escalation     conversation.EscalationState
	HasContext     bool
	Cached         bool
	Limited        bool
	TimedOut       bool
	CommentAllowed bool
}

// cachedContext is the subset of ContextResult worth caching. Escalation and
// pattern findings are recomputed per call; they are live state, not context.
type cachedContext struct {
	Narrative  synthesis.NarrativeContext `json:"narrative"`
	Social     synthesis.SocialContext    `json:"social"`
	Synthesis  synthesis.Synthesis        `json:"synthesis"`
	HasContext bool                       `json:"has_context"`
}

// Options configures an Orchestrator.
type Options struct {
	Narrative NarrativeSource
	Entities  EntitySource
	Graph     social.Graph
	Social    SocialUpdater
	Registry  *conversation.Registry
	Limiter   *ratelimit.Limiter
	Redis     redis.Cmdable
	Logger    *slog.Logger

	Deadline     time.Duration
	CacheTTL     time.Duration
	CacheSize    int
	MediationMax int64
}

// Orchestrator coordinates the mediation pipeline for a deployment.
type Orchestrator struct {
	narrative    NarrativeSource
	entities     EntitySource
	graph        social.Graph
	social       SocialUpdater
	registry     *conversation.Registry
	limiter      *ratelimit.Limiter
	cache        *contextCache
	logger       *slog.Logger
	deadline     time.Duration
	mediationMax int64

	updates *updateWorker
}

func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if opts.Registry == nil {
		opts.Registry = conversation.NewRegistry()
	}
	if opts.Deadline <= 0 {
		opts.Deadline = defaultDeadline
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.MediationMax <= 0 {
		opts.MediationMax = defaultMediationMax
	}

	o := &Orchestrator{
		narrative:    opts.Narrative,
		entities:     opts.Entities,
		graph:        opts.Graph,
		social:       opts.Social,
		registry:     opts.Registry,
		limiter:      opts.Limiter,
		cache:        newContextCache(opts.Redis, opts.CacheTTL, opts.CacheSize, opts.Logger),
		logger:       opts.Logger,
		deadline:     opts.Deadline,
		mediationMax: opts.MediationMax,
	}
	o.updates = newUpdateWorker(o, opts.Logger)
	return o
}

// Registry exposes the per-room conversation state.
func (o *Orchestrator) Registry() *conversation.Registry { return o.registry }

// Close stops the background update worker, draining queued updates.
func (o *Orchestrator) Close() {
	o.updates.close()
}

// Fingerprint identifies a (text, sender, receiver) triple for caching.
// Case and surrounding whitespace don't change what a message means.
func Fingerprint(text, senderID, receiverID string) string {
	input := strings.ToLower(strings.TrimSpace(text)) + "|" + senderID + "|" + receiverID
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// BuildContext assembles the full mediation context for one message. It never
// returns an error: every branch degrades to an empty shape, so a total
// outage yields pattern findings and nothing else. Pattern detection and the
// escalation update run before any network call.
func (o *Orchestrator) BuildContext(ctx context.Context, text, senderID, receiverID, roomID string) ContextResult {
	if strings.TrimSpace(text) == "" || senderID == "" || roomID == "" {
		return ContextResult{}
	}

	room := o.registry.Room(roomID)
	findings := patterns.Detect(text)
	escalation := room.UpdateEscalation(findings)
	room.AddMessage(senderID, text)

	result := ContextResult{
		Patterns:       findings,
		Escalation:     escalation,
		CommentAllowed: room.CommentAllowed(time.Now()),
	}

	fingerprint := Fingerprint(text, senderID, receiverID)
	var cached cachedContext
	if o.cache.get(ctx, fingerprint, &cached) {
		result.Narrative = cached.Narrative
		result.Social = cached.Social
		result.Synthesis = cached.Synthesis
		result.HasContext = cached.HasContext
		result.Cached = true
		return result
	}

	if o.limiter != nil {
		res := o.limiter.Check(ctx, mediationLimitName+":"+roomID, o.mediationMax, mediationLimitWindow)
		if !res.Allowed {
			o.logger.Warn("mediation rate limited, returning pattern-only context",
				"room_id", roomID, "count", res.Count)
			result.Limited = true
			result.Synthesis = synthesis.Generate(result.Narrative, result.Social, text)
			return result
		}
	}

	branchCtx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	narrativeCh := make(chan synthesis.NarrativeContext, 1)
	socialCh := make(chan synthesis.SocialContext, 1)
	go func() { narrativeCh <- o.narrativeBranch(branchCtx, text, senderID, receiverID, roomID) }()
	go func() { socialCh <- o.socialBranch(branchCtx, text, senderID, receiverID, roomID) }()

	deadlineHit := false
	for narrativeCh != nil || socialCh != nil {
		select {
		case n := <-narrativeCh:
			result.Narrative = n
			narrativeCh = nil
		case s := <-socialCh:
			result.Social = s
			socialCh = nil
		case <-branchCtx.Done():
			deadlineHit = true
			narrativeCh = nil
			socialCh = nil
		}
	}

	if deadlineHit {
		// A timed-out build yields the no-context shape, flagged so callers
		// can tell it from a genuinely empty one. Nothing is cached: the
		// next attempt deserves a full pass.
		o.logger.Warn("context build hit deadline", "room_id", roomID, "deadline", o.deadline)
		result.Narrative = synthesis.NarrativeContext{}
		result.Social = synthesis.SocialContext{}
		result.Synthesis = synthesis.Generate(result.Narrative, result.Social, text)
		result.TimedOut = true
		return result
	}

	result.Synthesis = synthesis.Generate(result.Narrative, result.Social, text)
	result.HasContext = result.Narrative.HasProfile ||
		result.Narrative.HasSimilarHistory ||
		result.Social.HasPeople

	o.cache.set(ctx, fingerprint, cachedContext{
		Narrative:  result.Narrative,
		Social:     result.Social,
		Synthesis:  result.Synthesis,
		HasContext: result.HasContext,
	})
	return result
}

func (o *Orchestrator) narrativeBranch(ctx context.Context, text, senderID, receiverID, roomID string) (out synthesis.NarrativeContext) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("narrative branch panicked", "panic", r)
			out = synthesis.NarrativeContext{}
		}
	}()
	if o.narrative == nil {
		return out
	}

	senderProfile, err := o.narrative.Profile(ctx, senderID, roomID)
	if err != nil {
		o.logger.Warn("sender profile lookup failed", "error", err)
	}
	var receiverProfile *narrative.Profile
	if receiverID != "" {
		receiverProfile, err = o.narrative.Profile(ctx, receiverID, roomID)
		if err != nil {
			o.logger.Warn("receiver profile lookup failed", "error", err)
		}
	}
	similar := o.narrative.FindSimilarMessages(ctx, text, "", roomID, defaultSimilarLimit)

	out.SenderProfile = senderProfile
	out.ReceiverProfile = receiverProfile
	out.SimilarMessages = similar
	out.HasProfile = senderProfile != nil || receiverProfile != nil
	out.HasSimilarHistory = len(similar) > 0
	if len(similar) >= 2 {
		out.DetectedPatterns = synthesis.DetectRecurringPatterns(similar, text)
	}
	return out
}

func (o *Orchestrator) socialBranch(ctx context.Context, text, senderID, receiverID, roomID string) (out synthesis.SocialContext) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("social branch panicked", "panic", r)
			out = synthesis.SocialContext{}
		}
	}()
	if o.entities == nil {
		return out
	}

	entityCtx := o.entities.MessageEntityContext(ctx, text, senderID, receiverID, roomID)
	out.EntityContext = entityCtx
	out.MentionedPeople = entityCtx.Entities.People
	out.HasPeople = entityCtx.HasPeople

	if out.HasPeople && o.graph != nil && o.graph.Available() {
		out.Relationships = o.graph.RelationshipContext(ctx, senderID, receiverID, out.MentionedPeople, roomID)
		if receiverID != "" {
			out.SensitivePeople = o.graph.SensitivePeople(ctx, receiverID, roomID)
		}
	}
	return out
}
