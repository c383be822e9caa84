package social

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"
)

// RoomMessage is a message fed into a full social-map rebuild.
type RoomMessage struct {
	SenderID string
	Text     string
}

// BuildStats reports what a rebuild touched.
type BuildStats struct {
	People     int
	Mentions   int
	Sentiments int
	Errors     int
}

// Builder connects entity extraction to the graph store. It serves two paths:
// the incremental per-message update after a send, and the full room rebuild
// the maintenance CLI runs.
type Builder struct {
	extractor *Extractor
	graph     *SQLGraph
	logger    *slog.Logger
}

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	Extractor *Extractor
	Graph     *SQLGraph
	Logger    *slog.Logger
}

func NewBuilder(opts BuilderOptions) *Builder {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	return &Builder{extractor: opts.Extractor, graph: opts.Graph, logger: opts.Logger}
}

// UpdateFromMessage extracts people from one message and bumps their mention
// edges. Returns the number of people recorded. Failures are logged, never
// returned: this runs on the fire-and-forget path after a message is sent.
func (b *Builder) UpdateFromMessage(ctx context.Context, text, userID, roomID string) int {
	if strings.TrimSpace(text) == "" || userID == "" || roomID == "" {
		return 0
	}
	if b.graph == nil || !b.graph.Available() {
		return 0
	}

	entities := b.extractor.ExtractEntities(ctx, text)
	updated := 0
	for _, person := range entities.People {
		if err := b.graph.UpsertPerson(ctx, roomID, person); err != nil {
			b.logger.Warn("upsert person failed", "person", person, "error", err)
			continue
		}
		if err := b.graph.RecordMention(ctx, userID, roomID, person, 1); err != nil {
			b.logger.Warn("record mention failed", "person", person, "error", err)
			continue
		}
		updated++
	}
	return updated
}

// BuildSocialMap rebuilds the room's graph from message history: person nodes
// and mention edges for every extracted person, plus a sentiment edge per
// (user, person) pair when analyzeSentiment is set. Context cancellation
// stops between messages and returns partial stats.
func (b *Builder) BuildSocialMap(ctx context.Context, roomID string, messages []RoomMessage, analyzeSentiment bool) BuildStats {
	var stats BuildStats
	if roomID == "" || len(messages) == 0 {
		return stats
	}

	// person -> userID -> texts mentioning them
	mentionTexts := map[string]map[string][]string{}
	display := map[string]string{}

	for i, msg := range messages {
		if ctx.Err() != nil {
			return stats
		}
		entities := b.extractor.ExtractEntities(ctx, msg.Text)
		for _, person := range entities.People {
			norm := normName(person)
			if norm == "" {
				continue
			}
			if _, ok := display[norm]; !ok {
				display[norm] = person
				mentionTexts[norm] = map[string][]string{}
			}
			mentionTexts[norm][msg.SenderID] = append(mentionTexts[norm][msg.SenderID], msg.Text)
		}
		// Pace extraction calls the same way embedding backfill does.
		if i < len(messages)-1 {
			select {
			case <-ctx.Done():
				return stats
			case <-time.After(100 * time.Millisecond):
			}
		}
	}

	for norm, byUser := range mentionTexts {
		if err := b.graph.UpsertPerson(ctx, roomID, display[norm]); err != nil {
			b.logger.Warn("upsert person failed", "person", norm, "error", err)
			stats.Errors++
			continue
		}
		stats.People++

		for userID, texts := range byUser {
			if err := b.graph.RecordMention(ctx, userID, roomID, norm, len(texts)); err != nil {
				b.logger.Warn("record mention failed", "person", norm, "error", err)
				stats.Errors++
				continue
			}
			stats.Mentions++

			if !analyzeSentiment {
				continue
			}
			sentiment := b.extractor.AnalyzeEntitySentiment(ctx, display[norm], texts)
			if sentiment.Sentiment == "neutral" {
				continue
			}
			if err := b.graph.SetSentiment(ctx, userID, roomID, norm, sentiment); err != nil {
				b.logger.Warn("set sentiment failed", "person", norm, "error", err)
				stats.Errors++
				continue
			}
			stats.Sentiments++
		}
	}

	b.logger.Info("social map rebuilt", "room_id", roomID,
		"people", stats.People, "mentions", stats.Mentions, "sentiments", stats.Sentiments)
	return stats
}
