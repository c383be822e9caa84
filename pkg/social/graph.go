package social

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Sentiment edge types. Polarity matters: TRUSTS and DISLIKES are opposites,
// NEUTRAL_TOWARD carries no polarity.
const (
	RelTrusts   = "TRUSTS"
	RelDislikes = "DISLIKES"
	RelNeutral  = "NEUTRAL_TOWARD"
)

// PersonSentiment is one user's sentiment edge toward one person.
type PersonSentiment struct {
	Person   string
	Type     string
	Strength float64
	Reason   string
}

// RelationshipContext is what the graph knows about the people a message
// mentions, from both participants' points of view.
type RelationshipContext struct {
	SenderSentiments   []PersonSentiment
	ReceiverSentiments []PersonSentiment
	ContestedPeople    []string
}

// Graph answers relationship queries during mediation. Implementations fail
// open: an unavailable graph yields empty context, never an error surfaced to
// the send path.
type Graph interface {
	RelationshipContext(ctx context.Context, senderID, receiverID string, people []string, roomID string) RelationshipContext
	SensitivePeople(ctx context.Context, userID, roomID string) []string
	Available() bool
}

// RoomSummary categorizes a room's people by how the participants feel about
// them.
type RoomSummary struct {
	TotalPeople  int
	TrustedByAll []string
	Contested    []string
	Disliked     []string
}

// SQLGraph is a sqlite-backed social graph: person nodes per room, mention
// edges, and sentiment edges per (user, person). Names are stored normalized
// lowercase with the original casing kept for display.
type SQLGraph struct {
	db     *sql.DB
	logger *slog.Logger
}

// GraphOptions configures a SQLGraph.
type GraphOptions struct {
	Path   string
	Logger *slog.Logger
}

func NewSQLGraph(opts GraphOptions) (*SQLGraph, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("social graph path is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create graph db dir: %w", err)
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	g := &SQLGraph{db: db, logger: opts.Logger}
	if err := g.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return g, nil
}

func (g *SQLGraph) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}

func (g *SQLGraph) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS people (
			room_id TEXT NOT NULL,
			name_norm TEXT NOT NULL,
			display_name TEXT NOT NULL,
			first_seen_ms INTEGER NOT NULL,
			last_seen_ms INTEGER NOT NULL,
			PRIMARY KEY (room_id, name_norm)
		);`,
		`CREATE TABLE IF NOT EXISTS mentions (
			user_id TEXT NOT NULL,
			room_id TEXT NOT NULL,
			person_norm TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			last_mention_ms INTEGER NOT NULL,
			PRIMARY KEY (user_id, room_id, person_norm)
		);`,
		`CREATE TABLE IF NOT EXISTS sentiments (
			user_id TEXT NOT NULL,
			room_id TEXT NOT NULL,
			person_norm TEXT NOT NULL,
			rel_type TEXT NOT NULL,
			strength REAL NOT NULL DEFAULT 0.5,
			reason TEXT NOT NULL DEFAULT '',
			updated_at_ms INTEGER NOT NULL,
			PRIMARY KEY (user_id, room_id, person_norm)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := g.db.Exec(stmt); err != nil {
			return fmt.Errorf("init graph schema: %w", err)
		}
	}
	return nil
}

func (g *SQLGraph) Available() bool { return g != nil && g.db != nil }

func normName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// UpsertPerson creates or refreshes a person node in the room.
func (g *SQLGraph) UpsertPerson(ctx context.Context, roomID, name string) error {
	norm := normName(name)
	if roomID == "" || norm == "" {
		return fmt.Errorf("room id and person name are required")
	}
	now := time.Now().UnixMilli()
	_, err := g.db.ExecContext(ctx,
		`INSERT INTO people (room_id, name_norm, display_name, first_seen_ms, last_seen_ms)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(room_id, name_norm) DO UPDATE SET
			display_name = excluded.display_name,
			last_seen_ms = excluded.last_seen_ms`,
		roomID, norm, strings.TrimSpace(name), now, now)
	return err
}

// RecordMention increments the mention edge from user to person.
func (g *SQLGraph) RecordMention(ctx context.Context, userID, roomID, person string, delta int) error {
	norm := normName(person)
	if userID == "" || roomID == "" || norm == "" {
		return fmt.Errorf("user id, room id, and person name are required")
	}
	if delta <= 0 {
		delta = 1
	}
	now := time.Now().UnixMilli()
	_, err := g.db.ExecContext(ctx,
		`INSERT INTO mentions (user_id, room_id, person_norm, count, last_mention_ms)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, room_id, person_norm) DO UPDATE SET
			count = mentions.count + excluded.count,
			last_mention_ms = excluded.last_mention_ms`,
		userID, roomID, norm, delta, now)
	return err
}

// SetSentiment records or replaces a user's sentiment edge toward a person.
// Neutral sentiment removes any existing edge rather than storing one.
func (g *SQLGraph) SetSentiment(ctx context.Context, userID, roomID, person string, s Sentiment) error {
	norm := normName(person)
	if userID == "" || roomID == "" || norm == "" {
		return fmt.Errorf("user id, room id, and person name are required")
	}

	var relType string
	switch s.Sentiment {
	case "positive":
		relType = RelTrusts
	case "negative":
		relType = RelDislikes
	case "mixed":
		relType = RelNeutral
	default:
		_, err := g.db.ExecContext(ctx,
			`DELETE FROM sentiments WHERE user_id = ? AND room_id = ? AND person_norm = ?`,
			userID, roomID, norm)
		return err
	}

	_, err := g.db.ExecContext(ctx,
		`INSERT INTO sentiments (user_id, room_id, person_norm, rel_type, strength, reason, updated_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, room_id, person_norm) DO UPDATE SET
			rel_type = excluded.rel_type,
			strength = excluded.strength,
			reason = excluded.reason,
			updated_at_ms = excluded.updated_at_ms`,
		userID, roomID, norm, relType, s.Strength, s.Reason, time.Now().UnixMilli())
	return err
}

// RelationshipContext returns both participants' sentiment edges toward the
// mentioned people, plus the people they disagree about. A person is
// contested when one participant trusts them and the other dislikes them.
// Query failures degrade to empty context.
func (g *SQLGraph) RelationshipContext(ctx context.Context, senderID, receiverID string, people []string, roomID string) RelationshipContext {
	var rc RelationshipContext
	if !g.Available() || roomID == "" || len(people) == 0 {
		return rc
	}

	senderEdges := g.userSentiments(ctx, senderID, roomID, people)
	receiverEdges := g.userSentiments(ctx, receiverID, roomID, people)
	rc.SenderSentiments = senderEdges
	rc.ReceiverSentiments = receiverEdges

	polarity := func(edges []PersonSentiment, person string) string {
		for _, e := range edges {
			if e.Person == person {
				return e.Type
			}
		}
		return ""
	}
	for _, p := range people {
		norm := normName(p)
		a, b := polarity(senderEdges, norm), polarity(receiverEdges, norm)
		if (a == RelTrusts && b == RelDislikes) || (a == RelDislikes && b == RelTrusts) {
			rc.ContestedPeople = append(rc.ContestedPeople, norm)
		}
	}
	return rc
}

func (g *SQLGraph) userSentiments(ctx context.Context, userID, roomID string, people []string) []PersonSentiment {
	if userID == "" {
		return nil
	}

	placeholders := make([]string, len(people))
	args := []any{userID, roomID}
	for i, p := range people {
		placeholders[i] = "?"
		args = append(args, normName(p))
	}
	q := fmt.Sprintf(
		`SELECT person_norm, rel_type, strength, reason FROM sentiments
		 WHERE user_id = ? AND room_id = ? AND person_norm IN (%s)`,
		strings.Join(placeholders, ","))

	rows, err := g.db.QueryContext(ctx, q, args...)
	if err != nil {
		g.logger.Error("sentiment query failed", "user_id", userID, "error", err)
		return nil
	}
	defer rows.Close()

	var out []PersonSentiment
	for rows.Next() {
		var s PersonSentiment
		if err := rows.Scan(&s.Person, &s.Type, &s.Strength, &s.Reason); err != nil {
			g.logger.Error("scan sentiment failed", "error", err)
			return nil
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		g.logger.Error("sentiment rows failed", "error", err)
		return nil
	}
	return out
}

// SensitivePeople returns the people this user dislikes in this room. The
// mediation path warns before a message about any of them reaches the user.
func (g *SQLGraph) SensitivePeople(ctx context.Context, userID, roomID string) []string {
	if !g.Available() || userID == "" || roomID == "" {
		return nil
	}
	rows, err := g.db.QueryContext(ctx,
		`SELECT person_norm FROM sentiments
		 WHERE user_id = ? AND room_id = ? AND rel_type = ?
		 ORDER BY strength DESC`,
		userID, roomID, RelDislikes)
	if err != nil {
		g.logger.Error("sensitive people query failed", "user_id", userID, "error", err)
		return nil
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			g.logger.Error("scan sensitive person failed", "error", err)
			return nil
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		g.logger.Error("sensitive people rows failed", "error", err)
		return nil
	}
	return out
}

// Summary categorizes a room's people: trusted by everyone who has an edge,
// contested between participants, or disliked.
func (g *SQLGraph) Summary(ctx context.Context, roomID string) (RoomSummary, error) {
	var sum RoomSummary
	if roomID == "" {
		return sum, fmt.Errorf("room id is required")
	}

	rows, err := g.db.QueryContext(ctx,
		`SELECT p.name_norm,
		        SUM(CASE WHEN s.rel_type = ? THEN 1 ELSE 0 END),
		        SUM(CASE WHEN s.rel_type = ? THEN 1 ELSE 0 END)
		 FROM people p
		 LEFT JOIN sentiments s ON s.room_id = p.room_id AND s.person_norm = p.name_norm
		 WHERE p.room_id = ?
		 GROUP BY p.name_norm
		 ORDER BY p.name_norm`,
		RelTrusts, RelDislikes, roomID)
	if err != nil {
		return sum, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name            string
			trusts, dislike sql.NullInt64
		)
		if err := rows.Scan(&name, &trusts, &dislike); err != nil {
			return sum, err
		}
		sum.TotalPeople++
		switch {
		case trusts.Int64 > 0 && dislike.Int64 > 0:
			sum.Contested = append(sum.Contested, name)
		case dislike.Int64 > 0:
			sum.Disliked = append(sum.Disliked, name)
		case trusts.Int64 > 0:
			sum.TrustedByAll = append(sum.TrustedByAll, name)
		}
	}
	return sum, rows.Err()
}
