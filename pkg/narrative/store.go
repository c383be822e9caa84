package narrative

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/calmbridge/mediator/pkg/vector"
)

// Store persists messages, their embeddings, and narrative profiles.
// Similarity scoring happens in-process rather than in the database: the
// deployment target has no vector-index extension, and scanning a bounded
// recent window is cheap enough.
type Store struct {
	db       *sql.DB
	embedder *vector.Embedder
	logger   *slog.Logger
}

// Options configures a Store.
type Options struct {
	Path     string
	Embedder *vector.Embedder
	Logger   *slog.Logger
}

func NewStore(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("narrative store path is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if opts.Embedder == nil {
		opts.Embedder = vector.NewEmbedder(vector.EmbedderOptions{Logger: opts.Logger})
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create narrative db dir: %w", err)
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One shared connection avoids writer lock contention with SQLite under
	// concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, embedder: opts.Embedder, logger: opts.Logger}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			sender_id TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL,
			embedding_json TEXT,
			embedding_generated_at_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS messages_room_time_idx ON messages(room_id, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS narrative_profiles (
			user_id TEXT NOT NULL,
			room_id TEXT NOT NULL,
			core_values_json TEXT,
			known_triggers_json TEXT,
			communication_patterns_json TEXT,
			recurring_complaints_json TEXT,
			conflict_themes_json TEXT,
			profile_embedding_json TEXT,
			last_analyzed_at_ms INTEGER NOT NULL DEFAULT 0,
			message_count_analyzed INTEGER NOT NULL DEFAULT 0,
			updated_at_ms INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, room_id)
		);`,
		`CREATE INDEX IF NOT EXISTS narrative_profiles_stale_idx ON narrative_profiles(last_analyzed_at_ms);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init narrative schema: %w", err)
		}
	}
	return nil
}

// InsertMessage records a message row. The chat system owns message creation;
// this exists for the backfill CLI and tests.
func (s *Store) InsertMessage(ctx context.Context, m Message) error {
	if m.ID == "" || m.RoomID == "" {
		return fmt.Errorf("message id and room id are required")
	}
	if m.CreatedAtMS == 0 {
		m.CreatedAtMS = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, room_id, sender_id, text, created_at_ms)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		m.ID, m.RoomID, m.SenderID, m.Text, m.CreatedAtMS)
	return err
}

// StoreMessageEmbedding generates and persists an embedding for the message.
// Returns false, never an error, on any failure: missing inputs, embedding
// generation failure, or storage failure.
func (s *Store) StoreMessageEmbedding(ctx context.Context, messageID, text string) bool {
	if messageID == "" || text == "" {
		return false
	}

	vec := s.embedder.Generate(ctx, text)
	if vec == nil {
		return false
	}

	raw, err := json.Marshal(vec)
	if err != nil {
		s.logger.Error("marshal embedding failed", "message_id", messageID, "error", err)
		return false
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE messages SET embedding_json = ?, embedding_generated_at_ms = ? WHERE id = ?`,
		string(raw), time.Now().UnixMilli(), messageID)
	if err != nil {
		s.logger.Error("store embedding failed", "message_id", messageID, "error", err)
		return false
	}
	return true
}

// FindSimilarMessages returns up to limit messages from the room semantically
// similar to queryText, most similar first. If senderID is non-empty only
// that sender's messages are considered. Candidates come from a bounded
// recent window (six months, 200 rows); each candidate is scored in-process
// and results at or below the 0.5 relevance floor are dropped.
func (s *Store) FindSimilarMessages(ctx context.Context, queryText, senderID, roomID string, limit int) []SimilarMessage {
	if queryText == "" || roomID == "" {
		return []SimilarMessage{}
	}
	if limit <= 0 {
		limit = defaultSimilarLimit
	}

	queryVec := s.embedder.Generate(ctx, queryText)
	if queryVec == nil {
		return []SimilarMessage{}
	}

	cutoff := time.Now().Add(-similarWindow).UnixMilli()
	q := `SELECT id, text, created_at_ms, embedding_json
	      FROM messages
	      WHERE room_id = ? AND embedding_json IS NOT NULL AND created_at_ms > ?`
	args := []any{roomID, cutoff}
	if senderID != "" {
		q += ` AND sender_id = ?`
		args = append(args, senderID)
	}
	q += ` ORDER BY created_at_ms DESC LIMIT ?`
	args = append(args, similarCandidateCap)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.logger.Error("similar message query failed", "room_id", roomID, "error", err)
		return []SimilarMessage{}
	}
	defer rows.Close()

	var out []SimilarMessage
	for rows.Next() {
		var (
			m       SimilarMessage
			rawVec  string
			candVec []float32
		)
		if err := rows.Scan(&m.ID, &m.Text, &m.CreatedAtMS, &rawVec); err != nil {
			s.logger.Error("scan similar message failed", "error", err)
			return []SimilarMessage{}
		}
		if json.Unmarshal([]byte(rawVec), &candVec) != nil {
			continue
		}
		m.Similarity = vector.Cosine(queryVec, candVec)
		if m.Similarity > similarityFloor {
			out = append(out, m)
		}
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("similar message rows failed", "error", err)
		return []SimilarMessage{}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []SimilarMessage{}
	}
	return out
}

// Profile returns the narrative profile for (userID, roomID), or nil if
// either key is missing or no profile exists.
func (s *Store) Profile(ctx context.Context, userID, roomID string) (*Profile, error) {
	if userID == "" || roomID == "" {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, room_id, core_values_json, known_triggers_json,
		        communication_patterns_json, recurring_complaints_json,
		        conflict_themes_json, last_analyzed_at_ms, message_count_analyzed
		 FROM narrative_profiles WHERE user_id = ? AND room_id = ?`,
		userID, roomID)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var (
		p                                      Profile
		values, triggers, patterns, complaints sql.NullString
		themes                                 sql.NullString
	)
	err := row.Scan(&p.UserID, &p.RoomID, &values, &triggers, &patterns,
		&complaints, &themes, &p.LastAnalyzedAtMS, &p.MessageCountAnalyzed)
	if err != nil {
		return nil, err
	}
	unmarshalList(values, &p.CoreValues)
	unmarshalList(triggers, &p.KnownTriggers)
	unmarshalList(complaints, &p.RecurringComplaints)
	unmarshalList(themes, &p.ConflictThemes)
	if patterns.Valid {
		_ = json.Unmarshal([]byte(patterns.String), &p.CommunicationPatterns)
	}
	return &p, nil
}

func unmarshalList(raw sql.NullString, dst *[]string) {
	if raw.Valid {
		_ = json.Unmarshal([]byte(raw.String), dst)
	}
}

// UpdateProfile upserts the profile with a field-level merge: nil analysis
// fields leave stored values untouched, so partial analyses never erase
// prior knowledge. Numeric pattern scores are clamped to [0,1] and the
// profile embedding is recomputed from the concatenated text fields.
func (s *Store) UpdateProfile(ctx context.Context, userID, roomID string, analysis ProfileAnalysis) bool {
	if userID == "" || roomID == "" {
		return false
	}

	for k, v := range analysis.CommunicationPatterns {
		analysis.CommunicationPatterns[k] = clamp01(v)
	}

	var profileText []string
	profileText = append(profileText, analysis.CoreValues...)
	profileText = append(profileText, analysis.KnownTriggers...)
	profileText = append(profileText, analysis.RecurringComplaints...)
	profileText = append(profileText, analysis.ConflictThemes...)
	var embJSON sql.NullString
	if joined := strings.Join(profileText, " "); joined != "" {
		if vec := s.embedder.Generate(ctx, joined); vec != nil {
			if raw, err := json.Marshal(vec); err == nil {
				embJSON = sql.NullString{String: string(raw), Valid: true}
			}
		}
	}

	now := time.Now().UnixMilli()
	var countArg sql.NullInt64
	if analysis.MessageCountAnalyzed > 0 {
		countArg = sql.NullInt64{Int64: int64(analysis.MessageCountAnalyzed), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO narrative_profiles (
			user_id, room_id, core_values_json, known_triggers_json,
			communication_patterns_json, recurring_complaints_json,
			conflict_themes_json, profile_embedding_json,
			last_analyzed_at_ms, message_count_analyzed, updated_at_ms
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, 0), ?)
		 ON CONFLICT(user_id, room_id) DO UPDATE SET
			core_values_json = COALESCE(excluded.core_values_json, narrative_profiles.core_values_json),
			known_triggers_json = COALESCE(excluded.known_triggers_json, narrative_profiles.known_triggers_json),
			communication_patterns_json = COALESCE(excluded.communication_patterns_json, narrative_profiles.communication_patterns_json),
			recurring_complaints_json = COALESCE(excluded.recurring_complaints_json, narrative_profiles.recurring_complaints_json),
			conflict_themes_json = COALESCE(excluded.conflict_themes_json, narrative_profiles.conflict_themes_json),
			profile_embedding_json = COALESCE(excluded.profile_embedding_json, narrative_profiles.profile_embedding_json),
			last_analyzed_at_ms = excluded.last_analyzed_at_ms,
			message_count_analyzed = COALESCE(?, narrative_profiles.message_count_analyzed),
			updated_at_ms = excluded.updated_at_ms`,
		userID, roomID,
		marshalOrNull(analysis.CoreValues),
		marshalOrNull(analysis.KnownTriggers),
		marshalMapOrNull(analysis.CommunicationPatterns),
		marshalOrNull(analysis.RecurringComplaints),
		marshalOrNull(analysis.ConflictThemes),
		embJSON, now, countArg, now, countArg)
	if err != nil {
		s.logger.Error("update narrative profile failed", "user_id", userID, "room_id", roomID, "error", err)
		return false
	}
	return true
}

func marshalOrNull(list []string) sql.NullString {
	if list == nil {
		return sql.NullString{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func marshalMapOrNull(m map[string]float64) sql.NullString {
	if m == nil {
		return sql.NullString{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// RoomProfiles returns every narrative profile in a room (both co-parents).
func (s *Store) RoomProfiles(ctx context.Context, roomID string) ([]Profile, error) {
	if roomID == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, room_id, core_values_json, known_triggers_json,
		        communication_patterns_json, recurring_complaints_json,
		        conflict_themes_json, last_analyzed_at_ms, message_count_analyzed
		 FROM narrative_profiles WHERE room_id = ?`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// FindStaleProfiles returns profiles not analyzed within staleDays, oldest
// first, for the maintenance worker to refresh.
func (s *Store) FindStaleProfiles(ctx context.Context, staleDays, limit int) ([]ProfileRef, error) {
	if staleDays <= 0 {
		staleDays = defaultStaleDays
	}
	if limit <= 0 {
		limit = defaultStaleLimit
	}
	cutoff := time.Now().AddDate(0, 0, -staleDays).UnixMilli()

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, room_id, last_analyzed_at_ms
		 FROM narrative_profiles
		 WHERE last_analyzed_at_ms < ?
		 ORDER BY last_analyzed_at_ms ASC
		 LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProfileRef
	for rows.Next() {
		var ref ProfileRef
		if err := rows.Scan(&ref.UserID, &ref.RoomID, &ref.LastAnalyzedAtMS); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// RecentMessages returns the room's latest messages, newest first.
func (s *Store) RecentMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultBackfillLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, sender_id, text, created_at_ms
		 FROM messages
		 WHERE room_id = ? AND text != ''
		 ORDER BY created_at_ms DESC
		 LIMIT ?`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Text, &m.CreatedAtMS); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MessagesWithoutEmbeddings returns recent room messages that still need an
// embedding, newest first.
func (s *Store) MessagesWithoutEmbeddings(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultBackfillLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, sender_id, text, created_at_ms
		 FROM messages
		 WHERE room_id = ? AND embedding_json IS NULL AND text != ''
		 ORDER BY created_at_ms DESC
		 LIMIT ?`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Text, &m.CreatedAtMS); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// BatchStoreEmbeddings embeds messages in paced batches, sleeping between
// batches to respect the embedding provider's own limits. It reports partial
// success; a cancelled context stops between batches and returns what was
// done so far.
func (s *Store) BatchStoreEmbeddings(ctx context.Context, messages []Message, opts BatchOptions) BatchResult {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Delay <= 0 {
		opts.Delay = defaultBatchDelay
	}

	var res BatchResult
	for i := 0; i < len(messages); i += opts.BatchSize {
		end := i + opts.BatchSize
		if end > len(messages) {
			end = len(messages)
		}
		for _, m := range messages[i:end] {
			if s.StoreMessageEmbedding(ctx, m.ID, m.Text) {
				res.Success++
			} else {
				res.Failed++
			}
		}
		if opts.OnProgress != nil {
			opts.OnProgress(end, len(messages))
		}

		if end < len(messages) {
			select {
			case <-ctx.Done():
				return res
			case <-time.After(opts.Delay):
			}
		}
	}
	return res
}
