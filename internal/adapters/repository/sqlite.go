package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/okian/bluffmeter/internal/domain/model"
	"github.com/okian/bluffmeter/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                TEXT PRIMARY KEY,
	candidate_id      TEXT NOT NULL,
	topic_id          TEXT NOT NULL,
	topic_title       TEXT NOT NULL,
	difficulty        TEXT NOT NULL,
	invite_id         TEXT NOT NULL DEFAULT '',
	mode              TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	transcript        TEXT NOT NULL DEFAULT '[]',
	bluff_history     TEXT NOT NULL DEFAULT '[]',
	concept_coverage  TEXT NOT NULL DEFAULT '[]',
	final_bluff_score INTEGER,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL,
	ended_at          INTEGER,
	version           INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_candidate_topic ON sessions(candidate_id, topic_id, status);
CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(candidate_id, created_at);

CREATE TABLE IF NOT EXISTS invites (
	id           TEXT PRIMARY KEY,
	candidate_id TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	topic_id     TEXT NOT NULL,
	difficulty   TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	completed_at INTEGER
);

CREATE TABLE IF NOT EXISTS topics (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	concepts    TEXT NOT NULL,
	kind        TEXT NOT NULL,
	company     TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
`

const sessionColumns = `id, candidate_id, topic_id, topic_title, difficulty, invite_id, mode, status,
	transcript, bluff_history, concept_coverage, final_bluff_score, created_at, updated_at, ended_at, version`

// sqlite extended result codes for constraint failures.
const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db           *sql.DB
	log          logger.Logger
	now          func() time.Time
	busyTimeout  time.Duration
	maxOpenConns int

	// writeMu serializes writers so concurrent workers do not hit SQLITE_BUSY.
	writeMu sync.Mutex
}

// NewSQLite opens (creating if needed) the database at path and migrates it.
func NewSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{
		log:          logger.Get().Named("store"),
		now:          time.Now,
		busyTimeout:  5 * time.Second,
		maxOpenConns: 4,
	}
	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, s.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(s.maxOpenConns)
	db.SetMaxIdleConns(s.maxOpenConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s.db = db
	s.log.Info(ctx, "sqlite store ready", logger.String("path", path))
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSession(ctx context.Context, ns NewSession) (string, error) {
	if err := validateNew(ns); err != nil {
		return "", err
	}
	if ns.ID == "" {
		ns.ID = uuid.NewString()
	}
	row := fromNew(ns, s.now())
	coverage, err := json.Marshal(row.ConceptCoverage)
	if err != nil {
		return "", fmt.Errorf("marshal coverage: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, candidate_id, topic_id, topic_title, difficulty, invite_id, mode, status,
			transcript, bluff_history, concept_coverage, created_at, updated_at, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, '[]', '[]', ?, ?, ?, ?)`,
		row.ID, row.CandidateID, row.TopicID, row.TopicTitle, row.Difficulty, row.InviteID, row.Mode,
		string(row.Status), string(coverage), row.CreatedAt.UnixNano(), row.UpdatedAt.UnixNano(), row.Version,
	)
	if err != nil {
		if isConstraint(err) {
			return "", fmt.Errorf("%w: session %s", ErrDuplicateID, row.ID)
		}
		return "", fmt.Errorf("insert session: %w", err)
	}
	return row.ID, nil
}

// UpdateSession applies p with a version guard in the WHERE clause, so a
// patch racing a newer one is a no-op.
func (s *SQLiteStore) UpdateSession(ctx context.Context, id string, p Patch) (bool, error) {
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	sets := []string{"version = ?", "updated_at = ?"}
	args := []any{p.Version, updated.UTC().UnixNano()}

	for _, col := range []struct {
		name string
		v    any
		set  bool
	}{
		{"transcript", p.Transcript, p.Transcript != nil},
		{"bluff_history", p.BluffHistory, p.BluffHistory != nil},
		{"concept_coverage", p.ConceptCoverage, p.ConceptCoverage != nil},
	} {
		if !col.set {
			continue
		}
		raw, err := json.Marshal(col.v)
		if err != nil {
			return false, fmt.Errorf("marshal %s: %w", col.name, err)
		}
		sets = append(sets, col.name+" = ?")
		args = append(args, string(raw))
	}
	if p.FinalBluffScore != nil {
		sets = append(sets, "final_bluff_score = ?")
		args = append(args, *p.FinalBluffScore)
	}
	if p.Status != "" {
		sets = append(sets, "status = CASE WHEN status IN ('completed', 'disconnected') THEN status ELSE ? END")
		args = append(args, string(p.Status))
	}
	if p.EndedAt != nil {
		sets = append(sets, "ended_at = COALESCE(ended_at, ?)")
		args = append(args, p.EndedAt.UTC().UnixNano())
	}
	args = append(args, id, p.Version)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET "+strings.Join(sets, ", ")+" WHERE id = ? AND version < ?", args...)
	if err != nil {
		return false, fmt.Errorf("update session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update session %s: %w", id, err)
	}
	if n > 0 {
		return true, nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM sessions WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return false, fmt.Errorf("lookup session %s: %w", id, err)
	}
	return false, nil
}

func (s *SQLiteStore) MarkStaleActiveSessionsDisconnected(ctx context.Context, candidateID, topicID string) (int, error) {
	now := s.now().UTC().UnixNano()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = 'disconnected', updated_at = ?, ended_at = COALESCE(ended_at, ?)
		 WHERE candidate_id = ? AND topic_id = ? AND status IN ('connecting', 'active')`,
		now, now, candidateID, topicID)
	if err != nil {
		return 0, fmt.Errorf("mark stale sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark stale sessions: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, candidateID string, limit int) ([]*model.Session, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	query := "SELECT " + sessionColumns + " FROM sessions"
	args := []any{}
	if candidateID != "" {
		query += " WHERE candidate_id = ?"
		args = append(args, candidateID)
	}
	query += " ORDER BY created_at DESC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]*model.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) CompletedScores(ctx context.Context) ([]CandidateScore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT candidate_id, final_bluff_score FROM sessions
		 WHERE status = 'completed' AND final_bluff_score IS NOT NULL
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("completed scores: %w", err)
	}
	defer rows.Close()

	out := make([]CandidateScore, 0)
	for rows.Next() {
		var cs CandidateScore
		if err := rows.Scan(&cs.CandidateID, &cs.Score); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("completed scores: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) CreateInvite(ctx context.Context, inv model.Invite) (model.Invite, error) {
	inv = newInvite(inv, s.now())
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invites (id, candidate_id, email, topic_id, difficulty, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.CandidateID, inv.Email, inv.TopicID, inv.Difficulty, string(inv.Status), inv.CreatedAt.UnixNano())
	if err != nil {
		if isConstraint(err) {
			return model.Invite{}, fmt.Errorf("%w: invite %s", ErrDuplicateID, inv.ID)
		}
		return model.Invite{}, fmt.Errorf("insert invite: %w", err)
	}
	return inv, nil
}

func (s *SQLiteStore) GetInvite(ctx context.Context, id string) (model.Invite, error) {
	var (
		inv       model.Invite
		status    string
		created   int64
		completed sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, candidate_id, email, topic_id, difficulty, status, created_at, completed_at
		 FROM invites WHERE id = ?`, id,
	).Scan(&inv.ID, &inv.CandidateID, &inv.Email, &inv.TopicID, &inv.Difficulty, &status, &created, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Invite{}, fmt.Errorf("%w: %s", ErrInviteNotFound, id)
	}
	if err != nil {
		return model.Invite{}, fmt.Errorf("get invite %s: %w", id, err)
	}
	inv.Status = model.InviteStatus(status)
	inv.CreatedAt = fromNanos(created)
	if completed.Valid {
		t := fromNanos(completed.Int64)
		inv.CompletedAt = &t
	}
	return inv, nil
}

func (s *SQLiteStore) MarkInviteCompleted(ctx context.Context, id string, at time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE invites SET status = 'completed', completed_at = ? WHERE id = ? AND status != 'completed'`,
		at.UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("complete invite %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM invites WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrInviteNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("lookup invite %s: %w", id, err)
	}
	return nil
}

// SaveTopic inserts or replaces a custom topic.
func (s *SQLiteStore) SaveTopic(ctx context.Context, t model.Topic) error {
	concepts, err := json.Marshal(t.Concepts)
	if err != nil {
		return fmt.Errorf("marshal concepts: %w", err)
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO topics (id, title, description, concepts, kind, company, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			concepts = excluded.concepts,
			kind = excluded.kind,
			company = excluded.company`,
		t.ID, t.Title, t.Description, string(concepts), string(t.Kind), t.Company, created.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("save topic %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetTopic(ctx context.Context, id string) (model.Topic, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, concepts, kind, company, created_at FROM topics WHERE id = ?`, id)
	t, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Topic{}, fmt.Errorf("%w: %s", ErrTopicNotFound, id)
	}
	if err != nil {
		return model.Topic{}, fmt.Errorf("get topic %s: %w", id, err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTopics(ctx context.Context) ([]model.Topic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, concepts, kind, company, created_at FROM topics ORDER BY title ASC`)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	out := make([]model.Topic, 0)
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(r scanner) (*model.Session, error) {
	var (
		s                             model.Session
		status                        string
		transcript, history, coverage string
		final, ended                  sql.NullInt64
		created, updated              int64
	)
	if err := r.Scan(&s.ID, &s.CandidateID, &s.TopicID, &s.TopicTitle, &s.Difficulty, &s.InviteID, &s.Mode,
		&status, &transcript, &history, &coverage, &final, &created, &updated, &ended, &s.Version); err != nil {
		return nil, err
	}
	s.Status = model.Status(status)
	if err := json.Unmarshal([]byte(transcript), &s.Transcript); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &s.BluffHistory); err != nil {
		return nil, fmt.Errorf("decode bluff history: %w", err)
	}
	if err := json.Unmarshal([]byte(coverage), &s.ConceptCoverage); err != nil {
		return nil, fmt.Errorf("decode coverage: %w", err)
	}
	if final.Valid {
		v := int(final.Int64)
		s.FinalBluffScore = &v
	}
	s.CreatedAt = fromNanos(created)
	s.UpdatedAt = fromNanos(updated)
	if ended.Valid {
		t := fromNanos(ended.Int64)
		s.EndedAt = &t
	}
	return &s, nil
}

func scanTopic(r scanner) (model.Topic, error) {
	var (
		t        model.Topic
		concepts string
		kind     string
		created  int64
	)
	if err := r.Scan(&t.ID, &t.Title, &t.Description, &concepts, &kind, &t.Company, &created); err != nil {
		return model.Topic{}, err
	}
	if err := json.Unmarshal([]byte(concepts), &t.Concepts); err != nil {
		return model.Topic{}, fmt.Errorf("decode concepts: %w", err)
	}
	t.Kind = model.TopicKind(kind)
	t.CreatedAt = fromNanos(created)
	return t, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func isConstraint(err error) bool {
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		c := coded.Code()
		return c == sqliteConstraintPrimaryKey || c == sqliteConstraintUnique
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ Store = (*SQLiteStore)(nil)
