package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	StatusIdle       = "idle"
	StatusRecording  = "recording"
	StatusPaused     = "paused"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// ErrNotFound is returned when a session or chunk does not exist.
var ErrNotFound = sql.ErrNoRows

type Session struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	AudioSource string     `json:"audio_source"`
	Status      string     `json:"status"`
	Duration    float64    `json:"duration"`
	Transcript  *string    `json:"transcript"`
	Summary     *string    `json:"summary"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SessionUpdate carries the fields to change; nil fields are left untouched.
type SessionUpdate struct {
	Title       *string
	AudioSource *string
	Status      *string
	Duration    *float64
	Transcript  *string
	Summary     *string
	CompletedAt *time.Time
}

type Chunk struct {
	SessionID  string    `json:"session_id"`
	Sequence   int       `json:"sequence"`
	Transcript *string   `json:"transcript"`
	AudioBytes int       `json:"audio_bytes"`
	Timestamp  time.Time `json:"timestamp"`
}

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "livescribe.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			audio_source TEXT NOT NULL DEFAULT 'microphone',
			status TEXT NOT NULL,
			duration REAL NOT NULL DEFAULT 0,
			transcript TEXT,
			summary TEXT,
			started_at TEXT NOT NULL,
			completed_at TEXT
		);
	`); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			audio_data BLOB NOT NULL DEFAULT x'',
			transcript TEXT,
			timestamp TEXT NOT NULL,
			UNIQUE(session_id, sequence),
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create chunks table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at)"); err != nil {
		return fmt.Errorf("create sessions index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateSession(sess Session) error {
	if strings.TrimSpace(sess.ID) == "" {
		return errors.New("session id is required")
	}
	if sess.Status == "" {
		sess.Status = StatusIdle
	}
	if sess.AudioSource == "" {
		sess.AudioSource = "microphone"
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = s.now()
	}

	_, err := s.db.Exec(
		`INSERT INTO sessions(id, title, audio_source, status, started_at) VALUES(?, ?, ?, ?, ?)`,
		sess.ID,
		sess.Title,
		sess.AudioSource,
		sess.Status,
		sess.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateSession(id string, update SessionUpdate) error {
	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if update.Title != nil {
		add("title", *update.Title)
	}
	if update.AudioSource != nil {
		add("audio_source", *update.AudioSource)
	}
	if update.Status != nil {
		add("status", *update.Status)
	}
	if update.Duration != nil {
		add("duration", *update.Duration)
	}
	if update.Transcript != nil {
		add("transcript", *update.Transcript)
	}
	if update.Summary != nil {
		add("summary", *update.Summary)
	}
	if update.CompletedAt != nil {
		add("completed_at", update.CompletedAt.UTC().Format(time.RFC3339Nano))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.db.Exec(`UPDATE sessions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetSession(id string) (Session, error) {
	row := s.db.QueryRow(
		`SELECT id, title, audio_source, status, duration, transcript, summary, started_at, completed_at
		 FROM sessions WHERE id = ?`,
		id,
	)

	sess, err := scanSession(row)
	if err != nil {
		return Session{}, fmt.Errorf("query session %s: %w", id, err)
	}
	return sess, nil
}

// ListSessions returns sessions newest first, optionally filtered by status.
func (s *SQLiteStore) ListSessions(status string) ([]Session, error) {
	query := `SELECT id, title, audio_source, status, duration, transcript, summary, started_at, completed_at
		 FROM sessions`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]Session, 0, 16)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions rows: %w", err)
	}

	return sessions, nil
}

func (s *SQLiteStore) DeleteSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveChunk stores a chunk. The first write of a (session, sequence) pair
// owns the audio payload; a later write only fills in a provided transcript.
func (s *SQLiteStore) SaveChunk(sessionID string, sequence int, audioData []byte, transcript *string) error {
	if audioData == nil {
		audioData = []byte{}
	}

	_, err := s.db.Exec(
		`INSERT INTO chunks(session_id, sequence, audio_data, transcript, timestamp) VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, sequence) DO UPDATE SET transcript = COALESCE(excluded.transcript, chunks.transcript)`,
		sessionID,
		sequence,
		audioData,
		nullableString(transcript),
		s.now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save chunk %d for session %s: %w", sequence, sessionID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateChunkTranscript(sessionID string, sequence int, transcript string) error {
	_, err := s.db.Exec(
		`UPDATE chunks SET transcript = ? WHERE session_id = ? AND sequence = ?`,
		transcript,
		sessionID,
		sequence,
	)
	if err != nil {
		return fmt.Errorf("update chunk %d transcript for session %s: %w", sequence, sessionID, err)
	}
	return nil
}

// GetOrderedTranscripts returns chunk transcripts in ascending sequence
// order. Chunks without a transcript yield an empty string.
func (s *SQLiteStore) GetOrderedTranscripts(sessionID string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT COALESCE(transcript, '') FROM chunks WHERE session_id = ? ORDER BY sequence ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcripts for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	var transcripts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("scan transcript for session %s: %w", sessionID, err)
		}
		transcripts = append(transcripts, text)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows for session %s: %w", sessionID, err)
	}

	return transcripts, nil
}

func (s *SQLiteStore) GetChunks(sessionID string) ([]Chunk, error) {
	rows, err := s.db.Query(
		`SELECT session_id, sequence, transcript, length(audio_data), timestamp
		 FROM chunks
		 WHERE session_id = ?
		 ORDER BY sequence ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query chunks for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	chunks := make([]Chunk, 0, 32)
	for rows.Next() {
		var c Chunk
		var transcript sql.NullString
		var ts string
		if err := rows.Scan(&c.SessionID, &c.Sequence, &transcript, &c.AudioBytes, &ts); err != nil {
			return nil, fmt.Errorf("scan chunk for session %s: %w", sessionID, err)
		}
		if transcript.Valid {
			c.Transcript = &transcript.String
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse chunk timestamp for session %s: %w", sessionID, err)
		}
		c.Timestamp = parsed
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk rows for session %s: %w", sessionID, err)
	}

	return chunks, nil
}

func (s *SQLiteStore) GetChunkAudio(sessionID string, sequence int) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(
		`SELECT audio_data FROM chunks WHERE session_id = ? AND sequence = ?`,
		sessionID,
		sequence,
	).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("query chunk %d audio for session %s: %w", sequence, sessionID, err)
	}
	return data, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	var transcript, summary, completedAt sql.NullString
	var startedAt string
	if err := row.Scan(
		&sess.ID,
		&sess.Title,
		&sess.AudioSource,
		&sess.Status,
		&sess.Duration,
		&transcript,
		&summary,
		&startedAt,
		&completedAt,
	); err != nil {
		return Session{}, err
	}

	if transcript.Valid {
		sess.Transcript = &transcript.String
	}
	if summary.Valid {
		sess.Summary = &summary.String
	}

	parsedStart, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Session{}, fmt.Errorf("parse started_at: %w", err)
	}
	sess.StartedAt = parsedStart

	if completedAt.Valid {
		parsedEnd, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return Session{}, fmt.Errorf("parse completed_at: %w", err)
		}
		sess.CompletedAt = &parsedEnd
	}

	return sess, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
