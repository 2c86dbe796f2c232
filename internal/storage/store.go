package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"droproom/internal/room"
	"droproom/internal/roomlock"
)

const (
	defaultBusyTimeout = 5000
	maxCreateAttempts  = 8
)

// ErrCodeCollision is returned when every generated code was already taken.
var ErrCodeCollision = errors.New("could not allocate a unique room code")

// Store persists rooms and their ordered messages in SQLite. Each room is
// one row in rooms plus its rows in messages.
type Store struct {
	db      *sql.DB
	now     func() time.Time
	newCode func() (string, error)
	locks   roomlock.Locker
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithCodeGenerator replaces room.NewCode.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *Store) { s.newCode = gen }
}

// NewStore initializes the SQLite database at the provided path. Call Close when done.
func NewStore(path string, opts ...Option) (*Store, error) {
	if path == "" {
		path = "droproom.db"
	}
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, err
	}
	// A single connection keeps every transaction serialized, which also
	// gives readers a consistent snapshot of a room. It is shared by all
	// rooms, so a slow read delays appends elsewhere.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db, now: time.Now, newCode: room.NewCode}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			room_id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS rooms_created_at ON rooms(created_at);`,
		`CREATE TABLE IF NOT EXISTS messages (
			room_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL CHECK (kind IN ('text', 'file')),
			content TEXT NOT NULL,
			original_name TEXT,
			mime_type TEXT,
			size INTEGER,
			sender_id TEXT NOT NULL,
			sender_name TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (room_id, seq),
			FOREIGN KEY(room_id) REFERENCES rooms(room_id) ON DELETE CASCADE
		);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Ping checks that the database still answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return persistence(err)
	}
	return nil
}

// CreateRoom allocates a fresh code and stores an empty room. A code held
// by any stored room, expired or not, is never reused until that room is
// deleted.
func (s *Store) CreateRoom(ctx context.Context) (room.Room, error) {
	createdAt := time.UnixMilli(s.now().UnixMilli()).UTC()
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return room.Room{}, err
		}
		result, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO rooms(room_id, created_at) VALUES(?, ?)`, code, createdAt.UnixMilli())
		if err != nil {
			return room.Room{}, persistence(err)
		}
		inserted, err := result.RowsAffected()
		if err != nil {
			return room.Room{}, persistence(err)
		}
		if inserted == 1 {
			return room.Room{ID: code, CreatedAt: createdAt, Messages: []room.Message{}}, nil
		}
	}
	return room.Room{}, persistence(ErrCodeCollision)
}

// GetRoom returns the room with all its messages. Rooms at least room.TTL
// old are reported as room.ErrNotFound even while still stored.
func (s *Store) GetRoom(ctx context.Context, id string) (room.Room, error) {
	id = room.NormalizeCode(id)
	if !room.ValidCode(id) {
		return room.Room{}, room.ErrNotFound
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return room.Room{}, persistence(err)
	}
	defer func() { _ = tx.Rollback() }()

	r, err := loadRoom(ctx, tx, id)
	if err != nil {
		return room.Room{}, err
	}
	if err := tx.Commit(); err != nil {
		return room.Room{}, persistence(err)
	}
	if r.Expired(s.now()) {
		return room.Room{}, room.ErrNotFound
	}
	return r, nil
}

// AppendMessage stamps the draft and appends it to the room. Appends to
// one room are serialized; seq and createdAt never go backwards.
func (s *Store) AppendMessage(ctx context.Context, id string, draft room.Draft) (room.Message, error) {
	id = room.NormalizeCode(id)
	if !room.ValidCode(id) {
		return room.Message{}, room.ErrNotFound
	}
	if draft.Body == nil {
		return room.Message{}, &room.ValidationError{Field: "type", Reason: "message body required"}
	}

	// This lock is what orders appends within a room. Callers that also
	// publish take their own lock on the same code around the whole send.
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return room.Message{}, persistence(err)
	}
	defer func() { _ = tx.Rollback() }()

	var createdAt int64
	err = tx.QueryRowContext(ctx, `SELECT created_at FROM rooms WHERE room_id = ?`, id).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return room.Message{}, room.ErrNotFound
	}
	if err != nil {
		return room.Message{}, persistence(err)
	}
	now := s.now()
	if (room.Room{CreatedAt: time.UnixMilli(createdAt)}).Expired(now) {
		return room.Message{}, room.ErrNotFound
	}

	var lastSeq, lastAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0), COALESCE(MAX(created_at), 0) FROM messages WHERE room_id = ?`, id,
	).Scan(&lastSeq, &lastAt)
	if err != nil {
		return room.Message{}, persistence(err)
	}
	stamp := now.UnixMilli()
	if stamp < lastAt {
		stamp = lastAt
	}

	msg := room.Message{
		Seq:        lastSeq + 1,
		SenderID:   draft.SenderID,
		SenderName: draft.SenderName,
		CreatedAt:  time.UnixMilli(stamp).UTC(),
		Body:       draft.Body,
	}
	row := toRow(msg)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages(room_id, seq, kind, content, original_name, mime_type, size, sender_id, sender_name, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, msg.Seq, row.kind, row.content, row.originalName, row.mimeType, row.size, msg.SenderID, msg.SenderName, stamp)
	if err != nil {
		return room.Message{}, persistence(err)
	}
	if err := tx.Commit(); err != nil {
		return room.Message{}, persistence(err)
	}
	return msg, nil
}

// DeleteRoom removes the room and its messages. Deleting an absent room is a no-op.
func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	id = room.NormalizeCode(id)
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence(err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ?`, id); err != nil {
		return persistence(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE room_id = ?`, id); err != nil {
		return persistence(err)
	}
	if err := tx.Commit(); err != nil {
		return persistence(err)
	}
	return nil
}

// ExpiredRooms lists every stored room at least room.TTL old, oldest
// first, with its messages.
func (s *Store) ExpiredRooms(ctx context.Context) ([]room.Room, error) {
	cutoff := s.now().Add(-room.TTL).UnixMilli()
	rows, err := s.db.QueryContext(ctx, `SELECT room_id FROM rooms WHERE created_at <= ? ORDER BY created_at ASC`, cutoff)
	if err != nil {
		return nil, persistence(err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, persistence(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, persistence(err)
	}
	_ = rows.Close()

	expired := make([]room.Room, 0, len(ids))
	for _, id := range ids {
		r, err := loadRoom(ctx, s.db, id)
		if errors.Is(err, room.ErrNotFound) {
			// deleted between the listing and the load
			continue
		}
		if err != nil {
			return nil, err
		}
		expired = append(expired, r)
	}
	return expired, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadRoom(ctx context.Context, q querier, id string) (room.Room, error) {
	var createdAt int64
	err := q.QueryRowContext(ctx, `SELECT created_at FROM rooms WHERE room_id = ?`, id).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return room.Room{}, room.ErrNotFound
	}
	if err != nil {
		return room.Room{}, persistence(err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT seq, kind, content, original_name, mime_type, size, sender_id, sender_name, created_at
		FROM messages
		WHERE room_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return room.Room{}, persistence(err)
	}
	defer rows.Close()

	r := room.Room{ID: id, CreatedAt: time.UnixMilli(createdAt).UTC(), Messages: []room.Message{}}
	for rows.Next() {
		var (
			row   messageRow
			msg   room.Message
			stamp int64
		)
		if err := rows.Scan(&msg.Seq, &row.kind, &row.content, &row.originalName, &row.mimeType, &row.size, &msg.SenderID, &msg.SenderName, &stamp); err != nil {
			return room.Room{}, persistence(err)
		}
		body, err := row.body()
		if err != nil {
			return room.Room{}, persistence(err)
		}
		msg.Body = body
		msg.CreatedAt = time.UnixMilli(stamp).UTC()
		r.Messages = append(r.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return room.Room{}, persistence(err)
	}
	return r, nil
}

func persistence(err error) error {
	return fmt.Errorf("%w: %w", room.ErrPersistence, err)
}
