package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tablechat-io/tablechat/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/tablechat.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/tablechat.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		a_id TEXT NOT NULL REFERENCES users(id),
		a_role TEXT NOT NULL,
		a_archived INTEGER DEFAULT 0,
		b_id TEXT NOT NULL REFERENCES users(id),
		b_role TEXT NOT NULL,
		b_archived INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_active_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_message TEXT DEFAULT '',
		last_message_at DATETIME,
		message_count INTEGER DEFAULT 0
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_rooms_pair ON rooms(a_id, b_id);
	CREATE INDEX IF NOT EXISTS idx_rooms_a ON rooms(a_id, last_active_at);
	CREATE INDEX IF NOT EXISTS idx_rooms_b ON rooms(b_id, last_active_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertUser inserts or refreshes a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *models.User) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			role = excluded.role,
			updated_at = excluded.updated_at
	`, user.ID.String(), user.DisplayName, string(user.Role), now, now)
	return err
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	var idStr, roleStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, role, created_at, updated_at
		FROM users WHERE id = ?
	`, id.String()).Scan(
		&idStr,
		&user.DisplayName,
		&roleStr,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.ID = uuid.MustParse(idStr)
	user.Role = models.Role(roleStr)
	return user, nil
}

// CountUsers returns the total number of known users.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

const sqliteRoomColumns = `
	r.id, r.a_id, r.a_role, r.a_archived, ua.display_name,
	r.b_id, r.b_role, r.b_archived, ub.display_name,
	r.created_at, r.last_active_at, r.last_message, r.last_message_at, r.message_count`

const sqliteRoomJoins = `
	FROM rooms r
	JOIN users ua ON ua.id = r.a_id
	JOIN users ub ON ub.id = r.b_id`

func scanSQLiteRoom(row interface{ Scan(...any) error }) (*models.Room, error) {
	room := &models.Room{}
	var aID, bID, aRole, bRole string
	var aArchived, bArchived int
	var lastMessageAt sql.NullTime

	err := row.Scan(
		&room.ID, &aID, &aRole, &aArchived, &room.Participants[0].DisplayName,
		&bID, &bRole, &bArchived, &room.Participants[1].DisplayName,
		&room.CreatedAt, &room.LastActiveAt, &room.LastMessage, &lastMessageAt, &room.MessageCount,
	)
	if err != nil {
		return nil, err
	}

	room.Participants[0].UserID = uuid.MustParse(aID)
	room.Participants[0].Role = models.Role(aRole)
	room.Participants[0].Archived = aArchived == 1
	room.Participants[1].UserID = uuid.MustParse(bID)
	room.Participants[1].Role = models.Role(bRole)
	room.Participants[1].Archived = bArchived == 1
	if lastMessageAt.Valid {
		t := lastMessageAt.Time
		room.LastMessageAt = &t
	}
	return room, nil
}

// CreateRoom creates the two-party room for a pair, or returns the
// existing one. The pair is canonicalized and the id derived from it,
// so racing first contact from both sides lands on the same row.
func (s *SQLiteStore) CreateRoom(ctx context.Context, a, b models.Member) (*models.Room, error) {
	a, b = orderPair(a, b)
	id := RoomIDForPair(a.UserID, b.UserID)
	now := time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, a_id, a_role, b_id, b_role, created_at, last_active_at, message_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO NOTHING
	`, id, a.UserID.String(), string(a.Role), b.UserID.String(), string(b.Role), now, now)
	if err != nil {
		return nil, err
	}

	return s.GetRoom(ctx, id)
}

// GetRoom retrieves a room by ID.
func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+sqliteRoomColumns+sqliteRoomJoins+` WHERE r.id = ?`, id)
	room, err := scanSQLiteRoom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// GetRoomByParticipants finds the room shared by two users regardless
// of which side created it.
func (s *SQLiteStore) GetRoomByParticipants(ctx context.Context, aID, bID uuid.UUID) (*models.Room, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+sqliteRoomColumns+sqliteRoomJoins+`
		WHERE (r.a_id = ? AND r.b_id = ?) OR (r.a_id = ? AND r.b_id = ?)
	`, aID.String(), bID.String(), bID.String(), aID.String())
	room, err := scanSQLiteRoom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// ListRoomsForUser retrieves a user's non-archived rooms, most recently
// active first.
func (s *SQLiteStore) ListRoomsForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Room, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT`+sqliteRoomColumns+sqliteRoomJoins+`
		WHERE (r.a_id = ? AND r.a_archived = 0) OR (r.b_id = ? AND r.b_archived = 0)
		ORDER BY r.last_active_at DESC
		LIMIT ? OFFSET ?
	`, userID.String(), userID.String(), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		room, err := scanSQLiteRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *room)
	}
	return rooms, rows.Err()
}

// RecordMessage updates a room's preview, activity and message count
// after a message posts.
func (s *SQLiteStore) RecordMessage(ctx context.Context, roomID, preview string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rooms
		SET last_message = ?, last_message_at = ?, last_active_at = ?,
			message_count = message_count + 1
		WHERE id = ?
	`, Preview(preview), at, at, roomID)
	return err
}

// SetArchived hides or restores a room for one participant.
func (s *SQLiteStore) SetArchived(ctx context.Context, roomID string, userID uuid.UUID, archived bool) error {
	flag := 0
	if archived {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE rooms
		SET a_archived = CASE WHEN a_id = ? THEN ? ELSE a_archived END,
			b_archived = CASE WHEN b_id = ? THEN ? ELSE b_archived END
		WHERE id = ?
	`, userID.String(), flag, userID.String(), flag, roomID)
	return err
}

// CountRooms returns the total number of rooms.
func (s *SQLiteStore) CountRooms(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&count)
	return count, err
}

// SumMessageCount returns the total message count across all rooms.
func (s *SQLiteStore) SumMessageCount(ctx context.Context) (int64, error) {
	var sum int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(message_count), 0) FROM rooms`).Scan(&sum)
	return sum, err
}

// GetMostRecentActivity returns the most recent activity timestamp across all rooms.
func (s *SQLiteStore) GetMostRecentActivity(ctx context.Context) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT last_active_at FROM rooms ORDER BY last_active_at DESC LIMIT 1
	`).Scan(&t)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}
