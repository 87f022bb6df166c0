package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tablechat-io/tablechat/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		created_at TIMESTAMPTZ DEFAULT now(),
		updated_at TIMESTAMPTZ DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		a_id UUID NOT NULL REFERENCES users(id),
		a_role TEXT NOT NULL,
		a_archived BOOLEAN DEFAULT FALSE,
		b_id UUID NOT NULL REFERENCES users(id),
		b_role TEXT NOT NULL,
		b_archived BOOLEAN DEFAULT FALSE,
		created_at TIMESTAMPTZ DEFAULT now(),
		last_active_at TIMESTAMPTZ DEFAULT now(),
		last_message TEXT DEFAULT '',
		last_message_at TIMESTAMPTZ,
		message_count BIGINT DEFAULT 0
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_rooms_pair ON rooms(a_id, b_id);
	CREATE INDEX IF NOT EXISTS idx_rooms_a ON rooms(a_id, last_active_at);
	CREATE INDEX IF NOT EXISTS idx_rooms_b ON rooms(b_id, last_active_at);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertUser inserts or refreshes a user record.
func (s *PostgresStore) UpsertUser(ctx context.Context, user *models.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, display_name, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			role = EXCLUDED.role,
			updated_at = now()
	`, user.ID, user.DisplayName, string(user.Role))
	return err
}

// GetUser retrieves a user by ID.
func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	var roleStr string
	err := s.pool.QueryRow(ctx, `
		SELECT id, display_name, role, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(
		&user.ID,
		&user.DisplayName,
		&roleStr,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.Role = models.Role(roleStr)
	return user, nil
}

// CountUsers returns the total number of known users.
func (s *PostgresStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

const pgRoomColumns = `
	r.id, r.a_id, r.a_role, r.a_archived, ua.display_name,
	r.b_id, r.b_role, r.b_archived, ub.display_name,
	r.created_at, r.last_active_at, r.last_message, r.last_message_at, r.message_count`

const pgRoomJoins = `
	FROM rooms r
	JOIN users ua ON ua.id = r.a_id
	JOIN users ub ON ub.id = r.b_id`

func scanPgRoom(row pgx.Row) (*models.Room, error) {
	room := &models.Room{}
	var aRole, bRole string

	err := row.Scan(
		&room.ID, &room.Participants[0].UserID, &aRole, &room.Participants[0].Archived, &room.Participants[0].DisplayName,
		&room.Participants[1].UserID, &bRole, &room.Participants[1].Archived, &room.Participants[1].DisplayName,
		&room.CreatedAt, &room.LastActiveAt, &room.LastMessage, &room.LastMessageAt, &room.MessageCount,
	)
	if err != nil {
		return nil, err
	}
	room.Participants[0].Role = models.Role(aRole)
	room.Participants[1].Role = models.Role(bRole)
	return room, nil
}

// CreateRoom creates the two-party room for a pair, or returns the
// existing one. The pair is canonicalized and the id derived from it,
// so racing first contact from both sides lands on the same row.
func (s *PostgresStore) CreateRoom(ctx context.Context, a, b models.Member) (*models.Room, error) {
	a, b = orderPair(a, b)
	id := RoomIDForPair(a.UserID, b.UserID)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rooms (id, a_id, a_role, b_id, b_role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, id, a.UserID, string(a.Role), b.UserID, string(b.Role))
	if err != nil {
		return nil, err
	}
	return s.GetRoom(ctx, id)
}

// GetRoom retrieves a room by ID.
func (s *PostgresStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+pgRoomColumns+pgRoomJoins+` WHERE r.id = $1`, id)
	room, err := scanPgRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// GetRoomByParticipants finds the room shared by two users regardless
// of which side created it.
func (s *PostgresStore) GetRoomByParticipants(ctx context.Context, aID, bID uuid.UUID) (*models.Room, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+pgRoomColumns+pgRoomJoins+`
		WHERE (r.a_id = $1 AND r.b_id = $2) OR (r.a_id = $2 AND r.b_id = $1)
	`, aID, bID)
	room, err := scanPgRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// ListRoomsForUser retrieves a user's non-archived rooms, most recently
// active first.
func (s *PostgresStore) ListRoomsForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Room, error) {
	rows, err := s.pool.Query(ctx, `SELECT`+pgRoomColumns+pgRoomJoins+`
		WHERE (r.a_id = $1 AND NOT r.a_archived) OR (r.b_id = $1 AND NOT r.b_archived)
		ORDER BY r.last_active_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		room, err := scanPgRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *room)
	}
	return rooms, rows.Err()
}

// RecordMessage updates a room's preview, activity and message count
// after a message posts.
func (s *PostgresStore) RecordMessage(ctx context.Context, roomID, preview string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rooms
		SET last_message = $2, last_message_at = $3, last_active_at = $3,
			message_count = message_count + 1
		WHERE id = $1
	`, roomID, Preview(preview), at)
	return err
}

// SetArchived hides or restores a room for one participant.
func (s *PostgresStore) SetArchived(ctx context.Context, roomID string, userID uuid.UUID, archived bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rooms
		SET a_archived = CASE WHEN a_id = $2 THEN $3 ELSE a_archived END,
			b_archived = CASE WHEN b_id = $2 THEN $3 ELSE b_archived END
		WHERE id = $1
	`, roomID, userID, archived)
	return err
}

// CountRooms returns the total number of rooms.
func (s *PostgresStore) CountRooms(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&count)
	return count, err
}

// SumMessageCount returns the total message count across all rooms.
func (s *PostgresStore) SumMessageCount(ctx context.Context) (int64, error) {
	var sum int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(message_count), 0) FROM rooms`).Scan(&sum)
	return sum, err
}

// GetMostRecentActivity returns the most recent activity timestamp across all rooms.
func (s *PostgresStore) GetMostRecentActivity(ctx context.Context) (*time.Time, error) {
	var t *time.Time
	err := s.pool.QueryRow(ctx, `SELECT MAX(last_active_at) FROM rooms`).Scan(&t)
	if err != nil {
		return nil, err
	}
	return t, nil
}
