package store

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tablechat-io/tablechat/internal/models"
)

// DataStore defines the interface for persistent storage of users and rooms.
// Both PostgresStore and SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	UpsertUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	CountUsers(ctx context.Context) (int64, error)

	// Room operations
	CreateRoom(ctx context.Context, a, b models.Member) (*models.Room, error)
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	GetRoomByParticipants(ctx context.Context, aID, bID uuid.UUID) (*models.Room, error)
	ListRoomsForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Room, error)
	RecordMessage(ctx context.Context, roomID, preview string, at time.Time) error
	SetArchived(ctx context.Context, roomID string, userID uuid.UUID, archived bool) error
	CountRooms(ctx context.Context) (int64, error)
	SumMessageCount(ctx context.Context) (int64, error)
	GetMostRecentActivity(ctx context.Context) (*time.Time, error)
}

// MessageStore is the hot-path store for the message log and unread
// counters. RedisStore implements it; tests substitute in-memory fakes.
type MessageStore interface {
	AddMessage(ctx context.Context, msg *models.Message) error
	GetRoomMessages(ctx context.Context, roomID string, page, size int) ([]models.Message, error)
	IncrementUnread(ctx context.Context, userID uuid.UUID, roomID string) (roomCount, totalCount int64, err error)
	UnreadCounts(ctx context.Context, userID uuid.UUID) (map[string]int64, int64, error)
	ClearUnread(ctx context.Context, userID uuid.UUID, roomID string) (totalCount int64, err error)
	Ping(ctx context.Context) error
}

// pairNamespace seeds the deterministic room ids derived from a
// participant pair.
var pairNamespace = uuid.MustParse("9b1c6f82-5d34-4e1a-8f7e-2c0d94a6b513")

// RoomIDForPair derives the stable room id shared by two users. The
// pair is sorted first, so either argument order yields the same id.
func RoomIDForPair(a, b uuid.UUID) string {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return uuid.NewSHA1(pairNamespace, append(a[:], b[:]...)).String()
}

// orderPair puts the member with the smaller id in the a slot, so the
// unique (a_id, b_id) index holds no matter which side opens the room.
func orderPair(a, b models.Member) (models.Member, models.Member) {
	if bytes.Compare(a.UserID[:], b.UserID[:]) > 0 {
		return b, a
	}
	return a, b
}

// previewLimit caps the stored last-message preview length.
const previewLimit = 120

// Preview truncates message content for room-list previews.
func Preview(content string) string {
	if len(content) <= previewLimit {
		return content
	}
	return content[:previewLimit]
}
