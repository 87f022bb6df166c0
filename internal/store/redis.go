package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tablechat-io/tablechat/internal/metrics"
	"github.com/tablechat-io/tablechat/internal/models"
)

// RedisStore handles Redis operations for the message log and unread counters.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// roomMessagesKey returns the key for a room's message sorted set.
func roomMessagesKey(roomID string) string {
	return fmt.Sprintf("room:%s:messages", roomID)
}

// unreadKey returns the key for a user's per-room unread hash.
func unreadKey(userID uuid.UUID) string {
	return fmt.Sprintf("unread:%s", userID)
}

// AddMessage stores a message in the room's log. The message id (ULID)
// and timestamp are assigned here if unset, so storage order, score
// order and id order all agree.
func (s *RedisStore) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.SentAt == 0 {
		msg.SentAt = time.Now().UnixMilli()
	}
	if msg.MessageType == "" {
		msg.MessageType = models.MessageTypeText
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	start := time.Now()
	err = s.client.ZAdd(ctx, roomMessagesKey(msg.RoomID), redis.Z{
		Score:  float64(msg.SentAt),
		Member: string(data),
	}).Err()
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
	return err
}

// GetRoomMessages retrieves one history page for a room.
//
// Page 0 holds the newest `size` messages, higher pages hold
// progressively older ones. Within every page messages are returned in
// ascending (sentAt, id) order, oldest of the page first.
func (s *RedisStore) GetRoomMessages(ctx context.Context, roomID string, page, size int) ([]models.Message, error) {
	if size <= 0 {
		return []models.Message{}, nil
	}

	start := int64(page) * int64(size)
	stop := start + int64(size) - 1

	begin := time.Now()
	// Newest-first range, then reversed into chronological order.
	results, err := s.client.ZRevRange(ctx, roomMessagesKey(roomID), start, stop).Result()
	metrics.RedisLatency.Observe(time.Since(begin).Seconds())
	if err != nil {
		return nil, err
	}

	return decodeMessagePage(roomID, results)
}

// decodeMessagePage reverses a newest-first range into chronological
// order. A corrupt entry fails the whole page: silently skipping it
// would shorten the page, which clients read as end-of-history.
func decodeMessagePage(roomID string, results []string) ([]models.Message, error) {
	messages := make([]models.Message, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		var msg models.Message
		if err := json.Unmarshal([]byte(results[i]), &msg); err != nil {
			return nil, fmt.Errorf("corrupt entry in %s: %w", roomMessagesKey(roomID), err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// IncrementUnread bumps a user's unread counter for a room and returns
// the new room count plus the user's global total.
func (s *RedisStore) IncrementUnread(ctx context.Context, userID uuid.UUID, roomID string) (int64, int64, error) {
	roomCount, err := s.client.HIncrBy(ctx, unreadKey(userID), roomID, 1).Result()
	if err != nil {
		return 0, 0, err
	}

	total, err := s.sumUnread(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	return roomCount, total, nil
}

// UnreadCounts returns all per-room unread counters for a user and their sum.
func (s *RedisStore) UnreadCounts(ctx context.Context, userID uuid.UUID) (map[string]int64, int64, error) {
	fields, err := s.client.HGetAll(ctx, unreadKey(userID)).Result()
	if err != nil {
		return nil, 0, err
	}

	counts := make(map[string]int64, len(fields))
	var total int64
	for roomID, raw := range fields {
		var n int64
		fmt.Sscan(raw, &n)
		if n <= 0 {
			continue
		}
		counts[roomID] = n
		total += n
	}
	return counts, total, nil
}

// ClearUnread zeroes a user's counter for a room and returns the
// remaining global total. Idempotent.
func (s *RedisStore) ClearUnread(ctx context.Context, userID uuid.UUID, roomID string) (int64, error) {
	if err := s.client.HDel(ctx, unreadKey(userID), roomID).Err(); err != nil {
		return 0, err
	}
	return s.sumUnread(ctx, userID)
}

func (s *RedisStore) sumUnread(ctx context.Context, userID uuid.UUID) (int64, error) {
	fields, err := s.client.HVals(ctx, unreadKey(userID)).Result()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, raw := range fields {
		var n int64
		fmt.Sscan(raw, &n)
		if n > 0 {
			total += n
		}
	}
	return total, nil
}
