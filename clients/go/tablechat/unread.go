package tablechat

import "sync"

// UnreadTracker mirrors the server's unread counters. Server deltas
// are authoritative and overwrite local state; MarkRead is the one
// optimistic local mutation, and the next delta corrects it if the
// guess was wrong.
type UnreadTracker struct {
	mu      sync.Mutex
	perRoom map[string]int64
	total   int64

	// onRoom and onTotal drive badge rendering.
	onRoom  func(roomID string, count int64)
	onTotal func(total int64)
}

// NewUnreadTracker creates a tracker. Either callback may be nil.
func NewUnreadTracker(onRoom func(roomID string, count int64), onTotal func(total int64)) *UnreadTracker {
	return &UnreadTracker{
		perRoom: make(map[string]int64),
		onRoom:  onRoom,
		onTotal: onTotal,
	}
}

// Load seeds the tracker from a full unread snapshot.
func (t *UnreadTracker) Load(state UnreadState) {
	t.mu.Lock()
	t.perRoom = make(map[string]int64, len(state.Rooms))
	for roomID, count := range state.Rooms {
		t.perRoom[roomID] = count
	}
	t.total = state.Total
	rooms := t.snapshotLocked()
	total := t.total
	t.mu.Unlock()

	for roomID, count := range rooms {
		t.notifyRoom(roomID, count)
	}
	t.notifyTotal(total)
}

// ApplyDelta overwrites one room's counter and the total with the
// server's values.
func (t *UnreadTracker) ApplyDelta(delta UnreadEvent) {
	t.mu.Lock()
	if delta.RoomUnreadCount == 0 {
		delete(t.perRoom, delta.RoomID)
	} else {
		t.perRoom[delta.RoomID] = delta.RoomUnreadCount
	}
	t.total = delta.TotalUnreadCount
	t.mu.Unlock()

	t.notifyRoom(delta.RoomID, delta.RoomUnreadCount)
	t.notifyTotal(delta.TotalUnreadCount)
}

// MarkRead optimistically zeroes a room's counter and recomputes the
// total from the remaining rooms.
func (t *UnreadTracker) MarkRead(roomID string) {
	t.mu.Lock()
	delete(t.perRoom, roomID)
	var total int64
	for _, count := range t.perRoom {
		total += count
	}
	t.total = total
	t.mu.Unlock()

	t.notifyRoom(roomID, 0)
	t.notifyTotal(total)
}

// RoomCount returns one room's unread counter.
func (t *UnreadTracker) RoomCount(roomID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.perRoom[roomID]
}

// Total returns the global unread counter.
func (t *UnreadTracker) Total() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

func (t *UnreadTracker) snapshotLocked() map[string]int64 {
	out := make(map[string]int64, len(t.perRoom))
	for roomID, count := range t.perRoom {
		out[roomID] = count
	}
	return out
}

func (t *UnreadTracker) notifyRoom(roomID string, count int64) {
	if t.onRoom != nil {
		t.onRoom(roomID, count)
	}
}

func (t *UnreadTracker) notifyTotal(total int64) {
	if t.onTotal != nil {
		t.onTotal(total)
	}
}
