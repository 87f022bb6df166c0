package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/tablechat-io/tablechat/internal/models"
	"github.com/tablechat-io/tablechat/internal/protocol"
)

// fakeConn is an in-memory Conn. Frames pushed into in come out of
// ReadMessage; frames the session writes land in out.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return 1, data, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case c.out <- data:
		return nil
	case <-c.closed:
		return errors.New("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sendCommand(t *testing.T, cmd protocol.Command) {
	t.Helper()
	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatal(err)
	}
	c.in <- data
}

func (c *fakeConn) nextEvent(t *testing.T) protocol.Event {
	t.Helper()
	select {
	case data := <-c.out:
		var ev protocol.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("bad frame %q: %v", data, err)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return protocol.Event{}
	}
}

func (c *fakeConn) expectNoEvent(t *testing.T) {
	t.Helper()
	select {
	case data := <-c.out:
		t.Fatalf("unexpected frame: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

// fakeData serves rooms out of a map. Only the methods the hub touches
// do real work.
type fakeData struct {
	mu       sync.Mutex
	rooms    map[string]*models.Room
	recorded int
}

func newFakeData() *fakeData {
	return &fakeData{rooms: make(map[string]*models.Room)}
}

func (f *fakeData) addRoom(a, b *models.User) *models.Room {
	f.mu.Lock()
	defer f.mu.Unlock()
	room := &models.Room{
		ID: uuid.New().String(),
		Participants: [2]models.Member{
			{UserID: a.ID, DisplayName: a.DisplayName, Role: a.Role},
			{UserID: b.ID, DisplayName: b.DisplayName, Role: b.Role},
		},
		CreatedAt:    time.Now(),
		LastActiveAt: time.Now(),
	}
	f.rooms[room.ID] = room
	return room
}

func (f *fakeData) Close()                         {}
func (f *fakeData) Ping(context.Context) error     { return nil }
func (f *fakeData) UpsertUser(context.Context, *models.User) error { return nil }
func (f *fakeData) GetUser(context.Context, uuid.UUID) (*models.User, error) {
	return nil, nil
}
func (f *fakeData) CountUsers(context.Context) (int64, error) { return 0, nil }
func (f *fakeData) CreateRoom(_ context.Context, a, b models.Member) (*models.Room, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeData) GetRoom(_ context.Context, id string) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[id], nil
}
func (f *fakeData) GetRoomByParticipants(context.Context, uuid.UUID, uuid.UUID) (*models.Room, error) {
	return nil, nil
}
func (f *fakeData) ListRoomsForUser(context.Context, uuid.UUID, int, int) ([]models.Room, error) {
	return nil, nil
}
func (f *fakeData) RecordMessage(context.Context, string, string, time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded++
	return nil
}
func (f *fakeData) SetArchived(context.Context, string, uuid.UUID, bool) error { return nil }
func (f *fakeData) CountRooms(context.Context) (int64, error)                  { return 0, nil }
func (f *fakeData) SumMessageCount(context.Context) (int64, error)             { return 0, nil }
func (f *fakeData) GetMostRecentActivity(context.Context) (*time.Time, error)  { return nil, nil }

// fakeMessages keeps messages and unread counters in maps.
type fakeMessages struct {
	mu       sync.Mutex
	messages map[string][]models.Message
	unread   map[uuid.UUID]map[string]int64
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{
		messages: make(map[string][]models.Message),
		unread:   make(map[uuid.UUID]map[string]int64),
	}
}

func (f *fakeMessages) AddMessage(_ context.Context, msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg.ID = ulid.Make().String()
	msg.SentAt = time.Now().UnixMilli()
	if msg.MessageType == "" {
		msg.MessageType = models.MessageTypeText
	}
	f.messages[msg.RoomID] = append(f.messages[msg.RoomID], *msg)
	return nil
}

func (f *fakeMessages) GetRoomMessages(_ context.Context, roomID string, page, size int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[roomID], nil
}

func (f *fakeMessages) IncrementUnread(_ context.Context, userID uuid.UUID, roomID string) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unread[userID] == nil {
		f.unread[userID] = make(map[string]int64)
	}
	f.unread[userID][roomID]++
	return f.unread[userID][roomID], f.totalLocked(userID), nil
}

func (f *fakeMessages) UnreadCounts(_ context.Context, userID uuid.UUID) (map[string]int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64, len(f.unread[userID]))
	for room, n := range f.unread[userID] {
		out[room] = n
	}
	return out, f.totalLocked(userID), nil
}

func (f *fakeMessages) ClearUnread(_ context.Context, userID uuid.UUID, roomID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.unread[userID], roomID)
	return f.totalLocked(userID), nil
}

func (f *fakeMessages) Ping(context.Context) error { return nil }

func (f *fakeMessages) totalLocked(userID uuid.UUID) int64 {
	var total int64
	for _, n := range f.unread[userID] {
		total += n
	}
	return total
}

type testEnv struct {
	hub      *Hub
	data     *fakeData
	messages *fakeMessages
}

func newTestEnv() *testEnv {
	data := newFakeData()
	messages := newFakeMessages()
	return &testEnv{
		hub:      NewHub(data, messages, zerolog.Nop()),
		data:     data,
		messages: messages,
	}
}

func testUser(name string, role models.Role) *models.User {
	return &models.User{ID: uuid.New(), DisplayName: name, Role: role}
}

// connect spins up a running session and waits until it is registered.
func (e *testEnv) connect(t *testing.T, user *models.User) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	sess := e.hub.NewSession(conn, user)
	want := e.hub.SessionCount() + 1
	go sess.Run()
	t.Cleanup(func() { conn.Close() })

	waitFor(t, "session registration", func() bool { return e.hub.SessionCount() >= want })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSendFansOutToRoomSubscribers(t *testing.T) {
	env := newTestEnv()
	alice := testUser("Alice", models.RoleCustomer)
	bob := testUser("Bob", models.RoleRestaurantOwner)
	room := env.data.addRoom(alice, bob)

	aliceConn := env.connect(t, alice)
	bobConn := env.connect(t, bob)

	topic := protocol.RoomMessagesTopic(room.ID)
	aliceConn.sendCommand(t, protocol.NewSubscribe(topic))
	bobConn.sendCommand(t, protocol.NewSubscribe(topic))
	waitFor(t, "subscriptions", func() bool { return env.hub.SubscriptionCount() == 2 })

	aliceConn.sendCommand(t, protocol.NewSend(room.ID, "Table for two tonight?", ""))

	for _, conn := range []*fakeConn{aliceConn, bobConn} {
		ev := conn.nextEvent(t)
		if ev.Kind != protocol.EventMessage {
			t.Fatalf("expected message event, got %s", ev.Kind)
		}
		msg, err := ev.DecodeMessage()
		if err != nil {
			t.Fatal(err)
		}
		if msg.Content != "Table for two tonight?" {
			t.Fatalf("unexpected content %q", msg.Content)
		}
		if msg.SenderName != "Alice" || msg.SenderRole != models.RoleCustomer {
			t.Fatalf("unexpected sender %s/%s", msg.SenderName, msg.SenderRole)
		}
		if msg.ID == "" || msg.SentAt == 0 {
			t.Fatal("message missing server-assigned id or timestamp")
		}
	}

	// Bob, the recipient, gets an authoritative unread delta on his
	// user queue.
	ev := bobConn.nextEvent(t)
	if ev.Kind != protocol.EventUnread {
		t.Fatalf("expected unread event, got %s", ev.Kind)
	}
	unread, err := ev.DecodeUnread()
	if err != nil {
		t.Fatal(err)
	}
	if unread.RoomID != room.ID || unread.RoomUnreadCount != 1 || unread.TotalUnreadCount != 1 {
		t.Fatalf("unexpected unread delta %+v", unread)
	}

	// The sender does not get an unread bump for their own message.
	aliceConn.expectNoEvent(t)
}

func TestSubscribeRequiresMembership(t *testing.T) {
	env := newTestEnv()
	alice := testUser("Alice", models.RoleCustomer)
	bob := testUser("Bob", models.RoleRestaurantOwner)
	eve := testUser("Eve", models.RoleCustomer)
	room := env.data.addRoom(alice, bob)

	eveConn := env.connect(t, eve)
	eveConn.sendCommand(t, protocol.NewSubscribe(protocol.RoomMessagesTopic(room.ID)))

	ev := eveConn.nextEvent(t)
	if ev.Kind != protocol.EventError {
		t.Fatalf("expected error event, got %s", ev.Kind)
	}
	if env.hub.SubscriptionCount() != 0 {
		t.Fatalf("expected no subscriptions, got %d", env.hub.SubscriptionCount())
	}
}

func TestJoinClearsUnreadAndPushesDelta(t *testing.T) {
	env := newTestEnv()
	alice := testUser("Alice", models.RoleCustomer)
	bob := testUser("Bob", models.RoleRestaurantOwner)
	room := env.data.addRoom(alice, bob)
	other := env.data.addRoom(alice, testUser("Carol", models.RoleRestaurantOwner))

	ctx := context.Background()
	env.messages.IncrementUnread(ctx, bob.ID, room.ID)
	env.messages.IncrementUnread(ctx, bob.ID, room.ID)
	env.messages.IncrementUnread(ctx, bob.ID, other.ID)

	bobConn := env.connect(t, bob)
	bobConn.sendCommand(t, protocol.NewJoin(room.ID))

	ev := bobConn.nextEvent(t)
	if ev.Kind != protocol.EventUnread {
		t.Fatalf("expected unread event, got %s", ev.Kind)
	}
	unread, err := ev.DecodeUnread()
	if err != nil {
		t.Fatal(err)
	}
	if unread.RoomUnreadCount != 0 {
		t.Fatalf("expected room count 0, got %d", unread.RoomUnreadCount)
	}
	// The other room's count survives in the total.
	if unread.TotalUnreadCount != 1 {
		t.Fatalf("expected total 1, got %d", unread.TotalUnreadCount)
	}
}

func TestTypingBroadcast(t *testing.T) {
	env := newTestEnv()
	alice := testUser("Alice", models.RoleCustomer)
	bob := testUser("Bob", models.RoleRestaurantOwner)
	room := env.data.addRoom(alice, bob)

	aliceConn := env.connect(t, alice)
	bobConn := env.connect(t, bob)

	bobConn.sendCommand(t, protocol.NewSubscribe(protocol.RoomTypingTopic(room.ID)))
	waitFor(t, "subscription", func() bool { return env.hub.SubscriptionCount() == 1 })

	aliceConn.sendCommand(t, protocol.NewTyping(room.ID, true))

	ev := bobConn.nextEvent(t)
	if ev.Kind != protocol.EventTyping {
		t.Fatalf("expected typing event, got %s", ev.Kind)
	}
	typing, err := ev.DecodeTyping()
	if err != nil {
		t.Fatal(err)
	}
	if typing.UserID != alice.ID.String() || !typing.Typing {
		t.Fatalf("unexpected typing event %+v", typing)
	}

	// Alice is not subscribed to the typing topic, so nothing comes back.
	aliceConn.expectNoEvent(t)
}

func TestMalformedCommandGetsErrorEvent(t *testing.T) {
	env := newTestEnv()
	alice := testUser("Alice", models.RoleCustomer)
	conn := env.connect(t, alice)

	conn.in <- []byte("{not json")

	ev := conn.nextEvent(t)
	if ev.Kind != protocol.EventError {
		t.Fatalf("expected error event, got %s", ev.Kind)
	}
}

func TestDisconnectCleansUpSubscriptions(t *testing.T) {
	env := newTestEnv()
	alice := testUser("Alice", models.RoleCustomer)
	bob := testUser("Bob", models.RoleRestaurantOwner)
	room := env.data.addRoom(alice, bob)

	conn := env.connect(t, alice)
	conn.sendCommand(t, protocol.NewSubscribe(protocol.RoomMessagesTopic(room.ID)))
	conn.sendCommand(t, protocol.NewSubscribe(protocol.RoomTypingTopic(room.ID)))
	waitFor(t, "subscriptions", func() bool { return env.hub.SubscriptionCount() == 2 })

	conn.Close()
	waitFor(t, "teardown", func() bool {
		return env.hub.SessionCount() == 0 && env.hub.SubscriptionCount() == 0
	})
}

func TestEmptyMessageRejected(t *testing.T) {
	env := newTestEnv()
	alice := testUser("Alice", models.RoleCustomer)
	bob := testUser("Bob", models.RoleRestaurantOwner)
	room := env.data.addRoom(alice, bob)

	conn := env.connect(t, alice)
	conn.sendCommand(t, protocol.NewSend(room.ID, "   ", ""))

	ev := conn.nextEvent(t)
	if ev.Kind != protocol.EventError {
		t.Fatalf("expected error event, got %s", ev.Kind)
	}
	if len(env.messages.messages[room.ID]) != 0 {
		t.Fatal("empty message must not be stored")
	}
}
