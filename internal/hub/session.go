package hub

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tablechat-io/tablechat/internal/metrics"
	"github.com/tablechat-io/tablechat/internal/models"
	"github.com/tablechat-io/tablechat/internal/protocol"
	"github.com/tablechat-io/tablechat/internal/store"
)

// Conn is the slice of *websocket.Conn the session needs. Tests
// substitute in-memory fakes.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

const (
	// sendBuffer bounds per-session outbound frames. A session that
	// falls this far behind starts losing frames.
	sendBuffer = 64

	// opTimeout bounds store calls made on behalf of one command.
	opTimeout = 5 * time.Second
)

// Session is one live WebSocket connection for one user.
type Session struct {
	hub  *Hub
	conn Conn
	user *models.User
	log  zerolog.Logger

	send   chan []byte
	topics map[string]struct{}

	sendMu sync.Mutex
	closed bool
}

// NewSession wraps a connection for a resolved user. Call Run to start
// pumping; it blocks until the connection drops.
func (h *Hub) NewSession(conn Conn, user *models.User) *Session {
	return &Session{
		hub:  h,
		conn: conn,
		user: user,
		log: h.log.With().
			Stringer("user_id", user.ID).
			Str("role", string(user.Role)).
			Logger(),
		send:   make(chan []byte, sendBuffer),
		topics: make(map[string]struct{}),
	}
}

// Run registers the session, pumps frames in both directions and tears
// everything down when the read side fails.
func (s *Session) Run() {
	s.hub.register(s)
	s.log.Info().Msg("WebSocket session opened")

	go s.writePump()
	s.readPump()

	s.hub.unregister(s)
	s.conn.Close()
	s.log.Info().Msg("WebSocket session closed")
}

func (s *Session) readPump() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd protocol.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.sendError("malformed command")
			continue
		}
		s.handleCommand(cmd)
	}
}

func (s *Session) writePump() {
	for data := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (s *Session) handleCommand(cmd protocol.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch cmd.Kind {
	case protocol.CmdSubscribe:
		s.handleSubscribe(ctx, cmd, true)
	case protocol.CmdUnsubscribe:
		s.handleSubscribe(ctx, cmd, false)
	case protocol.CmdSend:
		s.handleSend(ctx, cmd)
	case protocol.CmdJoin:
		s.handleJoin(ctx, cmd)
	case protocol.CmdTyping:
		s.handleTyping(ctx, cmd)
	default:
		s.sendError("unknown command kind")
	}
}

func (s *Session) handleSubscribe(ctx context.Context, cmd protocol.Command, subscribe bool) {
	p, err := cmd.DecodeSubscribe()
	if err != nil || p.Topic == "" {
		s.sendError("malformed subscribe payload")
		return
	}

	if !subscribe {
		s.hub.unsubscribe(s, p.Topic)
		return
	}

	roomID, ok := protocol.ParseRoomTopic(p.Topic)
	if !ok {
		s.sendError("unknown topic: " + p.Topic)
		return
	}
	if s.roomFor(ctx, roomID) == nil {
		return
	}
	s.hub.subscribe(s, p.Topic)
}

func (s *Session) handleSend(ctx context.Context, cmd protocol.Command) {
	p, err := cmd.DecodeSend()
	if err != nil {
		s.sendError("malformed send payload")
		return
	}
	if strings.TrimSpace(p.Content) == "" {
		s.sendError("message content is empty")
		return
	}

	room := s.roomFor(ctx, p.RoomID)
	if room == nil {
		return
	}

	msg := &models.Message{
		RoomID:      room.ID,
		SenderID:    s.user.ID.String(),
		SenderName:  s.user.DisplayName,
		SenderRole:  s.user.Role,
		Content:     p.Content,
		MessageType: p.MessageType,
	}
	if err := s.hub.messages.AddMessage(ctx, msg); err != nil {
		s.log.Error().Err(err).Str("room_id", room.ID).Msg("Failed to store message")
		s.sendError("failed to send message")
		return
	}
	if err := s.hub.data.RecordMessage(ctx, room.ID, store.Preview(msg.Content), time.UnixMilli(msg.SentAt)); err != nil {
		s.log.Error().Err(err).Str("room_id", room.ID).Msg("Failed to record room activity")
	}
	metrics.MessagesPosted.Inc()

	ev, err := protocol.NewMessageEvent(msg)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode message event")
		return
	}
	s.hub.Publish(ev)

	counterpart, ok := room.Counterpart(s.user.ID)
	if !ok {
		return
	}
	roomCount, totalCount, err := s.hub.messages.IncrementUnread(ctx, counterpart.UserID, room.ID)
	if err != nil {
		s.log.Error().Err(err).Str("room_id", room.ID).Msg("Failed to increment unread counter")
		return
	}
	unread, err := protocol.NewUnreadEvent(protocol.UnreadEvent{
		RoomID:           room.ID,
		RoomUnreadCount:  roomCount,
		TotalUnreadCount: totalCount,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode unread event")
		return
	}
	s.hub.SendToUser(counterpart.UserID, unread)
}

func (s *Session) handleJoin(ctx context.Context, cmd protocol.Command) {
	p, err := cmd.DecodeJoin()
	if err != nil || p.RoomID == "" {
		s.sendError("malformed join payload")
		return
	}
	if s.roomFor(ctx, p.RoomID) == nil {
		return
	}

	total, err := s.hub.messages.ClearUnread(ctx, s.user.ID, p.RoomID)
	if err != nil {
		s.log.Error().Err(err).Str("room_id", p.RoomID).Msg("Failed to clear unread counter")
		return
	}
	ev, err := protocol.NewUnreadEvent(protocol.UnreadEvent{
		RoomID:           p.RoomID,
		RoomUnreadCount:  0,
		TotalUnreadCount: total,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode unread event")
		return
	}
	s.hub.SendToUser(s.user.ID, ev)
}

func (s *Session) handleTyping(ctx context.Context, cmd protocol.Command) {
	p, err := cmd.DecodeTyping()
	if err != nil || p.RoomID == "" {
		s.sendError("malformed typing payload")
		return
	}
	if s.roomFor(ctx, p.RoomID) == nil {
		return
	}

	ev, err := protocol.NewTypingEvent(protocol.TypingEvent{
		UserID: s.user.ID.String(),
		RoomID: p.RoomID,
		Typing: p.Typing,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode typing event")
		return
	}
	s.hub.Publish(ev)
}

// roomFor loads a room and checks the session's user is a participant.
// It pushes an error event and returns nil when access fails.
func (s *Session) roomFor(ctx context.Context, roomID string) *models.Room {
	room, err := s.hub.data.GetRoom(ctx, roomID)
	if err != nil {
		s.log.Error().Err(err).Str("room_id", roomID).Msg("Failed to load room")
		s.sendError("internal error")
		return nil
	}
	if room == nil || !room.HasParticipant(s.user.ID) {
		s.sendError("room not found: " + roomID)
		return nil
	}
	return room
}

func (s *Session) sendError(message string) {
	ev, err := protocol.NewErrorEvent(message)
	if err != nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.push(ev.Kind, data)
}

// push queues a frame without blocking. Full buffer drops the frame;
// a closed session ignores it.
func (s *Session) push(kind protocol.EventKind, data []byte) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- data:
		metrics.EventsDelivered.WithLabelValues(string(kind)).Inc()
	default:
		metrics.EventsDropped.WithLabelValues(string(kind)).Inc()
		s.log.Warn().Str("kind", string(kind)).Msg("Dropped frame, send buffer full")
	}
}

// closeSend marks the session closed and releases the write pump.
// Called by the hub during unregister.
func (s *Session) closeSend() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}
