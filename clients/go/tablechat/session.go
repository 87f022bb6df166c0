package tablechat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoRoomFocused is returned by room-scoped operations while no room
// is focused.
var ErrNoRoomFocused = errors.New("tablechat: no room focused")

// defaultTypingDebounce is how long after the last keystroke the
// "stopped typing" signal goes out.
const defaultTypingDebounce = time.Second

// Sender is the outbound half of the connection manager.
type Sender interface {
	Send(Command) error
}

// MarkReadFunc clears a room's unread counter server-side.
// (*Client).MarkRead satisfies it.
type MarkReadFunc func(ctx context.Context, roomID string) (UnreadEvent, error)

// SessionOptions wires a Session's collaborators. Everything is passed
// in explicitly; the session holds no ambient state of its own.
type SessionOptions struct {
	Conn       Sender
	Dispatcher *Dispatcher
	History    *HistoryFetcher
	Unread     *UnreadTracker
	MarkRead   MarkReadFunc
	Logger     zerolog.Logger

	// TypingDebounce overrides the stop-typing delay. Defaults to 1s.
	TypingDebounce time.Duration
}

// Session drives one focused room at a time: it owns the room's
// subscriptions, history cursor, read state and the local typing
// debounce. Focusing a different room unwinds the previous one first.
type Session struct {
	opts SessionOptions
	log  zerolog.Logger

	mu          sync.Mutex
	roomID      string
	typing      bool
	typingTimer *time.Timer
}

// NewSession creates a session. No room is focused until Focus.
func NewSession(opts SessionOptions) *Session {
	if opts.TypingDebounce <= 0 {
		opts.TypingDebounce = defaultTypingDebounce
	}
	return &Session{
		opts: opts,
		log:  opts.Logger.With().Str("component", "session").Logger(),
	}
}

// Room returns the focused room id, empty when none.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Focus switches the session to a room: it unsubscribes the previous
// room's topics, resets the history cursor, subscribes the new room,
// marks it read and loads the first page. Focusing the already-focused
// room is a no-op.
func (s *Session) Focus(ctx context.Context, roomID string) error {
	s.mu.Lock()
	if s.roomID == roomID {
		s.mu.Unlock()
		return nil
	}
	previous := s.roomID
	s.roomID = roomID
	s.stopTypingLocked()
	s.mu.Unlock()

	if previous != "" {
		s.unsubscribeRoom(previous)
	}

	s.opts.Dispatcher.SetFocusedRoom(roomID)
	s.opts.History.Reset(roomID)
	if roomID == "" {
		return nil
	}

	s.subscribeRoom(roomID)

	// Joining tells the server to zero the room's counter and push the
	// delta; the REST call covers the case where the socket is down.
	if err := s.opts.Conn.Send(NewJoin(roomID)); err != nil {
		s.log.Debug().Err(err).Msg("join not sent")
	}

	// The room reads as read only once its history is on screen.
	if _, err := s.opts.History.LoadPage(ctx); err != nil {
		return err
	}
	s.markRead(ctx, roomID)
	return nil
}

// Blur unfocuses the current room and unwinds its subscriptions.
func (s *Session) Blur(ctx context.Context) error {
	return s.Focus(ctx, "")
}

// LoadOlder fetches the next older history page. Returns the number of
// messages prepended, so the UI can restore scroll position.
func (s *Session) LoadOlder(ctx context.Context) (int, error) {
	return s.opts.History.LoadPage(ctx)
}

// SendMessage posts to the focused room over the live connection.
// While disconnected it fails with ErrNotConnected; nothing is queued.
func (s *Session) SendMessage(content string) error {
	s.mu.Lock()
	roomID := s.roomID
	s.mu.Unlock()
	if roomID == "" {
		return ErrNoRoomFocused
	}
	return s.opts.Conn.Send(NewSend(roomID, content))
}

// MarkRead re-clears the focused room's counter, for explicit UI
// actions like clicking the badge.
func (s *Session) MarkRead(ctx context.Context) {
	s.mu.Lock()
	roomID := s.roomID
	s.mu.Unlock()
	if roomID != "" {
		s.markRead(ctx, roomID)
	}
}

// TypingActivity records one local keystroke. The first call sends
// "typing started"; the stop signal goes out one debounce interval
// after the last call. Repeated keystrokes just push the timer back.
func (s *Session) TypingActivity() {
	s.mu.Lock()
	roomID := s.roomID
	if roomID == "" {
		s.mu.Unlock()
		return
	}

	start := !s.typing
	s.typing = true
	if s.typingTimer == nil {
		s.typingTimer = time.AfterFunc(s.opts.TypingDebounce, s.typingStopped)
	} else {
		s.typingTimer.Reset(s.opts.TypingDebounce)
	}
	s.mu.Unlock()

	if start {
		if err := s.opts.Conn.Send(NewTyping(roomID, true)); err != nil {
			s.log.Debug().Err(err).Msg("typing signal not sent")
		}
	}
}

// Resubscribe replays the focused room's subscriptions and read state.
// Wire it to the connection manager's OnConnect: subscriptions do not
// survive a reconnect.
func (s *Session) Resubscribe() {
	s.mu.Lock()
	roomID := s.roomID
	s.mu.Unlock()
	if roomID == "" {
		return
	}
	s.subscribeRoom(roomID)
	if err := s.opts.Conn.Send(NewJoin(roomID)); err != nil {
		s.log.Debug().Err(err).Msg("join not sent")
	}
}

func (s *Session) subscribeRoom(roomID string) {
	for _, topic := range []string{RoomMessagesTopic(roomID), RoomTypingTopic(roomID)} {
		if err := s.opts.Conn.Send(NewSubscribe(topic)); err != nil {
			s.log.Debug().Err(err).Str("topic", topic).Msg("subscribe not sent")
		}
	}
}

func (s *Session) unsubscribeRoom(roomID string) {
	for _, topic := range []string{RoomMessagesTopic(roomID), RoomTypingTopic(roomID)} {
		if err := s.opts.Conn.Send(NewUnsubscribe(topic)); err != nil {
			s.log.Debug().Err(err).Str("topic", topic).Msg("unsubscribe not sent")
		}
	}
}

// markRead zeroes the counter locally first, then confirms with the
// server; its response is authoritative either way.
func (s *Session) markRead(ctx context.Context, roomID string) {
	if s.opts.Unread != nil {
		s.opts.Unread.MarkRead(roomID)
	}
	if s.opts.MarkRead == nil {
		return
	}
	delta, err := s.opts.MarkRead(ctx, roomID)
	if err != nil {
		s.log.Debug().Err(err).Str("room_id", roomID).Msg("mark read failed")
		return
	}
	if s.opts.Unread != nil {
		s.opts.Unread.ApplyDelta(delta)
	}
}

// typingStopped fires when the debounce timer expires.
func (s *Session) typingStopped() {
	s.mu.Lock()
	roomID := s.roomID
	wasTyping := s.typing
	s.typing = false
	s.typingTimer = nil
	s.mu.Unlock()

	if wasTyping && roomID != "" {
		if err := s.opts.Conn.Send(NewTyping(roomID, false)); err != nil {
			s.log.Debug().Err(err).Msg("typing signal not sent")
		}
	}
}

// stopTypingLocked cancels the debounce without emitting a stop
// signal. Caller holds s.mu.
func (s *Session) stopTypingLocked() {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.typing = false
}
