package tablechat

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// typingHideAfter auto-clears a stuck typing indicator if the peer's
// "stopped" signal never arrives.
const typingHideAfter = 30 * time.Second

// Notifier surfaces out-of-band feedback to the user interface.
type Notifier interface {
	Toast(message string)
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// LocalUserID filters the user's own typing echoes.
	LocalUserID string

	Logger   zerolog.Logger
	Unread   *UnreadTracker
	Notifier Notifier

	// OnMessage receives well-formed messages for the focused room.
	OnMessage func(Message)

	// OnPreview receives every well-formed message regardless of
	// focus, for room-list previews.
	OnPreview func(Message)

	// OnTyping reports the focused room's typing indicator state.
	OnTyping func(userID string, typing bool)
}

// Dispatcher routes incoming frames by kind. Malformed message frames
// are dropped without rendering; unknown kinds are dropped too. Frames
// for rooms other than the focused one still feed previews and unread
// state but never the message pane.
type Dispatcher struct {
	opts DispatcherOptions
	log  zerolog.Logger

	mu          sync.Mutex
	focusedRoom string
	typingTimer *time.Timer
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	return &Dispatcher{
		opts: opts,
		log:  opts.Logger.With().Str("component", "dispatcher").Logger(),
	}
}

// SetFocusedRoom changes which room's messages and typing signals
// reach the UI callbacks. Empty means no room focused.
func (d *Dispatcher) SetFocusedRoom(roomID string) {
	d.mu.Lock()
	d.focusedRoom = roomID
	d.stopTypingTimerLocked()
	d.mu.Unlock()
}

// FocusedRoom returns the currently focused room id.
func (d *Dispatcher) FocusedRoom() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.focusedRoom
}

// Dispatch routes one frame. Safe to call from the connection
// manager's event callback.
func (d *Dispatcher) Dispatch(ev Event) {
	switch ev.Kind {
	case EventMessage:
		d.dispatchMessage(ev)
	case EventTyping:
		d.dispatchTyping(ev)
	case EventUnread:
		d.dispatchUnread(ev)
	case EventError:
		d.dispatchError(ev)
	default:
		d.log.Debug().Str("kind", string(ev.Kind)).Msg("dropped frame of unknown kind")
	}
}

func (d *Dispatcher) dispatchMessage(ev Event) {
	msg, err := ev.DecodeMessage()
	if err != nil || !msg.Valid() {
		d.log.Debug().Str("topic", ev.Topic).Msg("dropped malformed message frame")
		return
	}

	if d.opts.OnPreview != nil {
		d.opts.OnPreview(msg)
	}

	d.mu.Lock()
	focused := d.focusedRoom == msg.RoomID
	d.mu.Unlock()
	if focused && d.opts.OnMessage != nil {
		d.opts.OnMessage(msg)
	}
}

func (d *Dispatcher) dispatchTyping(ev Event) {
	t, err := ev.DecodeTyping()
	if err != nil {
		d.log.Debug().Msg("dropped malformed typing frame")
		return
	}
	if t.UserID == d.opts.LocalUserID {
		return
	}

	d.mu.Lock()
	if t.RoomID != d.focusedRoom {
		d.mu.Unlock()
		return
	}
	d.stopTypingTimerLocked()
	if t.Typing {
		userID := t.UserID
		d.typingTimer = time.AfterFunc(typingHideAfter, func() {
			d.hideTyping(userID)
		})
	}
	d.mu.Unlock()

	if d.opts.OnTyping != nil {
		d.opts.OnTyping(t.UserID, t.Typing)
	}
}

// hideTyping fires when the auto-hide timer expires.
func (d *Dispatcher) hideTyping(userID string) {
	d.mu.Lock()
	d.typingTimer = nil
	d.mu.Unlock()
	if d.opts.OnTyping != nil {
		d.opts.OnTyping(userID, false)
	}
}

func (d *Dispatcher) dispatchUnread(ev Event) {
	delta, err := ev.DecodeUnread()
	if err != nil {
		d.log.Debug().Msg("dropped malformed unread frame")
		return
	}

	if d.opts.Unread != nil {
		d.opts.Unread.ApplyDelta(delta)
	}

	d.mu.Lock()
	focused := d.focusedRoom == delta.RoomID
	d.mu.Unlock()
	// A zero-count delta is a mark-read echo from another of the user's
	// sessions, not new activity, so it never toasts.
	if !focused && delta.RoomUnreadCount > 0 && d.opts.Notifier != nil {
		d.opts.Notifier.Toast("New message")
	}
}

func (d *Dispatcher) dispatchError(ev Event) {
	errEv, err := ev.DecodeError()
	if err != nil {
		return
	}
	d.log.Warn().Str("message", errEv.Message).Msg("server error")
	if d.opts.Notifier != nil {
		d.opts.Notifier.Toast(errEv.Message)
	}
}

// stopTypingTimerLocked cancels a pending auto-hide. Caller holds d.mu.
func (d *Dispatcher) stopTypingTimerLocked() {
	if d.typingTimer != nil {
		d.typingTimer.Stop()
		d.typingTimer = nil
	}
}
