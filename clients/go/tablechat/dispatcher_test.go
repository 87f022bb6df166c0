package tablechat

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type recordingNotifier struct {
	mu     sync.Mutex
	toasts []string
}

func (n *recordingNotifier) Toast(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toasts = append(n.toasts, message)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.toasts)
}

type dispatcherHarness struct {
	dispatcher *Dispatcher
	unread     *UnreadTracker
	notifier   *recordingNotifier

	mu       sync.Mutex
	messages []Message
	previews []Message
	typing   []bool
}

func newDispatcherHarness(localUserID string) *dispatcherHarness {
	h := &dispatcherHarness{
		unread:   NewUnreadTracker(nil, nil),
		notifier: &recordingNotifier{},
	}
	h.dispatcher = NewDispatcher(DispatcherOptions{
		LocalUserID: localUserID,
		Logger:      zerolog.Nop(),
		Unread:      h.unread,
		Notifier:    h.notifier,
		OnMessage: func(msg Message) {
			h.mu.Lock()
			h.messages = append(h.messages, msg)
			h.mu.Unlock()
		},
		OnPreview: func(msg Message) {
			h.mu.Lock()
			h.previews = append(h.previews, msg)
			h.mu.Unlock()
		},
		OnTyping: func(_ string, typing bool) {
			h.mu.Lock()
			h.typing = append(h.typing, typing)
			h.mu.Unlock()
		},
	})
	return h
}

func messageEvent(t *testing.T, msg Message) Event {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	return Event{Kind: EventMessage, Topic: RoomMessagesTopic(msg.RoomID), Data: data}
}

func typingEvent(t *testing.T, te TypingEvent) Event {
	t.Helper()
	data, err := json.Marshal(te)
	if err != nil {
		t.Fatal(err)
	}
	return Event{Kind: EventTyping, Topic: RoomTypingTopic(te.RoomID), Data: data}
}

func unreadEvent(t *testing.T, ue UnreadEvent) Event {
	t.Helper()
	data, err := json.Marshal(ue)
	if err != nil {
		t.Fatal(err)
	}
	return Event{Kind: EventUnread, Data: data}
}

func TestMalformedMessageFrameDroppedStreamContinues(t *testing.T) {
	h := newDispatcherHarness("me")
	h.dispatcher.SetFocusedRoom("room-1")

	good := Message{ID: "01A", RoomID: "room-1", SenderName: "Alice", Content: "hi", SentAt: 1000}
	missingSender := Message{ID: "01B", RoomID: "room-1", Content: "hi", SentAt: 1001}
	missingContent := Message{ID: "01C", RoomID: "room-1", SenderName: "Alice", SentAt: 1002}
	after := Message{ID: "01D", RoomID: "room-1", SenderName: "Alice", Content: "still here", SentAt: 1003}

	h.dispatcher.Dispatch(messageEvent(t, good))
	h.dispatcher.Dispatch(messageEvent(t, missingSender))
	h.dispatcher.Dispatch(messageEvent(t, missingContent))
	h.dispatcher.Dispatch(Event{Kind: EventMessage, Data: []byte(`{broken`)})
	h.dispatcher.Dispatch(messageEvent(t, after))

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.messages) != 2 {
		t.Fatalf("expected 2 rendered messages, got %d", len(h.messages))
	}
	if h.messages[0].ID != "01A" || h.messages[1].ID != "01D" {
		t.Fatalf("unexpected messages %v", h.messages)
	}
}

func TestMessageForOtherRoomFeedsPreviewOnly(t *testing.T) {
	h := newDispatcherHarness("me")
	h.dispatcher.SetFocusedRoom("room-1")

	other := Message{ID: "01A", RoomID: "room-2", SenderName: "Bob", Content: "elsewhere", SentAt: 1000}
	h.dispatcher.Dispatch(messageEvent(t, other))

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.messages) != 0 {
		t.Fatalf("message for unfocused room must not render, got %d", len(h.messages))
	}
	if len(h.previews) != 1 {
		t.Fatalf("expected 1 preview, got %d", len(h.previews))
	}
}

func TestOwnTypingEchoIgnored(t *testing.T) {
	h := newDispatcherHarness("me")
	h.dispatcher.SetFocusedRoom("room-1")

	h.dispatcher.Dispatch(typingEvent(t, TypingEvent{UserID: "me", RoomID: "room-1", Typing: true}))
	h.dispatcher.Dispatch(typingEvent(t, TypingEvent{UserID: "peer", RoomID: "room-1", Typing: true}))
	h.dispatcher.Dispatch(typingEvent(t, TypingEvent{UserID: "peer", RoomID: "room-2", Typing: true}))

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.typing) != 1 || !h.typing[0] {
		t.Fatalf("expected exactly one typing=true, got %v", h.typing)
	}
}

func TestUnreadDeltaUpdatesTrackerAndToastsWhenUnfocused(t *testing.T) {
	h := newDispatcherHarness("me")
	h.dispatcher.SetFocusedRoom("room-1")

	h.dispatcher.Dispatch(unreadEvent(t, UnreadEvent{RoomID: "room-2", RoomUnreadCount: 3, TotalUnreadCount: 3}))

	if got := h.unread.RoomCount("room-2"); got != 3 {
		t.Fatalf("expected room count 3, got %d", got)
	}
	if got := h.unread.Total(); got != 3 {
		t.Fatalf("expected total 3, got %d", got)
	}
	if h.notifier.count() != 1 {
		t.Fatalf("expected one toast, got %d", h.notifier.count())
	}

	// A delta for the focused room updates counters silently.
	h.dispatcher.Dispatch(unreadEvent(t, UnreadEvent{RoomID: "room-1", RoomUnreadCount: 1, TotalUnreadCount: 4}))
	if h.notifier.count() != 1 {
		t.Fatalf("focused-room delta must not toast, got %d", h.notifier.count())
	}

	// A zero-count delta is a mark-read echo from another session, not
	// new activity, even when the room is unfocused.
	h.dispatcher.Dispatch(unreadEvent(t, UnreadEvent{RoomID: "room-2", RoomUnreadCount: 0, TotalUnreadCount: 1}))
	if h.notifier.count() != 1 {
		t.Fatalf("mark-read echo must not toast, got %d", h.notifier.count())
	}
	if got := h.unread.RoomCount("room-2"); got != 0 {
		t.Fatalf("echo must still clear the counter, got %d", got)
	}
}

func TestServerErrorSurfacesAsToast(t *testing.T) {
	h := newDispatcherHarness("me")

	data, _ := json.Marshal(ErrorEvent{Message: "room not found: nope"})
	h.dispatcher.Dispatch(Event{Kind: EventError, Data: data})

	if h.notifier.count() != 1 {
		t.Fatalf("expected one toast, got %d", h.notifier.count())
	}
}

func TestUnknownFrameKindDropped(t *testing.T) {
	h := newDispatcherHarness("me")
	h.dispatcher.SetFocusedRoom("room-1")

	h.dispatcher.Dispatch(Event{Kind: "presence", Data: []byte(`{}`)})

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.messages) != 0 || len(h.typing) != 0 || h.notifier.count() != 0 {
		t.Fatal("unknown kinds must be dropped silently")
	}
}
