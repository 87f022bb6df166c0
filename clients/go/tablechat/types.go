package tablechat

import (
	"encoding/json"
	"time"
)

// Role is a participant role as the server reports it.
type Role string

const (
	RoleCustomer        Role = "CUSTOMER"
	RoleRestaurantOwner Role = "RESTAURANT_OWNER"
	RoleAdmin           Role = "ADMIN"
	RoleAIAssistant     Role = "AI_ASSISTANT"
)

// Message represents a chat message.
type Message struct {
	ID          string `json:"messageId"`
	RoomID      string `json:"roomId"`
	SenderID    string `json:"senderId"`
	SenderName  string `json:"senderName"`
	SenderRole  Role   `json:"senderRole"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	SentAt      int64  `json:"sentAt"` // Unix ms
}

// Valid reports whether the message carries everything a well-formed
// frame must have. Frames failing this are dropped, not rendered.
func (m *Message) Valid() bool {
	return m.ID != "" && m.Content != "" && m.SenderName != "" && m.SentAt != 0
}

// Before reports whether m sorts before other: ascending (SentAt, ID).
func (m *Message) Before(other *Message) bool {
	if m.SentAt != other.SentAt {
		return m.SentAt < other.SentAt
	}
	return m.ID < other.ID
}

// Member is one side of a room.
type Member struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
	Archived    bool   `json:"archived"`
}

// Room is a conversation between exactly two participants.
type Room struct {
	ID            string     `json:"roomId"`
	Participants  [2]Member  `json:"participants"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastActiveAt  time.Time  `json:"lastActiveAt"`
	LastMessage   string     `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	MessageCount  int64      `json:"messageCount"`
}

// RoomSummary is one row of the caller's room list.
type RoomSummary struct {
	RoomID        string     `json:"roomId"`
	Counterpart   Member     `json:"counterpart"`
	LastMessage   string     `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	LastActiveAt  time.Time  `json:"lastActiveAt"`
	MessageCount  int64      `json:"messageCount"`
	UnreadCount   int64      `json:"unreadCount"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// EventKind discriminates server-to-client frames.
type EventKind string

const (
	EventMessage EventKind = "message"
	EventTyping  EventKind = "typing"
	EventUnread  EventKind = "unread"
	EventError   EventKind = "error"
)

// CommandKind discriminates client-to-server frames.
type CommandKind string

const (
	CmdSubscribe   CommandKind = "subscribe"
	CmdUnsubscribe CommandKind = "unsubscribe"
	CmdSend        CommandKind = "send"
	CmdJoin        CommandKind = "join"
	CmdTyping      CommandKind = "typing"
)

// Event is a server-to-client frame. Data decodes into the payload
// type matching Kind.
type Event struct {
	Kind  EventKind       `json:"kind"`
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// TypingEvent signals that a user started or stopped typing in a room.
type TypingEvent struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
	Typing bool   `json:"typing"`
}

// UnreadEvent is an authoritative unread snapshot for one room plus
// the user's global total.
type UnreadEvent struct {
	RoomID           string `json:"roomId"`
	RoomUnreadCount  int64  `json:"roomUnreadCount"`
	TotalUnreadCount int64  `json:"totalUnreadCount"`
}

// ErrorEvent is a server-pushed application error.
type ErrorEvent struct {
	Message string `json:"message"`
}

// DecodeMessage decodes the payload of a message event.
func (e Event) DecodeMessage() (Message, error) {
	var msg Message
	err := json.Unmarshal(e.Data, &msg)
	return msg, err
}

// DecodeTyping decodes the payload of a typing event.
func (e Event) DecodeTyping() (TypingEvent, error) {
	var t TypingEvent
	err := json.Unmarshal(e.Data, &t)
	return t, err
}

// DecodeUnread decodes the payload of an unread event.
func (e Event) DecodeUnread() (UnreadEvent, error) {
	var u UnreadEvent
	err := json.Unmarshal(e.Data, &u)
	return u, err
}

// DecodeError decodes the payload of an error event.
func (e Event) DecodeError() (ErrorEvent, error) {
	var ee ErrorEvent
	err := json.Unmarshal(e.Data, &ee)
	return ee, err
}

// Command is a client-to-server frame.
type Command struct {
	Kind CommandKind     `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RoomMessagesTopic is the broadcast topic for a room's chat messages.
func RoomMessagesTopic(roomID string) string {
	return "room." + roomID + ".messages"
}

// RoomTypingTopic is the broadcast topic for a room's typing signals.
func RoomTypingTopic(roomID string) string {
	return "room." + roomID + ".typing"
}

// NewSubscribe builds a subscribe command for a topic.
func NewSubscribe(topic string) Command {
	return newCommand(CmdSubscribe, map[string]string{"topic": topic})
}

// NewUnsubscribe builds an unsubscribe command for a topic.
func NewUnsubscribe(topic string) Command {
	return newCommand(CmdUnsubscribe, map[string]string{"topic": topic})
}

// NewSend builds a send command.
func NewSend(roomID, content string) Command {
	return newCommand(CmdSend, map[string]string{"roomId": roomID, "content": content})
}

// NewJoin builds a join command.
func NewJoin(roomID string) Command {
	return newCommand(CmdJoin, map[string]string{"roomId": roomID})
}

// NewTyping builds a typing command.
func NewTyping(roomID string, typing bool) Command {
	return newCommand(CmdTyping, map[string]any{"roomId": roomID, "typing": typing})
}

func newCommand(kind CommandKind, payload any) Command {
	data, _ := json.Marshal(payload)
	return Command{Kind: kind, Data: data}
}
