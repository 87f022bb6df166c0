// Package protocol defines the WebSocket wire format shared by the hub
// and the client library: client commands going up, tagged events
// coming down.
//
// Events carry an explicit kind discriminator. Chat messages, typing
// signals, unread deltas and errors are distinct frame kinds rather
// than payload shapes sniffed off a shared topic.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tablechat-io/tablechat/internal/models"
)

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

// ErrUnknownKind is returned when a frame's discriminator is not recognized.
var ErrUnknownKind = errors.New("protocol: unknown frame kind")

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

// UnreadEvent is an authoritative unread-counter snapshot for one room
// plus the user's global total. Counters overwrite client state, they
// are never increments.
type UnreadEvent struct {
	RoomID           string `json:"roomId"`
	RoomUnreadCount  int64  `json:"roomUnreadCount"`
	TotalUnreadCount int64  `json:"totalUnreadCount"`
}

// ErrorEvent is a server-pushed application error for the user's queue.
type ErrorEvent struct {
	Message string `json:"message"`
}

// Command is a client-to-server frame.
type Command struct {
	Kind CommandKind     `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SubscribePayload names a topic for subscribe/unsubscribe.
type SubscribePayload struct {
	Topic string `json:"topic"`
}

// SendPayload posts a message to a room.
type SendPayload struct {
	RoomID      string `json:"roomId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
}

// JoinPayload announces room focus; the server marks the room read.
type JoinPayload struct {
	RoomID string `json:"roomId"`
}

// TypingPayload reports local typing activity.
type TypingPayload struct {
	RoomID string `json:"roomId"`
	Typing bool   `json:"typing"`
}

// RoomMessagesTopic is the broadcast topic for a room's chat messages.
func RoomMessagesTopic(roomID string) string {
	return "room." + roomID + ".messages"
}

// RoomTypingTopic is the broadcast topic for a room's typing signals.
func RoomTypingTopic(roomID string) string {
	return "room." + roomID + ".typing"
}

// ParseRoomTopic extracts the room ID from a room topic. ok is false
// for anything that is not a room messages or typing topic.
func ParseRoomTopic(topic string) (roomID string, ok bool) {
	rest, found := strings.CutPrefix(topic, "room.")
	if !found {
		return "", false
	}
	if id, found := strings.CutSuffix(rest, ".messages"); found && id != "" {
		return id, true
	}
	if id, found := strings.CutSuffix(rest, ".typing"); found && id != "" {
		return id, true
	}
	return "", false
}

// NewMessageEvent wraps a stored message for the room's message topic.
func NewMessageEvent(msg *models.Message) (Event, error) {
	return newEvent(EventMessage, RoomMessagesTopic(msg.RoomID), msg)
}

// NewTypingEvent wraps a typing signal for the room's typing topic.
func NewTypingEvent(t TypingEvent) (Event, error) {
	return newEvent(EventTyping, RoomTypingTopic(t.RoomID), t)
}

// NewUnreadEvent wraps an unread delta for a user queue.
func NewUnreadEvent(u UnreadEvent) (Event, error) {
	return newEvent(EventUnread, "", u)
}

// NewErrorEvent wraps an application error for a user queue.
func NewErrorEvent(message string) (Event, error) {
	return newEvent(EventError, "", ErrorEvent{Message: message})
}

func newEvent(kind EventKind, topic string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s event: %w", kind, err)
	}
	return Event{Kind: kind, Topic: topic, Data: data}, nil
}

// DecodeMessage decodes the payload of a message event.
func (e Event) DecodeMessage() (models.Message, error) {
	if e.Kind != EventMessage {
		return models.Message{}, fmt.Errorf("%w: want %s, got %s", ErrUnknownKind, EventMessage, e.Kind)
	}
	var msg models.Message
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

// NewSubscribe builds a subscribe command for a topic.
func NewSubscribe(topic string) Command {
	return mustCommand(CmdSubscribe, SubscribePayload{Topic: topic})
}

// NewUnsubscribe builds an unsubscribe command for a topic.
func NewUnsubscribe(topic string) Command {
	return mustCommand(CmdUnsubscribe, SubscribePayload{Topic: topic})
}

// NewSend builds a send command.
func NewSend(roomID, content, messageType string) Command {
	return mustCommand(CmdSend, SendPayload{RoomID: roomID, Content: content, MessageType: messageType})
}

// NewJoin builds a join command.
func NewJoin(roomID string) Command {
	return mustCommand(CmdJoin, JoinPayload{RoomID: roomID})
}

// NewTyping builds a typing command.
func NewTyping(roomID string, typing bool) Command {
	return mustCommand(CmdTyping, TypingPayload{RoomID: roomID, Typing: typing})
}

func mustCommand(kind CommandKind, payload any) Command {
	// The payload structs contain only strings and bools; marshaling
	// cannot fail.
	data, _ := json.Marshal(payload)
	return Command{Kind: kind, Data: data}
}

// DecodeSubscribe decodes a subscribe/unsubscribe payload.
func (c Command) DecodeSubscribe() (SubscribePayload, error) {
	var p SubscribePayload
	err := json.Unmarshal(c.Data, &p)
	return p, err
}

// DecodeSend decodes a send payload.
func (c Command) DecodeSend() (SendPayload, error) {
	var p SendPayload
	err := json.Unmarshal(c.Data, &p)
	return p, err
}

// DecodeJoin decodes a join payload.
func (c Command) DecodeJoin() (JoinPayload, error) {
	var p JoinPayload
	err := json.Unmarshal(c.Data, &p)
	return p, err
}

// DecodeTyping decodes a typing payload.
func (c Command) DecodeTyping() (TypingPayload, error) {
	var p TypingPayload
	err := json.Unmarshal(c.Data, &p)
	return p, err
}
