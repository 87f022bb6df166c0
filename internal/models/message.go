package models

// MessageTypeText is the only message type currently on the wire.
const MessageTypeText = "text"

// Message represents a chat message stored in Redis.
//
// IDs are ULIDs, so they sort lexicographically in creation order and
// tie-break messages that share a timestamp.
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

// Before reports whether m sorts before other in the room's total
// order: ascending (SentAt, ID).
func (m *Message) Before(other *Message) bool {
	if m.SentAt != other.SentAt {
		return m.SentAt < other.SentAt
	}
	return m.ID < other.ID
}
