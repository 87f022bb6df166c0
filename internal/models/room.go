package models

import (
	"time"

	"github.com/google/uuid"
)

// Room is a conversation between exactly two participants. Rooms are
// created server-side on first contact and never deleted, only archived
// per participant.
type Room struct {
	ID            string     `json:"roomId"`
	Participants  [2]Member  `json:"participants"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastActiveAt  time.Time  `json:"lastActiveAt"`
	LastMessage   string     `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	MessageCount  int64      `json:"messageCount"`
}

// Member is one side of a room.
type Member struct {
	UserID      uuid.UUID `json:"userId"`
	DisplayName string    `json:"displayName"`
	Role        Role      `json:"role"`
	Archived    bool      `json:"archived"`
}

// HasParticipant reports whether the user is one of the two members.
func (r *Room) HasParticipant(userID uuid.UUID) bool {
	return r.Participants[0].UserID == userID || r.Participants[1].UserID == userID
}

// Counterpart returns the member that is not userID. The second return
// is false when userID is not a participant at all.
func (r *Room) Counterpart(userID uuid.UUID) (Member, bool) {
	switch userID {
	case r.Participants[0].UserID:
		return r.Participants[1], true
	case r.Participants[1].UserID:
		return r.Participants[0], true
	}
	return Member{}, false
}
