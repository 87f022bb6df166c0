package models

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies which side of a conversation a user is on.
type Role string

const (
	RoleCustomer        Role = "CUSTOMER"
	RoleRestaurantOwner Role = "RESTAURANT_OWNER"
	RoleAdmin           Role = "ADMIN"
	RoleAIAssistant     Role = "AI_ASSISTANT"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleRestaurantOwner, RoleAdmin, RoleAIAssistant:
		return true
	}
	return false
}

// User represents a chat participant. Identity is resolved by the
// fronting session layer; this record only carries what the chat
// service needs for display and routing.
type User struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"displayName"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
