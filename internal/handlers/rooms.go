package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tablechat-io/tablechat/internal/api/middleware"
	"github.com/tablechat-io/tablechat/internal/metrics"
	"github.com/tablechat-io/tablechat/internal/models"
)

// RoomSummary is one row of the caller's room list: the room seen from
// their side, with the counterpart and the caller's unread count.
type RoomSummary struct {
	RoomID        string         `json:"roomId"`
	Counterpart   models.Member  `json:"counterpart"`
	LastMessage   string         `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time     `json:"lastMessageAt,omitempty"`
	LastActiveAt  time.Time      `json:"lastActiveAt"`
	MessageCount  int64          `json:"messageCount"`
	UnreadCount   int64          `json:"unreadCount"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// ListRooms returns the caller's non-archived rooms, most recently
// active first.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUserFromContext(ctx)

	page, size := h.pageParams(r)
	rooms, err := h.data.ListRoomsForUser(ctx, user.ID, size, page*size)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}

	unread, _, err := h.messages.UnreadCounts(ctx, user.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load unread counters")
		return
	}

	summaries := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		counterpart, ok := room.Counterpart(user.ID)
		if !ok {
			continue
		}
		summaries = append(summaries, RoomSummary{
			RoomID:        room.ID,
			Counterpart:   counterpart,
			LastMessage:   room.LastMessage,
			LastMessageAt: room.LastMessageAt,
			LastActiveAt:  room.LastActiveAt,
			MessageCount:  room.MessageCount,
			UnreadCount:   unread[room.ID],
			CreatedAt:     room.CreatedAt,
		})
	}

	h.JSON(w, http.StatusOK, summaries)
}

// CreateRoomRequest names the other party of a room.
type CreateRoomRequest struct {
	CounterpartID   string `json:"counterpartId"`
	CounterpartName string `json:"counterpartName"`
	CounterpartRole string `json:"counterpartRole"`
}

// CreateRoom finds or creates the room between the caller and the
// named counterpart. Creation is idempotent: repeated calls for the
// same pair return the same room.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUserFromContext(ctx)

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	counterpartID, err := uuid.Parse(req.CounterpartID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid counterpartId")
		return
	}
	if counterpartID == user.ID {
		h.Error(w, http.StatusBadRequest, "cannot open a room with yourself")
		return
	}

	role := models.Role(req.CounterpartRole)
	if !role.Valid() {
		h.Error(w, http.StatusBadRequest, "invalid counterpartRole")
		return
	}

	existing, err := h.data.GetRoomByParticipants(ctx, user.ID, counterpartID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to look up room")
		return
	}
	if existing != nil {
		h.JSON(w, http.StatusOK, existing)
		return
	}

	counterpart := &models.User{
		ID:          counterpartID,
		DisplayName: req.CounterpartName,
		Role:        role,
	}
	if counterpart.DisplayName == "" {
		counterpart.DisplayName = counterpartID.String()
	}
	if err := h.data.UpsertUser(ctx, counterpart); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to store counterpart")
		return
	}

	room, err := h.data.CreateRoom(ctx,
		models.Member{UserID: user.ID, DisplayName: user.DisplayName, Role: user.Role},
		models.Member{UserID: counterpart.ID, DisplayName: counterpart.DisplayName, Role: counterpart.Role},
	)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create room")
		return
	}
	metrics.RoomsCreated.Inc()

	h.JSON(w, http.StatusCreated, room)
}

// ArchiveRequest toggles a room's archived flag for the caller.
type ArchiveRequest struct {
	Archived bool `json:"archived"`
}

// Archive hides or restores a room for the caller only; the other
// participant's view does not change.
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUserFromContext(ctx)
	roomID := chi.URLParam(r, "id")

	room := h.roomFor(w, r, roomID)
	if room == nil {
		return
	}

	req := ArchiveRequest{Archived: true}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.Error(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	if err := h.data.SetArchived(ctx, room.ID, user.ID, req.Archived); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to update room")
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{
		"roomId":   room.ID,
		"archived": req.Archived,
	})
}

// roomFor loads a room and verifies the caller participates. It writes
// the error response and returns nil on failure.
func (h *Handler) roomFor(w http.ResponseWriter, r *http.Request, roomID string) *models.Room {
	user := middleware.GetUserFromContext(r.Context())

	room, err := h.data.GetRoom(r.Context(), roomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load room")
		return nil
	}
	if room == nil || !room.HasParticipant(user.ID) {
		h.Error(w, http.StatusNotFound, "room not found")
		return nil
	}
	return room
}
