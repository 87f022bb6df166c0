package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tablechat-io/tablechat/internal/api/middleware"
	"github.com/tablechat-io/tablechat/internal/metrics"
	"github.com/tablechat-io/tablechat/internal/models"
	"github.com/tablechat-io/tablechat/internal/protocol"
)

// GetMessages returns one page of a room's history. Page 0 is the most
// recent page; messages within a page come back oldest first. A page
// shorter than the requested size means history is exhausted.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomID := chi.URLParam(r, "id")

	if h.roomFor(w, r, roomID) == nil {
		return
	}

	page, size := h.pageParams(r)
	messages, err := h.messages.GetRoomMessages(ctx, roomID, page, size)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	h.JSON(w, http.StatusOK, messages)
}

// MarkRead zeroes the caller's unread counter for a room and pushes
// the resulting delta to their live sessions, so other tabs converge.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUserFromContext(ctx)
	roomID := chi.URLParam(r, "id")

	if h.roomFor(w, r, roomID) == nil {
		return
	}

	total, err := h.messages.ClearUnread(ctx, user.ID, roomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to clear unread counter")
		return
	}
	metrics.MarkReadRequests.Inc()

	delta := protocol.UnreadEvent{
		RoomID:           roomID,
		RoomUnreadCount:  0,
		TotalUnreadCount: total,
	}
	if ev, err := protocol.NewUnreadEvent(delta); err == nil {
		h.hub.SendToUser(user.ID, ev)
	}

	h.JSON(w, http.StatusOK, delta)
}

// UnreadResponse is the caller's unread state across all rooms.
type UnreadResponse struct {
	Rooms map[string]int64 `json:"rooms"`
	Total int64            `json:"total"`
}

// Unread returns per-room unread counters and their sum for the caller.
func (h *Handler) Unread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUserFromContext(ctx)

	rooms, total, err := h.messages.UnreadCounts(ctx, user.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load unread counters")
		return
	}
	if rooms == nil {
		rooms = map[string]int64{}
	}

	h.JSON(w, http.StatusOK, UnreadResponse{Rooms: rooms, Total: total})
}
