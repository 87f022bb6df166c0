package handlers

import (
	"fmt"
	"net/http"
	"time"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalUsers          int64  `json:"totalUsers"`
	TotalRooms          int64  `json:"totalRooms"`
	TotalMessages       int64  `json:"totalMessages"`
	LastActivity        string `json:"lastActivity"`
	ActiveConnections   int    `json:"activeConnections"`
	ActiveSubscriptions int    `json:"activeSubscriptions"`
}

// Stats returns platform statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totalUsers, err := h.data.CountUsers(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count users")
		return
	}

	totalRooms, err := h.data.CountRooms(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count rooms")
		return
	}

	totalMessages, err := h.data.SumMessageCount(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to sum messages")
		return
	}

	lastActivityTime, err := h.data.GetMostRecentActivity(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to get last activity")
		return
	}

	lastActivity := "no activity yet"
	if lastActivityTime != nil {
		lastActivity = formatTimeAgo(*lastActivityTime)
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalUsers:          totalUsers,
		TotalRooms:          totalRooms,
		TotalMessages:       totalMessages,
		LastActivity:        lastActivity,
		ActiveConnections:   h.hub.SessionCount(),
		ActiveSubscriptions: h.hub.SubscriptionCount(),
	})
}

// formatTimeAgo formats a time as a human-readable "time ago" string.
func formatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
