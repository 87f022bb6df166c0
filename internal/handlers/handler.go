package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/tablechat-io/tablechat/internal/config"
	"github.com/tablechat-io/tablechat/internal/hub"
	"github.com/tablechat-io/tablechat/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	data     store.DataStore
	messages store.MessageStore
	hub      *hub.Hub
	cfg      *config.Config
}

// NewHandler creates a new Handler with the given stores and hub.
func NewHandler(data store.DataStore, messages store.MessageStore, h *hub.Hub, cfg *config.Config) *Handler {
	return &Handler{data: data, messages: messages, hub: h, cfg: cfg}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// pageParams clamps page/size query values to configured bounds.
func (h *Handler) pageParams(r *http.Request) (page, size int) {
	page = queryInt(r, "page", 0)
	if page < 0 {
		page = 0
	}
	size = queryInt(r, "size", h.cfg.DefaultPageSize)
	if size < 1 {
		size = h.cfg.DefaultPageSize
	}
	if size > h.cfg.MaxPageSize {
		size = h.cfg.MaxPageSize
	}
	return page, size
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
