// Package tablechat provides the Go client for the tablechat room
// messaging service: an HTTP client for rooms, history and unread
// state, and a WebSocket layer for live events with automatic
// reconnection.
package tablechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Identity headers the server resolves the caller from.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
	HeaderUserRole = "X-User-Role"
)

// Identity carries the caller's resolved identity. The fronting
// session layer authenticates; the client just presents the result.
type Identity struct {
	UserID      string
	DisplayName string
	Role        Role
}

// Client is a tablechat API client.
type Client struct {
	BaseURL    string
	Identity   Identity
	HTTPClient *http.Client
}

// NewClient creates a new client for the given server and identity.
func NewClient(baseURL string, identity Identity) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:    baseURL,
		Identity:   identity,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// doRequest performs an HTTP request with the identity headers set.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderUserID, c.Identity.UserID)
	req.Header.Set(HeaderUserName, c.Identity.DisplayName)
	req.Header.Set(HeaderUserRole, string(c.Identity.Role))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("tablechat error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

// ListRooms returns the caller's rooms, most recently active first.
func (c *Client) ListRooms(ctx context.Context) ([]RoomSummary, error) {
	respBody, err := c.doRequest(ctx, "GET", "/api/rooms", nil)
	if err != nil {
		return nil, err
	}

	var rooms []RoomSummary
	if err := json.Unmarshal(respBody, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// CreateRoomRequest names the other party of a room.
type CreateRoomRequest struct {
	CounterpartID   string `json:"counterpartId"`
	CounterpartName string `json:"counterpartName"`
	CounterpartRole Role   `json:"counterpartRole"`
}

// CreateRoom finds or creates the room between the caller and the
// named counterpart.
func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (*Room, error) {
	body, _ := json.Marshal(req)
	respBody, err := c.doRequest(ctx, "POST", "/api/rooms", body)
	if err != nil {
		return nil, err
	}

	var room Room
	if err := json.Unmarshal(respBody, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// GetMessages retrieves one page of a room's history. Page 0 is the
// most recent page; messages within a page come back oldest first.
func (c *Client) GetMessages(ctx context.Context, roomID string, page, size int) ([]Message, error) {
	path := fmt.Sprintf("/api/rooms/%s/messages?page=%d&size=%d", roomID, page, size)
	respBody, err := c.doRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var messages []Message
	if err := json.Unmarshal(respBody, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// MarkRead zeroes the caller's unread counter for a room and returns
// the authoritative delta.
func (c *Client) MarkRead(ctx context.Context, roomID string) (UnreadEvent, error) {
	respBody, err := c.doRequest(ctx, "POST", "/api/rooms/"+roomID+"/read", nil)
	if err != nil {
		return UnreadEvent{}, err
	}

	var delta UnreadEvent
	if err := json.Unmarshal(respBody, &delta); err != nil {
		return UnreadEvent{}, err
	}
	return delta, nil
}

// UnreadState is the caller's unread counters across all rooms.
type UnreadState struct {
	Rooms map[string]int64 `json:"rooms"`
	Total int64            `json:"total"`
}

// Unread returns per-room unread counters and their sum.
func (c *Client) Unread(ctx context.Context) (UnreadState, error) {
	respBody, err := c.doRequest(ctx, "GET", "/api/unread", nil)
	if err != nil {
		return UnreadState{}, err
	}

	var state UnreadState
	if err := json.Unmarshal(respBody, &state); err != nil {
		return UnreadState{}, err
	}
	return state, nil
}

// Archive hides or restores a room for the caller only.
func (c *Client) Archive(ctx context.Context, roomID string, archived bool) error {
	body, _ := json.Marshal(map[string]bool{"archived": archived})
	_, err := c.doRequest(ctx, "POST", "/api/rooms/"+roomID+"/archive", body)
	return err
}
