// Package hub fans server events out to live WebSocket sessions.
//
// Sessions subscribe to room topics; chat messages and typing signals
// broadcast to a topic's subscribers, while unread deltas and errors go
// to all sessions of a single user. Deliveries never block: a session
// whose send buffer is full loses the frame instead of stalling the
// fan-out.
package hub

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tablechat-io/tablechat/internal/metrics"
	"github.com/tablechat-io/tablechat/internal/protocol"
	"github.com/tablechat-io/tablechat/internal/store"
)

// Hub tracks live sessions and their topic subscriptions.
type Hub struct {
	data     store.DataStore
	messages store.MessageStore
	log      zerolog.Logger

	mu       sync.RWMutex
	sessions map[*Session]struct{}
	byUser   map[uuid.UUID]map[*Session]struct{}
	topics   map[string]map[*Session]struct{}
}

// NewHub creates a hub backed by the given stores.
func NewHub(data store.DataStore, messages store.MessageStore, log zerolog.Logger) *Hub {
	return &Hub{
		data:     data,
		messages: messages,
		log:      log.With().Str("component", "hub").Logger(),
		sessions: make(map[*Session]struct{}),
		byUser:   make(map[uuid.UUID]map[*Session]struct{}),
		topics:   make(map[string]map[*Session]struct{}),
	}
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions[s] = struct{}{}
	if h.byUser[s.user.ID] == nil {
		h.byUser[s.user.ID] = make(map[*Session]struct{})
	}
	h.byUser[s.user.ID][s] = struct{}{}
	metrics.ActiveConnections.Inc()
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s]; !ok {
		return
	}
	delete(h.sessions, s)

	if set := h.byUser[s.user.ID]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(h.byUser, s.user.ID)
		}
	}

	for topic := range s.topics {
		h.dropSubscription(topic, s)
	}
	s.topics = make(map[string]struct{})

	s.closeSend()
	metrics.ActiveConnections.Dec()
}

func (h *Hub) subscribe(s *Session, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := s.topics[topic]; ok {
		return
	}
	s.topics[topic] = struct{}{}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Session]struct{})
	}
	h.topics[topic][s] = struct{}{}
	metrics.ActiveSubscriptions.Inc()
}

func (h *Hub) unsubscribe(s *Session, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := s.topics[topic]; !ok {
		return
	}
	delete(s.topics, topic)
	h.dropSubscription(topic, s)
}

// dropSubscription removes s from a topic's subscriber set. Caller
// holds h.mu.
func (h *Hub) dropSubscription(topic string, s *Session) {
	set := h.topics[topic]
	if set == nil {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.topics, topic)
	}
	metrics.ActiveSubscriptions.Dec()
}

// Publish fans an event out to every session subscribed to its topic.
func (h *Hub) Publish(ev protocol.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Str("topic", ev.Topic).Msg("Failed to encode event")
		return
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.topics[ev.Topic]))
	for s := range h.topics[ev.Topic] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.push(ev.Kind, data)
	}
}

// SendToUser delivers an event to every live session of one user. This
// is the per-user queue: unread deltas and errors bypass topics.
func (h *Hub) SendToUser(userID uuid.UUID, ev protocol.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Stringer("user_id", userID).Msg("Failed to encode event")
		return
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.byUser[userID]))
	for s := range h.byUser[userID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.push(ev.Kind, data)
	}
}

// SessionCount returns the number of open sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// SubscriptionCount returns the number of live topic subscriptions.
func (h *Hub) SubscriptionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.topics {
		n += len(set)
	}
	return n
}
