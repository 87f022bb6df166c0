package tablechat

import (
	"context"
	"sort"
	"sync"
)

// defaultPageSize is the history page size when none is configured.
const defaultPageSize = 50

// FetchFunc loads one page of a room's history. (*Client).GetMessages
// satisfies it.
type FetchFunc func(ctx context.Context, roomID string, page, size int) ([]Message, error)

// HistoryFetcher pages backwards through one room's history and keeps
// the merged result ordered and deduplicated.
//
// Switching rooms bumps an internal generation counter, so a fetch
// still in flight for the previous room cannot land in the new one:
// its result is compared against the generation it started under and
// discarded on mismatch.
type HistoryFetcher struct {
	fetch    FetchFunc
	pageSize int

	mu       sync.Mutex
	roomID   string
	gen      uint64
	nextPage int
	hasMore  bool
	loading  bool
	messages []Message
	byID     map[string]struct{}
}

// NewHistoryFetcher creates a fetcher. pageSize <= 0 selects the
// default.
func NewHistoryFetcher(fetch FetchFunc, pageSize int) *HistoryFetcher {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &HistoryFetcher{
		fetch:    fetch,
		pageSize: pageSize,
		byID:     make(map[string]struct{}),
	}
}

// Reset points the fetcher at a room and clears all loaded state.
// In-flight fetches for the previous room become stale.
func (f *HistoryFetcher) Reset(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomID = roomID
	f.gen++
	f.nextPage = 0
	f.hasMore = true
	f.loading = false
	f.messages = nil
	f.byID = make(map[string]struct{})
}

// LoadPage fetches the next (older) page and merges it in. It returns
// the number of messages actually added, so callers can restore scroll
// position after a prepend. At most one fetch runs at a time; a call
// while one is in flight, or after history is exhausted, is a no-op.
func (f *HistoryFetcher) LoadPage(ctx context.Context) (int, error) {
	f.mu.Lock()
	if f.loading || !f.hasMore || f.roomID == "" {
		f.mu.Unlock()
		return 0, nil
	}
	f.loading = true
	gen := f.gen
	roomID := f.roomID
	page := f.nextPage
	f.mu.Unlock()

	batch, err := f.fetch(ctx, roomID, page, f.pageSize)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.gen != gen {
		// The room changed while this fetch was in flight.
		return 0, nil
	}
	f.loading = false
	if err != nil {
		return 0, err
	}

	added := 0
	for _, msg := range batch {
		if _, dup := f.byID[msg.ID]; dup {
			continue
		}
		f.byID[msg.ID] = struct{}{}
		f.messages = append(f.messages, msg)
		added++
	}
	sort.Slice(f.messages, func(i, j int) bool {
		return f.messages[i].Before(&f.messages[j])
	})

	f.nextPage = page + 1
	// A short page means the room's history is exhausted. A room whose
	// total is an exact multiple of the page size costs one extra
	// empty fetch before hasMore flips.
	f.hasMore = len(batch) == f.pageSize

	return added, nil
}

// Append merges one live message into the loaded history, keeping
// order and dedupe guarantees. Returns false if the message was
// already present or belongs to another room.
func (f *HistoryFetcher) Append(msg Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if msg.RoomID != f.roomID {
		return false
	}
	if _, dup := f.byID[msg.ID]; dup {
		return false
	}
	f.byID[msg.ID] = struct{}{}
	f.messages = append(f.messages, msg)
	// Live messages are usually newest; sort only when out of order.
	if n := len(f.messages); n > 1 && f.messages[n-1].Before(&f.messages[n-2]) {
		sort.Slice(f.messages, func(i, j int) bool {
			return f.messages[i].Before(&f.messages[j])
		})
	}
	return true
}

// Messages returns the loaded history, oldest first.
func (f *HistoryFetcher) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.messages))
	copy(out, f.messages)
	return out
}

// HasMore reports whether older pages may remain.
func (f *HistoryFetcher) HasMore() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasMore
}

// Loading reports whether a fetch is in flight.
func (f *HistoryFetcher) Loading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading
}
