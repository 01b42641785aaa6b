package sheets

import (
	"sync"
	"time"
)

// EventKind names what happened to a sheet.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventUpdated  EventKind = "updated"
	EventAppended EventKind = "appended"
	EventBatch    EventKind = "batch"
	EventTabAdded EventKind = "tab_added"
	EventTabGone  EventKind = "tab_deleted"
	EventFormat   EventKind = "format"

	// EventExternal is published for data files changed outside the
	// service (see the serve command's watcher).
	EventExternal EventKind = "external"
)

// Event describes one successful mutation.
type Event struct {
	Kind    EventKind `json:"kind"`
	SheetID string    `json:"spreadsheet_id,omitempty"`
	File    string    `json:"file"`
	TabID   int64     `json:"sheet_id,omitempty"`
	Rows    int       `json:"updated_rows,omitempty"`
	Columns int       `json:"updated_columns,omitempty"`
	At      time.Time `json:"at"`
}

// Hub fans events out to subscribers. Slow subscribers miss events rather
// than block publishers.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewHub returns a Hub with no subscribers.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a subscriber with a buffer of size buf. Call cancel
// to unsubscribe; it closes the channel.
func (h *Hub) Subscribe(buf int) (events <-chan Event, cancel func()) {
	ch := make(chan Event, max(buf, 1))

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()

			close(ch)
		})
	}
}

// Publish delivers e to every subscriber with room in its buffer.
func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
