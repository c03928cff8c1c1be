package eventbus

import "sync"

// history is a fixed-size FIFO ring of published events.
type history struct {
	mu      sync.Mutex
	entries []HistoryEntry
	head    int // index of the oldest entry
	size    int
	total   uint64
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &history{entries: make([]HistoryEntry, capacity)}
}

func (h *history) record(e HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.total++
	capacity := len(h.entries)
	if h.size < capacity {
		h.entries[(h.head+h.size)%capacity] = e
		h.size++
		return
	}
	h.entries[h.head] = e
	h.head = (h.head + 1) % capacity
}

// recent returns up to limit of the newest entries, oldest first. A limit of
// zero or less returns everything retained.
func (h *history) recent(limit int) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]HistoryEntry, n)
	capacity := len(h.entries)
	skip := h.size - n
	for i := 0; i < n; i++ {
		out[i] = h.entries[(h.head+skip+i)%capacity]
	}
	return out
}

func (h *history) counts() (size int, total uint64, capacity int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size, h.total, len(h.entries)
}

func (h *history) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clear(h.entries)
	h.head = 0
	h.size = 0
	h.total = 0
}
