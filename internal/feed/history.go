package feed

import (
	"sort"
	"sync"
	"time"

	"nifty-options-engine/internal/models"
)

// DefaultRetention covers the longest engine lookback with room to spare.
const DefaultRetention = 20 * time.Minute

// History is a rolling, timestamp-ordered window of snapshots.
type History struct {
	mu        sync.RWMutex
	retention time.Duration
	snaps     []models.OptionChainSnapshot
}

// NewHistory creates a history keeping snapshots newer than retention
// relative to the latest one.
func NewHistory(retention time.Duration) *History {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &History{retention: retention}
}

// Add inserts a snapshot in timestamp order. A snapshot with the same
// timestamp as an existing one replaces it. Snapshots that fall outside the
// retention window are dropped.
func (h *History) Add(snap models.OptionChainSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := sort.Search(len(h.snaps), func(i int) bool {
		return !h.snaps[i].Timestamp.Before(snap.Timestamp)
	})
	switch {
	case i < len(h.snaps) && h.snaps[i].Timestamp.Equal(snap.Timestamp):
		h.snaps[i] = snap
	case i == len(h.snaps):
		h.snaps = append(h.snaps, snap)
	default:
		h.snaps = append(h.snaps, models.OptionChainSnapshot{})
		copy(h.snaps[i+1:], h.snaps[i:])
		h.snaps[i] = snap
	}

	h.trim()
}

func (h *History) trim() {
	if len(h.snaps) == 0 {
		return
	}
	cutoff := h.snaps[len(h.snaps)-1].Timestamp.Add(-h.retention)
	drop := sort.Search(len(h.snaps), func(i int) bool {
		return !h.snaps[i].Timestamp.Before(cutoff)
	})
	if drop > 0 {
		h.snaps = append(h.snaps[:0:0], h.snaps[drop:]...)
	}
}

// Snapshots returns a copy of the window, oldest first.
func (h *History) Snapshots() []models.OptionChainSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]models.OptionChainSnapshot(nil), h.snaps...)
}

// Latest returns the newest snapshot.
func (h *History) Latest() (models.OptionChainSnapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.snaps) == 0 {
		return models.OptionChainSnapshot{}, false
	}
	return h.snaps[len(h.snaps)-1], true
}

// Len returns the number of snapshots held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.snaps)
}
