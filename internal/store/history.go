package store

import (
	"sync"
	"time"
)

// historyCapacity is how many recent speed samples each vehicle keeps.
const historyCapacity = 5

// SpeedSample is one entry in a vehicle's rolling speed history.
type SpeedSample struct {
	Speed  float64 // m/s
	TimeMS int64   // server receive time, epoch milliseconds
}

// HistoryBuffer is a process-local rolling window of recent speeds per
// vehicle, used by the rear-end predictor to estimate deceleration. It is not
// shared across processes.
type HistoryBuffer struct {
	mu      sync.RWMutex
	entries map[string][]SpeedSample
}

// NewHistoryBuffer returns an empty history buffer.
func NewHistoryBuffer() *HistoryBuffer {
	return &HistoryBuffer{entries: make(map[string][]SpeedSample)}
}

// Append records a speed sample, evicting the oldest once the window is full.
func (h *HistoryBuffer) Append(id string, speed float64, serverNowMS int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	seq := append(h.entries[id], SpeedSample{Speed: speed, TimeMS: serverNowMS})
	if len(seq) > historyCapacity {
		seq = seq[len(seq)-historyCapacity:]
	}
	h.entries[id] = seq
}

// Latest returns a copy of the vehicle's history, oldest first. Nil when the
// vehicle is unknown.
func (h *HistoryBuffer) Latest(id string) []SpeedSample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seq := h.entries[id]
	if seq == nil {
		return nil
	}
	out := make([]SpeedSample, len(seq))
	copy(out, seq)
	return out
}

// Prune drops vehicles whose newest sample is older than maxAge relative to
// now. Keeps the buffer from growing without bound as vehicles disappear.
func (h *HistoryBuffer) Prune(now time.Time, maxAge time.Duration) int {
	cutoff := now.Add(-maxAge).UnixMilli()

	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for id, seq := range h.entries {
		if len(seq) == 0 || seq[len(seq)-1].TimeMS < cutoff {
			delete(h.entries, id)
			removed++
		}
	}
	return removed
}

// Len reports how many vehicles currently have history.
func (h *HistoryBuffer) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
