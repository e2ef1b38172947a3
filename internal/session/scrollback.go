package session

import (
	"sync"

	"github.com/QrCommunication/claudenest/internal/models"
)

// Scrollback retains the most recent output chunks of one session
// within a byte budget. When a new chunk would exceed the budget, the
// oldest chunks are evicted whole; chunk boundaries are preserved so
// replayed output is byte-identical to what was relayed.
//
// All methods are safe for concurrent use.
type Scrollback struct {
	mu     sync.RWMutex
	budget int
	used   int
	chunks []models.OutputChunk
}

// NewScrollback creates a scrollback buffer with the given byte budget.
func NewScrollback(budget int) *Scrollback {
	return &Scrollback{budget: budget}
}

// Append adds a chunk, evicting the oldest chunks until the buffer fits
// the budget again. A single chunk larger than the whole budget is kept
// alone; the budget bounds steady-state memory, not one oversized write.
func (s *Scrollback) Append(c models.OutputChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.Data = append([]byte(nil), c.Data...)
	s.chunks = append(s.chunks, c)
	s.used += len(c.Data)

	for s.used > s.budget && len(s.chunks) > 1 {
		s.used -= len(s.chunks[0].Data)
		s.chunks[0].Data = nil
		s.chunks = s.chunks[1:]
	}
}

// Chunks returns copies of the retained chunks in sequence order.
func (s *Scrollback) Chunks() []models.OutputChunk {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.OutputChunk, len(s.chunks))
	for i, c := range s.chunks {
		out[i] = c
		out[i].Data = append([]byte(nil), c.Data...)
	}
	return out
}

// Bytes returns the retained output concatenated oldest to newest.
func (s *Scrollback) Bytes() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]byte, 0, s.used)
	for _, c := range s.chunks {
		out = append(out, c.Data...)
	}
	return out
}

// Len returns the number of buffered bytes.
func (s *Scrollback) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}

// OldestSeq returns the lowest retained sequence number, or 0 when the
// buffer is empty.
func (s *Scrollback) OldestSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.chunks) == 0 {
		return 0
	}
	return s.chunks[0].Seq
}
