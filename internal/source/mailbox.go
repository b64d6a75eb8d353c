package source

import (
	"sync"

	"github.com/zsiec/mirage/internal/media"
)

// Mailbox is the single-slot hand-off between one capture loop and any
// number of stream sessions. Writes overwrite unconditionally; reads
// return a deep copy so a concurrent overwrite can never mutate data
// already handed out. The lock is held only across the copy or swap,
// never across encoding or I/O.
type Mailbox struct {
	mu        sync.Mutex
	frame     *media.RawFrame
	timestamp float64
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Write replaces the stored frame. The mailbox takes ownership of frame;
// the caller must not retain or modify it. timestamp is wall-clock epoch
// seconds.
func (m *Mailbox) Write(frame *media.RawFrame, timestamp float64) {
	m.mu.Lock()
	m.frame = frame
	m.timestamp = timestamp
	m.mu.Unlock()
}

// Read returns a copy of the latest frame and its timestamp, or ok=false
// if nothing has been written yet. The frame and timestamp always come
// from the same Write.
func (m *Mailbox) Read() (*media.RawFrame, float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frame == nil {
		return nil, 0, false
	}
	return m.frame.Clone(), m.timestamp, true
}
